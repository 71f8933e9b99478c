package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/darasa-api/internal/handler"
	"github.com/noah-isme/darasa-api/internal/middleware"
	"github.com/noah-isme/darasa-api/internal/models"
	"github.com/noah-isme/darasa-api/internal/service"
	"github.com/noah-isme/darasa-api/pkg/config"
	"github.com/noah-isme/darasa-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/darasa-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/darasa-api/pkg/middleware/requestid"
)

type routerDeps struct {
	auth       *service.AuthService
	metrics    *service.MetricsService
	classrooms *handler.ClassroomHandler
	requests   *handler.RequestHandler
	health     *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Called by the meeting host; authenticated by the signed token in the URL.
	api.GET("/classrooms/meetings/:meeting_id/end", deps.classrooms.MeetingEnded)
	api.POST("/classrooms/meetings/:meeting_id/end", deps.classrooms.MeetingEnded)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))

	teaching := middleware.RequireKinds(models.RoleTeacher, models.RoleStaff)
	secured.POST("/classrooms", teaching, deps.classrooms.Create)

	rooms := secured.Group("/rooms/:room_id")
	rooms.POST("/join", deps.classrooms.Join)
	rooms.GET("/running", deps.classrooms.Running)
	rooms.PATCH("/end", teaching, deps.classrooms.End)
	rooms.POST("/end", teaching, deps.classrooms.End)

	secured.POST("/requests", middleware.RequireKinds(models.RoleStudent), deps.requests.Create)
	secured.GET("/requests/:id", deps.requests.Get)
	secured.PATCH("/requests/:id", teaching, deps.requests.UpdateStatus)

	students := middleware.RequireKinds(models.RoleStudent)
	secured.GET("/courses/:course_id/requested", students, deps.requests.Requested)
	secured.GET("/courses/:course_id/joined", students, deps.requests.Joined)

	return r
}
