package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/darasa-api/internal/dto"
	"github.com/noah-isme/darasa-api/internal/handler"
	"github.com/noah-isme/darasa-api/internal/models"
	"github.com/noah-isme/darasa-api/internal/service"
	"github.com/noah-isme/darasa-api/pkg/config"
)

type callbackOnlyRooms struct{}

func (callbackOnlyRooms) CreateClassroom(context.Context, models.Principal, dto.CreateClassroomRequest) (*models.Classroom, error) {
	return nil, nil
}

func (callbackOnlyRooms) CreateJoinLink(context.Context, models.Principal, int64, bool) (*models.JoinLink, error) {
	return nil, nil
}

func (callbackOnlyRooms) IsMeetingRunning(context.Context, int64) (bool, error) { return false, nil }

func (callbackOnlyRooms) EndMeetingFor(context.Context, models.Principal, int64) (*models.Classroom, error) {
	return nil, nil
}

func (callbackOnlyRooms) HandleEndCallback(_ context.Context, roomID int64, _ string) (*models.Classroom, error) {
	return &models.Classroom{RoomID: roomID, ProvisionState: models.ProvisionEnded}, nil
}

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Env: config.EnvProduction, APIPrefix: "/api/v1"}
	return newRouter(cfg, zap.NewNop(), routerDeps{
		auth:       service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: "secret"}),
		classrooms: handler.NewClassroomHandler(callbackOnlyRooms{}),
		requests:   handler.NewRequestHandler(nil),
		health:     handler.NewMetricsHandler(nil, nil),
	})
}

func TestRouterWebhookSkipsJWT(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/classrooms/meetings/42/end?token=x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouterSecuredRoutesRequireToken(t *testing.T) {
	r := testRouter()
	for _, target := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/rooms/42/join"},
		{http.MethodGet, "/api/v1/rooms/42/running"},
		{http.MethodPatch, "/api/v1/requests/r-1"},
		{http.MethodGet, "/api/v1/courses/c-1/joined"},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(target.method, target.path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, target.path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
