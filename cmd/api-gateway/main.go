package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/darasa-api/api/swagger"
	"github.com/noah-isme/darasa-api/internal/handler"
	"github.com/noah-isme/darasa-api/internal/repository"
	"github.com/noah-isme/darasa-api/internal/service"
	"github.com/noah-isme/darasa-api/migrations"
	"github.com/noah-isme/darasa-api/pkg/cache"
	"github.com/noah-isme/darasa-api/pkg/config"
	"github.com/noah-isme/darasa-api/pkg/database"
	"github.com/noah-isme/darasa-api/pkg/jobs"
	"github.com/noah-isme/darasa-api/pkg/logger"
	"github.com/noah-isme/darasa-api/pkg/mailer"
	"github.com/noah-isme/darasa-api/pkg/meeting"
	"github.com/noah-isme/darasa-api/pkg/signing"
)

// @title Darasa API
// @version 1.0.0
// @description Virtual classrooms and course enrollment requests
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.MigrationsAuto {
		migrator, err := database.NewMigrator(db, migrations.FS, ".")
		if err != nil {
			return err
		}
		if err := migrator.Up(ctx); err != nil {
			return err
		}
		logr.Info("migrations applied")
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := validator.New()
	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics,
		cfg.Cache.RunningTTL, logr, cfg.Cache.Enabled && redisClient != nil)

	gateway := meeting.NewClient(cfg.Meeting.BaseURL, cfg.Meeting.SharedSecret, cfg.Meeting.Timeout,
		meeting.WithLogger(logr), meeting.WithObserver(metrics))
	signer := signing.NewCallbackSigner(cfg.Callback.SigningSecret, cfg.Callback.TTL)

	classrooms := repository.NewClassroomRepository(db)
	courses := repository.NewCourseRepository(db)
	requests := repository.NewRequestRepository(db)

	templates, err := mailer.NewDefaultRegistry(mailer.Globals{SiteName: cfg.Meeting.SiteName, FrontendURL: cfg.Meeting.DefaultLogoutURL})
	if err != nil {
		return fmt.Errorf("parse mail templates: %w", err)
	}
	notifications := service.NewNotificationService(requests, templates, newMailSender(cfg.Mail, logr), metrics, logr, jobs.QueueConfig{
		Workers:    cfg.Mail.Workers,
		MaxRetries: cfg.Mail.Retries,
		RetryDelay: cfg.Mail.RetryDelay,
	})
	notifications.Start(ctx)
	defer notifications.Stop()

	rooms := service.NewRoomService(classrooms, courses, gateway, signer, cacheSvc, metrics, validate, logr, service.RoomServiceConfig{
		WaitTimeout:      cfg.Provisioning.WaitTimeout,
		PollInterval:     cfg.Provisioning.PollInterval,
		StaleAfter:       cfg.Provisioning.StaleAfter,
		RoomIDSeedMin:    cfg.RoomIDs.SeedMin,
		RoomIDSeedMax:    cfg.RoomIDs.SeedMax,
		RoomIDAttempts:   cfg.RoomIDs.MaxAttempts,
		DefaultLogoutURL: cfg.Meeting.DefaultLogoutURL,
		WelcomeTemplate:  cfg.Meeting.WelcomeTemplate,
		SiteName:         cfg.Meeting.SiteName,
		CallbackBaseURL:  cfg.Callback.BaseURL + cfg.APIPrefix,
		RunningCacheTTL:  cfg.Cache.RunningTTL,
	})
	requestSvc := service.NewRequestService(requests, courses, notifications, validate, logr)
	auth := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:       auth,
		metrics:    metrics,
		classrooms: handler.NewClassroomHandler(rooms),
		requests:   handler.NewRequestHandler(requestSvc),
		health:     handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMailSender(cfg config.MailConfig, logr *zap.Logger) mailer.Sender {
	if cfg.Provider == config.MailProviderSendGrid && cfg.SendGridAPIKey != "" {
		return mailer.NewSendGridSender(cfg.SendGridAPIKey, "", cfg.FromName, cfg.FromEmail, logr)
	}
	if cfg.Provider == config.MailProviderSendGrid {
		logr.Warn("SENDGRID_API_KEY is empty, falling back to console mail")
	}
	return mailer.NewConsoleSender(cfg.FromName, cfg.FromEmail, logr)
}
