package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/iqraspace/iqra-api/api/swagger"
	"github.com/iqraspace/iqra-api/internal/handler"
	"github.com/iqraspace/iqra-api/internal/middleware"
	"github.com/iqraspace/iqra-api/internal/models"
	"github.com/iqraspace/iqra-api/internal/repository"
	"github.com/iqraspace/iqra-api/internal/service"
	"github.com/iqraspace/iqra-api/pkg/cache"
	"github.com/iqraspace/iqra-api/pkg/config"
	"github.com/iqraspace/iqra-api/pkg/database"
	"github.com/iqraspace/iqra-api/pkg/jobs"
	"github.com/iqraspace/iqra-api/pkg/logger"
	corsmiddleware "github.com/iqraspace/iqra-api/pkg/middleware/cors"
	reqidmiddleware "github.com/iqraspace/iqra-api/pkg/middleware/requestid"
)

// @title Iqra Booking API
// @version 1.0.0
// @description Lesson booking service with teacher availability and capacity-checked admission
// @BasePath /api/v1
// @schemes http
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

	if err := run(cfg, logr); err != nil {
		logr.Sugar().Fatalw("server exited", "error", err)
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	location, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		return fmt.Errorf("invalid booking timezone %q: %w", cfg.Booking.Timezone, err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	// Redis is optional. Slot reads fall back to the database when the cache
	// is down; admission correctness never depends on it.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, slot caching disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Slots.CacheTTL, logr)
	}

	userRepo := repository.NewUserRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	bookingRepo := repository.NewBookingRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	availabilitySvc := service.NewAvailabilityService(availabilityRepo, bookingRepo, userRepo, cacheSvc, validate, logr, cfg.Slots.MaxRangeDays, cfg.Slots.CacheTTL, location)
	bookingSvc := service.NewBookingService(bookingRepo, userRepo, userRepo, cacheSvc, metrics, validate, logr, cfg.Booking.CancelWindow, location)
	exportSvc := service.NewExportService(bookingRepo, logr, location)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := jobs.NewQueue("booking-completion", func(ctx context.Context, _ jobs.Job) error {
		_, err := bookingSvc.CompleteElapsed(ctx)
		return err
	}, jobs.QueueConfig{Workers: 1, Logger: logr})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	go func() {
		ticker := time.NewTicker(cfg.Booking.CompletionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sweeper.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "complete-elapsed"}); err != nil {
					logr.Warn("failed to enqueue completion sweep", zap.Error(err))
				}
			}
		}
	}()

	router := buildRouter(cfg, logr, db, redisClient, metrics, authSvc, userSvc, availabilitySvc, bookingSvc, exportSvc)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildRouter(
	cfg *config.Config,
	logr *zap.Logger,
	db *sqlx.DB,
	redisClient *redis.Client,
	metrics *service.MetricsService,
	authSvc *service.AuthService,
	userSvc *service.UserService,
	availabilitySvc *service.AvailabilityService,
	bookingSvc *service.BookingService,
	exportSvc *service.ExportService,
) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)
	bookingHandler := handler.NewBookingHandler(bookingSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, db, redisClient)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authSvc))
	{
		users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.GET("/:id", middleware.RequireRolesOrSelf(models.RoleAdmin), userHandler.Get)
	}

	availability := api.Group("", middleware.JWT(authSvc))
	{
		availability.POST("/availability", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), availabilityHandler.Define)
		availability.DELETE("/availability/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), availabilityHandler.Deactivate)
		availability.GET("/teachers/:id/availability", availabilityHandler.ListByTeacher)
		availability.GET("/teachers/:id/slots", availabilityHandler.Slots)
	}

	bookings := api.Group("/bookings", middleware.JWT(authSvc))
	{
		bookings.POST("", bookingHandler.Create)
		bookings.GET("", bookingHandler.List)
		bookings.GET("/:id", bookingHandler.Get)
		bookings.PATCH("/:id/status", bookingHandler.UpdateStatus)
		bookings.DELETE("/:id", bookingHandler.Cancel)
	}

	if cfg.Exports.Enabled {
		api.GET("/teachers/:id/bookings/export", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), exportHandler.TeacherSchedule)
	}

	return r
}
