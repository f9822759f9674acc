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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-timetable-engine/api/swagger"
	"github.com/noah-isme/sma-timetable-engine/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-timetable-engine/internal/middleware"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/optimizer"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	"github.com/noah-isme/sma-timetable-engine/pkg/cache"
	"github.com/noah-isme/sma-timetable-engine/pkg/config"
	"github.com/noah-isme/sma-timetable-engine/pkg/database"
	"github.com/noah-isme/sma-timetable-engine/pkg/jobs"
	"github.com/noah-isme/sma-timetable-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-engine/pkg/middleware/requestid"
)

// @title SMA Timetable Engine API
// @version 1.0.0
// @description Timetable generation, validation and publishing for school terms.
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if client, err := cache.NewRedis(ctx, cfg.Redis); err != nil {
		logr.Warn("redis unavailable, report cache disabled", zap.Error(err))
	} else {
		redisClient = client
		defer redisClient.Close()
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metricsSvc, cfg.Scheduler.ReportCacheTTL, logr, redisClient != nil)

	generationRepo := repository.NewGenerationRepository(db)
	lessonRepo := repository.NewScheduledLessonRepository(db)
	termRepo := repository.NewTermRepository(db)
	slotRepo := repository.NewTimeSlotRepository(db)
	schoolRepo := repository.NewSchoolConstraintsRepository(db)
	repos := service.GenerationRepositories{
		Generations:        generationRepo,
		Lessons:            lessonRepo,
		Terms:              termRepo,
		Slots:              slotRepo,
		Assignments:        repository.NewTeachingAssignmentRepository(db),
		TeacherConstraints: repository.NewTeacherConstraintRepository(db),
		Schools:            schoolRepo,
	}

	generationSvc := service.NewGenerationService(repos, db, cacheSvc, metricsSvc, validate, logr, service.GenerationConfig{
		RunTimeout:     cfg.Scheduler.RunTimeout,
		ReportCacheTTL: cfg.Scheduler.ReportCacheTTL,
	})

	var queue *jobs.Queue
	if cfg.Scheduler.Enabled {
		queue = jobs.NewQueue("timetable", generationSvc.HandleJob, jobs.QueueConfig{
			Workers:    cfg.Scheduler.Workers,
			BufferSize: cfg.Scheduler.QueueSize,
			Logger:     logr,
		})
		queue.Start(ctx)
		generationSvc.AttachQueue(queue)
	} else {
		logr.Info("scheduler queue disabled, generations run inline")
	}

	optimizerClient := optimizer.NewClient(optimizer.Config{BaseURL: cfg.Optimizer.BaseURL, Timeout: cfg.Optimizer.Timeout}, metricsSvc, logr)
	optimizerSvc := service.NewOptimizerService(repos, generationRepo, optimizerClient, db, cacheSvc, metricsSvc, validate, logr, service.OptimizerConfig{
		PollSpec:  cfg.Optimizer.PollSpec,
		TimeLimit: cfg.Optimizer.TimeLimit,
	})
	generationSvc.AttachOptimizer(optimizerSvc)
	if optimizerClient.Enabled() {
		if err := optimizerSvc.Start(); err != nil {
			logr.Fatal("failed to schedule optimizer polling", zap.Error(err))
		}
	}

	exportSvc := service.NewExportService(generationRepo, lessonRepo, termRepo, slotRepo, validate, logr)
	settingsSvc := service.NewSchoolSettingsService(slotRepo, schoolRepo, db, validate, logr)
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}, logr)

	generationHandler := handler.NewGenerationHandler(generationSvc, optimizerSvc, exportSvc)
	settingsHandler := handler.NewSchoolSettingsHandler(settingsSvc)
	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	auditRepo := repository.NewAuditLogRepository(db)
	const auditResource = "timetable_generation"

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(tokenSvc), internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	{
		generations := api.Group("/timetables/generations")
		generations.POST("", generationHandler.Create)
		generations.POST("/optimizer", generationHandler.CreateOptimizer)
		generations.GET("", generationHandler.List)
		generations.GET("/:id", generationHandler.Get)
		generations.GET("/:id/report", generationHandler.Report)
		generations.GET("/:id/lessons", generationHandler.Lessons)
		generations.GET("/:id/export", generationHandler.Export)
		generations.POST("/:id/cancel", internalmiddleware.Audit(auditRepo, logr, "cancel", auditResource), generationHandler.Cancel)
		generations.POST("/:id/publish", internalmiddleware.Audit(auditRepo, logr, "publish", auditResource), generationHandler.Publish)
		generations.POST("/:id/archive", internalmiddleware.Audit(auditRepo, logr, "archive", auditResource), generationHandler.Archive)
		generations.DELETE("/:id", internalmiddleware.Audit(auditRepo, logr, "delete", auditResource), generationHandler.Delete)

		api.POST("/timeslots/validate", settingsHandler.ValidateTimeSlots)
		api.POST("/timeslots/defaults", settingsHandler.DefaultTimeSlots)

		schools := api.Group("/schools/:schoolId", internalmiddleware.SchoolScope())
		schools.GET("/constraints", settingsHandler.GetConstraints)
		schools.PUT("/constraints", settingsHandler.UpdateConstraints)

		api.GET("/metrics/summary", metricsHandler.Summary)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	optimizerSvc.Stop()
	if queue != nil {
		queue.Stop()
	}
}
