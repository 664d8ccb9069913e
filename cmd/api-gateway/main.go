package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/handler"
	"github.com/acadeon/curricula-api/internal/middleware"
	"github.com/acadeon/curricula-api/internal/repository"
	"github.com/acadeon/curricula-api/internal/service"
	"github.com/acadeon/curricula-api/internal/workflow"
	"github.com/acadeon/curricula-api/pkg/cache"
	"github.com/acadeon/curricula-api/pkg/config"
	"github.com/acadeon/curricula-api/pkg/database"
	"github.com/acadeon/curricula-api/pkg/export"
	"github.com/acadeon/curricula-api/pkg/jobs"
	"github.com/acadeon/curricula-api/pkg/logger"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}

	logr, err := logger.New(cfg)
	if err != nil {
		panic(fmt.Sprintf("build logger: %v", err))
	}
	defer logr.Sync()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("postgres unavailable", zap.Error(err))
	}
	defer db.Close()

	// The catalog stays functional without redis, reads just skip the cache.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, lineage and dashboard caching disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	queue := jobs.NewQueue(cfg.Notifications.Workers, cfg.Notifications.BufferSize, cfg.Notifications.RetryDelay, logr)
	queue.Start()

	courseRepo := repository.NewCourseRepository(db)
	degreeRepo := repository.NewDegreeRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	auditSvc := service.NewAuditService(auditRepo, logr)
	notifySvc := service.NewNotificationService(queue, service.NewLogSink(logr), cfg.Notifications.MaxRetries, logr)
	policy := workflow.NewEditPolicy(cfg.Workflow.ActiveBlockingStatuses)

	courseSvc := service.NewCourseService(courseRepo, auditSvc, notifySvc, metricsSvc, cacheRepo, policy, cfg.Workflow.LineageCacheTTL, nil, logr)
	degreeSvc := service.NewDegreeService(degreeRepo, auditSvc, notifySvc, metricsSvc, cacheRepo, policy, cfg.Workflow.LineageCacheTTL, nil, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, periodRepo, courseRepo, auditSvc, notifySvc, metricsSvc,
		cfg.Enrollment.MaxCoursesPerRecord, cfg.Enrollment.RequireOpenPeriod, nil, logr)
	departmentSvc := service.NewDepartmentService(departmentRepo, auditSvc, nil, logr)
	periodSvc := service.NewPeriodService(periodRepo, auditSvc, nil, logr)
	studentSvc := service.NewStudentService(studentRepo, auditSvc, nil, logr)
	dashboardSvc := service.NewDashboardService(courseSvc, degreeSvc, enrollmentSvc, metricsSvc, cacheRepo, cfg.Dashboard.CacheTTL, logr)
	exportSvc := service.NewExportService(courseRepo, degreeRepo, enrollmentRepo,
		export.NewCSVExporter(), export.NewPDFExporter(cfg.Exports.Organisation), cfg.Exports.MaxRows, logr)

	readiness := []handler.ReadinessCheck{
		{Name: "postgres", Check: db.PingContext},
	}
	if redisClient != nil {
		readiness = append(readiness, handler.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	deps := routeDeps{
		cfg:         cfg,
		verifier:    middleware.NewVerifier(cfg.Identity),
		metrics:     metricsSvc,
		courses:     handler.NewCourseHandler(courseSvc),
		degrees:     handler.NewDegreeHandler(degreeSvc),
		enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		audit:       handler.NewAuditHandler(auditSvc),
		dashboard:   handler.NewDashboardHandler(dashboardSvc),
		exports:     handler.NewExportHandler(exportSvc),
		departments: handler.NewDepartmentHandler(departmentSvc),
		periods:     handler.NewPeriodHandler(periodSvc),
		students:    handler.NewStudentHandler(studentSvc),
		ops:         handler.NewMetricsHandler(metricsSvc, readiness...),
	}

	r := gin.New()
	registerRoutes(r, logr, deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runActivationSweep(ctx, cfg.Workflow.ActivationSweep, courseSvc, degreeSvc, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("api gateway listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("forced shutdown", zap.Error(err))
	}

	// Drains queued notifications before the process exits.
	queue.Stop()
	logr.Info("api gateway stopped")
}

// runActivationSweep periodically promotes approved versions whose
// scheduled effective date has arrived. Publication with a future
// EffectiveAt parks the version in pending activation; this sweep is
// what finally moves it to active.
func runActivationSweep(ctx context.Context, every time.Duration, courses *service.CourseService, degrees *service.DegreeService, logr *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			activated := 0
			if n, err := courses.ActivateDue(ctx, now); err != nil {
				logr.Warn("course activation sweep failed", zap.Error(err))
			} else {
				activated += n
			}
			if n, err := degrees.ActivateDue(ctx, now); err != nil {
				logr.Warn("degree activation sweep failed", zap.Error(err))
			} else {
				activated += n
			}
			if activated > 0 {
				logr.Info("scheduled versions activated", zap.Int("count", activated))
			}
		}
	}
}
