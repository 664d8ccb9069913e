package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/acadeon/curricula-api/api/swagger"
	"github.com/acadeon/curricula-api/internal/handler"
	"github.com/acadeon/curricula-api/internal/middleware"
	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/service"
	"github.com/acadeon/curricula-api/pkg/config"
	"github.com/acadeon/curricula-api/pkg/logger"
	"github.com/acadeon/curricula-api/pkg/middleware/cors"
	"github.com/acadeon/curricula-api/pkg/middleware/requestid"
)

type routeDeps struct {
	cfg      *config.Config
	verifier *middleware.Verifier
	metrics  *service.MetricsService

	courses     *handler.CourseHandler
	degrees     *handler.DegreeHandler
	enrollments *handler.EnrollmentHandler
	audit       *handler.AuditHandler
	dashboard   *handler.DashboardHandler
	exports     *handler.ExportHandler
	departments *handler.DepartmentHandler
	periods     *handler.PeriodHandler
	students    *handler.StudentHandler
	ops         *handler.MetricsHandler
}

// registerRoutes wires middleware and all API routes. Role guards here
// mirror the transition table; department and ownership scoping happens
// in the services where the record is loaded.
func registerRoutes(r *gin.Engine, logr *zap.Logger, d routeDeps) {
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(cors.New(d.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.metrics))

	r.GET("/health", d.ops.Health)
	r.GET("/ready", d.ops.Ready)
	r.GET("/metrics", d.ops.Prometheus)
	if d.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(d.cfg.APIPrefix)
	// Maintenance sits in front of identity so frozen writes are
	// rejected without a token round trip.
	api.Use(middleware.Maintenance(d.cfg.Maintenance))
	api.Use(middleware.Identity(d.verifier))

	authors := middleware.RequireRoles(models.RoleLecturer, models.RoleAdmin)
	heads := middleware.RequireRoles(models.RoleHOD)
	office := middleware.RequireRoles(models.RoleOffice, models.RoleAdmin)
	admins := middleware.RequireRoles(models.RoleAdmin)
	reviewers := middleware.RequireRoles(models.RoleHOD, models.RoleOffice, models.RoleAdmin)

	courses := api.Group("/courses")
	{
		courses.GET("", d.courses.List)
		courses.POST("", authors, d.courses.Create)
		courses.GET("/:id", d.courses.Get)
		courses.PUT("/:id", authors, d.courses.Update)
		courses.DELETE("/:id", authors, d.courses.Delete)
		courses.GET("/:id/lineage", d.courses.Lineage)
		courses.POST("/:id/fork", authors, d.courses.Fork)
		courses.POST("/:id/submit", authors, d.courses.Submit)
		courses.POST("/:id/approve", heads, d.courses.Approve)
		courses.POST("/:id/reject", heads, d.courses.Reject)
		courses.POST("/:id/publish", authors, d.courses.Publish)
		courses.POST("/:id/activate", office, d.courses.Activate)
		courses.POST("/:id/disable", office, d.courses.Disable)
		courses.POST("/:id/archive", admins, d.courses.Archive)
	}

	degrees := api.Group("/degrees")
	{
		degrees.GET("", d.degrees.List)
		degrees.POST("", authors, d.degrees.Create)
		degrees.GET("/:id", d.degrees.Get)
		degrees.PUT("/:id", authors, d.degrees.Update)
		degrees.DELETE("/:id", authors, d.degrees.Delete)
		degrees.GET("/:id/lineage", d.degrees.Lineage)
		degrees.POST("/:id/fork", authors, d.degrees.Fork)
		degrees.POST("/:id/submit", authors, d.degrees.Submit)
		degrees.POST("/:id/approve", heads, d.degrees.Approve)
		degrees.POST("/:id/reject", heads, d.degrees.Reject)
		degrees.POST("/:id/publish", authors, d.degrees.Publish)
		degrees.POST("/:id/activate", office, d.degrees.Activate)
		degrees.POST("/:id/disable", office, d.degrees.Disable)
		degrees.POST("/:id/archive", admins, d.degrees.Archive)
	}

	enrollments := api.Group("/enrollments")
	{
		applicants := middleware.RequireRoles(models.RoleStudent, models.RoleAdmin)

		enrollments.GET("", d.enrollments.List)
		enrollments.POST("", middleware.RequireRoles(models.RoleStudent, models.RoleOffice, models.RoleAdmin), d.enrollments.Create)
		enrollments.GET("/:id", d.enrollments.Get)
		enrollments.PUT("/:id/courses", applicants, d.enrollments.SaveCourses)
		enrollments.POST("/:id/submit", applicants, d.enrollments.Submit)
		enrollments.POST("/:id/withdraw", applicants, d.enrollments.Withdraw)
		enrollments.POST("/:id/decide/:stage", middleware.RequireRoles(models.RoleHOD, models.RoleOffice), d.enrollments.Decide)
	}

	audit := api.Group("/audit", reviewers)
	{
		audit.GET("", d.audit.List)
		audit.GET("/:resource/:id", d.audit.ForResource)
	}

	if d.cfg.Dashboard.Enabled {
		dashboard := api.Group("/dashboard", reviewers)
		{
			dashboard.GET("/approvals", d.dashboard.Approvals)
			dashboard.GET("/metrics", d.dashboard.Metrics)
		}
	}

	if d.cfg.Exports.Enabled {
		exports := api.Group("/exports", middleware.RequireStaff())
		{
			exports.GET("/courses/:code/:file", d.exports.CourseHistory)
			exports.GET("/degrees/:code/:file", d.exports.DegreeHistory)
			exports.GET("/enrollments/:year/:file", d.exports.Enrollments)
		}
	}

	departments := api.Group("/departments")
	{
		departments.GET("", d.departments.List)
		departments.GET("/:code", d.departments.Get)
		departments.POST("", admins, d.departments.Create)
		departments.PUT("/:code", admins, d.departments.Update)
	}

	periods := api.Group("/periods")
	{
		periods.GET("", d.periods.List)
		periods.GET("/current", d.periods.Current)
		periods.GET("/:id", d.periods.Get)
		periods.POST("", office, d.periods.Create)
		periods.PUT("/:id", office, d.periods.Update)
		periods.POST("/:id/current", office, d.periods.MakeCurrent)
	}

	students := api.Group("/students")
	{
		students.GET("", middleware.RequireStaff(), d.students.List)
		students.GET("/:id", d.students.Get)
		students.POST("", office, d.students.Create)
		students.PUT("/:id", office, d.students.Update)
	}
}
