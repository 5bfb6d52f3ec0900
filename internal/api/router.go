package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/fleetwatch/internal/middleware"
	"github.com/NikhilSetiya/fleetwatch/internal/monitoring"
	"github.com/NikhilSetiya/fleetwatch/pkg/config"
	"github.com/NikhilSetiya/fleetwatch/pkg/health"
	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
	"github.com/NikhilSetiya/fleetwatch/pkg/metrics"
	"github.com/NikhilSetiya/fleetwatch/pkg/resilience"
	"github.com/NikhilSetiya/fleetwatch/pkg/security"
	"github.com/NikhilSetiya/fleetwatch/pkg/tracing"
)

// ReadBreakerName guards the read endpoints of the monitoring API
const ReadBreakerName = "admin-api"

// Dependencies are the services the router is built on. Metrics, Tracer and
// Health are optional.
type Dependencies struct {
	Config   *config.Config
	Logger   *logging.Logger
	Monitor  *monitoring.Service
	Breakers *resilience.CircuitBreakerRegistry
	Metrics  *metrics.Metrics
	Tracer   *tracing.TracingService
	Health   *health.Service
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	securityConfig := security.DefaultHeadersConfig()
	if len(deps.Config.Server.AllowedOrigins) > 0 {
		securityConfig.AllowedOrigins = deps.Config.Server.AllowedOrigins
	}

	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.LoggingMiddleware(deps.Logger, deps.Monitor))
	router.Use(middleware.ErrorLoggingMiddleware(deps.Logger))
	router.Use(security.Middleware(securityConfig)...)
	if deps.Tracer != nil {
		router.Use(deps.Tracer.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}

	healthService := deps.Health
	if healthService == nil {
		healthService = health.NewService(deps.Logger, health.DefaultConfig())
	}
	router.GET("/health", healthService.Handler())
	router.GET("/health/live", healthService.LivenessHandler())

	monitoringHandler := NewMonitoringHandler(deps.Monitor, deps.Logger)
	circuitHandler := NewCircuitHandler(deps.Breakers, deps.Logger)

	router.GET("/metrics", monitoringHandler.GetMetrics)

	v1 := router.Group("/api/v1/monitoring")
	{
		reads := v1.Group("")
		reads.Use(middleware.CircuitBreakerMiddleware(deps.Breakers.Get(ReadBreakerName)))
		{
			reads.GET("/dashboard", monitoringHandler.GetDashboard)
			reads.GET("/services", monitoringHandler.GetServices)
			reads.GET("/services/:name", monitoringHandler.GetService)
			reads.GET("/system", monitoringHandler.GetSystem)
			reads.GET("/alerts", monitoringHandler.GetAlerts)
		}

		// breaker administration stays reachable while the read circuit is open
		v1.GET("/circuits", circuitHandler.ListCircuits)

		admin := v1.Group("")
		admin.Use(AdminAuthMiddleware(deps.Config.Server.AdminJWTSecret))
		{
			admin.POST("/health-check", monitoringHandler.RunHealthCheck)
			admin.POST("/alerts/test", monitoringHandler.SendTestAlert)
			admin.POST("/alerts/:id/resolve", monitoringHandler.ResolveAlert)
			admin.POST("/circuits/reset", circuitHandler.ResetCircuits)
			admin.POST("/circuits/:name/open", circuitHandler.OpenCircuit)
			admin.POST("/circuits/:name/close", circuitHandler.CloseCircuit)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
