package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/NikhilSetiya/fleetwatch/internal/api"
	"github.com/NikhilSetiya/fleetwatch/internal/monitoring"
	"github.com/NikhilSetiya/fleetwatch/internal/notifications/channels"
	"github.com/NikhilSetiya/fleetwatch/internal/probes"
	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/config"
	"github.com/NikhilSetiya/fleetwatch/pkg/health"
	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
	"github.com/NikhilSetiya/fleetwatch/pkg/metrics"
	"github.com/NikhilSetiya/fleetwatch/pkg/resilience"
	"github.com/NikhilSetiya/fleetwatch/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	printToken := flag.Duration("print-admin-token", 0, "print an admin token valid for the given duration and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *printToken > 0 {
		if cfg.Server.AdminJWTSecret == "" {
			log.Fatal("ADMIN_JWT_SECRET is not set")
		}
		token, err := api.IssueAdminToken(cfg.Server.AdminJWTSecret, "cli", *printToken)
		if err != nil {
			log.Fatalf("Failed to issue admin token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: cfg.Monitoring.ServiceName,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    true,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Monitoring.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.WithError(err).Warn("Tracing disabled")
		tracer = tracing.NewNoopService()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(&metrics.Config{Namespace: cfg.Metrics.Namespace, Enabled: true})
	}

	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		ResetTimeout:        cfg.Breaker.ResetTimeout,
		HalfOpenMaxAttempts: cfg.Breaker.HalfOpenMaxAttempts,
	},
		resilience.WithRegistryLogger(logger),
		resilience.WithStateChangeListener(func(name string, from, to resilience.CircuitState) {
			m.RecordBreakerTransition(name, from.String(), to.String(), int(to))
		}),
	)
	if m != nil {
		m.Registry.MustRegister(breakers.Collector(cfg.Metrics.Namespace))
	}

	zapLogger := newZapLogger(cfg.Logging.Level)
	defer func() { _ = zapLogger.Sync() }()

	alerts := alerting.NewService(&alerting.Config{
		ServiceName:     cfg.Monitoring.ServiceName,
		DefaultCooldown: cfg.Alerting.DefaultCooldown,
		MaxHistorySize:  cfg.Alerting.MaxHistorySize,
		Window:          cfg.Alerting.Window,
		DispatchTimeout: cfg.Alerting.DispatchTimeout,
	},
		alerting.WithLogger(logger),
		alerting.WithMetrics(m),
	)

	closers := registerNotifiers(alerts, cfg, breakers, tracer, zapLogger, logger)
	for _, entry := range cfg.Rules {
		if err := addRule(alerts, cfg, entry); err != nil {
			log.Fatalf("Invalid fleet rule %s: %v", entry.ID, err)
		}
	}

	probeList, probeClosers := buildProbes(cfg, m, logger)
	closers = append(closers, probeClosers...)

	monitor := monitoring.NewService(&monitoring.Config{
		ServiceName:    cfg.Monitoring.ServiceName,
		CheckInterval:  cfg.Monitoring.CheckInterval,
		DefaultTimeout: cfg.Monitoring.HealthCheckTimeout,
		HistorySize:    cfg.Monitoring.HistorySize,
	}, alerts,
		monitoring.WithLogger(logger),
		monitoring.WithTracer(tracer),
		monitoring.WithMetrics(m),
		monitoring.WithProbes(probeList...),
	)

	for _, svc := range cfg.Services {
		if err := monitor.RegisterService(monitoring.ServiceConfig{
			Name:       svc.Name,
			BaseURL:    svc.BaseURL,
			HealthPath: svc.HealthPath,
			Timeout:    svc.Timeout,
		}); err != nil {
			log.Fatalf("Failed to register service %s: %v", svc.Name, err)
		}
	}

	healthService := health.NewService(logger, &health.Config{
		Timeout:  cfg.Monitoring.HealthCheckTimeout,
		Metadata: map[string]string{"service": cfg.Monitoring.ServiceName},
	})
	healthService.RegisterChecker("disk", health.NewDiskSpaceChecker("/", "disk", 0.9))
	healthService.RegisterChecker("monitor", health.NewCustomChecker("monitor", func(ctx context.Context) (health.Status, string, error) {
		if !monitor.Running() {
			return health.StatusUnhealthy, "poll loop is not running", nil
		}
		return health.StatusHealthy, "poll loop running", nil
	}))

	router := api.NewRouter(api.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Monitor:  monitor,
		Breakers: breakers,
		Metrics:  m,
		Tracer:   tracer,
		Health:   healthService,
	})

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if err := monitor.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start monitoring: %v", err)
	}

	go func() {
		logger.Info("Starting API server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	monitor.Stop()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close resource")
		}
	}
	if err := tracer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}

	logger.Info("Server exited")
}

// registerNotifiers wires every configured channel into the alert service.
// The console channel is always registered.
func registerNotifiers(alerts *alerting.Service, cfg *config.Config, breakers *resilience.CircuitBreakerRegistry,
	tracer *tracing.TracingService, zapLogger *zap.Logger, logger *logging.Logger) []io.Closer {

	retry := resilience.DefaultRetryConfig()
	if cfg.Notifications.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Notifications.RetryAttempts
	}

	opts := channels.Options{
		Logger:      zapLogger,
		HTTPClient:  tracer.InstrumentHTTPClient(&http.Client{Timeout: cfg.Notifications.RequestTimeout}),
		Breakers:    breakers,
		Retry:       retry,
		ServiceName: cfg.Monitoring.ServiceName,
	}

	alerts.RegisterNotifier(channels.NewConsoleChannel(zapLogger))

	n := cfg.Notifications
	if n.SlackWebhookURL != "" {
		alerts.RegisterNotifier(channels.NewSlackChannel(n.SlackWebhookURL, opts))
	}
	if n.WebhookURL != "" {
		alerts.RegisterNotifier(channels.NewWebhookChannel(n.WebhookURL, n.WebhookHeaders, opts))
	}
	if n.NotificationServiceURL != "" && n.AlertEmail != "" {
		alerts.RegisterNotifier(channels.NewEmailChannel(n.NotificationServiceURL, n.ServiceToken, splitList(n.AlertEmail), opts))
	}

	var closers []io.Closer
	if len(n.KafkaBrokers) > 0 {
		kafkaChannel, err := channels.NewKafkaChannel(n.KafkaBrokers, n.KafkaTopic, opts)
		if err != nil {
			logger.WithError(err).Warn("Kafka alert channel disabled")
		} else {
			alerts.RegisterNotifier(kafkaChannel)
			closers = append(closers, kafkaChannel)
		}
	}

	return closers
}

func addRule(alerts *alerting.Service, cfg *config.Config, entry config.RuleEntry) error {
	op, err := alerting.ParseOperator(entry.Op)
	if err != nil {
		return err
	}
	cooldown := entry.Cooldown
	if cooldown == 0 {
		cooldown = cfg.Alerting.DefaultCooldown
	}
	rule := alerting.ThresholdRule(entry.ID, alerting.ParseSeverity(entry.Severity), entry.Field, op, entry.Value, cooldown, entry.Channels)
	return alerts.AddRule(rule)
}

func buildProbes(cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) ([]monitoring.Probe, []io.Closer) {
	var (
		list    []monitoring.Probe
		closers []io.Closer
	)
	opts := []probes.Option{probes.WithMetrics(m), probes.WithLogger(logger)}

	if cfg.Probes.DatabaseDSN != "" {
		probe, err := probes.NewDatabaseProbe("database", cfg.Probes.DatabaseDriver, cfg.Probes.DatabaseDSN, opts...)
		if err != nil {
			logger.WithError(err).Warn("Database probe disabled")
		} else {
			list = append(list, probe)
			closers = append(closers, probe)
		}
	}
	if cfg.Probes.RedisURL != "" {
		probe, err := probes.NewRedisProbe("redis", cfg.Probes.RedisURL, opts...)
		if err != nil {
			logger.WithError(err).Warn("Redis probe disabled")
		} else {
			list = append(list, probe)
			closers = append(closers, probe)
		}
	}

	return list, closers
}

func newZapLogger(level string) *zap.Logger {
	zapConfig := zap.NewProductionConfig()
	if parsed, err := zap.ParseAtomicLevel(level); err == nil {
		zapConfig.Level = parsed
	}
	zapLogger, err := zapConfig.Build()
	if err != nil {
		return zap.NewNop()
	}
	return zapLogger.Named("notifications")
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
