// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/framepulse/internal/alert"
	"github.com/onnwee/framepulse/internal/analytics"
	"github.com/onnwee/framepulse/internal/api"
	"github.com/onnwee/framepulse/internal/attribution"
	"github.com/onnwee/framepulse/internal/auth"
	"github.com/onnwee/framepulse/internal/broadcast"
	"github.com/onnwee/framepulse/internal/config"
	"github.com/onnwee/framepulse/internal/consult"
	"github.com/onnwee/framepulse/internal/conversation"
	"github.com/onnwee/framepulse/internal/export"
	"github.com/onnwee/framepulse/internal/health"
	"github.com/onnwee/framepulse/internal/middleware"
	"github.com/onnwee/framepulse/internal/privacy"
	"github.com/onnwee/framepulse/internal/quality"
	"github.com/onnwee/framepulse/internal/tracing"
)

// neutralSentiment stands in for the external sentiment service: every
// message scores neutral, so quality scores reflect resolution and error
// rate only.
// TODO: replace with the sentiment service client once its endpoint is
// provisioned
type neutralSentiment struct{}

func (neutralSentiment) Analyze(_ context.Context, _ string) (quality.Sentiment, error) {
	return quality.Sentiment{Score: 0}, nil
}

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Framepulse API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	// Metrics registry. Every package registers its own collectors.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	httpMetrics := middleware.NewMetrics()
	consultMetrics := consult.NewMetrics()
	alertMetrics := alert.NewMetrics()
	broadcastMetrics := broadcast.NewMetrics()
	attributionMetrics := attribution.NewMetrics()
	exportMetrics := export.NewMetrics()
	for name, register := range map[string]func(prometheus.Registerer) error{
		"http":        httpMetrics.Register,
		"consult":     consultMetrics.Register,
		"alert":       alertMetrics.Register,
		"broadcast":   broadcastMetrics.Register,
		"attribution": attributionMetrics.Register,
		"export":      exportMetrics.Register,
	} {
		if err := register(registry); err != nil {
			logger.Error("failed to register metrics", "package", name, "error", err)
			os.Exit(1)
		}
	}

	// Tracing is opt-in via environment; the provider is a no-op otherwise.
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "framepulse-api",
		Enabled:      os.Getenv("TRACING_ENABLED") == "true",
		Environment:  cfg.Env,
		ExporterType: os.Getenv("TRACING_EXPORTER_TYPE"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		SamplingRate: 1.0,
		InsecureMode: cfg.Env == "development",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	deps := make(map[string]analytics.HealthChecker)

	// Conversation store: Redis when configured, in-memory otherwise.
	var sessions conversation.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		sessions = conversation.NewRedisStore(client)
		deps["redis"] = health.NewRedisChecker(client)
	} else {
		logger.Warn("no REDIS_URL configured, using in-memory conversation store")
		sessions = conversation.NewInMemoryStore()
	}

	// Attribution reports: Postgres when configured, in-memory otherwise.
	var reports attribution.ReportRepository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		reports = attribution.NewPostgresReportRepository(db)
		deps["postgres"] = health.NewDBChecker(db)
	} else {
		logger.Warn("no DATABASE_URL configured, attribution reports stay in-memory")
		reports = attribution.NewInMemoryReportRepository()
	}

	var anonymizer *privacy.Anonymizer
	if cfg.AnonymizationKey != "" {
		anonymizer, err = privacy.NewAnonymizer(cfg.AnonymizationKey, privacy.Policy{
			AnonymizeUserIDs: cfg.AnonymizeUserIDs,
			StripPII:         cfg.StripPII,
		})
		if err != nil {
			logger.Error("failed to initialize anonymizer", "error", err)
			os.Exit(1)
		}
	}

	scorer := quality.NewScorer(neutralSentiment{}, quality.Weights{
		Sentiment:  cfg.QualityWeightSentiment,
		Resolution: cfg.QualityWeightResolution,
		ErrorRate:  cfg.QualityWeightErrorRate,
	})

	var commerce attribution.CommerceSource
	if cfg.StripeAPIKey != "" {
		commerce = attribution.NewStripeSource(cfg.StripeAPIKey)
	} else {
		logger.Warn("no STRIPE_API_KEY configured, ROI summaries are unavailable")
	}

	attrib := attribution.NewEngine(attribution.EngineConfig{
		Sessions: sessions,
		Scorer:   scorer,
		Commerce: commerce,
		Reports:  reports,
		Metrics:  attributionMetrics,
	})

	consultations := consult.NewRegistry()
	aggregates := consult.NewAggregates()
	tracker := consult.NewTracker(consult.TrackerConfig{
		Registry:   consultations,
		Aggregates: aggregates,
		Attributor: attrib,
		Metrics:    consultMetrics,
	})

	thresholds := alert.Thresholds{
		FaceConfidenceMin:    cfg.AlertFaceConfidenceMin,
		VoiceLatencyMaxMs:    cfg.AlertVoiceLatencyMaxMs,
		StoreLocatorUsageMin: cfg.AlertStoreLocatorUsageMin,
		ConversionRateMin:    cfg.AlertConversionRateMin,
		ErrorRateMax:         cfg.AlertErrorRateMax,
		SatisfactionMin:      cfg.AlertSatisfactionMin,
	}
	alerts := alert.NewEngine(alert.EngineConfig{
		Rules:       alert.DefaultRules(thresholds),
		MetricRules: alert.DefaultMetricRules(thresholds),
		Metrics:     alertMetrics,
	})

	service := analytics.NewService(analytics.ServiceConfig{
		Registry:     consultations,
		Aggregates:   aggregates,
		Attribution:  attrib,
		Dependencies: deps,
	})

	hub := broadcast.NewHub(broadcast.HubConfig{
		Snapshot:   service,
		BufferSize: cfg.ObserverBufferSize,
		Metrics:    broadcastMetrics,
	})

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)

	// Snapshot export: only runs when a bucket is configured.
	var exportJob *export.Job
	if cfg.ExportEnabled() {
		client, err := export.NewClient(export.ClientConfig{
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
		})
		if err != nil {
			logger.Error("failed to create export client", "error", err)
			os.Exit(1)
		}
		exportJob, err = export.NewJob(export.JobConfig{
			Interval: time.Duration(cfg.ExportIntervalSeconds) * time.Second,
			Bucket:   cfg.R2BucketName,
			Logger:   logger,
			Metrics:  exportMetrics,
		}, service, client)
		if err != nil {
			logger.Error("failed to create export job", "error", err)
			os.Exit(1)
		}
		if err := exportJob.Start(context.Background()); err != nil {
			logger.Error("failed to start export job", "error", err)
			os.Exit(1)
		}
	}

	mux := api.NewRouter(api.RouterConfig{
		Track: api.NewTrackHandlers(api.TrackHandlersConfig{
			Tracker:   tracker,
			Alerts:    alerts,
			Hub:       hub,
			Analytics: service,
		}),
		Dashboard: api.NewDashboardHandlers(hub, jwtService),
		Analytics: api.NewAnalyticsHandlers(api.AnalyticsHandlersConfig{
			Service:    service,
			Attrib:     attrib,
			Registry:   consultations,
			Sessions:   sessions,
			Scorer:     scorer,
			Anonymizer: anonymizer,
			Alerts:     alerts,
			Hub:        hub,
		}),
		Health:   api.NewHealthHandlers(service),
		Registry: registry,
	})

	// Apply middleware: RequestID -> Logging -> HTTPMetrics -> Tracing
	handler := middleware.RequestID(
		middleware.Logging(logger)(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.Tracing("framepulse-api")(mux))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	if exportJob != nil {
		exportJob.Stop()
	}

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down tracing", "error", err)
	}

	logger.Info("server stopped")
}
