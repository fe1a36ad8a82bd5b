// The orchestrator runs the scan orchestration and notification dispatch
// service: it drives the scan engine, persists job state, publishes lifecycle
// events, and fans terminal results out to the configured channels.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/scanwarden/scanwarden/internal/api"
	appnotify "github.com/scanwarden/scanwarden/internal/app/notification"
	"github.com/scanwarden/scanwarden/internal/app/orchestration"
	"github.com/scanwarden/scanwarden/internal/config"
	"github.com/scanwarden/scanwarden/internal/config/fileloader"
	domainnotify "github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/internal/infra/engine/zap"
	"github.com/scanwarden/scanwarden/internal/infra/eventbus/kafka"
	"github.com/scanwarden/scanwarden/internal/infra/metrics"
	"github.com/scanwarden/scanwarden/internal/infra/notify"
	notifyStore "github.com/scanwarden/scanwarden/internal/infra/storage/notification/postgres"
	scanStore "github.com/scanwarden/scanwarden/internal/infra/storage/scanning/postgres"
	"github.com/scanwarden/scanwarden/pkg/common"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
	"github.com/scanwarden/scanwarden/pkg/common/otel"
)

const serviceType = "orchestrator"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	viper.SetEnvPrefix("SCANWARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("config_file", "/etc/scanwarden/config.yaml")
	viper.SetDefault("api_addr", ":8081")
	viper.SetDefault("metrics_addr", ":9090")
	viper.SetDefault("otel_sampling_ratio", 0.1)

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	svcName := fmt.Sprintf("ORCHESTRATOR-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: viper.GetString("otel_exporter_endpoint"),
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability:      viper.GetFloat64("otel_sampling_ratio"),
		InsecureExporter: true,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(svcName)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	cfg, err := fileloader.NewFileLoader(viper.GetString("config_file")).Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := openDB(ctx)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info(ctx, "Migrations applied successfully. Starting application...")

	metricCollector := metrics.New()
	go func() {
		if err := common.RunMetricsServer(viper.GetString("metrics_addr")); err != nil {
			log.Error(ctx, "metrics server stopped", "error", err)
		}
	}()

	eventBus, err := kafka.ConnectWithRetry(&kafka.Config{
		Brokers:            strings.Split(viper.GetString("kafka_brokers"), ","),
		ScanEventsTopic:    viper.GetString("kafka_scan_events_topic"),
		NotificationsTopic: viper.GetString("kafka_notifications_topic"),
		ClientID:           svcName,
	}, log, metricCollector, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()
	publisher := kafka.NewDomainEventPublisher(eventBus)

	channels, err := buildChannels(cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build notification channels", "error", err)
		os.Exit(1)
	}

	dispatcher := appnotify.NewDispatcher(
		appnotify.Config{
			MaxAttempts:    cfg.Dispatch.MaxAttempts,
			InitialBackoff: cfg.Dispatch.InitialBackoff,
			MaxBackoff:     cfg.Dispatch.MaxBackoff,
			AttemptTimeout: cfg.Dispatch.AttemptTimeout,
		},
		notifyStore.NewReportStore(pool, tracer),
		publisher,
		metricCollector,
		log,
		tracer,
	)
	notifier := appnotify.NewService(dispatcher, channels)

	// Run the connectivity diagnostics before taking traffic so broken
	// channel credentials show up in the logs at startup, not at the first
	// terminal scan.
	for channelID, ok := range notifier.TestConnections(ctx) {
		if !ok {
			log.Warn(ctx, "Notification channel failed connectivity test", "channel_id", channelID)
		}
	}

	engine := zap.NewEngine(zap.Config{
		BaseURL:           cfg.Engine.BaseURL,
		APIKey:            cfg.Engine.APIKey,
		SpiderMaxChildren: cfg.Engine.SpiderMaxChildren,
		HTTPTimeout:       cfg.Engine.HTTPTimeout,
	}, log, tracer)

	orchestrator := orchestration.NewScanOrchestrator(
		orchestration.Config{
			MaxConcurrentScans:   cfg.Orchestrator.MaxConcurrentScans,
			ScanTimeout:          cfg.Orchestrator.ScanTimeout,
			CancelGracePeriod:    cfg.Orchestrator.CancelGracePeriod,
			ProgressPollInterval: cfg.Orchestrator.ProgressPollInterval,
			ReportBaseURL:        cfg.Orchestrator.ReportBaseURL,
		},
		engine,
		scanStore.NewJobStore(pool, tracer),
		publisher,
		notifier,
		metricCollector,
		log,
		tracer,
	)

	server := api.NewServer(log, tracer, orchestrator, appDefaults(cfg))

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx, viper.GetString("api_addr")) }()

	ready.Store(true)
	log.Info(ctx, "Orchestrator ready", "api_addr", viper.GetString("api_addr"))

	select {
	case sig := <-sigCh:
		log.Info(ctx, "Shutting down", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			log.Error(ctx, "API server failed", "error", err)
		}
	}

	ready.Store(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "orchestrator shutdown incomplete", "error", err)
	}
}

// openDB builds the pgx pool from SCANWARDEN_DATABASE_URL or the individual
// POSTGRES_* variables.
func openDB(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := viper.GetString("database_url")
	if dsn == "" {
		viper.SetDefault("postgres_user", "postgres")
		viper.SetDefault("postgres_password", "postgres")
		viper.SetDefault("postgres_host", "postgres")
		viper.SetDefault("postgres_db", "scanwarden")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
			viper.GetString("postgres_user"),
			viper.GetString("postgres_password"),
			viper.GetString("postgres_host"),
			viper.GetString("postgres_db"),
		)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	return pool, nil
}

// runMigrations applies all up migrations. It borrows a database/sql handle
// from the pool because golang-migrate does not speak pgx natively.
func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	viper.SetDefault("migrations_path", "file://db/migrations")
	m, err := migrate.NewWithDatabaseInstance(viper.GetString("migrations_path"), "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// buildChannels constructs one adapter per configured channel.
// appDefaults converts the configured application catalog into the API
// layer's per-application trigger defaults.
func appDefaults(cfg *config.Config) map[string]api.AppDefaults {
	defaults := make(map[string]api.AppDefaults, len(cfg.Applications))
	for name, app := range cfg.Applications {
		defaults[name] = api.AppDefaults{
			Target:     app.Target,
			ScanType:   scanning.ParseScanType(app.ScanType),
			Thresholds: app.Thresholds,
		}
	}
	return defaults
}

func buildChannels(cfg *config.Config, log *logger.Logger) ([]domainnotify.ChannelAdapter, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	channels := make([]domainnotify.ChannelAdapter, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		switch ch.Type {
		case config.ChannelTypeEmail:
			channels = append(channels, notify.NewEmailChannel(ch.ID, notify.EmailConfig{
				Host:       ch.Email.Host,
				Port:       ch.Email.Port,
				Username:   ch.Email.Username,
				Password:   ch.Email.Password,
				From:       ch.Email.From,
				Recipients: ch.Email.Recipients,
			}, log))
		case config.ChannelTypeChatWebhook:
			channels = append(channels, notify.NewSlackChannel(ch.ID, notify.SlackConfig{
				WebhookURL:        ch.ChatWebhook.WebhookURL,
				Username:          ch.ChatWebhook.Username,
				MessagesPerSecond: ch.ChatWebhook.MessagesPerSecond,
			}, httpClient, log))
		case config.ChannelTypeIssueTracker:
			channels = append(channels, notify.NewGitHubChannel(ch.ID, notify.GitHubConfig{
				BaseURL: ch.IssueTracker.BaseURL,
				Token:   ch.IssueTracker.Token,
				Owner:   ch.IssueTracker.Owner,
				Repo:    ch.IssueTracker.Repo,
				Labels:  ch.IssueTracker.Labels,
			}, httpClient, log))
		case config.ChannelTypeWebhook:
			channels = append(channels, notify.NewWebhookChannel(ch.ID, notify.WebhookConfig{
				URL:     ch.Webhook.URL,
				Headers: ch.Webhook.Headers,
			}, httpClient, log))
		default:
			return nil, fmt.Errorf("unknown channel type %q", ch.Type)
		}
	}
	return channels, nil
}
