package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"labinsight/internal/api"
	"labinsight/internal/config"
	"labinsight/internal/flows"
	"labinsight/internal/httpx"
	"labinsight/internal/integrations/backend"
	"labinsight/internal/integrations/llm"
	slackbot "labinsight/internal/integrations/slack"
	"labinsight/internal/maintenance"
	"labinsight/internal/report"
	"labinsight/internal/resultstore"
	"labinsight/internal/session"
	"labinsight/internal/storage/sqlite"
)

const usage = "usage: labinsight [serve]"

func Main() {
	if len(os.Args) > 1 && os.Args[1] != "serve" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Invalid logging config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, cfg, logger); err != nil {
		logger.Fatalf("labinsight stopped: %v", err)
	}
	logger.Info("labinsight stopped")
}

// NewLogger builds the process logger from log_level and log_format.
func NewLogger(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log_format %q", format)
	}
	return logger, nil
}

// Run wires every component from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	logger.WithFields(logrus.Fields{
		"listen_addr":      cfg.ListenAddr,
		"backend_url":      cfg.BackendURL,
		"llm_provider":     cfg.LLMProvider,
		"llm_model":        cfg.LLMModel,
		"result_store":     cfg.ResultStore,
		"risk_enabled":     cfg.RiskEnabled,
		"timezone":         cfg.Location.String(),
		"external_timeout": appliedHTTPTimeout.String(),
	}).Info("config loaded")

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()
	logger.WithField("path", cfg.DBPath).Info("database initialized")
	telemetry := sqlite.Telemetry{DB: db}

	var notifier *slackbot.Notifier
	var onBreakerChange func(name, from, to string)
	if cfg.SlackConfigured() {
		notifier = slackbot.NewNotifier(cfg.SlackBotToken, cfg.OpsChannelID, httpx.ExternalHTTPClient(), logger)
		onBreakerChange = notifier.BreakerChanged
		logger.WithField("channel", cfg.OpsChannelID).Info("slack ops notifications enabled")
	}

	model, err := llm.New(cfg, logger, onBreakerChange)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}
	prompts, err := flows.LoadPrompts(cfg.LLMPromptsPath)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	runner, err := flows.NewRunner(model, flows.RunnerOptions{
		Prompts:   prompts,
		Recorder:  telemetry,
		Logger:    logger,
		MaxTokens: int64(cfg.LLMMaxTokens),
	})
	if err != nil {
		return fmt.Errorf("init flow runner: %w", err)
	}

	store, err := newResultStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init result store: %w", err)
	}
	defer store.Close()

	processor := backend.New(cfg.BackendURL, httpx.ExternalHTTPClient(), cfg.BackendRateLimitPerSec, logger)
	if onBreakerChange != nil {
		processor.NotifyBreakerChanges(onBreakerChange)
	}

	sessions := session.NewRegistry(cfg.SessionStoreSize, cfg.SessionTTL(), processor, store, session.Options{
		MaxUploadBytes:   cfg.MaxUploadBytes(),
		ProgressInterval: cfg.ProgressInterval(),
		Logger:           logger,
	})

	var poster maintenance.DigestPoster
	if notifier != nil {
		poster = notifier
	}
	scheduler, err := maintenance.New(db, maintenance.Options{
		MaintenanceSchedule: cfg.MaintenanceSchedule,
		DigestSchedule:      cfg.DigestSchedule,
		Retention:           time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour,
		Location:            cfg.Location,
		Poster:              poster,
		Logger:              logger,
	})
	if err != nil {
		return fmt.Errorf("init maintenance: %w", err)
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	var pendingReports func() int
	if counted, ok := store.(interface{ Len() int }); ok {
		pendingReports = counted.Len
	}

	server := api.NewServer(api.Deps{
		Sessions:       sessions,
		Samples:        processor,
		Reports:        report.NewService(store, runner, cfg.RiskEnabled, logger),
		Runner:         runner,
		Analyzer:       flows.NewAnalyzer(runner, cfg.RiskEnabled, logger),
		Stats:          telemetry,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
		Debug:          logger.IsLevelEnabled(logrus.DebugLevel),
		Breakers: map[string]func() string{
			"llm":                model.State,
			"processing-backend": processor.BreakerState,
		},
		PendingReports: pendingReports,
	})

	logger.Info("Starting LabInsight...")
	return server.Run(ctx, cfg.ListenAddr)
}

func newResultStore(ctx context.Context, cfg config.Config) (resultstore.Store, error) {
	switch cfg.ResultStore {
	case "redis":
		return resultstore.NewRedis(ctx, cfg.RedisURL, cfg.ResultTTL())
	default:
		return resultstore.NewMemory(cfg.ResultStoreSize, cfg.ResultTTL()), nil
	}
}
