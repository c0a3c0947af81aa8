package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"slackmatrix/internal/bridge"
	"slackmatrix/internal/config"
	"slackmatrix/internal/constants"
	"slackmatrix/internal/database"
	"slackmatrix/internal/dispatch"
	"slackmatrix/internal/filetransfer"
	"slackmatrix/internal/identity"
	"slackmatrix/internal/metrics"
	"slackmatrix/internal/models"
	"slackmatrix/internal/retry"
	"slackmatrix/internal/tracing"
	"slackmatrix/pkg/matrix"
	"slackmatrix/pkg/slack"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("slackmatrix %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogLevel(logger, cfg.LogLevel)

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting slackmatrix")

	asToken, hsToken, botLocalpart, err := resolveAppserviceIdentity(cfg)
	if err != nil {
		return err
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// The store must be up before anything else; retry briefly in case
	// the volume mounts late.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	registry := metrics.NewRegistry()

	slackClient := slack.NewClient(cfg.Slack, nil, logger)
	slackBotUserID := ""
	if auth, err := slackClient.AuthTest(ctx); err != nil {
		logger.Warnf("Slack auth test failed: %v. Own-message echo suppression will rely on bot_id only.", err)
	} else {
		slackBotUserID = auth.UserID
		logger.WithFields(logrus.Fields{
			"team_id": auth.TeamID,
			"user_id": auth.UserID,
		}).Info("Slack credentials verified")
	}

	matrixClient, err := matrix.NewAppClient(cfg.Matrix, asToken, botLocalpart, logger)
	if err != nil {
		return fmt.Errorf("failed to create Matrix client: %w", err)
	}

	profileTTL := time.Duration(cfg.Queue.ProfileTTLMinutes) * time.Minute
	mapper := identity.NewMapper(db, matrixClient, slackClient, cfg.Ghosts, cfg.Matrix.Domain, profileTTL, logger)
	files := filetransfer.NewCoordinator(slackClient, matrixClient, cfg.Files, registry, logger)

	core := bridge.New(db, mapper, slackClient, matrixClient, files, bridge.Config{
		Limits:         cfg.Limits,
		Ghosts:         cfg.Ghosts,
		Domain:         cfg.Matrix.Domain,
		BotMXID:        matrixClient.BotMXID(),
		SlackBotUserID: slackBotUserID,
	}, registry, logger)

	dispatcher := dispatch.NewDispatcher(cfg.Queue, cfg.Retry, core, db, registry, logger)
	core.SetQueue(dispatcher)

	// Workers and ingestors outlive the signal context so a shutdown can
	// drain in order: ingest stops first, queued work finishes, then the
	// pool goes down.
	workCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	dispatcher.Start(workCtx)

	// Events persisted at the previous shutdown go back through the
	// queue before live intake starts; the ledger suppresses any whose
	// delivery actually completed.
	if replayed, err := db.TakePendingEvents(ctx); err != nil {
		logger.WithError(err).Warn("Could not load events persisted at last shutdown")
	} else if len(replayed) > 0 {
		logger.WithField("count", len(replayed)).Info("Replaying events persisted at last shutdown")
		for _, evt := range replayed {
			dispatcher.Enqueue(evt)
		}
	}

	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()

	socketClient := slack.NewSocketClient(slackClient, core.HandleSlackEvent, registry, logger)
	socketClient.SetAdmission(dispatcher.StoreAvailable)
	go func() { _ = socketClient.Run(ingestCtx) }()

	maintenance := bridge.NewMaintenance(db, cfg.RetentionDays, time.Hour, logger)
	go maintenance.Run(workCtx)

	appservice := matrix.NewAppservice(hsToken, db, core.HandleMatrixEvent, registry, logger)
	server := NewServer(serverPort(), appservice, registry, db, socketClient, logger)
	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	stopIngest()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}
	if err := dispatcher.Drain(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Dispatcher drain incomplete, persisting undelivered events")
	}
	stopWorkers()
	if remaining := dispatcher.Unfinished(); len(remaining) > 0 {
		if err := db.SavePendingEvents(context.Background(), remaining); err != nil {
			logger.WithError(err).WithField("count", len(remaining)).Error("Could not persist undelivered events")
		} else {
			logger.WithField("count", len(remaining)).Info("Persisted undelivered events for replay on next start")
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

// resolveAppserviceIdentity picks tokens and bot localpart from the
// registration file, with config overrides for tests and dev setups.
func resolveAppserviceIdentity(cfg *models.Config) (asToken, hsToken, botLocalpart string, err error) {
	asToken = cfg.Matrix.ASToken
	hsToken = cfg.Matrix.HSToken
	botLocalpart = cfg.Matrix.BotUser

	if cfg.Matrix.RegistrationPath != "" {
		reg, regErr := config.LoadRegistration(cfg.Matrix.RegistrationPath)
		if regErr != nil {
			return "", "", "", regErr
		}
		if asToken == "" {
			asToken = reg.ASToken
		}
		if hsToken == "" {
			hsToken = reg.HSToken
		}
		if reg.SenderLocalpart != "" {
			botLocalpart = reg.SenderLocalpart
		}
	}

	if asToken == "" || hsToken == "" {
		return "", "", "", fmt.Errorf("appservice tokens are not configured")
	}
	return asToken, hsToken, botLocalpart, nil
}

func configureLogLevel(logger *logrus.Logger, level string) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if level == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func serverPort() int {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return constants.DefaultServerPort
}
