package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/queuectl"
	audithook "github.com/xraph/queuectl/audit_hook"
	"github.com/xraph/queuectl/engine"
	"github.com/xraph/queuectl/store"
	"github.com/xraph/queuectl/store/memory"
	mongostore "github.com/xraph/queuectl/store/mongo"
	pgstore "github.com/xraph/queuectl/store/postgres"
	redisstore "github.com/xraph/queuectl/store/redis"
	"github.com/xraph/queuectl/supervisor"
)

// app carries what every subcommand needs. Tests replace openStore and
// loadConfig.
type app struct {
	loadConfig func() (queuectl.Config, error)
	openStore  func(ctx context.Context, cfg queuectl.Config, logger *slog.Logger) (store.Store, error)
	logOutput  io.Writer
	engineOpts []engine.Option

	cfg    queuectl.Config
	logger *slog.Logger
}

func newApp() *app {
	return &app{
		loadConfig: queuectl.LoadConfig,
		openStore:  openStore,
		logOutput:  os.Stderr,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "queuectl",
		Short: "Durable background job queue for shell commands",
		// Errors are logged once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(a.logOutput, cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	root.AddCommand(
		enqueueCmd(a),
		listCmd(a),
		statusCmd(a),
		dlqCmd(a),
		configCmd(a),
		workerCmd(a),
		recoverCmd(a),
		pingCmd(a),
	)
	return root
}

// withEngine opens the store, waits for it to answer, applies migrations
// and hands fn a ready engine. The store is closed when fn returns.
func (a *app) withEngine(ctx context.Context, attempts int, fn func(*engine.Engine) error) error {
	s, err := a.openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}

	q, err := queuectl.New(
		queuectl.WithConfig(a.cfg),
		queuectl.WithLogger(a.logger),
		queuectl.WithStore(s),
	)
	if err != nil {
		_ = s.Close()
		return err
	}
	defer func() {
		if cerr := q.Close(); cerr != nil {
			a.logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}()

	opts := a.engineOpts
	if a.cfg.AuditLog != "" {
		f, err := os.OpenFile(a.cfg.AuditLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("queuectl: open audit log: %w", err)
		}
		defer f.Close()
		audit := audithook.New(audithook.NewJSONLines(f), audithook.WithLogger(a.logger))
		opts = append(opts[:len(opts):len(opts)], engine.WithExtension(audit))
	}

	eng, err := engine.Build(q, opts...)
	if err != nil {
		return err
	}
	if err := eng.WaitForStore(ctx, attempts, time.Second); err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	return fn(eng)
}

func (a *app) supervisor() *supervisor.Supervisor {
	return supervisor.New(
		supervisor.NewRegistryInDir(a.cfg.RunDir),
		supervisor.WithStopTimeout(a.cfg.StopTimeout),
		supervisor.WithLogger(a.logger),
	)
}

// openStore creates the backend selected by cfg.Store. Connections are
// established lazily; callers ping before use.
func openStore(ctx context.Context, cfg queuectl.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case "mongo":
		return mongostore.Open(cfg.MongoURI, cfg.DBName, mongostore.WithLogger(logger))
	case "postgres":
		return pgstore.New(ctx, cfg.PostgresURL, pgstore.WithLogger(logger))
	case "redis":
		return redisstore.Open(cfg.RedisURL, redisstore.WithLogger(logger))
	case "memory":
		logger.Warn("memory store does not persist across processes")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("queuectl: unknown store %q", cfg.Store)
	}
}

// newLogger creates a slog.Logger for the configured level and format.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
