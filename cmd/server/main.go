package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Tyrowin/journal-realtime/internal/config"
	"github.com/Tyrowin/journal-realtime/internal/directory"
	"github.com/Tyrowin/journal-realtime/internal/logger"
	"github.com/Tyrowin/journal-realtime/internal/notify"
	"github.com/Tyrowin/journal-realtime/internal/server"
)

var (
	configFile string
	envFile    string
	root       = &cobra.Command{
		Use:           "journal-realtime",
		Short:         "Realtime WebSocket server for shared journals and couple games",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	initFlags = func() {
		root.Flags().StringVar(&configFile, "config", "", "optional YAML/JSON/TOML config file")
		root.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
		root.Flags().String("port", "", "listen address, e.g. :8080")
		root.Flags().String("log-level", "", "debug, info, warn or error")
	}
)

func init() {
	// RunE is assigned here rather than in root's literal: run refers to
	// root, which would otherwise form an initialization cycle.
	root.RunE = func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	}
	initFlags()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("journal-realtime: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "load %s", envFile)
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", configFile)
		}
	}
	if err := v.BindPFlag(config.KeyPort, root.Flags().Lookup("port")); err != nil {
		return errors.Wrap(err, "bind port flag")
	}
	if err := v.BindPFlag(config.KeyLogLevel, root.Flags().Lookup("log-level")); err != nil {
		return errors.Wrap(err, "bind log-level flag")
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	opts, cleanup, err := collaborators(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(cfg, lg, opts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return err
	case <-ctx.Done():
	}

	lg.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// collaborators builds the directory and push backends selected by cfg.
func collaborators(ctx context.Context, cfg *config.Config, lg *zap.Logger) ([]server.Option, func(), error) {
	var opts []server.Option
	cleanup := func() {}

	if cfg.Database.URL != "" {
		db, err := directory.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		lg.Info("directory backed by database", zap.String("driver", cfg.Database.Driver))
		opts = append(opts, server.WithDirectory(db, db))
		cleanup = func() {
			if err := db.Close(); err != nil {
				lg.Warn("closing database", zap.Error(err))
			}
		}
	}

	if cfg.Push.WebhookURL != "" {
		lg.Info("offline pushes sent to webhook", zap.String("url", cfg.Push.WebhookURL))
		opts = append(opts, server.WithPusher(notify.NewWebhookPusher(cfg.Push.WebhookURL, cfg.Push.Timeout, cfg.Push.Retries)))
	}

	return opts, cleanup, nil
}
