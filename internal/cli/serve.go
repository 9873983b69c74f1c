package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/capsulemarket/capsule/internal/api"
	"github.com/capsulemarket/capsule/internal/app/ledger"
	"github.com/capsulemarket/capsule/internal/app/submission"
	"github.com/capsulemarket/capsule/internal/app/trust"
	"github.com/capsulemarket/capsule/internal/config"
	"github.com/capsulemarket/capsule/internal/domain"
	"github.com/capsulemarket/capsule/internal/infra/oracle"
	"github.com/capsulemarket/capsule/internal/infra/sqlite"
	"github.com/capsulemarket/capsule/internal/policy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capsule engine HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log)

	dataDir, err := cfg.DataDir()
	if err != nil {
		return err
	}
	db, err := sqlite.Open(dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	bundle := policy.Default()
	if cfg.Policy.Path != "" {
		bundle, err = policy.Load(cfg.Policy.Path)
		if err != nil {
			return fmt.Errorf("load policy bundle: %w", err)
		}
		log.Info().Str("path", cfg.Policy.Path).Int("version", bundle.Version).Msg("policy bundle loaded")
	}

	var usernameOracle domain.UsernameOracle
	if cfg.Oracle.URL != "" {
		usernameOracle = oracle.New(cfg.Oracle.URL, log)
	}

	resolver := trust.NewResolver(bundle.Tiers)
	penalty := trust.NewEngine(bundle.Penalties)
	led := ledger.New(db, log)
	subs := submission.New(db, bundle, resolver, penalty, led, usernameOracle, log)

	server := api.NewServer(subs, led, log)
	if cfg.Metrics.Enabled {
		server.EnableMetrics()
	}
	subs.SetBroadcaster(server.Hub())

	httpServer := &http.Server{
		Addr:    cfg.API.Addr(),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.API.Addr()).Msg("capsule engine listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
