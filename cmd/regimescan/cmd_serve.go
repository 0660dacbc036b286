package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/sawpanic/regimescan/internal/interfaces/http"
	"github.com/sawpanic/regimescan/internal/persistence"
	"github.com/sawpanic/regimescan/internal/persistence/postgres"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scan API and Prometheus metrics over HTTP",
		Long: `Serve exposes POST /scan for on-demand detection, per-symbol scan
history when Postgres is configured, and Prometheus metrics. It runs
until interrupted and then shuts down gracefully.`,
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "Listen address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.ListenAddr = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo persistence.ShiftRepo
	if cfg.Database.DSN != "" {
		db, err := postgres.Connect(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		repo = postgres.NewShiftRepo(db, cfg.Database.Timeout())
		log.Info().Msg("scan persistence enabled")
	}

	server := httpapi.NewServer(httpapi.Config{
		ListenAddr: cfg.Server.ListenAddr,
	}, cfg.Detector.Params(), httpapi.NewMetricsRegistry(), repo)

	return server.ListenAndServe(ctx, cfg.Server.ShutdownTimeout())
}
