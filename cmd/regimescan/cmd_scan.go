package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/regimescan/internal/artifacts"
	"github.com/sawpanic/regimescan/internal/config"
	"github.com/sawpanic/regimescan/internal/mdl"
	"github.com/sawpanic/regimescan/internal/persistence"
	"github.com/sawpanic/regimescan/internal/persistence/postgres"
	"github.com/sawpanic/regimescan/internal/providers/alphavantage"
	"github.com/sawpanic/regimescan/internal/providers/cache"
	"github.com/sawpanic/regimescan/internal/synthetic"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one change-point scan over a daily-close or synthetic series",
		Long: `Scan fetches a symbol's daily closes (or generates a synthetic series),
reduces them to up/down directions, and runs the MDL detector across
every candidate split. The smoothed series and any change point are
written as CSV and JSON artifacts.`,
		RunE: runScan,
	}

	cmd.Flags().String("symbol", "", "Ticker symbol to fetch from Alpha Vantage")
	cmd.Flags().String("start", "", "Inclusive start date (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Inclusive end date (YYYY-MM-DD)")
	cmd.Flags().Bool("synthetic", false, "Generate a synthetic two-phase series instead of fetching")
	cmd.Flags().Float64Slice("probabilities", []float64{0.1, 0.9}, "Phase probabilities p1,p2 for synthetic data")
	cmd.Flags().Int("breakpoint", 50, "Index where the synthetic probability switches")
	cmd.Flags().Int("length", 100, "Synthetic series length")
	cmd.Flags().Int64("seed", 42, "Synthetic generator seed")
	cmd.Flags().Int("stride", 0, "Override detector stride")
	cmd.Flags().Float64("smoothing", 0, "Override smoothing factor")
	cmd.Flags().Bool("no-artifact", false, "Skip writing artifact files")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	params := detectorParams(cmd, cfg)

	useSynthetic, _ := cmd.Flags().GetBool("synthetic")
	symbol, _ := cmd.Flags().GetString("symbol")
	if !useSynthetic && symbol == "" {
		return fmt.Errorf("either --symbol or --synthetic is required")
	}
	if useSynthetic && symbol != "" {
		return fmt.Errorf("--symbol and --synthetic are mutually exclusive")
	}

	ctx := cmd.Context()

	var (
		obs    []int
		labels []string
		source string
	)
	if useSynthetic {
		source = "synthetic"
		obs, err = syntheticSeries(cmd)
		if err != nil {
			return err
		}
	} else {
		source = "alphavantage"
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		obs, labels, err = fetchDirections(ctx, cfg, symbol, start, end)
		if err != nil {
			return err
		}
	}

	started := time.Now()
	result, err := mdl.ScanLabeled(obs, labels, params)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	event := log.Info().
		Str("source", source).
		Int("observations", len(obs)).
		Dur("elapsed", time.Since(started))
	if symbol != "" {
		event = event.Str("symbol", symbol)
	}
	if result.ChangePoint != nil {
		event.Str("change_point", result.ChangePoint.String()).Msg("regime change detected")
	} else {
		event.Msg("no regime change")
	}

	if skip, _ := cmd.Flags().GetBool("no-artifact"); !skip {
		writer, err := artifacts.NewWriter(cfg.Artifacts.Dir)
		if err != nil {
			return err
		}
		path, err := writer.WriteScan(symbol, source, params, result)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("artifact written")
	}

	if cfg.Database.DSN != "" {
		if err := persistScan(ctx, cfg, symbol, source, params, len(obs), result); err != nil {
			return err
		}
	}
	return nil
}

// detectorParams applies flag overrides on top of the config section.
func detectorParams(cmd *cobra.Command, cfg config.Config) mdl.Params {
	params := cfg.Detector.Params()
	if cmd.Flags().Changed("stride") {
		params.Stride, _ = cmd.Flags().GetInt("stride")
	}
	if cmd.Flags().Changed("smoothing") {
		params.Smoothing, _ = cmd.Flags().GetFloat64("smoothing")
	}
	return params
}

func syntheticSeries(cmd *cobra.Command) ([]int, error) {
	probs, _ := cmd.Flags().GetFloat64Slice("probabilities")
	if len(probs) != 2 {
		return nil, fmt.Errorf("--probabilities needs exactly two values, got %d", len(probs))
	}
	breakpoint, _ := cmd.Flags().GetInt("breakpoint")
	length, _ := cmd.Flags().GetInt("length")
	seed, _ := cmd.Flags().GetInt64("seed")
	return synthetic.Generate([2]float64{probs[0], probs[1]}, breakpoint, length, seed)
}

func fetchDirections(ctx context.Context, cfg config.Config, symbol, start, end string) ([]int, []string, error) {
	apiKey, err := cfg.APIKey()
	if err != nil {
		return nil, nil, err
	}

	client := alphavantage.NewClient(alphavantage.Config{
		BaseURL:         cfg.Provider.BaseURL,
		APIKey:          apiKey,
		RequestTimeout:  cfg.Provider.RequestTimeout(),
		RateLimitPerMin: cfg.Provider.RateLimitPerMin,
		BreakerFailures: cfg.Provider.BreakerFailures,
		BreakerCooldown: cfg.Provider.BreakerCooldown(),
	})
	if cfg.Cache.Addr != "" {
		client.SetCache(cache.Connect(cfg.Cache.Addr, cfg.Cache.TTL()))
	}
	return client.Directions(ctx, symbol, start, end)
}

func persistScan(ctx context.Context, cfg config.Config, symbol, source string, params mdl.Params, observations int, result *mdl.Result) error {
	db, err := postgres.Connect(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	repo := postgres.NewShiftRepo(db, cfg.Database.Timeout())

	record := persistence.ScanRecord{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Source:       source,
		Observations: observations,
		Stride:       params.Stride,
		Smoothing:    params.Smoothing,
		Series:       make(map[string]float64, len(result.Series)),
		ScannedAt:    time.Now().UTC(),
	}
	for _, pt := range result.Series {
		record.Series[pt.Key.String()] = pt.Value
	}
	if result.ChangePoint != nil {
		idx := result.ChangePoint.Index
		record.ChangeIndex = &idx
		if result.ChangePoint.Label != "" {
			label := result.ChangePoint.Label
			record.ChangeLabel = &label
		}
	}

	if err := repo.Insert(ctx, record); err != nil {
		return fmt.Errorf("store scan: %w", err)
	}
	log.Info().Str("scan_id", record.ID).Msg("scan stored")
	return nil
}
