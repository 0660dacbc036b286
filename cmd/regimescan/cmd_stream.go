package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/regimescan/internal/mdl"
	"github.com/sawpanic/regimescan/internal/providers/feed"
)

func newStreamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Feed live trades into a streaming detector session",
		Long: `Stream connects to a websocket trade feed, reduces trades to one
up/down direction per interval, and pushes each direction into an
incremental detector. The first detected regime change is logged and
locked; the session keeps reporting the growing series around it.`,
		RunE: runStream,
	}

	cmd.Flags().String("url", "wss://ws.kraken.com", "Websocket trade feed URL")
	cmd.Flags().String("pair", "XBT/USD", "Trading pair to watch")
	cmd.Flags().Duration("interval", time.Minute, "Direction sampling interval")
	cmd.Flags().Int("stride", 0, "Override detector stride")
	cmd.Flags().Float64("smoothing", 0, "Override smoothing factor")

	return cmd
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	params := detectorParams(cmd, cfg)

	stream, err := mdl.NewStream(params)
	if err != nil {
		return err
	}

	url, _ := cmd.Flags().GetString("url")
	pair, _ := cmd.Flags().GetString("pair")
	interval, _ := cmd.Flags().GetDuration("interval")

	// The feed delivers observations serially, so the session needs no lock.
	announced := false
	handler := func(o feed.Observation) {
		stream.ObserveLabeled(o.Direction, o.Label)
		log.Debug().Int("direction", o.Direction).Str("interval_end", o.Label).
			Int("observations", stream.Len()).Msg("observation")

		if cp := stream.ChangePoint(); cp != nil && !announced {
			announced = true
			log.Info().Str("change_point", cp.String()).
				Int("observations", stream.Len()).
				Msg("regime change detected")
		}
	}

	f, err := feed.New(feed.Config{
		URL:      url,
		Pair:     pair,
		Interval: interval,
	}, handler)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("url", url).Str("pair", pair).Dur("interval", interval).
		Msg("streaming session started")

	err = f.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if cp := stream.ChangePoint(); cp != nil {
		log.Info().Str("change_point", cp.String()).
			Int("observations", stream.Len()).Msg("session summary")
	} else {
		log.Info().Int("observations", stream.Len()).Msg("session ended without a regime change")
	}
	return err
}
