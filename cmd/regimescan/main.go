package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/regimescan/internal/config"
)

const version = "v0.3.0"

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "regimescan",
		Short:   "Online MDL change-point detection for binary time series",
		Version: version,
		Long: `regimescan watches a two-phase Bernoulli process and reports the point
where the generating probability changed, using a minimum description
length criterion over every candidate split.

Sources: Alpha Vantage daily closes, a seeded synthetic generator, or a
live trade feed reduced to per-interval up/down directions.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStreamCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
}

// loadConfig reads the file named by --config, or returns the defaults.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
