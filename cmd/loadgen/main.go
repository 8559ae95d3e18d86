// Command loadgen drives a running pulse backend with concurrent heart rate readings.
//
// Usage:
//
//	loadgen --url http://localhost:9080 --owners 1000 --readings 20 --workers 32
//
// The backend rate limits ingest per client IP; raise PULSE_INGEST_RATE_LIMIT on the
// target before large runs.
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/pulse/internal/loadgen"
	"github.com/okian/pulse/pkg/logger"
)

const (
	defaultOwners   = 1000
	defaultReadings = 10
	defaultWorkers  = 2 // multiplier for runtime.NumCPU()
	defaultTimeout  = 30 * time.Second
	runTimeout      = 10 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &loadgen.Config{}
	var verbose bool
	cmd := &cobra.Command{
		Use:          "loadgen",
		Short:        "Concurrent heart rate ingest load and consistency check",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(); err != nil {
				return err
			}
			if verbose {
				_ = logger.SetLevelString("debug")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()
			_, err := loadgen.Run(ctx, cfg)
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the backend")
	cmd.Flags().IntVar(&cfg.Owners, "owners", defaultOwners, "number of simulated owners")
	cmd.Flags().IntVar(&cfg.ReadingsPerOwner, "readings", defaultReadings, "readings posted per owner")
	cmd.Flags().IntVar(&cfg.DuplicateEvery, "duplicate-every", 10, "re-post every nth envelope to exercise dedupe (0 never)")
	cmd.Flags().IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "owners posting concurrently")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	cmd.Flags().IntVar(&cfg.TopN, "top", 50, "leaderboard entries to fetch at the end")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
