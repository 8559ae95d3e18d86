// Command wearable runs heart rate acquisition against a simulated sensor and relays
// readings to the pulse backend.
//
// Usage:
//
//	wearable --owner owner-1 --url http://localhost:9080/v1/heartbeats
//	wearable --owner owner-1 --silent-after 10
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/pulse/internal/adapters/relay"
	"github.com/okian/pulse/internal/adapters/sensor"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/acquisition"
	"github.com/okian/pulse/pkg/logger"
)

const statePollInterval = 250 * time.Millisecond

type flags struct {
	owner        string
	url          string
	interval     time.Duration
	baseBPM      int
	silentAfter  int
	invalidEvery int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:          "wearable",
		Short:        "Stream simulated heart rate readings to the backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.InitWith(os.Stdout, cfg.LogFormat); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			if err := logger.SetLevelString(cfg.LogLevel); err != nil {
				_ = logger.SetLevelString("info")
			}
			if f.owner != "" {
				cfg.OwnerID = f.owner
			}
			if f.url != "" {
				cfg.RelayURL = f.url
			}
			if cfg.OwnerID == "" {
				return errors.New("owner id is required (--owner or PULSE_OWNER_ID)")
			}

			channel, err := relay.NewHTTPChannel(cfg.RelayURL, cfg.RelayTimeout)
			if err != nil {
				return err
			}
			sim := sensor.NewSimulated(
				sensor.WithInterval(f.interval),
				sensor.WithBaseBPM(f.baseBPM),
				sensor.WithSilentAfter(f.silentAfter),
				sensor.WithInvalidEvery(f.invalidEvery),
			)
			return run(ctx, cfg, sim, channel)
		},
	}
	cmd.Flags().StringVar(&f.owner, "owner", "", "owner id the readings belong to (overrides PULSE_OWNER_ID)")
	cmd.Flags().StringVar(&f.url, "url", "", "ingest endpoint (overrides PULSE_RELAY_URL)")
	cmd.Flags().DurationVar(&f.interval, "interval", time.Second, "time between simulated samples")
	cmd.Flags().IntVar(&f.baseBPM, "base-bpm", 70, "resting rate of the simulated wearer")
	cmd.Flags().IntVar(&f.silentAfter, "silent-after", 0, "stop emitting after n samples (0 never)")
	cmd.Flags().IntVar(&f.invalidEvery, "invalid-every", 0, "emit an out of range reading every n samples (0 never)")
	return cmd
}

// run monitors until ctx ends or the machine stops itself.
func run(ctx context.Context, cfg *config.Config, s acquisition.Sensor, channel relay.Channel) error {
	log := logger.Get().Named("wearable")

	r := relay.New(channel,
		relay.WithMaxRate(cfg.RelayMaxRate),
		relay.WithTimeout(cfg.RelayTimeout),
		relay.WithErrorSink(func(err error) { log.Warn(ctx, "relay delivery failed", logger.Error(err)) }),
	)
	defer r.Close()

	m := acquisition.New(cfg.OwnerID, s, r,
		acquisition.WithTimeoutWindow(cfg.SensorTimeoutWindow),
		acquisition.WithSendInterval(cfg.SendTickInterval),
		acquisition.WithTimeoutInterval(cfg.TimeoutTickInterval),
		acquisition.WithMaxConsecutiveSkips(cfg.MaxConsecutiveSkips),
	)
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	if err := m.Start(ctx); err != nil {
		return err
	}
	log.Info(ctx, "monitoring started", logger.String("owner_id", cfg.OwnerID), logger.String("relay_url", cfg.RelayURL))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Events are dropped for slow subscribers, so the state is also polled.
		poll := time.NewTicker(statePollInterval)
		defer poll.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-poll.C:
				if m.Status().State == acquisition.StateIdle {
					return nil
				}
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				switch ev.Kind {
				case acquisition.EventValue:
					log.Info(gctx, "heart rate", logger.Int("bpm", ev.BPM))
				case acquisition.EventInvalid:
					log.Debug(gctx, "invalid reading", logger.Int("bpm", ev.BPM))
				case acquisition.EventCleared:
					log.Warn(gctx, "no reading; value cleared")
				case acquisition.EventState:
					log.Info(gctx, "state changed", logger.String("state", ev.State.String()))
					if ev.State == acquisition.StateIdle {
						// Auto-stop or session end.
						return nil
					}
				}
			}
		}
	})
	err := g.Wait()

	m.Stop()
	st := m.Status()
	log.Info(context.Background(), "monitoring stopped",
		logger.String("detection", st.DetectionStatus),
		logger.Int("consecutive_skips", st.ConsecutiveSkips))
	return err
}
