// Package loadgen drives a running backend with concurrent heart rate envelopes and
// checks that every owner's live view ends on the last reading it posted.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
)

// ErrMismatch is returned when a live view does not hold the last posted reading.
var ErrMismatch = errors.New("live view mismatch")

// Run executes the load run.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("loadgen")
	c := &client{http: &http.Client{Timeout: cfg.Timeout}, base: cfg.BaseURL}

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("owners", cfg.Owners),
		logger.Int("readingsPerOwner", cfg.ReadingsPerOwner),
		logger.Int("workers", cfg.Workers))

	if err := c.health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	plan := generate(cfg)
	if err := submit(ctx, c, cfg, plan, stats); err != nil {
		return stats, fmt.Errorf("submission failed: %w", err)
	}
	if err := verify(ctx, c, cfg, plan, stats); err != nil {
		return stats, err
	}
	if cfg.TopN > 0 {
		n, err := c.leaderboard(ctx, cfg.TopN)
		if err != nil {
			log.Warn(ctx, "leaderboard fetch failed", logger.Error(err))
		}
		stats.LeaderboardEntries = n
	}

	stats.Duration = time.Since(stats.StartTime)
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int64("submitted", stats.Submitted),
		logger.Int64("accepted", stats.Accepted),
		logger.Int64("duplicate", stats.Duplicate),
		logger.Int64("rejected", stats.Rejected),
		logger.Int64("failed", stats.Failed),
		logger.Int("verified", stats.Verified),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("envelopesPerSecond", perSecond))
	return stats, nil
}

// ownerPlan is the ordered readings one owner will post.
type ownerPlan struct {
	ownerID  string
	readings []int
}

func generate(cfg *Config) []ownerPlan {
	plan := make([]ownerPlan, cfg.Owners)
	for i := range plan {
		p := ownerPlan{ownerID: "load-" + strconv.Itoa(i), readings: make([]int, cfg.ReadingsPerOwner)}
		bpm := 60 + rand.IntN(40)
		for j := range p.readings {
			bpm += rand.IntN(11) - 5
			bpm = min(max(bpm, model.MinBPM+1), model.MaxBPM)
			p.readings[j] = bpm
		}
		plan[i] = p
	}
	return plan
}

// submit posts each owner's readings in order; owners run concurrently.
func submit(ctx context.Context, c *client, cfg *Config, plan []ownerPlan, stats *Stats) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))

	var seq atomic.Int64
	for _, p := range plan {
		g.Go(func() error {
			for _, bpm := range p.readings {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				env := model.NewValueEnvelope(model.HeartbeatSample{OwnerID: p.ownerID, BPM: bpm, CapturedAt: time.Now()})
				c.post(gctx, env, stats)
				if cfg.DuplicateEvery > 0 && seq.Add(1)%int64(cfg.DuplicateEvery) == 0 {
					c.post(gctx, env, stats)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func verify(ctx context.Context, c *client, cfg *Config, plan []ownerPlan, stats *Stats) error {
	log := logger.Get().Named("loadgen")
	for _, p := range plan {
		if len(p.readings) == 0 {
			continue
		}
		want := p.readings[len(p.readings)-1]
		got, err := c.live(ctx, p.ownerID)
		if err != nil {
			return fmt.Errorf("read %s: %w", p.ownerID, err)
		}
		if got != want {
			stats.Mismatched++
			log.Warn(ctx, "live view mismatch", logger.String("owner_id", p.ownerID), logger.Int("want", want), logger.Int("got", got))
			continue
		}
		stats.Verified++
	}
	if stats.Mismatched > 0 {
		return fmt.Errorf("%w: %d of %d owners", ErrMismatch, stats.Mismatched, cfg.Owners)
	}
	return nil
}

type client struct {
	http *http.Client
	base string
}

func (c *client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

func (c *client) health(ctx context.Context) error {
	code, _, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("status %d", code)
	}
	return nil
}

func (c *client) post(ctx context.Context, env model.Envelope, stats *Stats) {
	body, err := json.Marshal(env)
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		return
	}
	atomic.AddInt64(&stats.Submitted, 1)
	code, b, err := c.do(ctx, http.MethodPost, "/v1/heartbeats", body)
	switch {
	case err != nil:
		atomic.AddInt64(&stats.Failed, 1)
	case code == http.StatusAccepted:
		atomic.AddInt64(&stats.Accepted, 1)
	case code == http.StatusOK:
		var ack ackResponse
		if json.Unmarshal(b, &ack) == nil && ack.Duplicate {
			atomic.AddInt64(&stats.Duplicate, 1)
			return
		}
		atomic.AddInt64(&stats.Failed, 1)
	case code >= 400 && code < 500:
		atomic.AddInt64(&stats.Rejected, 1)
	default:
		atomic.AddInt64(&stats.Failed, 1)
	}
}

func (c *client) live(ctx context.Context, ownerID string) (int, error) {
	code, b, err := c.do(ctx, http.MethodGet, "/v1/heartbeats/"+ownerID, nil)
	if err != nil {
		return 0, err
	}
	if code != http.StatusOK {
		return 0, fmt.Errorf("status %d", code)
	}
	var v liveView
	if err := json.Unmarshal(b, &v); err != nil {
		return 0, err
	}
	return v.BPM, nil
}

func (c *client) leaderboard(ctx context.Context, n int) (int, error) {
	code, b, err := c.do(ctx, http.MethodGet, "/v1/leaderboard?limit="+strconv.Itoa(n), nil)
	if err != nil {
		return 0, err
	}
	if code != http.StatusOK {
		return 0, fmt.Errorf("status %d", code)
	}
	var board struct {
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(b, &board); err != nil {
		return 0, err
	}
	return len(board.Entries), nil
}
