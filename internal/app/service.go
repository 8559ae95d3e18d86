// Package service assembles the backend from configuration: live store, change queue,
// dispatch workers, ranking cache, reaper, scheduler and the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/pulse/internal/adapters/heartbeat"
	"github.com/okian/pulse/internal/adapters/http/api"
	eventqueue "github.com/okian/pulse/internal/adapters/mq/queue"
	workerpool "github.com/okian/pulse/internal/adapters/mq/worker"
	"github.com/okian/pulse/internal/adapters/profile"
	"github.com/okian/pulse/internal/adapters/push"
	"github.com/okian/pulse/internal/adapters/rankcache"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/dispatch"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/ranking"
	"github.com/okian/pulse/internal/domain/reaper"
	"github.com/okian/pulse/internal/scheduler"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
	pkgredis "github.com/okian/pulse/pkg/redis"
)

// Scheduled job names.
const (
	JobReaper      = "reaper"
	JobRankingSync = "ranking-sync"
)

// ErrNotStarted is returned by operations that need Start first.
var ErrNotStarted = errors.New("service not started")

// Service owns every backend component.
type Service struct {
	cfg        *config.Config
	log        logger.Logger
	background bool

	// Injected or built in Start.
	redisClient redis.UniversalClient
	profiles    profile.Store
	sender      push.Sender

	ownedRedis *redis.Client
	pg         *profile.PostgresStore

	mu         sync.RWMutex
	started    bool
	live       heartbeat.Store
	queue      *eventqueue.InMemoryQueue
	pool       *workerpool.Pool
	deduper    dedupe.Deduper
	dispatcher *dispatch.Dispatcher
	rankSet    rankcache.SortedSet
	rankings   *ranking.Service
	reaper     *reaper.Reaper
	sched      *scheduler.Scheduler
	health     []api.HealthCheck
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRedisClient supplies the Redis client instead of dialing redis_addr.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(s *Service) { s.redisClient = c }
}

// WithProfileStore supplies the profile store instead of building one from config.
func WithProfileStore(p profile.Store) Option {
	return func(s *Service) { s.profiles = p }
}

// WithPushSender supplies the push transport instead of building one from config.
func WithPushSender(p push.Sender) Option {
	return func(s *Service) { s.sender = p }
}

// WithBackgroundJobs controls whether Start runs dispatch workers and the scheduler.
// One-shot commands turn it off.
func WithBackgroundJobs(enabled bool) Option {
	return func(s *Service) { s.background = enabled }
}

// New constructs a Service. Nothing is dialed until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg, background: true}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("service")
	}
	return s
}

// Start builds the components and, unless disabled, starts the workers and scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	cfg := s.cfg

	if err := s.connect(ctx); err != nil {
		s.closeConnections()
		return err
	}

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.EventQueueSize))
	storeOpts := []heartbeat.Option{
		heartbeat.WithPublisher(s.queue),
		heartbeat.WithKeyPrefix(cfg.RedisKeyPrefix),
	}
	if cfg.LiveStore == config.BackendRedis {
		s.live = heartbeat.NewRedisStore(s.redisClient, storeOpts...)
	} else {
		s.live = heartbeat.NewMemoryStore(storeOpts...)
	}

	if cfg.RankCache == config.BackendRedis {
		s.rankSet = rankcache.NewRedisSet(s.redisClient, cfg.RedisKeyPrefix)
	} else {
		s.rankSet = rankcache.NewTreapSet()
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize), dedupe.WithTTL(cfg.DedupeTTL))
	s.dispatcher = dispatch.New(s.live, s.profiles, s.sender,
		dispatch.WithCooldown(cfg.CooldownWindow),
		dispatch.WithBatchSize(cfg.PushBatchSize),
		dispatch.WithConcurrency(cfg.PushConcurrency),
	)
	s.rankings = ranking.New(s.profiles, s.rankSet,
		ranking.WithTTL(cfg.RankingReadCacheTTL),
		ranking.WithPrewarmLimit(cfg.RankingPrewarmLimit),
	)
	s.reaper = reaper.New(s.live, reaper.WithRetention(cfg.RetentionWindow))

	s.pool = workerpool.NewPool(cfg.WorkerCount, s.queue, workerpool.HandlerFunc(func(ctx context.Context, e model.ChangeEvent) {
		s.dispatcher.Handle(ctx, e)
	}))

	if s.background {
		s.sched = scheduler.New(time.UTC)
		if err := s.sched.Add(JobReaper, cfg.ReaperSchedule, func(ctx context.Context) error {
			_, err := s.reaper.Sweep(ctx)
			return err
		}); err != nil {
			s.closeConnections()
			return err
		}
		if err := s.sched.Add(JobRankingSync, cfg.RankingSyncSchedule, func(ctx context.Context) error {
			_, err := s.rankings.BulkSync(ctx)
			return err
		}); err != nil {
			s.closeConnections()
			return err
		}
		s.pool.Start(ctx)
		s.sched.Start(ctx)

		// Warm the ranking cache so reads do not wait for the first scheduled sync.
		if _, err := s.rankings.BulkSync(ctx); err != nil {
			s.log.Warn(ctx, "initial ranking sync failed", logger.Error(err))
		}
	}

	s.started = true
	s.log.Info(ctx, "pulse service started",
		logger.String("live_store", cfg.LiveStore),
		logger.String("rank_cache", cfg.RankCache),
		logger.String("profile_store", cfg.ProfileStore),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", cfg.EventQueueSize),
		logger.Bool("background", s.background),
	)
	return nil
}

// connect dials external dependencies that were not injected.
func (s *Service) connect(ctx context.Context) error {
	cfg := s.cfg
	needRedis := cfg.LiveStore == config.BackendRedis || cfg.RankCache == config.BackendRedis
	if needRedis && s.redisClient == nil {
		c, err := pkgredis.NewClient(ctx, pkgredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		s.redisClient, s.ownedRedis = c, c
	}
	if s.redisClient != nil {
		client := s.redisClient
		s.health = append(s.health, api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			if !pkgredis.IsHealthy(ctx, client) {
				return errors.New("redis ping failed")
			}
			return nil
		}})
	}

	if s.profiles == nil {
		if cfg.ProfileStore == config.BackendPostgres {
			pg, err := profile.NewPostgresStore(ctx, profile.PoolConfig{DatabaseURL: cfg.DatabaseURL})
			if err != nil {
				return fmt.Errorf("profile store: %w", err)
			}
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return fmt.Errorf("profile store: %w", err)
			}
			s.pg, s.profiles = pg, pg
		} else {
			s.log.Warn(ctx, "using an empty in-memory profile store")
			s.profiles = profile.NewMemoryStore()
		}
	}
	if s.pg != nil {
		s.health = append(s.health, api.HealthCheck{Name: "postgres", Check: s.pg.HealthCheck})
	}

	if s.sender == nil {
		if cfg.PushTransport == config.PushFCM {
			fcm, err := push.NewFCMSender(ctx, cfg.FCMCredentials)
			if err != nil {
				return fmt.Errorf("push transport: %w", err)
			}
			s.sender = fcm
		} else {
			s.sender = push.NewLogSender()
		}
	}
	return nil
}

func (s *Service) closeConnections() {
	if s.ownedRedis != nil {
		_ = s.ownedRedis.Close()
		s.ownedRedis, s.redisClient = nil, nil
	}
	if s.pg != nil {
		s.pg.Close()
		s.pg, s.profiles = nil, nil
	}
	s.health = nil
}

// Stop stops the scheduler, drains the dispatch queue and closes connections.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.log.Info(ctx, "stopping pulse service...")

	var errs []error
	if s.sched != nil {
		if err := s.sched.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if s.background {
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	} else {
		_ = s.queue.Close()
	}
	s.closeConnections()

	s.started = false
	s.log.Info(ctx, "pulse service stopped")
	return errors.Join(errs...)
}

// Handler returns the HTTP API. Start must have been called.
func (s *Service) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return api.NewServer(api.Dependencies{
		Deduper:     s.deduper,
		Heartbeats:  s.live,
		Leaderboard: s.rankings,
		Rankings:    s.rankings,
		Reaper:      s.reaper,
		Stats:       s,
		Health:      append([]api.HealthCheck(nil), s.health...),
	},
		api.WithCORSOrigins(s.cfg.CORSAllowedOrigins),
		api.WithIngestRateLimit(s.cfg.IngestRateLimit, s.cfg.IngestRateBurst),
		api.WithMaxLeaderboardLimit(s.cfg.MaxLeaderboardLimit),
	).Router()
}

// SyncRankings runs a manual ranking sync.
func (s *Service) SyncRankings(ctx context.Context) (ranking.SyncResult, error) {
	s.mu.RLock()
	svc := s.rankings
	s.mu.RUnlock()
	if svc == nil {
		return ranking.SyncResult{}, ErrNotStarted
	}
	return svc.ManualSync(ctx)
}

// Reap runs one reaper sweep.
func (s *Service) Reap(ctx context.Context) (reaper.Result, error) {
	s.mu.RLock()
	r := s.reaper
	s.mu.RUnlock()
	if r == nil {
		return reaper.Result{}, ErrNotStarted
	}
	return r.Sweep(ctx)
}

// LiveStore exposes the live heartbeat store.
func (s *Service) LiveStore() heartbeat.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      s.started,
		"liveStore":    s.cfg.LiveStore,
		"rankCache":    s.cfg.RankCache,
		"profileStore": s.cfg.ProfileStore,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	queueLen := s.queue.Len(ctx)
	stats["workerCount"] = s.pool.Size()
	stats["queueLength"] = queueLen
	stats["queueCapacity"] = s.cfg.EventQueueSize
	stats["dedupeSize"] = s.deduper.Size()
	if n, err := s.rankSet.Count(ctx); err == nil {
		stats["rankedOwners"] = n
	}
	if at := s.rankings.LastSyncAt(); !at.IsZero() {
		stats["lastRankingSync"] = at
	}
	if s.sched != nil {
		stats["nextReap"] = s.sched.Next(JobReaper)
		stats["nextRankingSync"] = s.sched.Next(JobRankingSync)
	}
	metrics.UpdateQueueSize(queueLen)
	return stats
}
