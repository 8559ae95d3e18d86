package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/pulse/internal/domain/model"
)

// Schema creates the tables this service reads. Owned by the profile service in production;
// applied here for local runs and tests.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	owner_id           TEXT PRIMARY KEY,
	display_name       TEXT NOT NULL,
	ranking_score      DOUBLE PRECISION,
	ranking_updated_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS follower_subscriptions (
	follower_id          TEXT NOT NULL,
	owner_id             TEXT NOT NULL REFERENCES profiles(owner_id) ON DELETE CASCADE,
	push_token           TEXT NOT NULL DEFAULT '',
	notification_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (follower_id, owner_id)
);
CREATE INDEX IF NOT EXISTS follower_subscriptions_owner_idx ON follower_subscriptions (owner_id);
`

// PoolConfig tunes the pgx pool.
type PoolConfig struct {
	DatabaseURL string
	MinConns    int32
	MaxConns    int32
	MaxConnLife time.Duration
}

// PostgresStore implements Store over pgxpool with prepared statements.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and validates a connection pool.
func NewPostgresStore(ctx context.Context, cfg PoolConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLife > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLife
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies Schema.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply profile schema: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *PostgresStore) HealthCheck(ctx context.Context) error {
	var n int
	return p.pool.QueryRow(ctx, "SELECT 1").Scan(&n)
}

// Close releases the pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Followers implements Store.
func (p *PostgresStore) Followers(ctx context.Context, ownerID string) ([]model.FollowerSubscription, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT follower_id, owner_id, push_token, notification_enabled
		FROM follower_subscriptions
		WHERE owner_id = $1
		ORDER BY follower_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get followers: %w", err)
	}
	defer rows.Close()

	var out []model.FollowerSubscription
	for rows.Next() {
		var f model.FollowerSubscription
		if err := rows.Scan(&f.FollowerID, &f.OwnerID, &f.PushToken, &f.NotificationEnabled); err != nil {
			return nil, fmt.Errorf("scan follower: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// OwnerName implements Store.
func (p *PostgresStore) OwnerName(ctx context.Context, ownerID string) (string, error) {
	var name string
	err := p.pool.QueryRow(ctx, `SELECT display_name FROM profiles WHERE owner_id = $1`, ownerID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOwnerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get owner name: %w", err)
	}
	return name, nil
}

// RankingScores implements Store.
func (p *PostgresStore) RankingScores(ctx context.Context) ([]model.RankingEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT owner_id, ranking_score, COALESCE(ranking_updated_at, NOW())
		FROM profiles
		WHERE ranking_score IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("scan ranking scores: %w", err)
	}
	defer rows.Close()

	var out []model.RankingEntry
	for rows.Next() {
		var e model.RankingEntry
		if err := rows.Scan(&e.OwnerID, &e.Score, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ranking row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertOwner seeds a profile row.
func (p *PostgresStore) UpsertOwner(ctx context.Context, ownerID, displayName string, score *float64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO profiles (owner_id, display_name, ranking_score, ranking_updated_at)
		VALUES ($1, $2, $3, CASE WHEN $3::DOUBLE PRECISION IS NULL THEN NULL ELSE NOW() END)
		ON CONFLICT (owner_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    ranking_score = EXCLUDED.ranking_score,
		    ranking_updated_at = EXCLUDED.ranking_updated_at`,
		ownerID, displayName, score)
	if err != nil {
		return fmt.Errorf("upsert owner %s: %w", ownerID, err)
	}
	return nil
}

// UpsertFollower seeds a subscription row.
func (p *PostgresStore) UpsertFollower(ctx context.Context, sub model.FollowerSubscription) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO follower_subscriptions (follower_id, owner_id, push_token, notification_enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (follower_id, owner_id) DO UPDATE
		SET push_token = EXCLUDED.push_token,
		    notification_enabled = EXCLUDED.notification_enabled`,
		sub.FollowerID, sub.OwnerID, sub.PushToken, sub.NotificationEnabled)
	if err != nil {
		return fmt.Errorf("upsert follower %s->%s: %w", sub.FollowerID, sub.OwnerID, err)
	}
	return nil
}
