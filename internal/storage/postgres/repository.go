// Package postgres provides the Postgres-backed appraiser.Repository.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
)

// Schema is the DDL for every table the repository touches.
//
//go:embed schema.sql
var Schema string

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

type queryRower interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Repository implements appraiser.Repository on Postgres.
type Repository struct {
	pool pool
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: p}, nil
}

// NewWithPool constructs a repository from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Repository, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Repository{pool: p}, nil
}

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// GetSubscription returns the user's subscription if present.
func (r *Repository) GetSubscription(ctx context.Context, userID int64) (appraiser.Subscription, bool, error) {
	var expires time.Time
	err := r.pool.QueryRow(ctx, `SELECT expires_at FROM subscriptions WHERE user_id = $1`, userID).Scan(&expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return appraiser.Subscription{}, false, nil
	}
	if err != nil {
		return appraiser.Subscription{}, false, fmt.Errorf("get subscription: %w", err)
	}
	return appraiser.Subscription{UserID: userID, ExpiresAt: expires}, true, nil
}

// ExtendSubscription sets expiry to max(current, now) + days.
func (r *Repository) ExtendSubscription(ctx context.Context, userID int64, days int, now time.Time) (time.Time, error) {
	return extend(ctx, r.pool, userID, days, now)
}

const extendQuery = `
INSERT INTO subscriptions (user_id, expires_at)
VALUES ($1, $2::timestamptz + make_interval(days => $3))
ON CONFLICT (user_id) DO UPDATE
SET expires_at = GREATEST(subscriptions.expires_at, $2::timestamptz) + make_interval(days => $3)
RETURNING expires_at`

func extend(ctx context.Context, q queryRower, userID int64, days int, now time.Time) (time.Time, error) {
	var expires time.Time
	if err := q.QueryRow(ctx, extendQuery, userID, now, days).Scan(&expires); err != nil {
		return time.Time{}, fmt.Errorf("extend subscription: %w", err)
	}
	return expires, nil
}

const consumeQuery = `
INSERT INTO daily_usage (user_id, day, uses) VALUES ($1, $2, 1)
ON CONFLICT (user_id, day) DO UPDATE SET uses = daily_usage.uses + 1
WHERE daily_usage.uses < $3
RETURNING uses`

// ConsumeDailyQuota increments the counter while it is below ceiling.
func (r *Repository) ConsumeDailyQuota(ctx context.Context, userID int64, day time.Time, ceiling int) (int, bool, error) {
	if ceiling <= 0 {
		used, err := r.GetDailyUsage(ctx, userID, day)
		return used, false, err
	}
	var used int
	err := r.pool.QueryRow(ctx, consumeQuery, userID, day, ceiling).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		used, err = r.GetDailyUsage(ctx, userID, day)
		return used, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("consume daily quota: %w", err)
	}
	return used, true, nil
}

// GetDailyUsage returns the counter for (user, day).
func (r *Repository) GetDailyUsage(ctx context.Context, userID int64, day time.Time) (int, error) {
	var used int
	err := r.pool.QueryRow(ctx,
		`SELECT uses FROM daily_usage WHERE user_id = $1 AND day = $2`, userID, day).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get daily usage: %w", err)
	}
	return used, nil
}

// CreateGiftCode stores a new unused code.
func (r *Repository) CreateGiftCode(ctx context.Context, code appraiser.GiftCode) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO gift_codes (code, days, created_at) VALUES ($1, $2, $3)`,
		code.Code, code.Days, code.CreatedAt)
	if err != nil {
		return fmt.Errorf("create gift code: %w", err)
	}
	return nil
}

const redeemQuery = `
UPDATE gift_codes SET used = TRUE, used_by = $1, used_at = $2
WHERE code = $3 AND used = FALSE
RETURNING days, created_at`

// RedeemGiftCode marks the code used and extends the subscription in one
// transaction.
func (r *Repository) RedeemGiftCode(
	ctx context.Context,
	code string,
	userID int64,
	now time.Time,
) (gift appraiser.GiftCode, expires time.Time, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return gift, expires, fmt.Errorf("begin redeem: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	gift = appraiser.GiftCode{Code: code, Used: true}
	err = tx.QueryRow(ctx, redeemQuery, userID, now, code).Scan(&gift.Days, &gift.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var used bool
		lookupErr := tx.QueryRow(ctx, `SELECT used FROM gift_codes WHERE code = $1`, code).Scan(&used)
		switch {
		case errors.Is(lookupErr, pgx.ErrNoRows):
			err = appraiser.ErrGiftCodeInvalid
		case lookupErr != nil:
			err = fmt.Errorf("lookup gift code: %w", lookupErr)
		default:
			err = appraiser.ErrGiftCodeAlreadyUsed
		}
		return appraiser.GiftCode{}, time.Time{}, err
	}
	if err != nil {
		return appraiser.GiftCode{}, time.Time{}, fmt.Errorf("redeem gift code: %w", err)
	}

	expires, err = extend(ctx, tx, userID, gift.Days, now)
	if err != nil {
		return appraiser.GiftCode{}, time.Time{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return appraiser.GiftCode{}, time.Time{}, fmt.Errorf("commit redeem: %w", err)
	}
	usedBy, usedAt := userID, now
	gift.UsedBy = &usedBy
	gift.UsedAt = &usedAt
	return gift, expires, nil
}

const upsertChannelQuery = `
INSERT INTO channels (
	handle, title, description, member_count, average_views, engagement_rate,
	niche, fair_price_local, fair_price_usd, posts_per_day, posts_sampled, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (handle) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	member_count = EXCLUDED.member_count,
	average_views = EXCLUDED.average_views,
	engagement_rate = EXCLUDED.engagement_rate,
	niche = EXCLUDED.niche,
	fair_price_local = EXCLUDED.fair_price_local,
	fair_price_usd = EXCLUDED.fair_price_usd,
	posts_per_day = EXCLUDED.posts_per_day,
	posts_sampled = EXCLUDED.posts_sampled,
	updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`

// channelsLock serializes channel inserts so the total returned by
// UpsertChannel is exact and each milestone is seen by exactly one writer.
const channelsLock int64 = 0x63_68_61_6e // "chan"

// UpsertChannel overwrites the snapshot under its cache key and returns the
// total counted under the same transaction-scoped lock.
func (r *Repository) UpsertChannel(ctx context.Context, s appraiser.ChannelSnapshot) (inserted bool, total int, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("begin upsert channel: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, channelsLock); err != nil {
		return false, 0, fmt.Errorf("lock channels: %w", err)
	}
	err = tx.QueryRow(ctx, upsertChannelQuery,
		appraiser.CacheKey(s.Handle),
		s.Title,
		s.Description,
		s.MemberCount,
		s.AverageViews,
		s.EngagementRate,
		s.Niche,
		s.FairPriceLocal,
		s.FairPriceUSD,
		s.PostsPerDay,
		s.PostsSampled,
		s.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, 0, fmt.Errorf("upsert channel: %w", err)
	}
	if err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM channels`).Scan(&total); err != nil {
		return false, 0, fmt.Errorf("count channels: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, 0, fmt.Errorf("commit upsert channel: %w", err)
	}
	return inserted, total, nil
}

// GetChannel returns the snapshot stored under key.
func (r *Repository) GetChannel(ctx context.Context, key string) (appraiser.ChannelSnapshot, error) {
	var s appraiser.ChannelSnapshot
	err := r.pool.QueryRow(ctx, `
SELECT handle, title, description, member_count, average_views, engagement_rate,
	niche, fair_price_local, fair_price_usd, posts_per_day, posts_sampled, updated_at
FROM channels WHERE handle = $1`, appraiser.CacheKey(key)).Scan(
		&s.Handle,
		&s.Title,
		&s.Description,
		&s.MemberCount,
		&s.AverageViews,
		&s.EngagementRate,
		&s.Niche,
		&s.FairPriceLocal,
		&s.FairPriceUSD,
		&s.PostsPerDay,
		&s.PostsSampled,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return appraiser.ChannelSnapshot{}, appraiser.ErrSnapshotNotFound
	}
	if err != nil {
		return appraiser.ChannelSnapshot{}, fmt.Errorf("get channel: %w", err)
	}
	return s, nil
}

const statsQuery = `
SELECT
	(SELECT COUNT(*) FROM channels),
	(SELECT COUNT(*) FROM subscriptions WHERE expires_at > $1),
	(SELECT COALESCE(SUM(uses), 0) FROM daily_usage WHERE day = $2),
	(SELECT COUNT(*) FROM gift_codes WHERE used = FALSE)`

// Stats aggregates the admin overview.
func (r *Repository) Stats(ctx context.Context, day, now time.Time) (appraiser.Stats, error) {
	var s appraiser.Stats
	err := r.pool.QueryRow(ctx, statsQuery, now, day).Scan(
		&s.CachedChannels,
		&s.ActiveSubscriptions,
		&s.AnalysesToday,
		&s.GiftCodesUnused,
	)
	if err != nil {
		return appraiser.Stats{}, fmt.Errorf("load stats: %w", err)
	}
	return s, nil
}

// Ping checks the pool.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() error {
	if r == nil || r.pool == nil {
		return nil
	}
	r.pool.Close()
	return nil
}

var _ appraiser.Repository = (*Repository)(nil)
