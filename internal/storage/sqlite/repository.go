// Package sqlite provides a single-file appraiser.Repository on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
)

//go:embed schema.sql
var schema string

const secondsPerDay = 24 * 60 * 60

// Repository implements appraiser.Repository on a SQLite file.
type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type channelRow struct {
	Handle         string  `db:"handle"`
	Title          string  `db:"title"`
	Description    string  `db:"description"`
	MemberCount    int64   `db:"member_count"`
	AverageViews   float64 `db:"average_views"`
	EngagementRate float64 `db:"engagement_rate"`
	Niche          string  `db:"niche"`
	FairPriceLocal int64   `db:"fair_price_local"`
	FairPriceUSD   float64 `db:"fair_price_usd"`
	PostsPerDay    float64 `db:"posts_per_day"`
	PostsSampled   int     `db:"posts_sampled"`
	UpdatedAt      int64   `db:"updated_at"`
}

type giftRow struct {
	Code      string        `db:"code"`
	Days      int           `db:"days"`
	Used      bool          `db:"used"`
	UsedBy    sql.NullInt64 `db:"used_by"`
	CreatedAt int64         `db:"created_at"`
	UsedAt    sql.NullInt64 `db:"used_at"`
}

type statsRow struct {
	CachedChannels      int `db:"cached_channels"`
	ActiveSubscriptions int `db:"active_subscriptions"`
	AnalysesToday       int `db:"analyses_today"`
	GiftCodesUnused     int `db:"gift_codes_unused"`
}

// Open connects to the database file at path in WAL mode.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Repository, error) {
	if path == "" {
		return nil, errors.New("db.dsn is required for sqlite")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	// One writer at a time keeps transactions from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &Repository{db: db, logger: logger}, nil
}

// Migrate creates the schema. It is safe to run repeatedly.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	r.logger.Info("sqlite schema ready")
	return nil
}

// GetSubscription returns the user's subscription if present.
func (r *Repository) GetSubscription(ctx context.Context, userID int64) (appraiser.Subscription, bool, error) {
	var expires int64
	err := r.db.GetContext(ctx, &expires, `SELECT expires_at FROM subscriptions WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return appraiser.Subscription{}, false, nil
	}
	if err != nil {
		return appraiser.Subscription{}, false, fmt.Errorf("get subscription: %w", err)
	}
	return appraiser.Subscription{UserID: userID, ExpiresAt: fromUnix(expires)}, true, nil
}

// ExtendSubscription sets expiry to max(current, now) + days.
func (r *Repository) ExtendSubscription(ctx context.Context, userID int64, days int, now time.Time) (time.Time, error) {
	exp, err := extend(ctx, r.db, userID, days, now)
	if err != nil {
		return time.Time{}, err
	}
	return exp, nil
}

func extend(ctx context.Context, q sqlx.QueryerContext, userID int64, days int, now time.Time) (time.Time, error) {
	const query = `
INSERT INTO subscriptions (user_id, expires_at) VALUES (?1, ?2 + ?3)
ON CONFLICT (user_id) DO UPDATE SET expires_at = MAX(subscriptions.expires_at, ?2) + ?3
RETURNING expires_at`
	var expires int64
	if err := sqlx.GetContext(ctx, q, &expires, query, userID, now.Unix(), int64(days)*secondsPerDay); err != nil {
		return time.Time{}, fmt.Errorf("extend subscription: %w", err)
	}
	return fromUnix(expires), nil
}

// ConsumeDailyQuota increments the counter while it is below ceiling.
func (r *Repository) ConsumeDailyQuota(ctx context.Context, userID int64, day time.Time, ceiling int) (int, bool, error) {
	if ceiling <= 0 {
		used, err := r.GetDailyUsage(ctx, userID, day)
		return used, false, err
	}
	const query = `
INSERT INTO daily_usage (user_id, day, uses) VALUES (?1, ?2, 1)
ON CONFLICT (user_id, day) DO UPDATE SET uses = daily_usage.uses + 1
WHERE daily_usage.uses < ?3
RETURNING uses`
	var used int
	err := r.db.GetContext(ctx, &used, query, userID, day.Format(time.DateOnly), ceiling)
	if errors.Is(err, sql.ErrNoRows) {
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
	err := r.db.GetContext(ctx, &used,
		`SELECT uses FROM daily_usage WHERE user_id = ? AND day = ?`, userID, day.Format(time.DateOnly))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get daily usage: %w", err)
	}
	return used, nil
}

// CreateGiftCode stores a new unused code.
func (r *Repository) CreateGiftCode(ctx context.Context, code appraiser.GiftCode) error {
	row := giftRow{Code: code.Code, Days: code.Days, CreatedAt: code.CreatedAt.Unix()}
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO gift_codes (code, days, used, created_at) VALUES (:code, :days, 0, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("create gift code: %w", err)
	}
	return nil
}

// RedeemGiftCode marks the code used and extends the subscription in one
// transaction.
func (r *Repository) RedeemGiftCode(
	ctx context.Context,
	code string,
	userID int64,
	now time.Time,
) (appraiser.GiftCode, time.Time, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return appraiser.GiftCode{}, time.Time{}, fmt.Errorf("begin redeem: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row giftRow
	err = tx.GetContext(ctx, &row, `
UPDATE gift_codes SET used = 1, used_by = ?, used_at = ?
WHERE code = ? AND used = 0
RETURNING code, days, used, used_by, created_at, used_at`, userID, now.Unix(), code)
	if errors.Is(err, sql.ErrNoRows) {
		var used bool
		lookupErr := tx.GetContext(ctx, &used, `SELECT used FROM gift_codes WHERE code = ?`, code)
		switch {
		case errors.Is(lookupErr, sql.ErrNoRows):
			return appraiser.GiftCode{}, time.Time{}, appraiser.ErrGiftCodeInvalid
		case lookupErr != nil:
			return appraiser.GiftCode{}, time.Time{}, fmt.Errorf("lookup gift code: %w", lookupErr)
		default:
			return appraiser.GiftCode{}, time.Time{}, appraiser.ErrGiftCodeAlreadyUsed
		}
	}
	if err != nil {
		return appraiser.GiftCode{}, time.Time{}, fmt.Errorf("redeem gift code: %w", err)
	}

	exp, err := extend(ctx, tx, userID, row.Days, now)
	if err != nil {
		return appraiser.GiftCode{}, time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return appraiser.GiftCode{}, time.Time{}, fmt.Errorf("commit redeem: %w", err)
	}
	return row.toGift(), exp, nil
}

// UpsertChannel overwrites the snapshot under its cache key.
func (r *Repository) UpsertChannel(ctx context.Context, snapshot appraiser.ChannelSnapshot) (bool, int, error) {
	row := toChannelRow(snapshot)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin upsert channel: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existed bool
	if err := tx.GetContext(ctx, &existed,
		`SELECT EXISTS(SELECT 1 FROM channels WHERE handle = ?)`, row.Handle); err != nil {
		return false, 0, fmt.Errorf("probe channel: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
INSERT INTO channels (
	handle, title, description, member_count, average_views, engagement_rate,
	niche, fair_price_local, fair_price_usd, posts_per_day, posts_sampled, updated_at
) VALUES (
	:handle, :title, :description, :member_count, :average_views, :engagement_rate,
	:niche, :fair_price_local, :fair_price_usd, :posts_per_day, :posts_sampled, :updated_at
)
ON CONFLICT (handle) DO UPDATE SET
	title = excluded.title,
	description = excluded.description,
	member_count = excluded.member_count,
	average_views = excluded.average_views,
	engagement_rate = excluded.engagement_rate,
	niche = excluded.niche,
	fair_price_local = excluded.fair_price_local,
	fair_price_usd = excluded.fair_price_usd,
	posts_per_day = excluded.posts_per_day,
	posts_sampled = excluded.posts_sampled,
	updated_at = excluded.updated_at`, row)
	if err != nil {
		return false, 0, fmt.Errorf("upsert channel: %w", err)
	}

	var total int
	if err := tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM channels`); err != nil {
		return false, 0, fmt.Errorf("count channels: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit upsert channel: %w", err)
	}
	return !existed, total, nil
}

// GetChannel returns the snapshot stored under key.
func (r *Repository) GetChannel(ctx context.Context, key string) (appraiser.ChannelSnapshot, error) {
	var row channelRow
	err := r.db.GetContext(ctx, &row, `
SELECT handle, title, description, member_count, average_views, engagement_rate,
	niche, fair_price_local, fair_price_usd, posts_per_day, posts_sampled, updated_at
FROM channels WHERE handle = ?`, appraiser.CacheKey(key))
	if errors.Is(err, sql.ErrNoRows) {
		return appraiser.ChannelSnapshot{}, appraiser.ErrSnapshotNotFound
	}
	if err != nil {
		return appraiser.ChannelSnapshot{}, fmt.Errorf("get channel: %w", err)
	}
	return row.toSnapshot(), nil
}

// Stats aggregates the admin overview.
func (r *Repository) Stats(ctx context.Context, day, now time.Time) (appraiser.Stats, error) {
	var row statsRow
	err := r.db.GetContext(ctx, &row, `
SELECT
	(SELECT COUNT(*) FROM channels) AS cached_channels,
	(SELECT COUNT(*) FROM subscriptions WHERE expires_at > ?) AS active_subscriptions,
	(SELECT COALESCE(SUM(uses), 0) FROM daily_usage WHERE day = ?) AS analyses_today,
	(SELECT COUNT(*) FROM gift_codes WHERE used = 0) AS gift_codes_unused`,
		now.Unix(), day.Format(time.DateOnly))
	if err != nil {
		return appraiser.Stats{}, fmt.Errorf("load stats: %w", err)
	}
	return appraiser.Stats(row), nil
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func toChannelRow(s appraiser.ChannelSnapshot) channelRow {
	return channelRow{
		Handle:         appraiser.CacheKey(s.Handle),
		Title:          s.Title,
		Description:    s.Description,
		MemberCount:    s.MemberCount,
		AverageViews:   s.AverageViews,
		EngagementRate: s.EngagementRate,
		Niche:          s.Niche,
		FairPriceLocal: s.FairPriceLocal,
		FairPriceUSD:   s.FairPriceUSD,
		PostsPerDay:    s.PostsPerDay,
		PostsSampled:   s.PostsSampled,
		UpdatedAt:      s.UpdatedAt.Unix(),
	}
}

func (c channelRow) toSnapshot() appraiser.ChannelSnapshot {
	return appraiser.ChannelSnapshot{
		Handle:         c.Handle,
		Title:          c.Title,
		Description:    c.Description,
		MemberCount:    c.MemberCount,
		AverageViews:   c.AverageViews,
		EngagementRate: c.EngagementRate,
		Niche:          c.Niche,
		FairPriceLocal: c.FairPriceLocal,
		FairPriceUSD:   c.FairPriceUSD,
		PostsPerDay:    c.PostsPerDay,
		PostsSampled:   c.PostsSampled,
		UpdatedAt:      fromUnix(c.UpdatedAt),
	}
}

func (g giftRow) toGift() appraiser.GiftCode {
	gift := appraiser.GiftCode{
		Code:      g.Code,
		Days:      g.Days,
		Used:      g.Used,
		CreatedAt: fromUnix(g.CreatedAt),
	}
	if g.UsedBy.Valid {
		by := g.UsedBy.Int64
		gift.UsedBy = &by
	}
	if g.UsedAt.Valid {
		at := fromUnix(g.UsedAt.Int64)
		gift.UsedAt = &at
	}
	return gift
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

var _ appraiser.Repository = (*Repository)(nil)
