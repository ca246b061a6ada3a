package appraiser

import (
	"context"
	"time"
)

// MetadataFetcher resolves channel metadata by handle.
type MetadataFetcher interface {
	Fetch(ctx context.Context, handle string) (ChannelInfo, error)
}

// PostScraper reads the public preview of a channel.
type PostScraper interface {
	Scrape(ctx context.Context, handle string) (PostStats, error)
}

// RateProvider returns the RUB per USD rate. It never fails.
type RateProvider interface {
	Get(ctx context.Context, now time.Time) float64
}

// Entitlements decides whether a user may run an analysis.
type Entitlements interface {
	Check(ctx context.Context, userID int64) (Decision, error)
}

// SnapshotSaver persists the latest snapshot.
type SnapshotSaver interface {
	Save(ctx context.Context, snapshot ChannelSnapshot) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SubscriptionStore persists subscriptions.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID int64) (Subscription, bool, error)
	// ExtendSubscription sets expiry to max(current, now) + days atomically.
	ExtendSubscription(ctx context.Context, userID int64, days int, now time.Time) (time.Time, error)
}

// UsageStore persists daily free-tier counters.
type UsageStore interface {
	// ConsumeDailyQuota increments the (user, day) counter only while it is
	// below ceiling, in one atomic statement. It returns the counter after
	// the call and whether the increment happened.
	ConsumeDailyQuota(ctx context.Context, userID int64, day time.Time, ceiling int) (int, bool, error)
	GetDailyUsage(ctx context.Context, userID int64, day time.Time) (int, error)
}

// GiftStore persists gift codes.
type GiftStore interface {
	CreateGiftCode(ctx context.Context, code GiftCode) error
	// RedeemGiftCode marks the code used and extends the redeemer's
	// subscription in one transaction.
	RedeemGiftCode(ctx context.Context, code string, userID int64, now time.Time) (GiftCode, time.Time, error)
}

// ChannelStore persists snapshots.
type ChannelStore interface {
	// UpsertChannel inserts or overwrites the snapshot and reports whether a
	// new row was created along with the resulting row count.
	UpsertChannel(ctx context.Context, snapshot ChannelSnapshot) (bool, int, error)
	GetChannel(ctx context.Context, key string) (ChannelSnapshot, error)
}

// Repository is the persistent store. Each backend implements all of it.
type Repository interface {
	SubscriptionStore
	UsageStore
	GiftStore
	ChannelStore
	Stats(ctx context.Context, day time.Time, now time.Time) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Day truncates t to its calendar day in t's location and returns it as UTC
// midnight so every backend keys days identically.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
