// Package memory provides an in-process appraiser.Repository for development
// and tests. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
)

type usageKey struct {
	userID int64
	day    string
}

// Repository keeps all state in maps behind one mutex, which makes every
// operation trivially atomic.
type Repository struct {
	mu       sync.Mutex
	subs     map[int64]time.Time
	usage    map[usageKey]int
	gifts    map[string]appraiser.GiftCode
	channels map[string]appraiser.ChannelSnapshot
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		subs:     make(map[int64]time.Time),
		usage:    make(map[usageKey]int),
		gifts:    make(map[string]appraiser.GiftCode),
		channels: make(map[string]appraiser.ChannelSnapshot),
	}
}

// GetSubscription returns the user's subscription if one was ever granted.
func (r *Repository) GetSubscription(_ context.Context, userID int64) (appraiser.Subscription, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.subs[userID]
	if !ok {
		return appraiser.Subscription{}, false, nil
	}
	return appraiser.Subscription{UserID: userID, ExpiresAt: exp}, true, nil
}

// ExtendSubscription extends the expiry by days.
func (r *Repository) ExtendSubscription(_ context.Context, userID int64, days int, now time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extendLocked(userID, days, now), nil
}

func (r *Repository) extendLocked(userID int64, days int, now time.Time) time.Time {
	exp := appraiser.ExtendExpiry(r.subs[userID], now, days)
	r.subs[userID] = exp
	return exp
}

// ConsumeDailyQuota increments the counter while it is below ceiling.
func (r *Repository) ConsumeDailyQuota(_ context.Context, userID int64, day time.Time, ceiling int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := usageKey{userID: userID, day: day.Format(time.DateOnly)}
	used := r.usage[key]
	if used >= ceiling {
		return used, false, nil
	}
	used++
	r.usage[key] = used
	return used, true, nil
}

// GetDailyUsage returns the counter for (user, day).
func (r *Repository) GetDailyUsage(_ context.Context, userID int64, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage[usageKey{userID: userID, day: day.Format(time.DateOnly)}], nil
}

// CreateGiftCode stores a new unused code.
func (r *Repository) CreateGiftCode(_ context.Context, code appraiser.GiftCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gifts[code.Code]; exists {
		return fmt.Errorf("gift code %q already exists", code.Code)
	}
	r.gifts[code.Code] = code
	return nil
}

// RedeemGiftCode marks the code used and extends the subscription.
func (r *Repository) RedeemGiftCode(
	_ context.Context,
	code string,
	userID int64,
	now time.Time,
) (appraiser.GiftCode, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gift, ok := r.gifts[code]
	if !ok {
		return appraiser.GiftCode{}, time.Time{}, appraiser.ErrGiftCodeInvalid
	}
	if gift.Used {
		return appraiser.GiftCode{}, time.Time{}, appraiser.ErrGiftCodeAlreadyUsed
	}
	usedBy := userID
	usedAt := now
	gift.Used = true
	gift.UsedBy = &usedBy
	gift.UsedAt = &usedAt
	r.gifts[code] = gift
	return gift, r.extendLocked(userID, gift.Days, now), nil
}

// UpsertChannel overwrites the snapshot stored under its cache key.
func (r *Repository) UpsertChannel(_ context.Context, snapshot appraiser.ChannelSnapshot) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := appraiser.CacheKey(snapshot.Handle)
	_, existed := r.channels[key]
	r.channels[key] = snapshot
	return !existed, len(r.channels), nil
}

// GetChannel returns the snapshot stored under key.
func (r *Repository) GetChannel(_ context.Context, key string) (appraiser.ChannelSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.channels[appraiser.CacheKey(key)]
	if !ok {
		return appraiser.ChannelSnapshot{}, appraiser.ErrSnapshotNotFound
	}
	return snap, nil
}

// Stats aggregates the admin overview.
func (r *Repository) Stats(_ context.Context, day, now time.Time) (appraiser.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := appraiser.Stats{CachedChannels: len(r.channels)}
	for _, exp := range r.subs {
		if exp.After(now) {
			stats.ActiveSubscriptions++
		}
	}
	today := day.Format(time.DateOnly)
	for key, n := range r.usage {
		if key.day == today {
			stats.AnalysesToday += n
		}
	}
	for _, g := range r.gifts {
		if !g.Used {
			stats.GiftCodesUnused++
		}
	}
	return stats, nil
}

// Ping always succeeds.
func (r *Repository) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (r *Repository) Close() error {
	return nil
}

var _ appraiser.Repository = (*Repository)(nil)
