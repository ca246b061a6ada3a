// Package storagetest holds behavior tests every appraiser.Repository
// backend must pass.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
)

// Opener returns a fresh, empty repository for one subtest.
type Opener func(t *testing.T) appraiser.Repository

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the shared suite against open.
func Run(t *testing.T, open Opener) {
	t.Run("quota ceiling", func(t *testing.T) { testQuotaCeiling(t, open(t)) })
	t.Run("quota concurrent", func(t *testing.T) { testQuotaConcurrent(t, open(t)) })
	t.Run("subscription extension", func(t *testing.T) { testExtension(t, open(t)) })
	t.Run("gift single use", func(t *testing.T) { testGiftSingleUse(t, open(t)) })
	t.Run("channel upsert", func(t *testing.T) { testChannelUpsert(t, open(t)) })
	t.Run("stats", func(t *testing.T) { testStats(t, open(t)) })
}

func testQuotaCeiling(t *testing.T, repo appraiser.Repository) {
	ctx := context.Background()
	day := appraiser.Day(now)

	for i := 1; i <= 3; i++ {
		used, ok, err := repo.ConsumeDailyQuota(ctx, 7, day, 3)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, used)
	}
	used, ok, err := repo.ConsumeDailyQuota(ctx, 7, day, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, used)

	got, err := repo.GetDailyUsage(ctx, 7, day)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	tomorrow := day.AddDate(0, 0, 1)
	used, ok, err = repo.ConsumeDailyQuota(ctx, 7, tomorrow, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, used)

	_, ok, err = repo.ConsumeDailyQuota(ctx, 8, day, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = repo.GetDailyUsage(ctx, 99, day)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func testQuotaConcurrent(t *testing.T, repo appraiser.Repository) {
	ctx := context.Background()
	day := appraiser.Day(now)
	const ceiling = 5

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.ConsumeDailyQuota(ctx, 42, day, ceiling)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, ceiling, granted)

	used, err := repo.GetDailyUsage(ctx, 42, day)
	require.NoError(t, err)
	assert.Equal(t, ceiling, used)
}

func testExtension(t *testing.T, repo appraiser.Repository) {
	ctx := context.Background()

	_, found, err := repo.GetSubscription(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	exp, err := repo.ExtendSubscription(ctx, 1, 30, now)
	require.NoError(t, err)
	assert.True(t, exp.Equal(now.AddDate(0, 0, 30)), "got %s", exp)

	exp, err = repo.ExtendSubscription(ctx, 1, 10, now.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.True(t, exp.Equal(now.AddDate(0, 0, 40)), "active subscription stacks, got %s", exp)

	later := now.AddDate(0, 0, 100)
	exp, err = repo.ExtendSubscription(ctx, 1, 7, later)
	require.NoError(t, err)
	assert.True(t, exp.Equal(later.AddDate(0, 0, 7)), "expired subscription restarts, got %s", exp)

	sub, found, err := repo.GetSubscription(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, sub.ExpiresAt.Equal(exp))
	assert.True(t, sub.Active(later))
}

func testGiftSingleUse(t *testing.T, repo appraiser.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CreateGiftCode(ctx, appraiser.GiftCode{Code: "GIFT-1", Days: 30, CreatedAt: now}))
	require.Error(t, repo.CreateGiftCode(ctx, appraiser.GiftCode{Code: "GIFT-1", Days: 5, CreatedAt: now}))

	_, _, err := repo.RedeemGiftCode(ctx, "NOPE", 5, now)
	assert.ErrorIs(t, err, appraiser.ErrGiftCodeInvalid)

	gift, exp, err := repo.RedeemGiftCode(ctx, "GIFT-1", 5, now)
	require.NoError(t, err)
	assert.True(t, gift.Used)
	assert.Equal(t, 30, gift.Days)
	require.NotNil(t, gift.UsedBy)
	assert.EqualValues(t, 5, *gift.UsedBy)
	assert.True(t, exp.Equal(now.AddDate(0, 0, 30)))

	_, _, err = repo.RedeemGiftCode(ctx, "GIFT-1", 6, now)
	assert.ErrorIs(t, err, appraiser.ErrGiftCodeAlreadyUsed)

	_, found, err := repo.GetSubscription(ctx, 6)
	require.NoError(t, err)
	assert.False(t, found, "failed redemption must not grant anything")

	sub, found, err := repo.GetSubscription(ctx, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, sub.ExpiresAt.Equal(exp))
}

func testChannelUpsert(t *testing.T, repo appraiser.Repository) {
	ctx := context.Background()

	snap := appraiser.ChannelSnapshot{
		Handle:         "durov",
		Title:          "Durov's Channel",
		Description:    "крипта",
		MemberCount:    3_000_000,
		AverageViews:   700.5,
		EngagementRate: 0.02335,
		Niche:          "crypto",
		FairPriceLocal: 2101,
		FairPriceUSD:   23.34,
		PostsPerDay:    1.5,
		PostsSampled:   3,
		UpdatedAt:      now,
	}

	inserted, total, err := repo.UpsertChannel(ctx, snap)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 1, total)

	snap.MemberCount = 3_100_000
	snap.UpdatedAt = now.Add(time.Hour)
	inserted, total, err = repo.UpsertChannel(ctx, snap)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 1, total)

	inserted, total, err = repo.UpsertChannel(ctx, appraiser.ChannelSnapshot{Handle: "other", UpdatedAt: now})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 2, total)

	got, err := repo.GetChannel(ctx, "DUROV")
	require.NoError(t, err)
	assert.Equal(t, "durov", got.Handle)
	assert.Equal(t, snap.Title, got.Title)
	assert.Equal(t, snap.Description, got.Description)
	assert.EqualValues(t, 3_100_000, got.MemberCount)
	assert.InDelta(t, snap.AverageViews, got.AverageViews, 1e-9)
	assert.InDelta(t, snap.EngagementRate, got.EngagementRate, 1e-9)
	assert.Equal(t, snap.Niche, got.Niche)
	assert.Equal(t, snap.FairPriceLocal, got.FairPriceLocal)
	assert.InDelta(t, snap.FairPriceUSD, got.FairPriceUSD, 1e-9)
	assert.InDelta(t, snap.PostsPerDay, got.PostsPerDay, 1e-9)
	assert.Equal(t, snap.PostsSampled, got.PostsSampled)
	assert.True(t, got.UpdatedAt.Equal(snap.UpdatedAt), "got %s", got.UpdatedAt)

	_, err = repo.GetChannel(ctx, "missing")
	assert.ErrorIs(t, err, appraiser.ErrSnapshotNotFound)
}

func testStats(t *testing.T, repo appraiser.Repository) {
	ctx := context.Background()
	day := appraiser.Day(now)

	_, err := repo.ExtendSubscription(ctx, 1, 30, now)
	require.NoError(t, err)
	_, err = repo.ExtendSubscription(ctx, 2, 1, now.AddDate(0, 0, -10))
	require.NoError(t, err)
	_, _, err = repo.ConsumeDailyQuota(ctx, 3, day, 3)
	require.NoError(t, err)
	_, _, err = repo.ConsumeDailyQuota(ctx, 4, day, 3)
	require.NoError(t, err)
	_, _, err = repo.ConsumeDailyQuota(ctx, 4, day.AddDate(0, 0, -1), 3)
	require.NoError(t, err)
	require.NoError(t, repo.CreateGiftCode(ctx, appraiser.GiftCode{Code: "A", Days: 1, CreatedAt: now}))
	require.NoError(t, repo.CreateGiftCode(ctx, appraiser.GiftCode{Code: "B", Days: 1, CreatedAt: now}))
	_, _, err = repo.RedeemGiftCode(ctx, "B", 9, now)
	require.NoError(t, err)
	_, _, err = repo.UpsertChannel(ctx, appraiser.ChannelSnapshot{Handle: "x", UpdatedAt: now})
	require.NoError(t, err)

	stats, err := repo.Stats(ctx, day, now)
	require.NoError(t, err)
	assert.Equal(t, appraiser.Stats{
		CachedChannels:      1,
		ActiveSubscriptions: 2,
		AnalysesToday:       2,
		GiftCodesUnused:     1,
	}, stats)

	require.NoError(t, repo.Ping(ctx))
}
