package entitlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/id/uuid"
	"github.com/JakeFAU/channel-appraiser/internal/storage/memory"
)

const admin int64 = 1000

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type seqCodes struct{ n int }

func (s *seqCodes) NewGiftCode() (string, error) {
	s.n++
	return fmt.Sprintf("GIFT-%04d", s.n), nil
}

func newGate(t *testing.T, clock *fixedClock) (*Gate, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	g := New(repo, clock, &seqCodes{}, Config{FreeDaily: 3, SubscriptionDays: 30, AdminID: admin}, nil)
	return g, repo
}

func TestCheckGrantsExactlyCeilingPerDay(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	g, _ := newGate(t, clock)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := g.Check(ctx, 7)
		require.NoError(t, err)
		assert.True(t, d.Granted)
		assert.False(t, d.Premium)
		assert.Equal(t, i, d.Used)
		assert.Equal(t, 3-i, d.Remaining())
	}

	d, err := g.Check(ctx, 7)
	require.ErrorIs(t, err, appraiser.ErrQuotaExceeded)
	var qErr *appraiser.QuotaError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, 3, qErr.Limit)
	assert.False(t, d.Granted)

	clock.t = clock.t.Add(24 * time.Hour)
	d, err = g.Check(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Used)
}

func TestCheckPremiumBypassesQuota(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	g, repo := newGate(t, clock)
	ctx := context.Background()

	_, err := g.GrantPurchase(ctx, 7)
	require.NoError(t, err)

	for range 10 {
		d, err := g.Check(ctx, 7)
		require.NoError(t, err)
		assert.True(t, d.Premium)
	}
	used, err := repo.GetDailyUsage(ctx, 7, appraiser.Day(clock.t))
	require.NoError(t, err)
	assert.Zero(t, used, "premium checks must not consume quota")

	clock.t = clock.t.AddDate(0, 0, 31)
	d, err := g.Check(ctx, 7)
	require.NoError(t, err)
	assert.False(t, d.Premium, "expired subscription falls back to free tier")
}

func TestRedeemGiftOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	g, _ := newGate(t, &fixedClock{t: now})
	ctx := context.Background()

	codes, err := g.CreateGiftCodes(ctx, admin, 14, 2)
	require.NoError(t, err)
	require.Len(t, codes, 2)

	exp, err := g.RedeemGift(ctx, 7, " "+codes[0].Code+" ")
	require.NoError(t, err)
	assert.True(t, exp.Equal(now.AddDate(0, 0, 14)))

	_, err = g.RedeemGift(ctx, 8, codes[0].Code)
	require.ErrorIs(t, err, appraiser.ErrGiftCodeAlreadyUsed)

	_, err = g.RedeemGift(ctx, 8, "GIFT-NOPE")
	require.ErrorIs(t, err, appraiser.ErrGiftCodeInvalid)

	_, err = g.RedeemGift(ctx, 8, "")
	require.ErrorIs(t, err, appraiser.ErrGiftCodeInvalid)

	status, err := g.Status(ctx, 8)
	require.NoError(t, err)
	assert.False(t, status.Premium)

	exp, err = g.RedeemGift(ctx, 7, codes[1].Code)
	require.NoError(t, err)
	assert.True(t, exp.Equal(now.AddDate(0, 0, 28)), "gift stacks on an active subscription")
}

func TestAdminOperationsRequirePrivilege(t *testing.T) {
	t.Parallel()

	g, _ := newGate(t, &fixedClock{t: time.Now()})
	ctx := context.Background()

	_, err := g.AdminGrant(ctx, 7, 8, 30)
	require.ErrorIs(t, err, appraiser.ErrForbidden)
	_, err = g.CreateGiftCodes(ctx, 7, 30, 1)
	require.ErrorIs(t, err, appraiser.ErrForbidden)
	_, err = g.Stats(ctx, 7)
	require.ErrorIs(t, err, appraiser.ErrForbidden)

	_, err = g.AdminGrant(ctx, admin, 8, 30)
	require.NoError(t, err)
	_, err = g.AdminGrant(ctx, System, 8, 30)
	require.NoError(t, err)
	_, err = g.AdminGrant(ctx, admin, 8, 0)
	require.Error(t, err)

	stats, err := g.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveSubscriptions)
}

func TestIsPrivilegedWithoutAdmin(t *testing.T) {
	t.Parallel()

	g := New(memory.New(), &fixedClock{}, uuid.New(), Config{}, nil)
	assert.False(t, g.IsPrivileged(0))
	assert.True(t, g.IsPrivileged(System))
}

func TestCreateGiftCodesValidates(t *testing.T) {
	t.Parallel()

	g, _ := newGate(t, &fixedClock{t: time.Now()})
	ctx := context.Background()

	_, err := g.CreateGiftCodes(ctx, admin, 0, 1)
	require.Error(t, err)
	_, err = g.CreateGiftCodes(ctx, admin, 30, 0)
	require.Error(t, err)
	_, err = g.CreateGiftCodes(ctx, admin, 30, maxCodesPerBatch+1)
	require.Error(t, err)
}

type failingCodes struct{}

func (failingCodes) NewGiftCode() (string, error) { return "", errors.New("entropy exhausted") }

func TestCreateGiftCodesPropagatesGeneratorError(t *testing.T) {
	t.Parallel()

	g := New(memory.New(), &fixedClock{}, failingCodes{}, Config{AdminID: admin}, nil)
	_, err := g.CreateGiftCodes(context.Background(), admin, 30, 1)
	require.ErrorContains(t, err, "entropy exhausted")
}

func TestGeneratedCodesRedeemable(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	g := New(memory.New(), &fixedClock{t: now}, uuid.New(), Config{AdminID: admin}, nil)
	codes, err := g.CreateGiftCodes(context.Background(), admin, 7, 1)
	require.NoError(t, err)
	assert.Regexp(t, `^GIFT-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`, codes[0].Code)

	_, err = g.RedeemGift(context.Background(), 1, codes[0].Code)
	require.NoError(t, err)
}
