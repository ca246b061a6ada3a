// Package entitlement decides who may run an analysis and manages premium
// time: daily free quota, subscriptions and gift codes.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/metrics"
)

// System is the principal used by trusted local callers (CLI, authenticated
// HTTP API). It passes IsPrivileged regardless of the configured admin.
const System int64 = -1

const maxCodesPerBatch = 100

// Config tunes the gate.
type Config struct {
	FreeDaily        int
	SubscriptionDays int
	AdminID          int64
}

// CodeGenerator produces fresh gift codes.
type CodeGenerator interface {
	NewGiftCode() (string, error)
}

// Gate is the entitlement component.
type Gate struct {
	repo   appraiser.Repository
	clock  appraiser.Clock
	codes  CodeGenerator
	cfg    Config
	logger *zap.Logger
}

// New wires a Gate.
func New(repo appraiser.Repository, clock appraiser.Clock, codes CodeGenerator, cfg Config, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{repo: repo, clock: clock, codes: codes, cfg: cfg, logger: logger}
}

// Limit is the number of free analyses per day.
func (g *Gate) Limit() int {
	return g.cfg.FreeDaily
}

// Check grants premium users without touching the counter; everyone else
// consumes one unit of today's quota or gets a *appraiser.QuotaError.
func (g *Gate) Check(ctx context.Context, userID int64) (appraiser.Decision, error) {
	now := g.clock.Now()
	sub, found, err := g.repo.GetSubscription(ctx, userID)
	if err != nil {
		return appraiser.Decision{}, fmt.Errorf("check subscription: %w", err)
	}
	if found && sub.Active(now) {
		metrics.ObserveEntitlement("premium")
		return appraiser.Decision{Granted: true, Premium: true, Limit: g.cfg.FreeDaily, ExpiresAt: sub.ExpiresAt}, nil
	}

	used, ok, err := g.repo.ConsumeDailyQuota(ctx, userID, appraiser.Day(now), g.cfg.FreeDaily)
	if err != nil {
		return appraiser.Decision{}, fmt.Errorf("consume quota: %w", err)
	}
	decision := appraiser.Decision{Granted: ok, Used: used, Limit: g.cfg.FreeDaily}
	if !ok {
		metrics.ObserveEntitlement("denied")
		g.logger.Info("free quota exhausted", zap.Int64("user_id", userID), zap.Int("used", used))
		return decision, &appraiser.QuotaError{Limit: g.cfg.FreeDaily, Used: used}
	}
	metrics.ObserveEntitlement("free")
	return decision, nil
}

// Status reports the user's entitlement without consuming anything.
func (g *Gate) Status(ctx context.Context, userID int64) (appraiser.Decision, error) {
	now := g.clock.Now()
	sub, found, err := g.repo.GetSubscription(ctx, userID)
	if err != nil {
		return appraiser.Decision{}, fmt.Errorf("load subscription: %w", err)
	}
	if found && sub.Active(now) {
		return appraiser.Decision{Granted: true, Premium: true, Limit: g.cfg.FreeDaily, ExpiresAt: sub.ExpiresAt}, nil
	}
	used, err := g.repo.GetDailyUsage(ctx, userID, appraiser.Day(now))
	if err != nil {
		return appraiser.Decision{}, fmt.Errorf("load usage: %w", err)
	}
	return appraiser.Decision{Granted: used < g.cfg.FreeDaily, Used: used, Limit: g.cfg.FreeDaily}, nil
}

// RedeemGift applies a gift code. A failed redemption leaves the
// subscription untouched.
func (g *Gate) RedeemGift(ctx context.Context, userID int64, code string) (time.Time, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		metrics.ObserveGiftRedemption("invalid")
		return time.Time{}, appraiser.ErrGiftCodeInvalid
	}
	gift, exp, err := g.repo.RedeemGiftCode(ctx, code, userID, g.clock.Now())
	switch {
	case errors.Is(err, appraiser.ErrGiftCodeInvalid):
		metrics.ObserveGiftRedemption("invalid")
		return time.Time{}, err
	case errors.Is(err, appraiser.ErrGiftCodeAlreadyUsed):
		metrics.ObserveGiftRedemption("used")
		return time.Time{}, err
	case err != nil:
		metrics.ObserveGiftRedemption("error")
		return time.Time{}, fmt.Errorf("redeem gift code: %w", err)
	}
	metrics.ObserveGiftRedemption("ok")
	g.logger.Info("gift code redeemed",
		zap.Int64("user_id", userID),
		zap.String("code", code),
		zap.Int("days", gift.Days),
		zap.Time("expires_at", exp),
	)
	return exp, nil
}

// GrantPurchase extends the buyer's subscription by the configured period.
func (g *Gate) GrantPurchase(ctx context.Context, userID int64) (time.Time, error) {
	exp, err := g.repo.ExtendSubscription(ctx, userID, g.cfg.SubscriptionDays, g.clock.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("grant purchase: %w", err)
	}
	g.logger.Info("subscription purchased", zap.Int64("user_id", userID), zap.Time("expires_at", exp))
	return exp, nil
}

// AdminGrant extends userID by days on behalf of principal.
func (g *Gate) AdminGrant(ctx context.Context, principal, userID int64, days int) (time.Time, error) {
	if !g.IsPrivileged(principal) {
		return time.Time{}, appraiser.ErrForbidden
	}
	if days <= 0 {
		return time.Time{}, fmt.Errorf("days must be positive, got %d", days)
	}
	exp, err := g.repo.ExtendSubscription(ctx, userID, days, g.clock.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("admin grant: %w", err)
	}
	g.logger.Info("subscription granted",
		zap.Int64("principal", principal),
		zap.Int64("user_id", userID),
		zap.Int("days", days),
		zap.Time("expires_at", exp),
	)
	return exp, nil
}

// CreateGiftCodes mints count codes worth days each.
func (g *Gate) CreateGiftCodes(ctx context.Context, principal int64, days, count int) ([]appraiser.GiftCode, error) {
	if !g.IsPrivileged(principal) {
		return nil, appraiser.ErrForbidden
	}
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	if count <= 0 || count > maxCodesPerBatch {
		return nil, fmt.Errorf("count must be between 1 and %d, got %d", maxCodesPerBatch, count)
	}

	now := g.clock.Now()
	out := make([]appraiser.GiftCode, 0, count)
	for range count {
		code, err := g.codes.NewGiftCode()
		if err != nil {
			return out, fmt.Errorf("generate gift code: %w", err)
		}
		gift := appraiser.GiftCode{Code: code, Days: days, CreatedAt: now}
		if err := g.repo.CreateGiftCode(ctx, gift); err != nil {
			return out, fmt.Errorf("store gift code: %w", err)
		}
		out = append(out, gift)
	}
	g.logger.Info("gift codes created", zap.Int("count", len(out)), zap.Int("days", days))
	return out, nil
}

// Stats returns the admin overview.
func (g *Gate) Stats(ctx context.Context, principal int64) (appraiser.Stats, error) {
	if !g.IsPrivileged(principal) {
		return appraiser.Stats{}, appraiser.ErrForbidden
	}
	now := g.clock.Now()
	stats, err := g.repo.Stats(ctx, appraiser.Day(now), now)
	if err != nil {
		return appraiser.Stats{}, fmt.Errorf("load stats: %w", err)
	}
	return stats, nil
}

// IsPrivileged is the single admin capability check.
func (g *Gate) IsPrivileged(principal int64) bool {
	if principal == System {
		return true
	}
	return g.cfg.AdminID != 0 && principal == g.cfg.AdminID
}

var _ appraiser.Entitlements = (*Gate)(nil)
