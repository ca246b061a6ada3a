// Package fxrate provides a day-cached RUB/USD exchange rate backed by a
// prioritized list of public rate endpoints.
package fxrate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/metrics"
)

const (
	// DefaultRate is used until the first successful refresh.
	DefaultRate    = 90.0
	defaultTimeout = 5 * time.Second
	dayLayout      = "2006-01-02"
)

// Source fetches the number of RUB per USD.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (float64, error)
}

// Config controls the Provider.
type Config struct {
	InitialRate float64
	// Timeout bounds each source attempt separately.
	Timeout time.Duration
}

// Provider caches one rate per calendar day. Two callers racing on the first
// request of a day may both refresh; the refresh is idempotent so only the
// cached pair itself is guarded.
type Provider struct {
	sources []Source
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	rate  float64
	stamp string
}

// New builds a Provider that tries sources in order.
func New(cfg Config, logger *zap.Logger, sources ...Source) *Provider {
	if cfg.InitialRate <= 0 {
		cfg.InitialRate = DefaultRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		sources: append([]Source(nil), sources...),
		timeout: cfg.Timeout,
		logger:  logger,
		rate:    cfg.InitialRate,
	}
}

// Get returns today's rate, refreshing it at most once per calendar day of
// now. When every source fails the previous rate is returned unchanged.
func (p *Provider) Get(ctx context.Context, now time.Time) float64 {
	today := now.Format(dayLayout)
	rate, stamp := p.cached()
	if stamp == today {
		return rate
	}

	for _, src := range p.sources {
		value, err := p.try(ctx, src)
		if err != nil {
			metrics.ObserveRateRefresh(src.Name(), "error")
			p.logger.Warn("exchange rate source failed",
				zap.String("source", src.Name()),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveRateRefresh(src.Name(), "ok")
		p.store(value, today)
		p.logger.Info("exchange rate refreshed",
			zap.String("source", src.Name()),
			zap.Float64("rate", value),
		)
		return value
	}

	p.logger.Warn("all exchange rate sources failed; using cached rate", zap.Float64("rate", rate))
	return rate
}

func (p *Provider) try(ctx context.Context, src Source) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return src.Fetch(ctx)
}

func (p *Provider) cached() (float64, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate, p.stamp
}

func (p *Provider) store(rate float64, stamp string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
	p.stamp = stamp
}
