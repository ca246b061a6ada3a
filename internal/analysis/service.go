// Package analysis runs the appraisal pipeline: entitlement, remote
// retrieval, classification, pricing and caching.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/metrics"
	"github.com/JakeFAU/channel-appraiser/internal/niche"
	"github.com/JakeFAU/channel-appraiser/internal/pricing"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Gate       appraiser.Entitlements
	Metadata   appraiser.MetadataFetcher
	Scraper    appraiser.PostScraper
	Rates      appraiser.RateProvider
	Cache      appraiser.SnapshotSaver
	Classifier *niche.Classifier
	Pricing    *pricing.Engine
	Clock      appraiser.Clock
	Logger     *zap.Logger
}

// Service appraises channels on behalf of users.
type Service struct {
	deps   Deps
	logger *zap.Logger
}

// New builds a Service. Classifier and Pricing default to the built-in tables.
func New(deps Deps) *Service {
	if deps.Classifier == nil {
		deps.Classifier = niche.New(nil)
	}
	if deps.Pricing == nil {
		deps.Pricing = pricing.New(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, logger: logger}
}

// Analyze appraises handle for userID. The quota unit is consumed before any
// remote call, so failed lookups still count against the free tier.
func (s *Service) Analyze(ctx context.Context, userID int64, handle string) (appraiser.Report, error) {
	if handle == "" {
		return appraiser.Report{}, appraiser.ErrNoHandle
	}
	log := s.logger.With(zap.Int64("user_id", userID), zap.String("handle", handle))

	decision, err := s.deps.Gate.Check(ctx, userID)
	if err != nil {
		metrics.ObserveAnalysis(outcome(err))
		return appraiser.Report{Decision: decision, DisplayHandle: handle}, err
	}
	log.Info("analysis started", zap.Bool("premium", decision.Premium))

	info, stats, err := s.retrieve(ctx, handle)
	if err != nil {
		metrics.ObserveAnalysis(outcome(err))
		log.Info("analysis failed", zap.Error(err))
		return appraiser.Report{Decision: decision, DisplayHandle: handle}, err
	}

	now := s.deps.Clock.Now()
	avg := pricing.Average(stats.Views)
	er := pricing.EngagementRate(avg, info.MemberCount)
	nicheName := s.deps.Classifier.Classify(niche.Text(info.Description, info.Title, handle))
	fair := s.deps.Pricing.FairPrice(avg, nicheName)
	rate := s.deps.Rates.Get(ctx, now)
	perDay, _ := PostsPerDay(stats.Timestamps)

	snap := appraiser.ChannelSnapshot{
		Handle:         appraiser.CacheKey(handle),
		Title:          info.Title,
		Description:    info.Description,
		MemberCount:    info.MemberCount,
		AverageViews:   avg,
		EngagementRate: er,
		Niche:          nicheName,
		FairPriceLocal: fair,
		FairPriceUSD:   pricing.USD(fair, rate),
		PostsPerDay:    perDay,
		PostsSampled:   len(stats.Views),
		UpdatedAt:      now,
	}
	if err := s.deps.Cache.Save(ctx, snap); err != nil {
		log.Error("snapshot not cached", zap.Error(err))
	}

	report := appraiser.Report{
		Snapshot:      snap,
		DisplayHandle: handle,
		Tier:          pricing.TierFor(er),
		CPM:           s.deps.Pricing.CPM(nicheName),
		ExchangeRate:  rate,
		Partial:       len(stats.Views) == 0,
		Decision:      decision,
	}
	if report.Partial {
		metrics.ObserveAnalysis("partial")
		log.Info("analysis partial: no view data", zap.Bool("public", stats.Public))
	} else {
		metrics.ObserveAnalysis("ok")
		log.Info("analysis complete",
			zap.Float64("average_views", avg),
			zap.String("niche", nicheName),
			zap.Int64("fair_price", fair),
		)
	}
	return report, nil
}

// retrieve runs the metadata lookup and the preview scrape concurrently.
// A metadata error wins over a scrape error.
func (s *Service) retrieve(ctx context.Context, handle string) (appraiser.ChannelInfo, appraiser.PostStats, error) {
	var (
		info      appraiser.ChannelInfo
		stats     appraiser.PostStats
		metaErr   error
		scrapeErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, metaErr = s.deps.Metadata.Fetch(gctx, handle)
		return metaErr
	})
	g.Go(func() error {
		stats, scrapeErr = s.deps.Scraper.Scrape(gctx, handle)
		return scrapeErr
	})
	_ = g.Wait()

	switch {
	case metaErr != nil:
		return info, stats, fmt.Errorf("fetch metadata: %w", metaErr)
	case scrapeErr != nil:
		return info, stats, fmt.Errorf("scrape preview: %w", scrapeErr)
	}
	return info, stats, nil
}

// PostsPerDay estimates posting frequency from preview timestamps: the
// number of parseable timestamps over the day span between the first and
// the last, at least one. The span is first minus last floored to whole
// days, so the oldest-first preview order rounds a partial day up.
// ok is false when fewer than two timestamps parse.
func PostsPerDay(timestamps []string) (perDay float64, ok bool) {
	var first, last time.Time
	parsed := 0
	for _, raw := range timestamps {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		if parsed == 0 {
			first = ts
		}
		last = ts
		parsed++
	}
	if parsed < 2 {
		return 0, false
	}
	days := int(math.Floor(first.Sub(last).Hours() / 24))
	if days < 0 {
		days = -days
	}
	if days == 0 {
		days = 1
	}
	return float64(parsed) / float64(days), true
}

func outcome(err error) string {
	switch {
	case errors.Is(err, appraiser.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, appraiser.ErrNotFound):
		return "not_found"
	case errors.Is(err, appraiser.ErrUnsupportedType):
		return "unsupported"
	case appraiser.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
