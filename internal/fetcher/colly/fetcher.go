// Package collyfetcher scrapes public channel preview pages with gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/metrics"
)

const (
	// DefaultPreviewURL is the public preview page of a channel.
	DefaultPreviewURL = "https://t.me/s/%s"
	// DefaultUserAgent mimics a desktop browser; the preview hides posts from
	// obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	// DefaultAcceptLanguage matches the audience of the bot.
	DefaultAcceptLanguage = "ru-RU,ru;q=0.9"

	viewsSelector = ".tgme_widget_message_views"
	timeSelector  = "time[datetime]"
	fetchTarget   = "preview"
)

// Config controls collector behavior.
type Config struct {
	PreviewURL     string
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
}

type waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Scraper implements appraiser.PostScraper using the Colly collector.
type Scraper struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       waiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// pageState accumulates what the hooks saw during one visit.
type pageState struct {
	status     int
	views      []int64
	timestamps []string
	malformed  int
	err        error
}

// New builds a Scraper. limiter may be nil.
func New(cfg Config, limiter waiter, logger *zap.Logger) *Scraper {
	if cfg.PreviewURL == "" {
		cfg.PreviewURL = DefaultPreviewURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = DefaultAcceptLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	// Some channels disable the preview and redirect to the landing page;
	// that response is the answer, not something to follow.
	c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})
	c.ParseHTTPErrorResponse = true
	c.UserAgent = cfg.UserAgent

	return &Scraper{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// Scrape fetches the preview page of handle. A redirect yields empty stats
// with Public=false; 4xx/5xx and transport failures are transient errors.
func (s *Scraper) Scrape(ctx context.Context, handle string) (appraiser.PostStats, error) {
	target := fmt.Sprintf(s.cfg.PreviewURL, url.PathEscape(handle))
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, target); err != nil {
			return appraiser.PostStats{}, appraiser.NewTransientFetchError(fetchTarget, err)
		}
	}

	state := &pageState{}
	collector := s.baseCollector.Clone()
	s.configureCollectorHooks(collector, state)

	start := time.Now()
	err := s.runCollector(ctx, collector, target, state)
	if err != nil {
		metrics.ObserveFetch(fetchTarget, "error", time.Since(start))
		return appraiser.PostStats{}, appraiser.NewTransientFetchError(fetchTarget, err)
	}
	metrics.ObserveFetch(fetchTarget, statusLabel(state.status), time.Since(start))

	if state.malformed > 0 {
		s.logger.Debug("skipped malformed view counters",
			zap.String("handle", handle),
			zap.Int("count", state.malformed),
		)
	}

	switch {
	case isRedirect(state.status):
		s.logger.Info("channel preview unavailable",
			zap.String("handle", handle),
			zap.Int("status", state.status),
		)
		return appraiser.PostStats{Public: false}, nil
	case isSuccess(state.status):
		return appraiser.PostStats{
			Views:      state.views,
			Timestamps: state.timestamps,
			Public:     true,
		}, nil
	default:
		return appraiser.PostStats{}, appraiser.NewTransientFetchError(
			fetchTarget,
			fmt.Errorf("unexpected status %d", state.status),
		)
	}
}

func (s *Scraper) configureCollectorHooks(hooks collectorHooks, state *pageState) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", s.cfg.AcceptLanguage)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
	})

	hooks.OnHTML(viewsSelector, func(e *colly.HTMLElement) {
		if !isSuccess(e.Response.StatusCode) {
			return
		}
		views, err := ParseViewCount(e.Text)
		if err != nil {
			state.malformed++
			return
		}
		state.views = append(state.views, views)
	})

	hooks.OnHTML(timeSelector, func(e *colly.HTMLElement) {
		if !isSuccess(e.Response.StatusCode) {
			return
		}
		if ts := e.Attr("datetime"); ts != "" {
			state.timestamps = append(state.timestamps, ts)
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			state.status = r.StatusCode
		}
		state.err = err
	})
}

func (s *Scraper) runCollector(ctx context.Context, collector *colly.Collector, target string, state *pageState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
		}
		if state.status == 0 {
			return errors.New("colly visit returned no response")
		}
		return nil
	}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func isRedirect(code int) bool {
	return code >= 300 && code < 400
}

func statusLabel(code int) string {
	switch {
	case isSuccess(code):
		return "ok"
	case isRedirect(code):
		return "redirect"
	default:
		return "http_error"
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
