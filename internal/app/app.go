// Package app builds the long-lived services and runs them, acting as the
// dependency injection container for every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/channel-appraiser/internal/analysis"
	"github.com/JakeFAU/channel-appraiser/internal/api"
	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/bot"
	"github.com/JakeFAU/channel-appraiser/internal/cache"
	"github.com/JakeFAU/channel-appraiser/internal/clock/system"
	"github.com/JakeFAU/channel-appraiser/internal/config"
	"github.com/JakeFAU/channel-appraiser/internal/entitlement"
	"github.com/JakeFAU/channel-appraiser/internal/fetcher/botapi"
	collyfetcher "github.com/JakeFAU/channel-appraiser/internal/fetcher/colly"
	"github.com/JakeFAU/channel-appraiser/internal/fxrate"
	"github.com/JakeFAU/channel-appraiser/internal/id/uuid"
	"github.com/JakeFAU/channel-appraiser/internal/logging"
	"github.com/JakeFAU/channel-appraiser/internal/niche"
	"github.com/JakeFAU/channel-appraiser/internal/notify"
	pubsubnotify "github.com/JakeFAU/channel-appraiser/internal/notify/pubsub"
	telegramnotify "github.com/JakeFAU/channel-appraiser/internal/notify/telegram"
	"github.com/JakeFAU/channel-appraiser/internal/policy/ratelimit"
	"github.com/JakeFAU/channel-appraiser/internal/pricing"
	"github.com/JakeFAU/channel-appraiser/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Telegram is everything the serving stack needs from the Bot API client.
// *tgbotapi.BotAPI satisfies it.
type Telegram interface {
	bot.API
	botapi.ChatAPI
}

// App contains the application's dependencies. Build wires the parts every
// command shares; Serve adds the Telegram and HTTP front ends.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  appraiser.Clock
	repo   appraiser.Repository
	gate   *entitlement.Gate

	cache     *cache.Cache
	analyzer  *analysis.Service
	apiServer *api.Server
	bot       *bot.Bot
	closers   []func() error
}

// Build creates the logger, clock, repository and entitlement gate.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	loc, err := system.LoadLocation(cfg.Clock.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clock init failed: %w", err)
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New(loc)}

	a.repo, err = storage.Open(ctx, storage.Config{
		Driver:   cfg.DB.Driver,
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		Migrate:  cfg.DB.AutoMigrate,
	}, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	a.gate = entitlement.New(a.repo, a.clock, uuid.New(), entitlement.Config{
		FreeDaily:        cfg.Quota.FreeDaily,
		SubscriptionDays: cfg.Subscription.Days,
		AdminID:          cfg.Admin.UserID,
	}, logger.Named("entitlement"))

	logger.Info("application core ready",
		zap.String("db_driver", cfg.DB.Driver),
		zap.Int("free_daily", cfg.Quota.FreeDaily),
		zap.String("timezone", loc.String()),
	)
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Gate returns the entitlement gate.
func (a *App) Gate() *entitlement.Gate {
	return a.gate
}

// Repository returns the configured store.
func (a *App) Repository() appraiser.Repository {
	return a.repo
}

// Handler returns the admin HTTP handler once the serving stack is wired.
func (a *App) Handler() http.Handler {
	if a.apiServer == nil {
		return nil
	}
	return a.apiServer.Handler()
}

// ConnectTelegram dials the Bot API with the configured token. The client
// timeout covers a full long poll plus one regular call.
func (a *App) ConnectTelegram() (*tgbotapi.BotAPI, error) {
	timeout := a.cfg.TelegramTimeout() + time.Duration(a.cfg.Telegram.PollTimeoutSeconds)*time.Second
	client, err := botapi.NewBotAPI(a.cfg.Telegram.Token, a.cfg.Telegram.APIEndpoint, timeout)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	a.logger.Info("telegram bot authorized", zap.String("username", client.Self.UserName))
	return client, nil
}

// WireServing builds the analysis pipeline, the bot and the admin API on top
// of tg.
func (a *App) WireServing(ctx context.Context, tg Telegram) error {
	cfg := a.cfg

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Scraper.RPS, DefaultBurst: cfg.Scraper.Burst})
	scraper := collyfetcher.New(collyfetcher.Config{
		PreviewURL:     cfg.Scraper.PreviewURL,
		UserAgent:      cfg.Scraper.UserAgent,
		AcceptLanguage: cfg.Scraper.AcceptLanguage,
		Timeout:        cfg.ScraperTimeout(),
	}, limiter, a.logger.Named("scraper"))
	metadata := botapi.New(tg, cfg.TelegramTimeout(), a.logger.Named("botapi"))

	sources, err := fxrate.NewJSONSources(cfg.FXRate.Sources, &http.Client{Timeout: cfg.FXRateTimeout()})
	if err != nil {
		return fmt.Errorf("fxrate sources init failed: %w", err)
	}
	rates := fxrate.New(fxrate.Config{
		InitialRate: cfg.FXRate.DefaultRate,
		Timeout:     cfg.FXRateTimeout(),
	}, a.logger.Named("fxrate"), sources...)

	notifier, err := a.setupNotifier(ctx, tg)
	if err != nil {
		return err
	}
	a.cache = cache.New(a.repo, notifier, cfg.Cache.Milestones, a.logger.Named("cache"))

	a.analyzer = analysis.New(analysis.Deps{
		Gate:       a.gate,
		Metadata:   metadata,
		Scraper:    scraper,
		Rates:      rates,
		Cache:      a.cache,
		Classifier: niche.New(nil),
		Pricing:    pricing.New(cfg.Pricing.CPM),
		Clock:      a.clock,
		Logger:     a.logger.Named("analysis"),
	})

	a.bot = bot.New(tg, a.analyzer, a.gate, bot.Config{
		Price:         cfg.Subscription.Price,
		Currency:      cfg.Subscription.Currency,
		Days:          cfg.Subscription.Days,
		ProviderToken: cfg.Subscription.ProviderToken,
		PollTimeout:   cfg.Telegram.PollTimeoutSeconds,
	}, a.logger.Named("bot"))

	admin := api.NewAdminHandler(a.gate, a.cache, a.logger.Named("admin"))
	a.apiServer = api.NewServer(admin, a.repo, cfg.Auth, a.logger.Named("api"))
	return nil
}

func (a *App) setupNotifier(ctx context.Context, tg Telegram) (notify.Notifier, error) {
	var out notify.Multi
	if a.cfg.Admin.UserID != 0 {
		out = append(out, telegramnotify.New(tg, a.cfg.Admin.UserID))
	} else {
		a.logger.Warn("admin.user_id not set, milestone messages disabled")
	}
	if a.cfg.PubSubEnabled() {
		pub, closer, err := pubsubnotify.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub init failed: %w", err)
		}
		a.closers = append(a.closers, closer)
		out = append(out, pub)
		a.logger.Info("Pub/Sub milestone publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}
	return out, nil
}

// Serve runs the bot and, when enabled, the admin HTTP server until ctx is
// cancelled or a signal arrives. WireServing must have been called.
func (a *App) Serve(ctx context.Context) error {
	if a.bot == nil || a.apiServer == nil {
		return errors.New("serving stack not wired")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return a.bot.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("shutdown initiated")
	return err
}

// Close releases the store and publishers and flushes the logger.
func (a *App) Close() error {
	var errs []error
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Warn("repository close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.logger.Info("shutdown complete")
	// Sync fails on stderr for some terminals; that is not worth reporting.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
