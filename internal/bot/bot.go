// Package bot is the Telegram front end: it turns updates into analyses,
// entitlement commands and payments.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/handle"
)

const (
	defaultWorkers     = 8
	defaultPollTimeout = 60
	handleTimeout      = 45 * time.Second
	invoicePayload     = "subscription"
)

// API is the subset of *tgbotapi.BotAPI the bot drives.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Analyzer runs the appraisal pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, userID int64, handle string) (appraiser.Report, error)
}

// Entitlements is the entitlement surface behind the commands.
type Entitlements interface {
	Limit() int
	Status(ctx context.Context, userID int64) (appraiser.Decision, error)
	RedeemGift(ctx context.Context, userID int64, code string) (time.Time, error)
	GrantPurchase(ctx context.Context, userID int64) (time.Time, error)
	AdminGrant(ctx context.Context, principal, userID int64, days int) (time.Time, error)
	CreateGiftCodes(ctx context.Context, principal int64, days, count int) ([]appraiser.GiftCode, error)
	Stats(ctx context.Context, principal int64) (appraiser.Stats, error)
	IsPrivileged(principal int64) bool
}

// Config describes the paid plan and the update loop.
type Config struct {
	// Price is in whole currency units; invoices are sent in minor units.
	Price         int
	Currency      string
	Days          int
	ProviderToken string
	PollTimeout   int
	Workers       int
}

// Bot handles Telegram updates.
type Bot struct {
	api      API
	analyzer Analyzer
	gate     Entitlements
	cfg      Config
	logger   *zap.Logger
}

// New wires a Bot.
func New(api API, analyzer Analyzer, gate Entitlements, cfg Config, logger *zap.Logger) *Bot {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{api: api, analyzer: analyzer, gate: gate, cfg: cfg, logger: logger}
}

// Run long-polls for updates until ctx is cancelled. Updates are handled
// concurrently by at most cfg.Workers goroutines.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)

	b.logger.Info("telegram bot started", zap.Int("workers", b.cfg.Workers))
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram bot stopping")
			b.api.StopReceivingUpdates()
			return g.Wait()
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				b.HandleUpdate(ctx, update)
				return nil
			})
		}
	}
}

// HandleUpdate dispatches a single update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	switch {
	case msg.SuccessfulPayment != nil:
		b.handlePayment(ctx, msg)
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	default:
		b.handleAnalysis(ctx, msg)
	}
}

func (b *Bot) handleAnalysis(ctx context.Context, msg *tgbotapi.Message) {
	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	name, ok := handle.Extract(text, links(entities))
	if !ok {
		return
	}
	log := b.logger.With(zap.Int64("user_id", msg.From.ID), zap.String("handle", name))
	log.Info("analysis requested")

	// Analyze re-checks atomically; this read only skips the progress message.
	if d, err := b.gate.Status(ctx, msg.From.ID); err != nil {
		log.Warn("load entitlement status failed", zap.Error(err))
	} else if !d.Granted {
		log.Info("analysis refused, quota exhausted")
		quota := tgbotapi.NewMessage(msg.Chat.ID, b.quotaText())
		quota.ReplyMarkup = b.buyKeyboard()
		b.send(quota)
		return
	}

	progress, err := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("🔍 Анализирую @%s...", name)))
	if err != nil {
		log.Warn("send progress message failed", zap.Error(err))
		return
	}

	report, err := b.analyzer.Analyze(ctx, msg.From.ID, name)
	var edit tgbotapi.EditMessageTextConfig
	switch {
	case errors.Is(err, appraiser.ErrQuotaExceeded):
		edit = tgbotapi.NewEditMessageTextAndMarkup(msg.Chat.ID, progress.MessageID, b.quotaText(), b.buyKeyboard())
	case err != nil:
		if !errors.Is(err, appraiser.ErrNotFound) && !errors.Is(err, appraiser.ErrUnsupportedType) {
			log.Error("analysis failed", zap.Error(err))
		}
		edit = tgbotapi.NewEditMessageText(msg.Chat.ID, progress.MessageID, FormatError(err))
	default:
		edit = tgbotapi.NewEditMessageTextAndMarkup(msg.Chat.ID, progress.MessageID, FormatReport(report),
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔔 Мониторить канал", callbackMonitor+name),
			)))
		edit.ParseMode = tgbotapi.ModeHTML
	}
	if _, err := b.api.Send(edit); err != nil {
		log.Warn("edit progress message failed", zap.Error(err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.logger.Warn("answer callback failed", zap.Error(err))
	}
	if q.Message == nil || q.Message.Chat == nil || q.From == nil {
		return
	}
	chatID := q.Message.Chat.ID
	switch {
	case q.Data == callbackBuy:
		b.sendPurchaseOffer(ctx, chatID)
	case strings.HasPrefix(q.Data, callbackMonitor):
		channel := strings.TrimPrefix(q.Data, callbackMonitor)
		b.reply(chatID, fmt.Sprintf("🔔 Мониторинг @%s — в платной версии!", channel))
	}
}

func (b *Bot) handlePreCheckout(q *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	if q.InvoicePayload != invoicePayload || !strings.EqualFold(q.Currency, b.cfg.Currency) {
		answer.OK = false
		answer.ErrorMessage = "Неизвестный счёт, попробуйте /buy ещё раз"
	}
	if _, err := b.api.Request(answer); err != nil {
		b.logger.Warn("answer pre-checkout failed", zap.Error(err))
	}
}

func (b *Bot) handlePayment(ctx context.Context, msg *tgbotapi.Message) {
	payment := msg.SuccessfulPayment
	log := b.logger.With(zap.Int64("user_id", msg.From.ID), zap.String("charge_id", payment.TelegramPaymentChargeID))
	if payment.InvoicePayload != invoicePayload {
		log.Warn("payment with unknown payload", zap.String("payload", payment.InvoicePayload))
		return
	}
	exp, err := b.gate.GrantPurchase(ctx, msg.From.ID)
	if err != nil {
		log.Error("grant purchase failed", zap.Error(err))
		b.reply(msg.Chat.ID, "❌ Оплата получена, но подписку не удалось активировать. Напишите администратору.")
		return
	}
	log.Info("payment applied", zap.Int("amount", payment.TotalAmount), zap.Time("expires_at", exp))
	b.reply(msg.Chat.ID, premiumUntil("✅ Оплата получена!", exp))
}

func (b *Bot) sendPurchaseOffer(_ context.Context, chatID int64) {
	if b.cfg.ProviderToken == "" {
		b.reply(chatID, "💳 Оплата скоро будет доступна!")
		return
	}
	invoice := tgbotapi.NewInvoice(chatID,
		"Безлимит",
		fmt.Sprintf("Безлимитные проверки каналов на %d дней", b.cfg.Days),
		invoicePayload,
		b.cfg.ProviderToken,
		"",
		strings.ToUpper(b.cfg.Currency),
		[]tgbotapi.LabeledPrice{{Label: "Безлимит", Amount: b.cfg.Price * 100}},
	)
	invoice.SuggestedTipAmounts = []int{}
	if _, err := b.api.Send(invoice); err != nil {
		b.logger.Warn("send invoice failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) buyKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(b.buyLabel(), callbackBuy),
	))
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	b.send(msg)
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("send message failed", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
}

func links(entities []tgbotapi.MessageEntity) []handle.Link {
	var out []handle.Link
	for _, e := range entities {
		if e.Type != "url" && e.Type != "text_link" {
			continue
		}
		out = append(out, handle.Link{URL: e.URL, Offset: e.Offset, Length: e.Length})
	}
	return out
}
