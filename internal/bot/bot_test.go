package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/entitlement"
	"github.com/JakeFAU/channel-appraiser/internal/id/uuid"
	"github.com/JakeFAU/channel-appraiser/internal/storage/memory"
)

const adminID int64 = 1000

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	nextID   int
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) Sent() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.sent...)
}

// lastText returns the text of the most recent message or edit.
func (f *fakeAPI) lastText(t *testing.T) string {
	t.Helper()
	sent := f.Sent()
	require.NotEmpty(t, sent)
	switch m := sent[len(sent)-1].(type) {
	case tgbotapi.MessageConfig:
		return m.Text
	case tgbotapi.EditMessageTextConfig:
		return m.Text
	default:
		t.Fatalf("unexpected chattable %T", m)
		return ""
	}
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	handles []string
	report  appraiser.Report
	err     error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ int64, handle string) (appraiser.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles = append(f.handles, handle)
	return f.report, f.err
}

type fixture struct {
	bot      *Bot
	api      *fakeAPI
	analyzer *fakeAnalyzer
	gate     *entitlement.Gate
	repo     *memory.Repository
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	repo := memory.New()
	gate := entitlement.New(repo, fixedClock{}, uuid.New(),
		entitlement.Config{FreeDaily: 3, SubscriptionDays: 30, AdminID: adminID}, zap.NewNop())
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 4)}
	analyzer := &fakeAnalyzer{}
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	if cfg.Price == 0 {
		cfg.Price = 299
	}
	if cfg.Days == 0 {
		cfg.Days = 30
	}
	return &fixture{
		bot:      New(api, analyzer, gate, cfg, zap.NewNop()),
		api:      api,
		analyzer: analyzer,
		gate:     gate,
		repo:     repo,
	}
}

func commandMessage(userID int64, text string) *tgbotapi.Message {
	cmdLen := strings.IndexByte(text, ' ')
	if cmdLen < 0 {
		cmdLen = len(text)
	}
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func textMessage(userID int64, text string, entities ...tgbotapi.MessageEntity) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
		Entities:  entities,
	}
}

func sampleReport() appraiser.Report {
	return appraiser.Report{
		DisplayHandle: "Durov",
		Tier:          appraiser.TierGood,
		CPM:           3000,
		ExchangeRate:  100,
		Snapshot: appraiser.ChannelSnapshot{
			Handle:         "Durov",
			Title:          "Durov's Channel",
			MemberCount:    3_000_000,
			AverageViews:   600_420,
			EngagementRate: 20.014,
			Niche:          "crypto",
			FairPriceLocal: 1_801_260,
			FairPriceUSD:   18_012.6,
			PostsPerDay:    0.75,
			PostsSampled:   3,
		},
	}
}

func TestAnalysisFromLinkEntity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.analyzer.report = sampleReport()
	text := "глянь https://t.me/Durov пожалуйста"
	msg := textMessage(7, text, tgbotapi.MessageEntity{Type: "url", Offset: 6, Length: 18})

	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})

	require.Equal(t, []string{"Durov"}, f.analyzer.handles)
	sent := f.api.Sent()
	require.Len(t, sent, 2)
	progress, ok := sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "🔍 Анализирую @Durov...", progress.Text)

	edit, ok := sent[1].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 1, edit.MessageID)
	assert.Equal(t, tgbotapi.ModeHTML, edit.ParseMode)
	assert.Contains(t, edit.Text, "~1,801,260 ₽")
	assert.Contains(t, edit.Text, "3.0M")
	require.NotNil(t, edit.ReplyMarkup)
	require.NotNil(t, edit.ReplyMarkup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "monitor_Durov", *edit.ReplyMarkup.InlineKeyboard[0][0].CallbackData)
}

func TestAnalysisOutOfQuotaRepliesWithoutProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, granted, err := f.repo.ConsumeDailyQuota(ctx, 7, appraiser.Day(testNow), 3)
		require.NoError(t, err)
		require.True(t, granted)
	}

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: textMessage(7, "@durov")})

	sent := f.api.Sent()
	require.Len(t, sent, 1)
	msg, ok := sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Contains(t, msg.Text, "лимит исчерпан (3/день)")
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, callbackBuy, *markup.InlineKeyboard[0][0].CallbackData)
	assert.Empty(t, f.analyzer.handles)
}

func TestAnalysisQuotaLostToConcurrentRequestEditsProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.analyzer.err = &appraiser.QuotaError{Limit: 3, Used: 3}

	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: textMessage(7, "@durov")})

	sent := f.api.Sent()
	require.Len(t, sent, 2)
	edit, ok := sent[1].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Contains(t, edit.Text, "лимит исчерпан (3/день)")
	require.NotNil(t, edit.ReplyMarkup)
	button := edit.ReplyMarkup.InlineKeyboard[0][0]
	assert.Equal(t, "⚡ Купить безлимит — 299₽/мес", button.Text)
	assert.Equal(t, callbackBuy, *button.CallbackData)
}

func TestAnalysisErrorsAreMapped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.analyzer.err = appraiser.ErrNotFound

	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: textMessage(7, "@ghostchannel")})

	assert.Equal(t, "❌ Канал не найден или закрыт.", f.api.lastText(t))
}

func TestMessagesWithoutHandleAreIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: textMessage(7, "привет, как дела?")})

	assert.Empty(t, f.analyzer.handles)
	assert.Empty(t, f.api.Sent())
}

func TestStartCommandShowsLimitAndPrice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: commandMessage(7, "/start")})

	text := f.api.lastText(t)
	assert.Contains(t, text, "Бесплатно: 3 проверок в день")
	assert.Contains(t, text, "299₽/мес")
}

func TestGiftCommandIsSingleUse(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	codes, err := f.gate.CreateGiftCodes(ctx, entitlement.System, 7, 1)
	require.NoError(t, err)

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(7, "/gift "+strings.ToLower(codes[0].Code))})
	assert.Equal(t, "🎁 Подарок активирован! Безлимит активен до 08.03.2024", f.api.lastText(t))

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(8, "/gift "+codes[0].Code)})
	assert.Equal(t, "❌ Этот код уже использован.", f.api.lastText(t))

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(8, "/gift NOPE")})
	assert.Equal(t, "❌ Код не найден.", f.api.lastText(t))

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(8, "/gift")})
	assert.Equal(t, "Использование: /gift КОД", f.api.lastText(t))
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	_, _, err := f.repo.ConsumeDailyQuota(ctx, 7, appraiser.Day(testNow), 3)
	require.NoError(t, err)

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(7, "/status")})
	assert.Equal(t, "🆓 Сегодня использовано 1 из 3 бесплатных проверок", f.api.lastText(t))

	_, err = f.gate.GrantPurchase(ctx, 7)
	require.NoError(t, err)
	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(7, "/status")})
	assert.Equal(t, "⭐ Безлимит активен до 31.03.2024", f.api.lastText(t))
}

func TestAdminCommandsRequirePrivilege(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	for _, cmd := range []string{"/grant 7 10", "/newgift 7", "/stats"} {
		f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(7, cmd)})
		assert.Equal(t, "⛔ Команда доступна только администратору.", f.api.lastText(t), cmd)
	}
	_, found, err := f.repo.GetSubscription(ctx, 7)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAdminGrantAndNewGift(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(adminID, "/grant 7 10")})
	assert.Equal(t, "✅ Пользователю 7: Безлимит активен до 11.03.2024", f.api.lastText(t))

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(adminID, "/grant 7 zero")})
	assert.Contains(t, f.api.lastText(t), "положительным")

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(adminID, "/newgift 14 2")})
	text := f.api.lastText(t)
	assert.Equal(t, 2, strings.Count(text, "GIFT-"))
	assert.Contains(t, text, "на 14 дн.")

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: commandMessage(adminID, "/stats")})
	text = f.api.lastText(t)
	assert.Contains(t, text, "Активных подписок: 1")
	assert.Contains(t, text, "Неиспользованных подарочных кодов: 2")
}

func TestBuyWithoutProviderToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	update := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 7},
		Message: textMessage(7, "quota"),
		Data:    callbackBuy,
	}}
	f.bot.HandleUpdate(context.Background(), update)

	assert.Equal(t, "💳 Оплата скоро будет доступна!", f.api.lastText(t))
	require.Len(t, f.api.requests, 1)
	answer, ok := f.api.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb-1", answer.CallbackQueryID)
}

func TestBuySendsInvoice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{ProviderToken: "provider"})
	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: commandMessage(7, "/buy")})

	sent := f.api.Sent()
	require.Len(t, sent, 1)
	invoice, ok := sent[0].(tgbotapi.InvoiceConfig)
	require.True(t, ok)
	assert.Equal(t, invoicePayload, invoice.Payload)
	assert.Equal(t, "RUB", invoice.Currency)
	require.Len(t, invoice.Prices, 1)
	assert.Equal(t, 29900, invoice.Prices[0].Amount)
}

func TestMonitorCallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	update := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-2",
		From:    &tgbotapi.User{ID: 7},
		Message: textMessage(7, "report"),
		Data:    "monitor_durov",
	}}
	f.bot.HandleUpdate(context.Background(), update)

	assert.Equal(t, "🔔 Мониторинг @durov — в платной версии!", f.api.lastText(t))
}

func TestPreCheckoutValidatesPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{ProviderToken: "provider"})
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{
		ID: "pc-1", From: &tgbotapi.User{ID: 7}, Currency: "RUB", TotalAmount: 29900, InvoicePayload: invoicePayload,
	}})
	f.bot.HandleUpdate(ctx, tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{
		ID: "pc-2", From: &tgbotapi.User{ID: 7}, Currency: "RUB", TotalAmount: 100, InvoicePayload: "other",
	}})

	require.Len(t, f.api.requests, 2)
	first := f.api.requests[0].(tgbotapi.PreCheckoutConfig)
	assert.True(t, first.OK)
	second := f.api.requests[1].(tgbotapi.PreCheckoutConfig)
	assert.False(t, second.OK)
	assert.NotEmpty(t, second.ErrorMessage)
}

func TestSuccessfulPaymentGrantsSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{ProviderToken: "provider"})
	ctx := context.Background()
	msg := textMessage(7, "")
	msg.SuccessfulPayment = &tgbotapi.SuccessfulPayment{
		Currency:                "RUB",
		TotalAmount:             29900,
		InvoicePayload:          invoicePayload,
		TelegramPaymentChargeID: "charge-1",
	}

	f.bot.HandleUpdate(ctx, tgbotapi.Update{Message: msg})

	assert.Equal(t, "✅ Оплата получена! Безлимит активен до 31.03.2024", f.api.lastText(t))
	sub, found, err := f.repo.GetSubscription(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, sub.Active(testNow))
}

func TestRunDrainsUpdatesUntilClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Workers: 2})
	f.api.updates <- tgbotapi.Update{Message: commandMessage(7, "/start")}
	f.api.updates <- tgbotapi.Update{Message: commandMessage(8, "/status")}
	close(f.api.updates)

	require.NoError(t, f.bot.Run(context.Background()))
	assert.Len(t, f.api.Sent(), 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
