// Package botapi resolves channel metadata through the Telegram Bot API.
package botapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/metrics"
)

const (
	chatTarget    = "get_chat"
	membersTarget = "member_count"
)

// ChatAPI is the subset of *tgbotapi.BotAPI used for lookups.
type ChatAPI interface {
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMembersCount(config tgbotapi.ChatMemberCountConfig) (int, error)
}

// Fetcher implements appraiser.MetadataFetcher.
type Fetcher struct {
	api     ChatAPI
	timeout time.Duration
	logger  *zap.Logger
}

// New wraps api. Every call is bounded by timeout.
func New(api ChatAPI, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{api: api, timeout: timeout, logger: logger}
}

// NewBotAPI builds a Bot API client whose HTTP calls share timeout. endpoint
// may be empty for the public API.
func NewBotAPI(token, endpoint string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: timeout}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect bot api: %w", err)
	}
	return bot, nil
}

// Fetch resolves the chat and then its member count.
func (f *Fetcher) Fetch(ctx context.Context, handle string) (appraiser.ChannelInfo, error) {
	chatCfg := tgbotapi.ChatConfig{SuperGroupUsername: "@" + handle}

	chat, err := call(ctx, f.timeout, chatTarget, func() (tgbotapi.Chat, error) {
		return f.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: chatCfg})
	})
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && !retryable(apiErr) {
			f.logger.Info("chat lookup rejected",
				zap.String("handle", handle),
				zap.Int("code", apiErr.Code),
				zap.String("message", apiErr.Message),
			)
			return appraiser.ChannelInfo{}, fmt.Errorf("resolve @%s: %w", handle, appraiser.ErrNotFound)
		}
		return appraiser.ChannelInfo{}, appraiser.NewTransientFetchError(chatTarget, err)
	}

	info := appraiser.ChannelInfo{
		Handle:      handle,
		Title:       chat.Title,
		Description: chat.Description,
		Type:        appraiser.ChannelType(chat.Type),
	}
	if info.Title == "" {
		info.Title = handle
	}
	if !info.Type.Analyzable() {
		return appraiser.ChannelInfo{}, fmt.Errorf("resolve @%s (%s): %w", handle, chat.Type, appraiser.ErrUnsupportedType)
	}

	count, err := call(ctx, f.timeout, membersTarget, func() (int, error) {
		return f.api.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{ChatConfig: chatCfg})
	})
	if err != nil {
		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || retryable(apiErr) {
			return appraiser.ChannelInfo{}, appraiser.NewTransientFetchError(membersTarget, err)
		}
		f.logger.Warn("member count unavailable",
			zap.String("handle", handle),
			zap.Int("code", apiErr.Code),
			zap.String("message", apiErr.Message),
		)
		count = 0
	}
	info.MemberCount = int64(count)
	return info, nil
}

func retryable(err *tgbotapi.Error) bool {
	return err.Code == http.StatusTooManyRequests || err.Code >= http.StatusInternalServerError
}

// call runs fn on its own goroutine so ctx and timeout bound the wait even
// though the Bot API client takes no context.
func call[T any](ctx context.Context, timeout time.Duration, target string, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		metrics.ObserveFetch(target, "timeout", time.Since(start))
		var zero T
		return zero, fmt.Errorf("%s: %w", target, ctx.Err())
	case r := <-done:
		status := "ok"
		if r.err != nil {
			status = "error"
		}
		metrics.ObserveFetch(target, status, time.Since(start))
		return r.val, r.err
	}
}
