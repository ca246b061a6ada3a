package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.replyHTML(chatID, b.helpText())
	case "buy":
		b.sendPurchaseOffer(ctx, chatID)
	case "gift":
		b.redeem(ctx, chatID, userID, args)
	case "status":
		b.status(ctx, chatID, userID)
	case "grant":
		b.adminOnly(chatID, userID, func() { b.grant(ctx, chatID, userID, args) })
	case "newgift":
		b.adminOnly(chatID, userID, func() { b.newGift(ctx, chatID, userID, args) })
	case "stats":
		b.adminOnly(chatID, userID, func() { b.stats(ctx, chatID, userID) })
	}
}

func (b *Bot) adminOnly(chatID, userID int64, fn func()) {
	if !b.gate.IsPrivileged(userID) {
		b.logger.Info("admin command refused", zap.Int64("user_id", userID))
		b.reply(chatID, "⛔ Команда доступна только администратору.")
		return
	}
	fn()
}

func (b *Bot) redeem(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Использование: /gift КОД")
		return
	}
	exp, err := b.gate.RedeemGift(ctx, userID, args[0])
	switch {
	case errors.Is(err, appraiser.ErrGiftCodeInvalid):
		b.reply(chatID, "❌ Код не найден.")
	case errors.Is(err, appraiser.ErrGiftCodeAlreadyUsed):
		b.reply(chatID, "❌ Этот код уже использован.")
	case err != nil:
		b.logger.Error("redeem gift failed", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(chatID, "❌ Не удалось активировать код. Попробуйте позже.")
	default:
		b.reply(chatID, premiumUntil("🎁 Подарок активирован!", exp))
	}
}

func (b *Bot) status(ctx context.Context, chatID, userID int64) {
	d, err := b.gate.Status(ctx, userID)
	if err != nil {
		b.logger.Error("load status failed", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(chatID, "❌ Не удалось получить статус. Попробуйте позже.")
		return
	}
	b.reply(chatID, statusText(d))
}

func (b *Bot) grant(ctx context.Context, chatID, principal int64, args []string) {
	if len(args) != 2 {
		b.reply(chatID, "Использование: /grant USER_ID ДНЕЙ")
		return
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || target <= 0 {
		b.reply(chatID, "❌ Неверный USER_ID.")
		return
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days <= 0 {
		b.reply(chatID, "❌ Количество дней должно быть положительным числом.")
		return
	}
	exp, err := b.gate.AdminGrant(ctx, principal, target, days)
	if err != nil {
		b.logger.Error("admin grant failed", zap.Int64("user_id", target), zap.Error(err))
		b.reply(chatID, "❌ Не удалось выдать подписку.")
		return
	}
	b.reply(chatID, premiumUntil("✅ Пользователю "+args[0]+":", exp))
}

func (b *Bot) newGift(ctx context.Context, chatID, principal int64, args []string) {
	if len(args) < 1 || len(args) > 2 {
		b.reply(chatID, "Использование: /newgift ДНЕЙ [КОЛИЧЕСТВО]")
		return
	}
	days, err := strconv.Atoi(args[0])
	if err != nil || days <= 0 {
		b.reply(chatID, "❌ Количество дней должно быть положительным числом.")
		return
	}
	count := 1
	if len(args) == 2 {
		count, err = strconv.Atoi(args[1])
		if err != nil || count <= 0 {
			b.reply(chatID, "❌ Количество кодов должно быть положительным числом.")
			return
		}
	}
	codes, err := b.gate.CreateGiftCodes(ctx, principal, days, count)
	if err != nil {
		b.logger.Error("create gift codes failed", zap.Error(err))
		b.reply(chatID, "❌ Не удалось создать коды: "+err.Error())
		return
	}
	b.replyHTML(chatID, formatGiftCodes(codes))
}

func (b *Bot) stats(ctx context.Context, chatID, principal int64) {
	s, err := b.gate.Stats(ctx, principal)
	if err != nil {
		b.logger.Error("load stats failed", zap.Error(err))
		b.reply(chatID, "❌ Не удалось получить статистику.")
		return
	}
	b.reply(chatID, formatStats(s))
}
