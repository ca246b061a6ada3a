package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/pricing"
)

const (
	separator  = "━━━━━━━━━━━━━━"
	dateLayout = "02.01.2006"

	callbackBuy     = "buy"
	callbackMonitor = "monitor_"
)

// FormatNumber renders counts the way the report shows them: 1.2M, 900K, 512.
func FormatNumber(n float64) string {
	switch {
	case n >= 1_000_000:
		return strconv.FormatFloat(n/1_000_000, 'f', 1, 64) + "M"
	case n >= 1000:
		return strconv.FormatFloat(n/1000, 'f', 0, 64) + "K"
	default:
		return strconv.FormatInt(int64(n), 10)
	}
}

// GroupThousands formats n with comma separators: 1801260 -> 1,801,260.
func GroupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func tierLabel(t appraiser.Tier) string {
	switch t {
	case appraiser.TierExcellent:
		return "🟢 Отличный"
	case appraiser.TierGood:
		return "🟡 Хороший"
	case appraiser.TierAverage:
		return "🟠 Средний"
	default:
		return "🔴 Низкий (возможна накрутка)"
	}
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}

// FormatReport renders a Report as an HTML message.
func FormatReport(r appraiser.Report) string {
	snap := r.Snapshot
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>@%s</b>\n", escape(r.DisplayHandle))
	if snap.Title != "" && snap.Title != r.DisplayHandle {
		fmt.Fprintf(&b, "%s\n", escape(snap.Title))
	}
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "👥 Подписчики: %s\n", FormatNumber(float64(snap.MemberCount)))

	if r.Partial {
		b.WriteString("👁 Охват недоступен: у канала нет публичных постов\n")
		b.WriteString(separator + "\n")
		return b.String()
	}

	fmt.Fprintf(&b, "👁 Средний охват: %s (%d постов)\n", FormatNumber(snap.AverageViews), snap.PostsSampled)
	fmt.Fprintf(&b, "📈 ER: %.1f%% — %s", snap.EngagementRate, tierLabel(r.Tier))
	if snap.PostsPerDay > 0 {
		fmt.Fprintf(&b, "\n📅 Частота: ~%.1f постов/день", snap.PostsPerDay)
	}
	b.WriteString("\n" + separator + "\n")
	b.WriteString("💰 <b>Справедливая цена поста:</b>\n")
	fmt.Fprintf(&b, "   ~%s ₽", GroupThousands(snap.FairPriceLocal))
	if snap.FairPriceUSD > 0 {
		fmt.Fprintf(&b, " (≈ $%s)", GroupThousands(int64(snap.FairPriceUSD)))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "   (CPM %d₽ × %s охват)\n", r.CPM, FormatNumber(snap.AverageViews))
	fmt.Fprintf(&b, "🏷 Ниша: %s\n", escape(snap.Niche))
	b.WriteString(separator + "\n")
	if snap.EngagementRate < pricing.AverageThreshold {
		b.WriteString("⚠️ <b>Внимание:</b> низкий ER — возможна накрутка\n")
	}
	return b.String()
}

// FormatError maps a pipeline error to a user-facing message.
func FormatError(err error) string {
	switch {
	case errors.Is(err, appraiser.ErrNotFound):
		return "❌ Канал не найден или закрыт."
	case errors.Is(err, appraiser.ErrUnsupportedType):
		return "❌ Поддерживаются только публичные каналы и супергруппы."
	case appraiser.IsTransient(err):
		return "❌ Telegram не ответил вовремя. Попробуйте ещё раз через минуту."
	default:
		return "❌ Ошибка при анализе. Попробуйте позже."
	}
}

func (b *Bot) quotaText() string {
	return fmt.Sprintf("⚠️ Бесплатный лимит исчерпан (%d/день).\nКупи безлимитный доступ!", b.gate.Limit())
}

func (b *Bot) buyLabel() string {
	return fmt.Sprintf("⚡ Купить безлимит — %d%s/мес", b.cfg.Price, currencySign(b.cfg.Currency))
}

func (b *Bot) helpText() string {
	return "👋 Привет! Я анализирую Telegram-каналы и показываю <b>справедливую цену рекламы</b>.\n\n" +
		"📊 Отправь @username канала — и я скажу:\n" +
		"• Реальный охват постов\n" +
		"• ER (вовлечённость аудитории)\n" +
		"• Справедливую цену рекламного поста\n" +
		"• Есть ли признаки накрутки\n\n" +
		fmt.Sprintf("🆓 Бесплатно: %d проверок в день\n", b.gate.Limit()) +
		fmt.Sprintf("⚡ Безлимит: %d%s/мес — /buy\n", b.cfg.Price, currencySign(b.cfg.Currency)) +
		"🎁 Есть подарочный код? /gift КОД\n" +
		"ℹ️ Статус подписки: /status\n\n" +
		"Попробуй: отправь @durov или любой другой канал 🦊"
}

func statusText(d appraiser.Decision) string {
	if d.Premium {
		return fmt.Sprintf("⭐ Безлимит активен до %s", d.ExpiresAt.Format(dateLayout))
	}
	return fmt.Sprintf("🆓 Сегодня использовано %d из %d бесплатных проверок", d.Used, d.Limit)
}

func premiumUntil(prefix string, exp time.Time) string {
	return fmt.Sprintf("%s Безлимит активен до %s", prefix, exp.Format(dateLayout))
}

func formatStats(s appraiser.Stats) string {
	return fmt.Sprintf("📈 Статистика\n"+
		"Каналов в кэше: %d\n"+
		"Активных подписок: %d\n"+
		"Проверок сегодня: %d\n"+
		"Неиспользованных подарочных кодов: %d",
		s.CachedChannels, s.ActiveSubscriptions, s.AnalysesToday, s.GiftCodesUnused)
}

func formatGiftCodes(codes []appraiser.GiftCode) string {
	var b strings.Builder
	if len(codes) > 0 {
		fmt.Fprintf(&b, "🎁 Коды на %d дн.:\n", codes[0].Days)
	}
	for _, c := range codes {
		fmt.Fprintf(&b, "<code>%s</code>\n", escape(c.Code))
	}
	return b.String()
}

func currencySign(currency string) string {
	if strings.EqualFold(currency, "RUB") {
		return "₽"
	}
	return " " + strings.ToUpper(currency)
}
