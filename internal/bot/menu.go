package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"esimstore/internal/esimaccess"
)

const startText = `<b>Welcome to the eSIM store</b> 🌍

• Data plans for 200+ countries, regional and global bundles.
• Instant delivery: the QR code arrives right in this chat.
• Pay with crypto, bank card or Telegram Stars.

Pick a section below to get started.`

const helpText = `<b>How it works</b>

1. Choose a destination and a plan.
2. Pick a payment method and the amount of eSIMs or days.
3. Scan the QR code we send you: Settings → Cellular → Add eSIM.

The plan activates when the eSIM first connects to a supported network. Ask me anything here and I'll try to help.`

const countriesPerPage = 18

func mainMenuKeyboard(cfg Config) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛒 Buy eSIM", "nav_buy"),
			tgbotapi.NewInlineKeyboardButtonData("📱 My eSIMs", "nav_esims"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❓ Help", "nav_help"),
		),
	}
	var extra []tgbotapi.InlineKeyboardButton
	if cfg.SupportBotURL != "" {
		extra = append(extra, tgbotapi.NewInlineKeyboardButtonURL("🆘 Support", cfg.SupportBotURL))
	}
	if cfg.NewsChannelURL != "" {
		extra = append(extra, tgbotapi.NewInlineKeyboardButtonURL("📣 News", cfg.NewsChannelURL))
	}
	if len(extra) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(extra...))
	}
	if cfg.WebAppURL != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("🖥 Open mini app", cfg.WebAppURL),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) sendMainMenu(chatID int64) {
	b.sendText(chatID, startText, mainMenuKeyboard(b.Cfg))
}

func (b *Bot) sendHelp(chatID int64) {
	b.sendText(chatID, helpText, backKeyboard())
}

func backKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back to menu", "nav_menu"),
		),
	)
}

func (b *Bot) sendScopeMenu(chatID int64) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🇺🇳 By country", "countries:0"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🌎 Regional", "scope_regional"),
			tgbotapi.NewInlineKeyboardButtonData("🌐 Global", "scope_global"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back to menu", "nav_menu"),
		),
	)
	b.sendText(chatID, "Where do you need data?", keyboard)
}

func (b *Bot) sendCountryPage(chatID int64, page int) {
	countries := b.Catalog.Countries()
	if len(countries) == 0 {
		b.sendText(chatID, "The catalog is being refreshed, try again in a minute.", backKeyboard())
		return
	}

	totalPages := (len(countries) + countriesPerPage - 1) / countriesPerPage
	if page < 0 {
		page = 0
	}
	if page >= totalPages {
		page = totalPages - 1
	}

	start := page * countriesPerPage
	end := start + countriesPerPage
	if end > len(countries) {
		end = len(countries)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, code := range countries[start:end] {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(flagEmoji(code)+" "+code, "country:"+code))
		if len(row) == 3 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️", fmt.Sprintf("countries:%d", page-1)))
	}
	nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d/%d", page+1, totalPages), "nav_buy"))
	if page < totalPages-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("➡️", fmt.Sprintf("countries:%d", page+1)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(nav...))
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back to menu", "nav_menu"),
	))

	b.sendText(chatID, "Choose a country:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) sendPackageList(chatID int64, title string, pkgs []esimaccess.PackageInfo) {
	if len(pkgs) == 0 {
		b.sendText(chatID, "No plans available here yet.", backKeyboard())
		return
	}
	if len(pkgs) > 10 {
		pkgs = pkgs[:10]
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, pkg := range pkgs {
		label := fmt.Sprintf("%s · %s · %s", packageTitle(pkg), fmtVolume(pkg.Volume), fmtUSD(pkg.RetailPrice))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "pkg:"+pkg.PackageCode),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "nav_buy"),
	))

	b.sendText(chatID, "<b>"+title+"</b>", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func packageTitle(pkg esimaccess.PackageInfo) string {
	if pkg.Name != "" {
		return pkg.Name
	}
	return pkg.PackageCode
}

// fmtUSD renders a provider price (1/10000 USD) for the buyer.
func fmtUSD(price int64) string {
	return fmt.Sprintf("$%.2f", float64(price)/10000)
}

func fmtVolume(bytes int64) string {
	const gb = 1 << 30
	const mb = 1 << 20
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.0fGB", float64(bytes)/gb)
	case bytes > 0:
		return fmt.Sprintf("%.0fMB", float64(bytes)/mb)
	default:
		return "unlimited"
	}
}

func fmtDuration(days int, unit string) string {
	if unit == "" {
		unit = "DAY"
	}
	unit = strings.ToLower(unit)
	if days == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", days, unit)
}

// flagEmoji builds the regional-indicator flag for a two-letter country code.
func flagEmoji(code string) string {
	if len(code) != 2 {
		return "🌐"
	}
	code = strings.ToUpper(code)
	return string(rune(0x1F1E6+int(code[0])-'A')) + string(rune(0x1F1E6+int(code[1])-'A'))
}
