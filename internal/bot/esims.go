package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"esimstore/internal/models"
)

func (b *Bot) handleMyEsims(ctx context.Context, chatID int64) {
	orders, err := b.Esims.MyEsims(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		b.ErrorLog.Printf("my esims for chat %d: %v", chatID, err)
		b.sendText(chatID, "Could not load your eSIMs, try again later.", backKeyboard())
		return
	}
	if len(orders) == 0 {
		b.sendText(chatID, "You don't have any eSIMs yet. Grab your first plan below!", mainMenuKeyboard(b.Cfg))
		return
	}

	for _, ord := range orders {
		b.sendEsimCard(chatID, ord)
	}
}

// sendEsimCard sends one eSIM with only the actions its state allows.
func (b *Bot) sendEsimCard(chatID int64, ord models.Order) {
	label := models.StatusLabel(ord.SmdpStatus, ord.EsimStatus)

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n", ord.PackageName)
	fmt.Fprintf(&sb, "ICCID: <code>%s</code>\n", ord.ICCID)
	fmt.Fprintf(&sb, "Status: %s %s\n", statusEmoji(label), label)
	if ord.TotalVolume > 0 {
		fmt.Fprintf(&sb, "Data: %s of %s used\n", fmtVolume(ord.OrderUsage), fmtVolume(ord.TotalVolume))
	}
	if ord.ExpiredTime != "" {
		fmt.Fprintf(&sb, "Expires: %s\n", ord.ExpiredTime)
	}

	var actions []tgbotapi.InlineKeyboardButton
	if models.CanCancel(ord.SmdpStatus, ord.EsimStatus) {
		actions = append(actions, tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "esim_cancel:"+ord.ICCID))
	}
	if models.CanTopup(ord.SmdpStatus, ord.EsimStatus) {
		actions = append(actions, tgbotapi.NewInlineKeyboardButtonData("➕ Top up", "esim_topups:"+ord.ICCID))
	}
	if models.HasUsage(ord.SmdpStatus, ord.EsimStatus) {
		actions = append(actions, tgbotapi.NewInlineKeyboardButtonData("📊 Usage", "esim_usage:"+ord.ICCID))
	}

	rows := [][]tgbotapi.InlineKeyboardButton{}
	if len(actions) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(actions...))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🗑 Remove from list", "esim_remove:"+ord.ICCID),
	))

	b.sendText(chatID, sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func statusEmoji(label string) string {
	switch label {
	case models.LabelNew:
		return "🆕"
	case models.LabelOnboard:
		return "📲"
	case models.LabelInUse:
		return "🟢"
	case models.LabelDepleted:
		return "🔴"
	case models.LabelDeleted:
		return "⚫"
	}
	return "❔"
}

func (b *Bot) handleCancel(ctx context.Context, chatID int64, iccid string) {
	err := b.Esims.Cancel(ctx, strconv.FormatInt(chatID, 10), iccid)
	if err != nil {
		b.sendText(chatID, esimErrText(err), nil)
		if !isEsimUserError(err) {
			b.ErrorLog.Printf("cancel %s for chat %d: %v", iccid, chatID, err)
		}
		return
	}
	b.sendText(chatID, "✅ The eSIM was canceled and the cost refunded to the store balance.", nil)
}

func (b *Bot) handleTopupOptions(ctx context.Context, chatID int64, iccid string) {
	pkgs, err := b.Esims.TopupOptions(ctx, strconv.FormatInt(chatID, 10), iccid)
	if err != nil {
		b.sendText(chatID, esimErrText(err), nil)
		if !isEsimUserError(err) {
			b.ErrorLog.Printf("topup options %s for chat %d: %v", iccid, chatID, err)
		}
		return
	}
	if len(pkgs) == 0 {
		b.sendText(chatID, "No top-up plans are available for this eSIM.", nil)
		return
	}
	if len(pkgs) > 10 {
		pkgs = pkgs[:10]
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, pkg := range pkgs {
		label := fmt.Sprintf("%s · %s · %s", fmtVolume(pkg.Volume), fmtDuration(pkg.Duration, pkg.DurationUnit), fmtUSD(pkg.RetailPrice))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("topup:%s:%s:%d", iccid, pkg.PackageCode, pkg.Price)),
		))
	}
	b.sendText(chatID, "Choose a top-up plan:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

// handleTopup parses "iccid:packageCode:price" from the option button.
func (b *Bot) handleTopup(ctx context.Context, chatID int64, data string) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return
	}
	iccid, packageCode := parts[0], parts[1]
	price, _ := strconv.ParseInt(parts[2], 10, 64)

	err := b.Esims.TopUp(ctx, strconv.FormatInt(chatID, 10), iccid, packageCode, price)
	if err != nil {
		b.sendText(chatID, esimErrText(err), nil)
		if !isEsimUserError(err) {
			b.ErrorLog.Printf("topup %s for chat %d: %v", iccid, chatID, err)
		}
		return
	}
	b.sendText(chatID, "✅ Top-up applied. The extra data will show up within a few minutes.", nil)
}

func (b *Bot) handleUsage(ctx context.Context, chatID int64, iccid string) {
	ord, err := b.Esims.RefreshUsage(ctx, strconv.FormatInt(chatID, 10), iccid)
	if err != nil {
		b.sendText(chatID, esimErrText(err), nil)
		if !isEsimUserError(err) {
			b.ErrorLog.Printf("usage %s for chat %d: %v", iccid, chatID, err)
		}
		return
	}
	b.sendText(chatID, fmt.Sprintf("📊 %s used of %s.", fmtVolume(ord.OrderUsage), fmtVolume(ord.TotalVolume)), nil)
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, iccid string) {
	if err := b.Esims.Remove(ctx, strconv.FormatInt(chatID, 10), iccid); err != nil {
		b.sendText(chatID, esimErrText(err), nil)
		if !isEsimUserError(err) {
			b.ErrorLog.Printf("remove %s for chat %d: %v", iccid, chatID, err)
		}
		return
	}
	b.sendText(chatID, "🗑 Removed from your list.", nil)
}

// isEsimUserError separates expected state rejections from real failures.
func isEsimUserError(err error) bool {
	return errors.Is(err, models.ErrOrderNotFound) ||
		errors.Is(err, models.ErrNotCancelable) ||
		errors.Is(err, models.ErrTopupNotAllowed) ||
		errors.Is(err, models.ErrTopupNotActivated) ||
		errors.Is(err, models.ErrUsageNotReady)
}

func esimErrText(err error) string {
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return "This eSIM is not in your list anymore."
	case errors.Is(err, models.ErrNotCancelable):
		return "Only never-installed eSIMs can be canceled. This one has already been installed."
	case errors.Is(err, models.ErrTopupNotAllowed):
		return "This eSIM can no longer be topped up."
	case errors.Is(err, models.ErrTopupNotActivated):
		return "The eSIM is not activated yet. Install it and connect to a network first, then top up."
	case errors.Is(err, models.ErrUsageNotReady):
		return "Usage is only tracked once the eSIM is in use."
	}
	return "Something went wrong, try again later."
}
