package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"esimstore/internal/models"
	"esimstore/internal/payments"
	"esimstore/internal/repositories"
	"esimstore/internal/services"
)

const maxQuantity = 10

func (b *Bot) handlePackageChosen(chatID int64, packageCode string) {
	pkg, err := b.Catalog.Find(packageCode)
	if err != nil {
		b.sendText(chatID, "This plan is no longer available.", backKeyboard())
		return
	}

	text := fmt.Sprintf("<b>%s</b>\n\n📶 %s for %s\n💵 %s\n\nHow would you like to pay?",
		packageTitle(pkg), fmtVolume(pkg.Volume), fmtDuration(pkg.Duration, pkg.DurationUnit), fmtUSD(pkg.RetailPrice))

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💎 Crypto", "pay:"+models.MethodCrypto+":"+pkg.PackageCode),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Bank card", "pay:"+models.MethodBank+":"+pkg.PackageCode),
			tgbotapi.NewInlineKeyboardButtonData("⭐ Stars", "pay:"+models.MethodStars+":"+pkg.PackageCode),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "nav_buy"),
		),
	)
	b.sendText(chatID, text, keyboard)
}

// handlePayMethod parses "method:packageCode" and opens the quantity prompt.
func (b *Bot) handlePayMethod(ctx context.Context, chatID int64, data string) {
	method, packageCode, ok := strings.Cut(data, ":")
	if !ok {
		return
	}
	pkg, err := b.Catalog.Find(packageCode)
	if err != nil {
		b.sendText(chatID, "This plan is no longer available.", backKeyboard())
		return
	}

	intent := models.PurchaseIntent{
		ChatID:      chatID,
		PackageCode: pkg.PackageCode,
		PackageName: packageTitle(pkg),
		Price:       pkg.Price,
		RetailPrice: pkg.RetailPrice,
		Duration:    pkg.Duration,
		Method:      method,
	}
	if err := b.Purchases.StartIntent(ctx, intent); err != nil {
		b.ErrorLog.Printf("start intent for chat %d: %v", chatID, err)
		b.sendText(chatID, "Something went wrong, try again.", backKeyboard())
		return
	}

	prompt := fmt.Sprintf("How many eSIMs do you need? Send a number from 1 to %d.", maxQuantity)
	if intent.Daily() {
		prompt = fmt.Sprintf("This is a per-day plan. How many days do you need? Send a number from 1 to %d.", maxQuantity)
	}
	b.sendText(chatID, prompt, nil)
}

// handleQuantity resolves a numeric reply against the stored intent. Returns
// false when no purchase is waiting for a quantity, so the message falls
// through to the assistant.
func (b *Bot) handleQuantity(ctx context.Context, chatID int64, qty int) bool {
	intent, err := b.Purchases.TakeIntent(ctx, chatID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false
		}
		b.ErrorLog.Printf("take intent for chat %d: %v", chatID, err)
		return false
	}

	if qty < 1 || qty > maxQuantity {
		// Intent is consumed, restart the flow instead of looping.
		b.sendText(chatID, fmt.Sprintf("Quantity must be between 1 and %d. Pick the plan again.", maxQuantity), backKeyboard())
		return true
	}

	switch intent.Method {
	case models.MethodCrypto:
		b.beginCrypto(ctx, chatID, intent, qty)
	case models.MethodBank:
		b.beginBank(ctx, chatID, intent, qty)
	case models.MethodStars:
		b.beginStars(ctx, chatID, intent, qty)
	default:
		b.ErrorLog.Printf("unknown payment method %q for chat %d", intent.Method, chatID)
	}
	return true
}

func (b *Bot) beginCrypto(ctx context.Context, chatID int64, intent models.PurchaseIntent, qty int) {
	p, err := b.Purchases.BeginCrypto(ctx, intent, qty)
	if err != nil {
		b.ErrorLog.Printf("crypto invoice for chat %d: %v", chatID, err)
		b.sendText(chatID, "Could not create the invoice, try again later.", backKeyboard())
		return
	}

	text := fmt.Sprintf("Invoice for <b>%s</b>: %s\n\nPay with USDT, TON, BTC or ETH, then press the button below. The invoice expires in 30 minutes.",
		p.PackageName, fmtUSD(p.RetailTotal()))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("💎 Pay", p.PayURL),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ I've paid", fmt.Sprintf("paycheck:%d", p.InvoiceID)),
		),
	)
	b.sendText(chatID, text, keyboard)
}

func (b *Bot) beginBank(ctx context.Context, chatID int64, intent models.PurchaseIntent, qty int) {
	p, err := b.Purchases.BeginTelegram(ctx, intent, qty)
	if err != nil {
		b.ErrorLog.Printf("bank invoice for chat %d: %v", chatID, err)
		b.sendText(chatID, "Could not create the invoice, try again later.", backKeyboard())
		return
	}

	amountRUB := p.RetailTotal() * b.Cfg.RubPerUSD / 10000
	if amountRUB < 1 {
		amountRUB = 1
	}
	inv := payments.BankInvoice(chatID, b.Cfg.ProviderToken, p, amountRUB)
	if _, err := b.API.Send(inv); err != nil {
		b.ErrorLog.Printf("send bank invoice to %d: %v", chatID, err)
		b.sendText(chatID, "Could not send the invoice, try again later.", backKeyboard())
	}
}

func (b *Bot) beginStars(ctx context.Context, chatID int64, intent models.PurchaseIntent, qty int) {
	p, err := b.Purchases.BeginTelegram(ctx, intent, qty)
	if err != nil {
		b.ErrorLog.Printf("stars invoice for chat %d: %v", chatID, err)
		b.sendText(chatID, "Could not create the invoice, try again later.", backKeyboard())
		return
	}

	amountStars := p.RetailTotal() * b.Cfg.StarsPerUSD / 10000
	if amountStars < 1 {
		amountStars = 1
	}
	inv := payments.StarsInvoice(chatID, p, amountStars)
	if _, err := b.API.Send(inv); err != nil {
		b.ErrorLog.Printf("send stars invoice to %d: %v", chatID, err)
		b.sendText(chatID, "Could not send the invoice, try again later.", backKeyboard())
	}
}

// handlePayCheck runs when the buyer presses "I've paid" on a crypto invoice.
func (b *Bot) handlePayCheck(ctx context.Context, chatID, invoiceID int64) {
	res, err := b.Purchases.ConfirmCrypto(ctx, chatID, invoiceID)
	if err != nil {
		b.reportFulfillError(chatID, err)
		return
	}
	b.deliver(chatID, res)
}

func (b *Bot) handlePreCheckout(pq *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: pq.ID,
		OK:                 true,
	}
	if _, err := b.API.Request(answer); err != nil {
		b.ErrorLog.Printf("answer pre-checkout %s: %v", pq.ID, err)
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	sp := msg.SuccessfulPayment
	res, err := b.Purchases.ConfirmTelegram(ctx, msg.Chat.ID, sp.TelegramPaymentChargeID, sp.InvoicePayload)
	if err != nil {
		b.reportFulfillError(msg.Chat.ID, err)
		return
	}
	b.deliver(msg.Chat.ID, res)
}

// deliver sends the allocated QR codes to the buyer.
func (b *Bot) deliver(chatID int64, res services.FulfillResult) {
	b.sendText(chatID, "🎉 Payment received! Here is your eSIM:", nil)

	for _, prof := range res.Profiles {
		caption := fmt.Sprintf("ICCID: %s\n\nScan the QR code: Settings → Cellular → Add eSIM. The plan starts when the eSIM first connects to a network.", prof.ICCID)
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(prof.QRCodeURL))
		photo.Caption = caption
		if _, err := b.API.Send(photo); err != nil {
			b.ErrorLog.Printf("send qr for %s to %d: %v", prof.ICCID, chatID, err)
			// Fall back to the raw link so the buyer still gets the profile.
			b.sendText(chatID, caption+"\n"+prof.QRCodeURL, nil)
		}
	}

	b.sendText(chatID, "Manage your eSIMs any time with /esims.", mainMenuKeyboard(b.Cfg))
}

func (b *Bot) reportFulfillError(chatID int64, err error) {
	var persistErr *services.PersistenceError
	switch {
	case errors.Is(err, models.ErrPaymentPending):
		b.sendText(chatID, "The invoice is not paid yet. Complete the payment and press the button again.", nil)
	case errors.Is(err, models.ErrInvoiceExpired):
		b.sendText(chatID, "This invoice has expired. Pick the plan again to get a new one.", backKeyboard())
	case errors.Is(err, models.ErrNoPendingPayment):
		b.sendText(chatID, "This payment was already processed or the purchase was restarted. Check /esims.", backKeyboard())
	case errors.Is(err, models.ErrInsufficientBalance):
		b.ErrorLog.Printf("fulfillment for chat %d: %v", chatID, err)
		b.notifyOperator(fmt.Sprintf("⚠️ Provider balance too low to fulfill a paid order for chat %d", chatID))
		b.sendText(chatID, "We received your payment but hit a provisioning issue. Support has been notified and will deliver your eSIM shortly.", nil)
	case errors.Is(err, models.ErrAllocationTimeout):
		b.ErrorLog.Printf("fulfillment for chat %d: %v", chatID, err)
		b.notifyOperator(fmt.Sprintf("⚠️ Allocation timed out for chat %d: %v", chatID, err))
		b.sendText(chatID, "The provider is taking longer than usual. Your eSIM will arrive soon, no action needed.", nil)
	case errors.As(err, &persistErr):
		b.ErrorLog.Printf("fulfillment for chat %d: %v", chatID, err)
		b.notifyOperator(fmt.Sprintf("⚠️ Order %s was provisioned but not saved: %v", persistErr.OrderNo, persistErr.Err))
		b.sendText(chatID, "Your eSIM is ready but we hit a hiccup saving it. Support has been notified and will send it over.", nil)
	default:
		b.ErrorLog.Printf("fulfillment for chat %d: %v", chatID, err)
		b.notifyOperator(fmt.Sprintf("⚠️ Fulfillment failed for chat %d: %v", chatID, err))
		b.sendText(chatID, "We received your payment but could not deliver the eSIM automatically. Support has been notified.", nil)
	}
}
