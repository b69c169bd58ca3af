package payments

import (
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"esimstore/internal/models"
)

// Native Telegram invoices for the bank-card and Stars rails. Both produce
// the same one-shot confirmation: a SuccessfulPayment message carrying the
// Telegram charge ID.

// BankInvoice builds a card invoice in RUB. Russian acquirers require a
// fiscal receipt, passed as provider_data. amountRUB is in whole rubles.
func BankInvoice(chatID int64, providerToken string, p models.PendingPayment, amountRUB int64) tgbotapi.InvoiceConfig {
	title := fmt.Sprintf("eSIM %s", p.PackageName)
	desc := invoiceDescription(p)

	receipt, _ := json.Marshal(map[string]any{
		"receipt": map[string]any{
			"items": []map[string]any{{
				"description": title,
				"quantity":    "1.00",
				"amount": map[string]any{
					"value":    fmt.Sprintf("%d.00", amountRUB),
					"currency": "RUB",
				},
				"vat_code": 1,
			}},
		},
	})

	inv := tgbotapi.NewInvoice(chatID, title, desc, InvoicePayload(p),
		providerToken, "", "RUB",
		[]tgbotapi.LabeledPrice{{Label: title, Amount: int(amountRUB * 100)}})
	inv.ProviderData = string(receipt)
	inv.NeedEmail = true
	inv.SendEmailToProvider = true
	return inv
}

// StarsInvoice builds a Telegram Stars invoice: currency XTR, no provider
// token, amount is a whole number of stars.
func StarsInvoice(chatID int64, p models.PendingPayment, amountStars int64) tgbotapi.InvoiceConfig {
	title := fmt.Sprintf("eSIM %s", p.PackageName)
	return tgbotapi.NewInvoice(chatID, title, invoiceDescription(p), InvoicePayload(p),
		"", "", "XTR",
		[]tgbotapi.LabeledPrice{{Label: title, Amount: int(amountStars)}})
}

func invoiceDescription(p models.PendingPayment) string {
	if p.PeriodNum > 1 {
		return fmt.Sprintf("%s, %d days", p.PackageName, p.PeriodNum)
	}
	if p.Count > 1 {
		return fmt.Sprintf("%s x%d", p.PackageName, p.Count)
	}
	return p.PackageName
}

// InvoicePayload ties an invoice to the chat and package it was issued for.
// Confirmation handlers compare the payload echoed back by the provider
// against the record they are about to consume.
func InvoicePayload(p models.PendingPayment) string {
	return fmt.Sprintf("esim:%s:%d", p.PackageCode, p.ChatID)
}
