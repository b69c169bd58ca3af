package models

import "time"

// Payment rails.
const (
	MethodCrypto = "crypto"
	MethodBank   = "bank"
	MethodStars  = "star"
)

// PurchaseIntent is the short-lived "buyer picked a package and a payment
// method, we are waiting for a quantity" state. Keyed by chat; a new intent
// replaces the previous one.
type PurchaseIntent struct {
	ChatID      int64     `json:"chat_id"`
	PackageCode string    `json:"package_code"`
	PackageName string    `json:"package_name"`
	Price       int64     `json:"price"`
	RetailPrice int64     `json:"retail_price"`
	Duration    int       `json:"duration"`
	Method      string    `json:"method"`
	CreatedAt   time.Time `json:"created_at"`
}

// Daily reports whether the package is a per-day plan. For those the buyer
// quantity becomes the period count of a single profile instead of a
// profile count.
func (i PurchaseIntent) Daily() bool { return i.Duration == 1 }

// PendingPayment is the durable record written after an invoice has been
// issued and consumed exactly once when a confirmation arrives. It carries
// everything fulfillment needs so a confirmation is self-contained.
type PendingPayment struct {
	ChatID      int64     `json:"chat_id"`
	UserID      string    `json:"user_id"`
	PackageCode string    `json:"package_code"`
	PackageName string    `json:"package_name"`
	Method      string    `json:"method"`
	Count       int       `json:"count"`
	PeriodNum   int       `json:"period_num,omitempty"`
	Price       int64     `json:"price"`
	RetailPrice int64     `json:"retail_price"`
	InvoiceID   int64     `json:"invoice_id,omitempty"`
	PayURL      string    `json:"pay_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Total is the wholesale amount the merchant pays the provider, in the
// provider's 1/10000 USD units.
func (p PendingPayment) Total() int64 {
	count := p.Count
	if count < 1 {
		count = 1
	}
	periods := p.PeriodNum
	if periods < 1 {
		periods = 1
	}
	return p.Price * int64(count) * int64(periods)
}

// RetailTotal is what the buyer is charged, in 1/10000 USD units.
func (p PendingPayment) RetailTotal() int64 {
	count := p.Count
	if count < 1 {
		count = 1
	}
	periods := p.PeriodNum
	if periods < 1 {
		periods = 1
	}
	return p.RetailPrice * int64(count) * int64(periods)
}
