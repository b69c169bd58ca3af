package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"esimstore/internal/esimaccess"
	"esimstore/internal/models"
	"esimstore/internal/payments"
)

// Provisioner is the slice of the provisioning API the services use.
type Provisioner interface {
	Balance(ctx context.Context) (int64, error)
	PlaceOrder(ctx context.Context, req esimaccess.OrderRequest) (string, error)
	QueryOrder(ctx context.Context, orderNo string) ([]esimaccess.Profile, error)
	QueryICCID(ctx context.Context, iccid string) (esimaccess.Profile, error)
	Cancel(ctx context.Context, iccid, esimTranNo string) error
	TopUp(ctx context.Context, req esimaccess.TopupRequest) error
	TopupPackages(ctx context.Context, iccid string) ([]esimaccess.PackageInfo, error)
	Packages(ctx context.Context, kind, locationCode string) ([]esimaccess.PackageInfo, error)
}

// OrderStore is the durable order record (MySQL in production).
type OrderStore interface {
	Upsert(ctx context.Context, o *models.Order) error
	ByUser(ctx context.Context, userID string) ([]models.Order, error)
	ByICCID(ctx context.Context, iccid string) (models.Order, error)
	ByOrderNo(ctx context.Context, orderNo string) ([]models.Order, error)
	DeletePlaceholder(ctx context.Context, orderNo string) error
	DeleteByICCID(ctx context.Context, userID, iccid string) error
	UpdateUsage(ctx context.Context, iccid string, usage int64, lastSync time.Time) error
}

// PendingPayments is the consume-once invoice record (Redis in production).
type PendingPayments interface {
	SaveIntent(ctx context.Context, intent models.PurchaseIntent) error
	TakeIntent(ctx context.Context, chatID int64) (models.PurchaseIntent, error)
	SavePending(ctx context.Context, p models.PendingPayment) error
	PeekPending(ctx context.Context, chatID int64) (models.PendingPayment, error)
	ConsumePending(ctx context.Context, chatID int64) (models.PendingPayment, error)
	ClearPending(ctx context.Context, chatID int64) error
}

// CryptoInvoicer is the Crypto Pay surface the orchestrator needs.
type CryptoInvoicer interface {
	CreateInvoice(ctx context.Context, amountUSD float64, description, payload string) (*payments.Invoice, error)
	InvoiceStatus(ctx context.Context, invoiceID int64) (payments.Status, error)
}

// QRMirror copies the provider QR image to storage we control.
type QRMirror interface {
	Mirror(ctx context.Context, srcURL, key string) (string, error)
}

// OrderEvent is pushed to the buyer's websocket stream while a purchase
// moves through its stages.
type OrderEvent struct {
	OrderNo string `json:"order_no,omitempty"`
	Stage   string `json:"stage"`
	Detail  string `json:"detail,omitempty"`
}

type EventPublisher interface {
	Publish(userID string, ev OrderEvent)
}

// PollPolicy bounds the allocation polling loop.
type PollPolicy struct {
	Interval time.Duration
	Ceiling  time.Duration
}

// DefaultPollPolicy matches the provider's usual allocation latency.
var DefaultPollPolicy = PollPolicy{Interval: 5 * time.Second, Ceiling: 30 * time.Second}

// PersistenceError means the buyer has paid and the provider has delivered,
// but the order record could not be written. It carries the order number so
// an operator can replay the persistence step.
type PersistenceError struct {
	OrderNo string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("order %s delivered but not persisted: %v", e.OrderNo, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PurchaseService drives a purchase from confirmed payment to persisted
// profiles: balance check, single order placement, allocation polling,
// durable write.
type PurchaseService struct {
	Provider Provisioner
	Orders   OrderStore
	Pending  PendingPayments
	Crypto   CryptoInvoicer
	Mirror   QRMirror       // optional
	Events   EventPublisher // optional
	Poll     PollPolicy

	// Overridable in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	InfoLog  *log.Logger
	ErrorLog *log.Logger
}

type FulfillResult struct {
	OrderNo  string
	Profiles []esimaccess.Profile
}

func (s *PurchaseService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *PurchaseService) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *PurchaseService) poll() PollPolicy {
	p := s.Poll
	if p.Interval <= 0 {
		p.Interval = DefaultPollPolicy.Interval
	}
	if p.Ceiling <= 0 {
		p.Ceiling = DefaultPollPolicy.Ceiling
	}
	return p
}

func (s *PurchaseService) publish(userID, orderNo, stage, detail string) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(userID, OrderEvent{OrderNo: orderNo, Stage: stage, Detail: detail})
}

// StartIntent begins a new flow for the chat: the quantity prompt becomes
// answerable and any previous invoice for this chat is invalidated.
func (s *PurchaseService) StartIntent(ctx context.Context, intent models.PurchaseIntent) error {
	intent.CreatedAt = s.now()
	return s.Pending.SaveIntent(ctx, intent)
}

// TakeIntent resolves the quantity answer back to the chosen package.
func (s *PurchaseService) TakeIntent(ctx context.Context, chatID int64) (models.PurchaseIntent, error) {
	return s.Pending.TakeIntent(ctx, chatID)
}

// pendingFromIntent applies the daily-plan rule: for per-day packages the
// quantity buys more days of one profile, otherwise it buys more profiles.
func pendingFromIntent(intent models.PurchaseIntent, qty int) models.PendingPayment {
	p := models.PendingPayment{
		ChatID:      intent.ChatID,
		UserID:      strconv.FormatInt(intent.ChatID, 10),
		PackageCode: intent.PackageCode,
		PackageName: intent.PackageName,
		Method:      intent.Method,
		Price:       intent.Price,
		RetailPrice: intent.RetailPrice,
	}
	if intent.Daily() {
		p.Count = 1
		p.PeriodNum = qty
	} else {
		p.Count = qty
	}
	return p
}

// BeginCrypto issues a Crypto Pay invoice for the intent and records the
// pending payment. Returns the record with InvoiceID and PayURL set.
func (s *PurchaseService) BeginCrypto(ctx context.Context, intent models.PurchaseIntent, qty int) (models.PendingPayment, error) {
	p := pendingFromIntent(intent, qty)
	amountUSD := float64(p.RetailTotal()) / 10000

	inv, err := s.Crypto.CreateInvoice(ctx, amountUSD, p.PackageName, payments.InvoicePayload(p))
	if err != nil {
		return models.PendingPayment{}, fmt.Errorf("create invoice: %w", err)
	}
	p.InvoiceID = inv.InvoiceID
	p.PayURL = inv.BotInvoiceURL
	p.CreatedAt = s.now()

	if err := s.Pending.SavePending(ctx, p); err != nil {
		return models.PendingPayment{}, err
	}
	s.publish(p.UserID, "", "awaiting_payment", p.PackageCode)
	return p, nil
}

// BeginTelegram records the pending payment for the native-invoice rails
// (bank card, Stars). The caller sends the invoice to the chat afterwards.
func (s *PurchaseService) BeginTelegram(ctx context.Context, intent models.PurchaseIntent, qty int) (models.PendingPayment, error) {
	p := pendingFromIntent(intent, qty)
	p.CreatedAt = s.now()
	if err := s.Pending.SavePending(ctx, p); err != nil {
		return models.PendingPayment{}, err
	}
	s.publish(p.UserID, "", "awaiting_payment", p.PackageCode)
	return p, nil
}

// ConfirmCrypto handles the buyer's "I've paid" press. The invoice status
// is checked first; only a paid invoice consumes the pending record.
func (s *PurchaseService) ConfirmCrypto(ctx context.Context, chatID, invoiceID int64) (FulfillResult, error) {
	status, err := s.Crypto.InvoiceStatus(ctx, invoiceID)
	if err != nil {
		return FulfillResult{}, fmt.Errorf("check invoice: %w", err)
	}
	switch status {
	case payments.StatusPending:
		return FulfillResult{}, models.ErrPaymentPending
	case payments.StatusExpired:
		if err := s.Pending.ClearPending(ctx, chatID); err != nil {
			s.errorf("clear expired pending payment for chat %d: %v", chatID, err)
		}
		return FulfillResult{}, models.ErrInvoiceExpired
	}

	// Paid invoice from an abandoned flow: the active pending record belongs
	// to a newer invoice. Peek first so that record is never consumed.
	p, err := s.Pending.PeekPending(ctx, chatID)
	if err != nil {
		// Includes the duplicate-confirmation case: nothing left to consume.
		return FulfillResult{}, err
	}
	if p.InvoiceID != invoiceID {
		return FulfillResult{}, models.ErrNoPendingPayment
	}

	p, err = s.Pending.ConsumePending(ctx, chatID)
	if err != nil {
		return FulfillResult{}, err
	}
	if p.InvoiceID != invoiceID {
		// The record changed hands between peek and consume; put the newer
		// one back untouched.
		if saveErr := s.Pending.SavePending(ctx, p); saveErr != nil {
			s.errorf("restore pending payment for chat %d: %v", chatID, saveErr)
		}
		return FulfillResult{}, models.ErrNoPendingPayment
	}
	return s.Fulfill(ctx, p)
}

// ConfirmTelegram handles a SuccessfulPayment callback. Telegram has already
// settled the charge, so the gates left are the invoice payload echoed back
// by Telegram and the consume-once record.
func (s *PurchaseService) ConfirmTelegram(ctx context.Context, chatID int64, chargeID, payload string) (FulfillResult, error) {
	p, err := s.Pending.PeekPending(ctx, chatID)
	if err != nil {
		return FulfillResult{}, err
	}
	if payload != "" && payload != payments.InvoicePayload(p) {
		// A settled charge for an invoice the chat has since abandoned.
		// Leave the current pending record alone.
		return FulfillResult{}, models.ErrNoPendingPayment
	}

	p, err = s.Pending.ConsumePending(ctx, chatID)
	if err != nil {
		return FulfillResult{}, err
	}
	s.infof("telegram payment settled: chat=%d charge=%s package=%s", chatID, chargeID, p.PackageCode)
	return s.Fulfill(ctx, p)
}

// Fulfill runs the post-payment pipeline. The provider order is placed at
// most once per confirmed payment: a fresh transaction ID is generated here
// and never reused, and every failure after placement keeps the order
// number reachable for recovery.
func (s *PurchaseService) Fulfill(ctx context.Context, p models.PendingPayment) (FulfillResult, error) {
	userID := p.UserID

	balance, err := s.Provider.Balance(ctx)
	if err != nil {
		return FulfillResult{}, fmt.Errorf("query balance: %w", err)
	}
	if balance < p.Total() {
		s.errorf("balance %d below order total %d for package %s", balance, p.Total(), p.PackageCode)
		return FulfillResult{}, models.ErrInsufficientBalance
	}

	txnID := uuid.NewString()
	orderNo, err := s.Provider.PlaceOrder(ctx, esimaccess.OrderRequest{
		TransactionID: txnID,
		Amount:        p.Total(),
		PackageCode:   p.PackageCode,
		Count:         p.Count,
		PeriodNum:     p.PeriodNum,
		Price:         p.Price,
	})
	if err != nil {
		s.publish(userID, "", "failed", "order rejected")
		return FulfillResult{}, fmt.Errorf("place order: %w", err)
	}
	s.infof("order placed: orderNo=%s txn=%s package=%s", orderNo, txnID, p.PackageCode)
	s.publish(userID, orderNo, "order_placed", "")

	// Durable handle before polling: a crash here leaves a row an operator
	// can resume from.
	placeholder := &models.Order{
		UserID:        userID,
		OrderNo:       orderNo,
		TransactionID: txnID,
		PackageCode:   p.PackageCode,
		PackageName:   p.PackageName,
		Count:         p.Count,
		PeriodNum:     p.PeriodNum,
		Price:         p.Price,
		RetailPrice:   p.RetailPrice,
		Status:        models.OrderStatusInitiated,
	}
	if err := s.Orders.Upsert(ctx, placeholder); err != nil {
		return FulfillResult{OrderNo: orderNo}, &PersistenceError{OrderNo: orderNo, Err: err}
	}

	profiles, err := s.pollAllocation(ctx, orderNo)
	if err != nil {
		s.publish(userID, orderNo, "failed", err.Error())
		return FulfillResult{OrderNo: orderNo}, err
	}
	s.publish(userID, orderNo, "allocated", "")

	for i := range profiles {
		prof := &profiles[i]
		if !prof.Allocated() {
			s.errorf("order %s: profile %d missing iccid or qr, skipping", orderNo, i)
			continue
		}
		if s.Mirror != nil {
			if mirrored, err := s.Mirror.Mirror(ctx, prof.QRCodeURL, orderNo+"/"+prof.ICCID+".png"); err != nil {
				s.errorf("mirror qr for %s: %v", prof.ICCID, err)
			} else {
				prof.QRCodeURL = mirrored
			}
		}
		order := orderFromProfile(userID, orderNo, txnID, p, *prof, s.now())
		if err := s.Orders.Upsert(ctx, order); err != nil {
			s.publish(userID, orderNo, "persist_failed", prof.ICCID)
			return FulfillResult{OrderNo: orderNo, Profiles: profiles},
				&PersistenceError{OrderNo: orderNo, Err: err}
		}
	}

	if err := s.Orders.DeletePlaceholder(ctx, orderNo); err != nil {
		s.errorf("remove placeholder for %s: %v", orderNo, err)
	}

	s.publish(userID, orderNo, "persisted", "")
	return FulfillResult{OrderNo: orderNo, Profiles: profiles}, nil
}

// pollAllocation waits until the order reports at least one profile with an
// ICCID and a QR payload. A multi-unit order is delivered as soon as any
// unit arrives; un-allocated units are skipped during persistence and only
// surface via the provider's own order record. The ceiling bounds total
// wait; on timeout the order number stays persisted so the purchase can be
// recovered later.
func (s *PurchaseService) pollAllocation(ctx context.Context, orderNo string) ([]esimaccess.Profile, error) {
	policy := s.poll()
	deadline := s.now().Add(policy.Ceiling)

	for {
		profiles, err := s.Provider.QueryOrder(ctx, orderNo)
		if err != nil {
			s.errorf("query order %s: %v", orderNo, err)
		} else if anyAllocated(profiles) {
			return profiles, nil
		}

		if !s.now().Before(deadline) {
			return nil, models.ErrAllocationTimeout
		}
		if err := s.sleep(ctx, policy.Interval); err != nil {
			return nil, err
		}
	}
}

func anyAllocated(profiles []esimaccess.Profile) bool {
	for _, p := range profiles {
		if p.Allocated() {
			return true
		}
	}
	return false
}

func orderFromProfile(userID, orderNo, txnID string, p models.PendingPayment, prof esimaccess.Profile, now time.Time) *models.Order {
	snapshot, _ := json.Marshal(prof)
	return &models.Order{
		UserID:        userID,
		OrderNo:       orderNo,
		TransactionID: txnID,
		PackageCode:   p.PackageCode,
		PackageName:   p.PackageName,
		ICCID:         prof.ICCID,
		EsimTranNo:    prof.EsimTranNo,
		Count:         p.Count,
		PeriodNum:     p.PeriodNum,
		Price:         p.Price,
		RetailPrice:   p.RetailPrice,
		QRCode:        prof.QRCodeURL,
		Status:        models.OrderStatusConfirmed,
		EsimStatus:    prof.EsimStatus,
		SmdpStatus:    prof.SmdpStatus,
		ExpiredTime:   prof.ExpiredTime,
		TotalVolume:   prof.TotalVolume,
		TotalDuration: prof.TotalDuration,
		OrderUsage:    prof.OrderUsage,
		EsimList:      string(snapshot),
		PackageList:   string(prof.PackageList),
		LastSyncAt:    &now,
	}
}

func (s *PurchaseService) infof(format string, args ...any) {
	if s.InfoLog != nil {
		s.InfoLog.Printf(format, args...)
	}
}

func (s *PurchaseService) errorf(format string, args ...any) {
	if s.ErrorLog != nil {
		s.ErrorLog.Printf(format, args...)
	}
}
