package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"esimstore/internal/esimaccess"
	"esimstore/internal/models"
	"esimstore/internal/payments"
	"esimstore/internal/repositories"
)

// ---- fakes shared by the service tests ----

type fakeProvider struct {
	balance    int64
	balanceErr error

	placeCalls int
	placeErr   error
	orderNo    string

	queryCalls   int
	queryResults [][]esimaccess.Profile // successive QueryOrder responses; last repeats

	iccidProfiles map[string]esimaccess.Profile
	iccidErr      error

	cancelCalls int
	cancelErr   error

	topupCalls int
	topupErr   error
	topupPkgs  []esimaccess.PackageInfo
}

func (f *fakeProvider) Balance(ctx context.Context) (int64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeProvider) PlaceOrder(ctx context.Context, req esimaccess.OrderRequest) (string, error) {
	f.placeCalls++
	if f.placeErr != nil {
		return "", f.placeErr
	}
	return f.orderNo, nil
}

func (f *fakeProvider) QueryOrder(ctx context.Context, orderNo string) ([]esimaccess.Profile, error) {
	idx := f.queryCalls
	f.queryCalls++
	if len(f.queryResults) == 0 {
		return nil, nil
	}
	if idx >= len(f.queryResults) {
		idx = len(f.queryResults) - 1
	}
	return f.queryResults[idx], nil
}

func (f *fakeProvider) QueryICCID(ctx context.Context, iccid string) (esimaccess.Profile, error) {
	if f.iccidErr != nil {
		return esimaccess.Profile{}, f.iccidErr
	}
	prof, ok := f.iccidProfiles[iccid]
	if !ok {
		return esimaccess.Profile{}, &esimaccess.APIError{Message: "esim not found: " + iccid}
	}
	return prof, nil
}

func (f *fakeProvider) Cancel(ctx context.Context, iccid, esimTranNo string) error {
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeProvider) TopUp(ctx context.Context, req esimaccess.TopupRequest) error {
	f.topupCalls++
	return f.topupErr
}

func (f *fakeProvider) TopupPackages(ctx context.Context, iccid string) ([]esimaccess.PackageInfo, error) {
	return f.topupPkgs, nil
}

func (f *fakeProvider) Packages(ctx context.Context, kind, locationCode string) ([]esimaccess.PackageInfo, error) {
	return nil, nil
}

type fakeStore struct {
	rows        map[string]models.Order // keyed (order_no, iccid)
	failOnICCID string
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]models.Order)}
}

func storeKey(orderNo, iccid string) string { return orderNo + "|" + iccid }

func (f *fakeStore) Upsert(ctx context.Context, o *models.Order) error {
	if f.failOnICCID != "" && o.ICCID == f.failOnICCID {
		return errors.New("simulated write failure")
	}
	f.rows[storeKey(o.OrderNo, o.ICCID)] = *o
	return nil
}

func (f *fakeStore) ByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.rows {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) ByICCID(ctx context.Context, iccid string) (models.Order, error) {
	for _, o := range f.rows {
		if o.ICCID == iccid {
			return o, nil
		}
	}
	return models.Order{}, repositories.ErrNotFound
}

func (f *fakeStore) ByOrderNo(ctx context.Context, orderNo string) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.rows {
		if o.OrderNo == orderNo {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) DeletePlaceholder(ctx context.Context, orderNo string) error {
	delete(f.rows, storeKey(orderNo, ""))
	return nil
}

func (f *fakeStore) DeleteByICCID(ctx context.Context, userID, iccid string) error {
	for k, o := range f.rows {
		if o.ICCID == iccid && o.UserID == userID {
			delete(f.rows, k)
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (f *fakeStore) UpdateUsage(ctx context.Context, iccid string, usage int64, lastSync time.Time) error {
	for k, o := range f.rows {
		if o.ICCID == iccid {
			o.OrderUsage = usage
			o.LastSyncAt = &lastSync
			f.rows[k] = o
			return nil
		}
	}
	return repositories.ErrNotFound
}

type fakePending struct {
	intents      map[int64]models.PurchaseIntent
	pending      map[int64]models.PendingPayment
	consumeCalls int
}

func newFakePending() *fakePending {
	return &fakePending{
		intents: make(map[int64]models.PurchaseIntent),
		pending: make(map[int64]models.PendingPayment),
	}
}

func (f *fakePending) SaveIntent(ctx context.Context, intent models.PurchaseIntent) error {
	f.intents[intent.ChatID] = intent
	delete(f.pending, intent.ChatID)
	return nil
}

func (f *fakePending) TakeIntent(ctx context.Context, chatID int64) (models.PurchaseIntent, error) {
	intent, ok := f.intents[chatID]
	if !ok {
		return models.PurchaseIntent{}, repositories.ErrNotFound
	}
	delete(f.intents, chatID)
	return intent, nil
}

func (f *fakePending) SavePending(ctx context.Context, p models.PendingPayment) error {
	f.pending[p.ChatID] = p
	return nil
}

func (f *fakePending) PeekPending(ctx context.Context, chatID int64) (models.PendingPayment, error) {
	p, ok := f.pending[chatID]
	if !ok {
		return models.PendingPayment{}, models.ErrNoPendingPayment
	}
	return p, nil
}

func (f *fakePending) ConsumePending(ctx context.Context, chatID int64) (models.PendingPayment, error) {
	f.consumeCalls++
	p, ok := f.pending[chatID]
	if !ok {
		return models.PendingPayment{}, models.ErrNoPendingPayment
	}
	delete(f.pending, chatID)
	return p, nil
}

func (f *fakePending) ClearPending(ctx context.Context, chatID int64) error {
	delete(f.pending, chatID)
	return nil
}

type fakeCrypto struct {
	statuses map[int64]payments.Status
	created  int
}

func (f *fakeCrypto) CreateInvoice(ctx context.Context, amountUSD float64, description, payload string) (*payments.Invoice, error) {
	f.created++
	return &payments.Invoice{
		InvoiceID:     int64(100 + f.created),
		Status:        payments.StatusPending,
		BotInvoiceURL: fmt.Sprintf("https://t.me/CryptoBot?start=IV%d", 100+f.created),
	}, nil
}

func (f *fakeCrypto) InvoiceStatus(ctx context.Context, invoiceID int64) (payments.Status, error) {
	st, ok := f.statuses[invoiceID]
	if !ok {
		return "", fmt.Errorf("invoice %d not found", invoiceID)
	}
	return st, nil
}

// fakeClock advances instantly: Sleep moves Now forward.
type fakeClock struct {
	t      time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	c.t = c.t.Add(d)
	return nil
}

func newPurchaseService(provider *fakeProvider, store *fakeStore, pending *fakePending, crypto *fakeCrypto) (*PurchaseService, *fakeClock) {
	clock := newFakeClock()
	return &PurchaseService{
		Provider: provider,
		Orders:   store,
		Pending:  pending,
		Crypto:   crypto,
		Poll:     PollPolicy{Interval: 5 * time.Second, Ceiling: 30 * time.Second},
		Now:      clock.now,
		Sleep:    clock.sleep,
	}, clock
}

func allocatedProfile(iccid string) esimaccess.Profile {
	return esimaccess.Profile{
		ICCID:      iccid,
		QRCodeURL:  "https://qr.example/" + iccid,
		EsimTranNo: "T-" + iccid,
		SmdpStatus: "RELEASED",
		EsimStatus: "GOT_RESOURCE",
	}
}

func testPending(chatID int64) models.PendingPayment {
	return models.PendingPayment{
		ChatID:      chatID,
		UserID:      fmt.Sprintf("%d", chatID),
		PackageCode: "CKH491",
		PackageName: "Japan 5GB",
		Method:      models.MethodCrypto,
		Count:       1,
		Price:       10000,
		RetailPrice: 30000,
		InvoiceID:   101,
	}
}

// ---- tests ----

func TestFulfill(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		provider := &fakeProvider{
			balance: 1_000_000,
			orderNo: "B1",
			queryResults: [][]esimaccess.Profile{
				nil,
				{{ICCID: "", QRCodeURL: ""}},
				{allocatedProfile("894450001")},
			},
		}
		store := newFakeStore()
		svc, _ := newPurchaseService(provider, store, newFakePending(), nil)

		res, err := svc.Fulfill(context.Background(), testPending(7))
		if err != nil {
			t.Fatalf("Fulfill: %v", err)
		}
		if res.OrderNo != "B1" || len(res.Profiles) != 1 {
			t.Fatalf("result = %+v", res)
		}
		if provider.placeCalls != 1 {
			t.Errorf("placeCalls = %d, want exactly 1", provider.placeCalls)
		}

		o, ok := store.rows[storeKey("B1", "894450001")]
		if !ok {
			t.Fatal("confirmed order row missing")
		}
		if o.Status != models.OrderStatusConfirmed || o.QRCode == "" || o.TransactionID == "" {
			t.Errorf("persisted order = %+v", o)
		}
		if _, ok := store.rows[storeKey("B1", "")]; ok {
			t.Error("placeholder row should be removed after profiles persist")
		}
	})

	t.Run("balance guard stops before ordering", func(t *testing.T) {
		provider := &fakeProvider{balance: 5000, orderNo: "B2"}
		svc, _ := newPurchaseService(provider, newFakeStore(), newFakePending(), nil)

		_, err := svc.Fulfill(context.Background(), testPending(7))
		if !errors.Is(err, models.ErrInsufficientBalance) {
			t.Fatalf("err = %v, want ErrInsufficientBalance", err)
		}
		if provider.placeCalls != 0 {
			t.Errorf("placeCalls = %d, order must not be placed", provider.placeCalls)
		}
	})

	t.Run("allocation timeout keeps the placeholder", func(t *testing.T) {
		provider := &fakeProvider{balance: 1_000_000, orderNo: "B3"}
		store := newFakeStore()
		svc, clock := newPurchaseService(provider, store, newFakePending(), nil)

		res, err := svc.Fulfill(context.Background(), testPending(7))
		if !errors.Is(err, models.ErrAllocationTimeout) {
			t.Fatalf("err = %v, want ErrAllocationTimeout", err)
		}
		if res.OrderNo != "B3" {
			t.Errorf("result must keep the order number, got %q", res.OrderNo)
		}
		// Ceiling 30s / interval 5s: the loop slept at most ceiling/interval+1 times.
		if clock.sleeps > 7 {
			t.Errorf("sleeps = %d, polling must stop at the ceiling", clock.sleeps)
		}
		if _, ok := store.rows[storeKey("B3", "")]; !ok {
			t.Error("placeholder must survive a timeout for later recovery")
		}
	})

	t.Run("persistence failure is typed and carries the order number", func(t *testing.T) {
		provider := &fakeProvider{
			balance:      1_000_000,
			orderNo:      "B4",
			queryResults: [][]esimaccess.Profile{{allocatedProfile("894450002")}},
		}
		store := newFakeStore()
		store.failOnICCID = "894450002"
		svc, _ := newPurchaseService(provider, store, newFakePending(), nil)

		_, err := svc.Fulfill(context.Background(), testPending(7))
		var perr *PersistenceError
		if !errors.As(err, &perr) {
			t.Fatalf("err = %v, want *PersistenceError", err)
		}
		if perr.OrderNo != "B4" {
			t.Errorf("OrderNo = %q, want B4", perr.OrderNo)
		}
	})

	t.Run("multi-profile order persists every profile", func(t *testing.T) {
		provider := &fakeProvider{
			balance: 1_000_000,
			orderNo: "B5",
			queryResults: [][]esimaccess.Profile{
				nil,
				{allocatedProfile("894450003"), allocatedProfile("894450004")},
			},
		}
		store := newFakeStore()
		svc, _ := newPurchaseService(provider, store, newFakePending(), nil)

		p := testPending(7)
		p.Count = 2
		if _, err := svc.Fulfill(context.Background(), p); err != nil {
			t.Fatalf("Fulfill: %v", err)
		}
		if _, ok := store.rows[storeKey("B5", "894450003")]; !ok {
			t.Error("first profile missing")
		}
		if _, ok := store.rows[storeKey("B5", "894450004")]; !ok {
			t.Error("second profile missing")
		}
	})

	t.Run("partial allocation delivers the arrived profile", func(t *testing.T) {
		// The provider settled only one unit of a two-unit order. The buyer
		// gets that unit now instead of a timeout; the rest stays on the
		// provider's order record.
		provider := &fakeProvider{
			balance:      1_000_000,
			orderNo:      "B6",
			queryResults: [][]esimaccess.Profile{{allocatedProfile("894450005")}},
		}
		store := newFakeStore()
		svc, _ := newPurchaseService(provider, store, newFakePending(), nil)

		p := testPending(7)
		p.Count = 2
		res, err := svc.Fulfill(context.Background(), p)
		if err != nil {
			t.Fatalf("Fulfill: %v", err)
		}
		if len(res.Profiles) != 1 {
			t.Fatalf("profiles = %d, want 1", len(res.Profiles))
		}
		if _, ok := store.rows[storeKey("B6", "894450005")]; !ok {
			t.Error("arrived profile must be persisted")
		}
	})
}

func TestConfirmCrypto(t *testing.T) {
	setup := func(status payments.Status) (*PurchaseService, *fakePending, *fakeStore) {
		provider := &fakeProvider{
			balance:      1_000_000,
			orderNo:      "B10",
			queryResults: [][]esimaccess.Profile{{allocatedProfile("894450010")}},
		}
		store := newFakeStore()
		pending := newFakePending()
		pending.pending[7] = testPending(7)
		crypto := &fakeCrypto{statuses: map[int64]payments.Status{101: status}}
		svc, _ := newPurchaseService(provider, store, pending, crypto)
		return svc, pending, store
	}

	t.Run("paid invoice fulfills once, duplicate is a no-op", func(t *testing.T) {
		svc, _, store := setup(payments.StatusPaid)

		if _, err := svc.ConfirmCrypto(context.Background(), 7, 101); err != nil {
			t.Fatalf("first confirm: %v", err)
		}
		if _, err := svc.ConfirmCrypto(context.Background(), 7, 101); !errors.Is(err, models.ErrNoPendingPayment) {
			t.Fatalf("duplicate confirm err = %v, want ErrNoPendingPayment", err)
		}

		var confirmed int
		for _, o := range store.rows {
			if o.Status == models.OrderStatusConfirmed {
				confirmed++
			}
		}
		if confirmed != 1 {
			t.Errorf("confirmed rows = %d, want 1", confirmed)
		}
	})

	t.Run("unpaid invoice leaves the pending record", func(t *testing.T) {
		svc, pending, _ := setup(payments.StatusPending)

		_, err := svc.ConfirmCrypto(context.Background(), 7, 101)
		if !errors.Is(err, models.ErrPaymentPending) {
			t.Fatalf("err = %v, want ErrPaymentPending", err)
		}
		if _, ok := pending.pending[7]; !ok {
			t.Error("pending record must survive an unpaid check")
		}
	})

	t.Run("expired invoice drops the pending record", func(t *testing.T) {
		svc, pending, _ := setup(payments.StatusExpired)

		_, err := svc.ConfirmCrypto(context.Background(), 7, 101)
		if !errors.Is(err, models.ErrInvoiceExpired) {
			t.Fatalf("err = %v, want ErrInvoiceExpired", err)
		}
		if _, ok := pending.pending[7]; ok {
			t.Error("pending record must be cleared for an expired invoice")
		}
	})

	t.Run("stale invoice does not consume a newer pending record", func(t *testing.T) {
		svc, pending, _ := setup(payments.StatusPaid)
		// The chat moved on: the active record belongs to invoice 202.
		newer := testPending(7)
		newer.InvoiceID = 202
		pending.pending[7] = newer

		_, err := svc.ConfirmCrypto(context.Background(), 7, 101)
		if !errors.Is(err, models.ErrNoPendingPayment) {
			t.Fatalf("err = %v, want ErrNoPendingPayment", err)
		}
		// Mismatch is detected before GETDEL, so the newer record is never
		// taken off the store, even briefly.
		if pending.consumeCalls != 0 {
			t.Errorf("consumeCalls = %d, the newer record must not be consumed", pending.consumeCalls)
		}
		if got := pending.pending[7].InvoiceID; got != 202 {
			t.Errorf("surviving pending invoice = %d, want 202", got)
		}
	})
}

func TestConfirmTelegram(t *testing.T) {
	setup := func() (*PurchaseService, *fakeProvider, *fakePending) {
		provider := &fakeProvider{
			balance:      1_000_000,
			orderNo:      "B20",
			queryResults: [][]esimaccess.Profile{{allocatedProfile("894450020")}},
		}
		pending := newFakePending()
		p := testPending(9)
		p.Method = models.MethodStars
		p.InvoiceID = 0
		pending.pending[9] = p
		svc, _ := newPurchaseService(provider, newFakeStore(), pending, nil)
		return svc, provider, pending
	}

	t.Run("settled charge fulfills once, duplicate is a no-op", func(t *testing.T) {
		svc, provider, pending := setup()
		payload := payments.InvoicePayload(pending.pending[9])

		if _, err := svc.ConfirmTelegram(context.Background(), 9, "charge-1", payload); err != nil {
			t.Fatalf("first confirm: %v", err)
		}
		if _, err := svc.ConfirmTelegram(context.Background(), 9, "charge-1", payload); !errors.Is(err, models.ErrNoPendingPayment) {
			t.Fatalf("duplicate err = %v, want ErrNoPendingPayment", err)
		}
		if provider.placeCalls != 1 {
			t.Errorf("placeCalls = %d, want 1", provider.placeCalls)
		}
	})

	t.Run("payload from an abandoned invoice does not fulfill", func(t *testing.T) {
		// The chat restarted the flow with a different package after the old
		// invoice was sent; the late settlement must not consume the new record.
		svc, provider, pending := setup()

		_, err := svc.ConfirmTelegram(context.Background(), 9, "charge-2", "esim:OLDPKG:9")
		if !errors.Is(err, models.ErrNoPendingPayment) {
			t.Fatalf("err = %v, want ErrNoPendingPayment", err)
		}
		if provider.placeCalls != 0 {
			t.Errorf("placeCalls = %d, order must not be placed", provider.placeCalls)
		}
		if _, ok := pending.pending[9]; !ok {
			t.Error("current pending record must survive a mismatched payload")
		}
	})
}

func TestBeginCrypto(t *testing.T) {
	pending := newFakePending()
	crypto := &fakeCrypto{statuses: map[int64]payments.Status{}}
	svc, _ := newPurchaseService(&fakeProvider{}, newFakeStore(), pending, crypto)

	intent := models.PurchaseIntent{
		ChatID:      7,
		PackageCode: "CKH491",
		PackageName: "Japan 5GB",
		Price:       10000,
		RetailPrice: 30000,
		Duration:    30,
		Method:      models.MethodCrypto,
	}
	p, err := svc.BeginCrypto(context.Background(), intent, 2)
	if err != nil {
		t.Fatalf("BeginCrypto: %v", err)
	}
	if p.Count != 2 || p.PeriodNum != 0 {
		t.Errorf("fixed plan quantity must buy profiles: %+v", p)
	}
	if p.InvoiceID == 0 || p.PayURL == "" {
		t.Errorf("invoice fields not set: %+v", p)
	}
	if _, ok := pending.pending[7]; !ok {
		t.Error("pending record not saved")
	}
}

func TestDailyPlanQuantityBuysDays(t *testing.T) {
	pending := newFakePending()
	svc, _ := newPurchaseService(&fakeProvider{}, newFakeStore(), pending, nil)

	intent := models.PurchaseIntent{
		ChatID:      7,
		PackageCode: "DAILY1",
		PackageName: "Europe daily",
		Price:       5000,
		RetailPrice: 15000,
		Duration:    1,
		Method:      models.MethodStars,
	}
	p, err := svc.BeginTelegram(context.Background(), intent, 5)
	if err != nil {
		t.Fatalf("BeginTelegram: %v", err)
	}
	if p.Count != 1 || p.PeriodNum != 5 {
		t.Errorf("daily plan quantity must buy days: count=%d periodNum=%d", p.Count, p.PeriodNum)
	}
	if p.RetailTotal() != 15000*5 {
		t.Errorf("RetailTotal = %d, want %d", p.RetailTotal(), 15000*5)
	}
}
