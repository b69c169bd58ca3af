package services

import (
	"context"
	"errors"
	"testing"

	"esimstore/internal/esimaccess"
	"esimstore/internal/models"
)

func storedOrder(userID, iccid, smdp, esim string) models.Order {
	return models.Order{
		UserID:     userID,
		OrderNo:    "B100",
		ICCID:      iccid,
		EsimTranNo: "T-" + iccid,
		Status:     models.OrderStatusConfirmed,
		SmdpStatus: smdp,
		EsimStatus: esim,
	}
}

func newEsimService(provider *fakeProvider, store *fakeStore) *EsimService {
	return &EsimService{Provider: provider, Orders: store}
}

func TestCancel(t *testing.T) {
	t.Run("unused profile cancels and resyncs", func(t *testing.T) {
		provider := &fakeProvider{iccidProfiles: map[string]esimaccess.Profile{
			"894450030": {ICCID: "894450030", EsimTranNo: "T-894450030", SmdpStatus: "RELEASED", EsimStatus: "GOT_RESOURCE"},
		}}
		store := newFakeStore()
		store.rows[storeKey("B100", "894450030")] = storedOrder("7", "894450030", "RELEASED", "GOT_RESOURCE")

		svc := newEsimService(provider, store)
		if err := svc.Cancel(context.Background(), "7", "894450030"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if provider.cancelCalls != 1 {
			t.Errorf("cancelCalls = %d, want 1", provider.cancelCalls)
		}
	})

	t.Run("installed profile is rejected locally", func(t *testing.T) {
		provider := &fakeProvider{iccidProfiles: map[string]esimaccess.Profile{
			"894450031": {ICCID: "894450031", SmdpStatus: "ENABLED", EsimStatus: "IN_USE"},
		}}
		store := newFakeStore()
		store.rows[storeKey("B100", "894450031")] = storedOrder("7", "894450031", "ENABLED", "IN_USE")

		svc := newEsimService(provider, store)
		err := svc.Cancel(context.Background(), "7", "894450031")
		if !errors.Is(err, models.ErrNotCancelable) {
			t.Fatalf("err = %v, want ErrNotCancelable", err)
		}
		if provider.cancelCalls != 0 {
			t.Errorf("cancelCalls = %d, precondition failures must not reach the provider", provider.cancelCalls)
		}
	})

	t.Run("someone else's profile is invisible", func(t *testing.T) {
		store := newFakeStore()
		store.rows[storeKey("B100", "894450032")] = storedOrder("8", "894450032", "RELEASED", "GOT_RESOURCE")

		svc := newEsimService(&fakeProvider{}, store)
		err := svc.Cancel(context.Background(), "7", "894450032")
		if !errors.Is(err, models.ErrOrderNotFound) {
			t.Fatalf("err = %v, want ErrOrderNotFound", err)
		}
	})
}

func TestTopUp(t *testing.T) {
	t.Run("not-activated provider error maps to a friendly sentinel", func(t *testing.T) {
		provider := &fakeProvider{
			iccidProfiles: map[string]esimaccess.Profile{
				"894450040": {ICCID: "894450040", EsimTranNo: "T-894450040", SmdpStatus: "RELEASED", EsimStatus: "GOT_RESOURCE"},
			},
			topupErr: &esimaccess.APIError{Code: "200079", Message: "the esim status doesn`t support topup"},
		}
		store := newFakeStore()
		store.rows[storeKey("B100", "894450040")] = storedOrder("7", "894450040", "RELEASED", "GOT_RESOURCE")

		svc := newEsimService(provider, store)
		err := svc.TopUp(context.Background(), "7", "894450040", "TOPUP5", 8000)
		if !errors.Is(err, models.ErrTopupNotActivated) {
			t.Fatalf("err = %v, want ErrTopupNotActivated", err)
		}
	})

	t.Run("depleted profile is rejected locally", func(t *testing.T) {
		provider := &fakeProvider{iccidProfiles: map[string]esimaccess.Profile{
			"894450041": {ICCID: "894450041", SmdpStatus: "ENABLED", EsimStatus: "USED_UP"},
		}}
		store := newFakeStore()
		store.rows[storeKey("B100", "894450041")] = storedOrder("7", "894450041", "ENABLED", "USED_UP")

		svc := newEsimService(provider, store)
		err := svc.TopUp(context.Background(), "7", "894450041", "TOPUP5", 8000)
		if !errors.Is(err, models.ErrTopupNotAllowed) {
			t.Fatalf("err = %v, want ErrTopupNotAllowed", err)
		}
		if provider.topupCalls != 0 {
			t.Errorf("topupCalls = %d, want 0", provider.topupCalls)
		}
	})
}

func TestTopupOptionsFiltersUnsupportedPlans(t *testing.T) {
	provider := &fakeProvider{
		iccidProfiles: map[string]esimaccess.Profile{
			"894450042": {ICCID: "894450042", SmdpStatus: "ENABLED", EsimStatus: "IN_USE"},
		},
		topupPkgs: []esimaccess.PackageInfo{
			{PackageCode: "TOPUP5", Price: 8000, SupportTopUpType: 2},
			{PackageCode: "NOTOPUP", Price: 9000, SupportTopUpType: 1},
		},
	}
	store := newFakeStore()
	store.rows[storeKey("B100", "894450042")] = storedOrder("7", "894450042", "ENABLED", "IN_USE")

	svc := newEsimService(provider, store)
	pkgs, err := svc.TopupOptions(context.Background(), "7", "894450042")
	if err != nil {
		t.Fatalf("TopupOptions: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].PackageCode != "TOPUP5" {
		t.Errorf("pkgs = %+v, want only TOPUP5", pkgs)
	}
}

func TestRefreshUsage(t *testing.T) {
	t.Run("in-use profile updates counters", func(t *testing.T) {
		provider := &fakeProvider{iccidProfiles: map[string]esimaccess.Profile{
			"894450050": {ICCID: "894450050", SmdpStatus: "ENABLED", EsimStatus: "IN_USE", OrderUsage: 123456},
		}}
		store := newFakeStore()
		store.rows[storeKey("B100", "894450050")] = storedOrder("7", "894450050", "ENABLED", "IN_USE")

		svc := newEsimService(provider, store)
		ord, err := svc.RefreshUsage(context.Background(), "7", "894450050")
		if err != nil {
			t.Fatalf("RefreshUsage: %v", err)
		}
		if ord.OrderUsage != 123456 || ord.LastSyncAt == nil {
			t.Errorf("order = %+v", ord)
		}
	})

	t.Run("new profile has no usage yet", func(t *testing.T) {
		store := newFakeStore()
		store.rows[storeKey("B100", "894450051")] = storedOrder("7", "894450051", "RELEASED", "GOT_RESOURCE")

		svc := newEsimService(&fakeProvider{}, store)
		_, err := svc.RefreshUsage(context.Background(), "7", "894450051")
		if !errors.Is(err, models.ErrUsageNotReady) {
			t.Fatalf("err = %v, want ErrUsageNotReady", err)
		}
	})
}

func TestMyEsimsDegradesToStoredState(t *testing.T) {
	provider := &fakeProvider{iccidErr: errors.New("provider down")}
	store := newFakeStore()
	store.rows[storeKey("B100", "894450060")] = storedOrder("7", "894450060", "ENABLED", "IN_USE")

	svc := newEsimService(provider, store)
	orders, err := svc.MyEsims(context.Background(), "7")
	if err != nil {
		t.Fatalf("MyEsims: %v", err)
	}
	if len(orders) != 1 || orders[0].ICCID != "894450060" {
		t.Errorf("orders = %+v", orders)
	}
}
