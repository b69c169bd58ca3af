package esimaccess

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:    baseURL,
		AccessCode: "test-access",
		SecretKey:  "test-secret",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestBalanceRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{"success":true,"obj":{"balance":1234500}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bal, err := c.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 1234500 {
		t.Errorf("balance = %d, want 1234500", bal)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestBusinessFailureIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		io.WriteString(w, `{"success":false,"errorCode":"200010","errorMsg":"package not on sale"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Balance(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != "200010" || apiErr.Message != "package not on sale" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1 (business failures must not retry)", got)
	}
}

func TestPlaceOrder(t *testing.T) {
	t.Run("sends credentials and payload", func(t *testing.T) {
		var gotBody map[string]any
		var gotAccess, gotSecret string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAccess = r.Header.Get("RT-AccessCode")
			gotSecret = r.Header.Get("RT-SecretKey")
			json.NewDecoder(r.Body).Decode(&gotBody)
			io.WriteString(w, `{"success":true,"obj":{"orderNo":"B23072001"}}`)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		orderNo, err := c.PlaceOrder(context.Background(), OrderRequest{
			TransactionID: "txn-1",
			Amount:        50000,
			PackageCode:   "CKH491",
			Count:         1,
			PeriodNum:     5,
			Price:         10000,
		})
		if err != nil {
			t.Fatalf("PlaceOrder: %v", err)
		}
		if orderNo != "B23072001" {
			t.Errorf("orderNo = %q, want B23072001", orderNo)
		}
		if gotAccess != "test-access" || gotSecret != "test-secret" {
			t.Errorf("credential headers = %q/%q", gotAccess, gotSecret)
		}
		if gotBody["transactionId"] != "txn-1" {
			t.Errorf("transactionId = %v", gotBody["transactionId"])
		}
		pkgs, ok := gotBody["packageInfoList"].([]any)
		if !ok || len(pkgs) != 1 {
			t.Fatalf("packageInfoList = %v", gotBody["packageInfoList"])
		}
		pkg := pkgs[0].(map[string]any)
		if pkg["packageCode"] != "CKH491" || pkg["periodNum"] != float64(5) {
			t.Errorf("package payload = %v", pkg)
		}
	})

	t.Run("never retries", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		_, err := c.PlaceOrder(context.Background(), OrderRequest{TransactionID: "txn-2", PackageCode: "CKH491", Count: 1})
		if err == nil {
			t.Fatal("expected error")
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Errorf("calls = %d, want exactly 1", got)
		}
	})
}

func TestQueryOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["orderNo"] != "B23072001" {
			t.Errorf("orderNo = %v", req["orderNo"])
		}
		pager, _ := req["pager"].(map[string]any)
		if pager["pageNum"] != float64(1) || pager["pageSize"] != float64(20) {
			t.Errorf("pager = %v", pager)
		}
		io.WriteString(w, `{"success":true,"obj":{"esimList":[
			{"iccid":"8944500","qrCodeUrl":"https://qr/1","esimTranNo":"T1","smdpStatus":"RELEASED","esimStatus":"GOT_RESOURCE"},
			{"iccid":"","qrCodeUrl":""}
		]}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	profiles, err := c.QueryOrder(context.Background(), "B23072001")
	if err != nil {
		t.Fatalf("QueryOrder: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("len = %d, want 2", len(profiles))
	}
	if !profiles[0].Allocated() {
		t.Error("first profile should be allocated")
	}
	if profiles[1].Allocated() {
		t.Error("second profile should not be allocated")
	}
}

func TestCancelPrefersTranNo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if _, hasICCID := req["iccid"]; hasICCID {
			t.Errorf("iccid should be omitted when esimTranNo is set: %v", req)
		}
		if req["esimTranNo"] != "T1" {
			t.Errorf("esimTranNo = %v", req["esimTranNo"])
		}
		io.WriteString(w, `{"success":true,"obj":null}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Cancel(context.Background(), "8944500", "T1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}
