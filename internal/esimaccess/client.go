package esimaccess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Config for the provisioning API client.
type Config struct {
	// База провайдера, например https://api.esimaccess.com/api/v1/open
	BaseURL    string
	AccessCode string
	SecretKey  string

	// Попыток на идемпотентные вызовы (по умолчанию 3).
	MaxAttempts int
	// Базовая пауза между попытками, удваивается (по умолчанию 1s).
	Backoff time.Duration

	Client *http.Client
	Logger *slog.Logger
}

type Client struct {
	baseURL    *url.URL
	accessCode string
	secretKey  string

	maxAttempts int
	backoff     time.Duration

	httpClient *http.Client
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// APIError is a business rejection from the provider: the HTTP exchange
// succeeded but the envelope carries success=false. Never retried.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("esimaccess: %s (code %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("esimaccess: %s", e.Message)
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" ||
		strings.TrimSpace(cfg.AccessCode) == "" ||
		strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("esimaccess: base_url/access_code/secret_key are required")
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	c := &Client{
		baseURL:     u,
		accessCode:  cfg.AccessCode,
		secretKey:   cfg.SecretKey,
		maxAttempts: attempts,
		backoff:     backoff,
		httpClient:  client,
		logger:      logger,
		sleep:       sleepCtx,
	}
	logger.Info("esimaccess client initialized", "baseURL", u.Redacted(), "maxAttempts", attempts)
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type envelope struct {
	Success      bool            `json:"success"`
	ErrorCode    string          `json:"errorCode"`
	ErrorMsg     string          `json:"errorMsg"`
	ErrorMessage string          `json:"errorMessage"`
	Obj          json.RawMessage `json:"obj"`
}

// post performs one JSON POST with up to `attempts` tries. Transport
// failures and 5xx responses are retried with exponential backoff;
// an envelope with success=false is returned as *APIError immediately.
func (c *Client) post(ctx context.Context, endpoint string, payload any, attempts int) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := *c.baseURL
	u.Path = path.Join(u.Path, endpoint)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff*(1<<(attempt-1))); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("RT-AccessCode", c.accessCode)
		req.Header.Set("RT-SecretKey", c.secretKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", endpoint, err)
			c.logger.Warn("esimaccess request failed", "endpoint", endpoint, "attempt", attempt+1, "err", err)
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%s: read body: %w", endpoint, readErr)
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, truncate(raw, 200))
			c.logger.Warn("esimaccess server error", "endpoint", endpoint, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, truncate(raw, 200))
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", endpoint, err)
		}
		if !env.Success {
			msg := env.ErrorMsg
			if msg == "" {
				msg = env.ErrorMessage
			}
			return nil, &APIError{Code: env.ErrorCode, Message: msg}
		}
		return env.Obj, nil
	}
	return nil, lastErr
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// Balance returns the merchant balance in 1/10000 USD units.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	obj, err := c.post(ctx, "/balance/query", struct{}{}, c.maxAttempts)
	if err != nil {
		return 0, err
	}
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return out.Balance, nil
}

// OrderRequest places one package order. For daily plans PeriodNum carries
// the number of days and Count stays 1.
type OrderRequest struct {
	TransactionID string
	Amount        int64
	PackageCode   string
	Count         int
	PeriodNum     int
	Price         int64
}

// PlaceOrder submits an order and returns the provider order number.
// The call is made exactly once: a fresh TransactionID belongs to a
// single attempt, so no retry happens at this level.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	type pkg struct {
		PackageCode string `json:"packageCode"`
		Count       int    `json:"count"`
		Price       int64  `json:"price"`
		PeriodNum   int    `json:"periodNum,omitempty"`
	}
	payload := struct {
		TransactionID   string `json:"transactionId"`
		Amount          int64  `json:"amount"`
		PackageInfoList []pkg  `json:"packageInfoList"`
	}{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		PackageInfoList: []pkg{{
			PackageCode: req.PackageCode,
			Count:       req.Count,
			Price:       req.Price,
			PeriodNum:   req.PeriodNum,
		}},
	}

	obj, err := c.post(ctx, "/esim/order", payload, 1)
	if err != nil {
		return "", err
	}
	var out struct {
		OrderNo string `json:"orderNo"`
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return "", fmt.Errorf("decode order: %w", err)
	}
	if out.OrderNo == "" {
		return "", fmt.Errorf("esimaccess: order accepted without orderNo")
	}
	return out.OrderNo, nil
}

// Profile is one allocated eSIM as reported by /esim/query.
type Profile struct {
	ICCID          string          `json:"iccid"`
	QRCodeURL      string          `json:"qrCodeUrl"`
	EsimTranNo     string          `json:"esimTranNo"`
	EsimStatus     string          `json:"esimStatus"`
	SmdpStatus     string          `json:"smdpStatus"`
	ExpiredTime    string          `json:"expiredTime"`
	TotalVolume    int64           `json:"totalVolume"`
	TotalDuration  int             `json:"totalDuration"`
	OrderUsage     int64           `json:"orderUsage"`
	LastUpdateTime string          `json:"lastUpdateTime"`
	PackageList    json.RawMessage `json:"packageList"`
}

// Allocated reports whether the provider has finished assigning the
// profile: both the ICCID and the QR payload must be present.
func (p Profile) Allocated() bool {
	return p.ICCID != "" && p.QRCodeURL != ""
}

type queryFilter struct {
	OrderNo string `json:"orderNo,omitempty"`
	ICCID   string `json:"iccid,omitempty"`
	Pager   pager  `json:"pager"`
}

type pager struct {
	PageNum  int `json:"pageNum"`
	PageSize int `json:"pageSize"`
}

func (c *Client) query(ctx context.Context, filter queryFilter) ([]Profile, error) {
	filter.Pager = pager{PageNum: 1, PageSize: 20}
	obj, err := c.post(ctx, "/esim/query", filter, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	var out struct {
		EsimList []Profile `json:"esimList"`
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, fmt.Errorf("decode esim list: %w", err)
	}
	return out.EsimList, nil
}

// QueryOrder returns all profiles allocated under a provider order number.
func (c *Client) QueryOrder(ctx context.Context, orderNo string) ([]Profile, error) {
	return c.query(ctx, queryFilter{OrderNo: orderNo})
}

// QueryICCID returns the current provider state of a single profile.
func (c *Client) QueryICCID(ctx context.Context, iccid string) (Profile, error) {
	profiles, err := c.query(ctx, queryFilter{ICCID: iccid})
	if err != nil {
		return Profile{}, err
	}
	if len(profiles) == 0 {
		return Profile{}, &APIError{Message: "esim not found: " + iccid}
	}
	return profiles[0], nil
}

// Cancel releases an unused profile. Either identifier works; the
// transaction number is preferred when known.
func (c *Client) Cancel(ctx context.Context, iccid, esimTranNo string) error {
	payload := struct {
		ICCID      string `json:"iccid,omitempty"`
		EsimTranNo string `json:"esimTranNo,omitempty"`
	}{ICCID: iccid, EsimTranNo: esimTranNo}
	if esimTranNo != "" {
		payload.ICCID = ""
	}
	_, err := c.post(ctx, "/esim/cancel", payload, c.maxAttempts)
	return err
}

// TopupRequest recharges an existing profile with a TOPUP package.
type TopupRequest struct {
	EsimTranNo    string `json:"esimTranNo"`
	PackageCode   string `json:"packageCode"`
	Price         int64  `json:"price"`
	TransactionID string `json:"transactionId"`
}

// TopUp is idempotent at the provider by TransactionID, so it is retried.
func (c *Client) TopUp(ctx context.Context, req TopupRequest) error {
	_, err := c.post(ctx, "/esim/topup", req, c.maxAttempts)
	return err
}

// PackageInfo is one catalog entry from /package/list. Prices are in
// 1/10000 USD units; RetailPrice arrives unset for most entries and is
// filled in by the catalog's pricing rules.
type PackageInfo struct {
	PackageCode         string            `json:"packageCode"`
	Name                string            `json:"name"`
	Location            string            `json:"location"`
	Description         string            `json:"description"`
	Price               int64             `json:"price"`
	RetailPrice         int64             `json:"retailPrice"`
	CurrencyCode        string            `json:"currencyCode"`
	Volume              int64             `json:"volume"`
	Duration            int               `json:"duration"`
	DurationUnit        string            `json:"durationUnit"`
	ActiveType          int               `json:"activeType"`
	SupportTopUpType    int               `json:"supportTopUpType"`
	LocationNetworkList []LocationNetwork `json:"locationNetworkList"`
}

type LocationNetwork struct {
	LocationName string `json:"locationName"`
	LocationLogo string `json:"locationLogo"`
	OperatorList []struct {
		OperatorName string `json:"operatorName"`
		NetworkType  string `json:"networkType"`
	} `json:"operatorList"`
}

// Packages fetches the catalog. kind is "BASE" or "TOPUP"; locationCode
// "!RG" selects regional plans and "!GL" global ones.
func (c *Client) Packages(ctx context.Context, kind, locationCode string) ([]PackageInfo, error) {
	payload := struct {
		Type         string `json:"type"`
		LocationCode string `json:"locationCode,omitempty"`
	}{Type: kind, LocationCode: locationCode}

	obj, err := c.post(ctx, "/package/list", payload, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	var out struct {
		PackageList []PackageInfo `json:"packageList"`
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, fmt.Errorf("decode package list: %w", err)
	}
	return out.PackageList, nil
}

// TopupPackages lists TOPUP plans applicable to a specific profile.
func (c *Client) TopupPackages(ctx context.Context, iccid string) ([]PackageInfo, error) {
	payload := struct {
		Type  string `json:"type"`
		ICCID string `json:"iccid"`
	}{Type: "TOPUP", ICCID: iccid}

	obj, err := c.post(ctx, "/package/list", payload, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	var out struct {
		PackageList []PackageInfo `json:"packageList"`
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, fmt.Errorf("decode package list: %w", err)
	}
	return out.PackageList, nil
}
