package payments

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
	"strconv"
	"strings"
	"time"
)

// Invoice states reported by Crypto Pay.
type Status string

const (
	StatusPending Status = "active"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
)

type CryptoPayConfig struct {
	// API token выдаёт @CryptoBot -> Crypto Pay -> Create App
	Token string

	// По умолчанию https://pay.crypt.bot/api
	BaseURL string

	Client *http.Client
	Logger *slog.Logger
}

// CryptoPayClient talks to the Crypto Pay HTTP API. Invoices are created
// in fiat USD; the buyer picks the asset on the hosted payment page.
type CryptoPayClient struct {
	token   string
	baseURL *url.URL

	httpClient *http.Client
	logger     *slog.Logger
}

// CryptoPayError is a business rejection from the API (ok=false).
type CryptoPayError struct {
	Code    int
	Message string
}

func (e *CryptoPayError) Error() string {
	return fmt.Sprintf("cryptopay: %s (code %d)", e.Message, e.Code)
}

type Invoice struct {
	InvoiceID        int64  `json:"invoice_id"`
	Status           Status `json:"status"`
	Amount           string `json:"amount"`
	Fiat             string `json:"fiat"`
	Description      string `json:"description"`
	Payload          string `json:"payload"`
	BotInvoiceURL    string `json:"bot_invoice_url"`
	MiniAppInvoiceID string `json:"mini_app_invoice_url"`
	CreatedAt        string `json:"created_at"`
	PaidAt           string `json:"paid_at"`
}

func NewCryptoPayClient(cfg CryptoPayConfig) (*CryptoPayClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("cryptopay: token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://pay.crypt.bot/api"
	}
	u, err := url.Parse(base)
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
	return &CryptoPayClient{
		token:      cfg.Token,
		baseURL:    u,
		httpClient: client,
		logger:     logger,
	}, nil
}

func (c *CryptoPayClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	u := *c.baseURL
	u.Path = path.Join(u.Path, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", method, err)
	}

	var env struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  struct {
			Code int    `json:"code"`
			Name string `json:"name"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !env.OK {
		return &CryptoPayError{Code: env.Error.Code, Message: env.Error.Name}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// CreateInvoice creates a hosted invoice for amountUSD (dollars, two
// decimals). The payload round-trips through the confirmation callback.
func (c *CryptoPayClient) CreateInvoice(ctx context.Context, amountUSD float64, description, payload string) (*Invoice, error) {
	params := struct {
		CurrencyType   string `json:"currency_type"`
		Fiat           string `json:"fiat"`
		Amount         string `json:"amount"`
		Description    string `json:"description"`
		Payload        string `json:"payload,omitempty"`
		ExpiresIn      int    `json:"expires_in"`
		AcceptedAssets string `json:"accepted_assets"`
	}{
		CurrencyType:   "fiat",
		Fiat:           "USD",
		Amount:         strconv.FormatFloat(amountUSD, 'f', 2, 64),
		Description:    description,
		Payload:        payload,
		ExpiresIn:      1800,
		AcceptedAssets: "USDT,TON,BTC,ETH",
	}

	var inv Invoice
	if err := c.call(ctx, "createInvoice", params, &inv); err != nil {
		return nil, err
	}
	c.logger.Info("cryptopay invoice created", "invoiceID", inv.InvoiceID, "amount", inv.Amount)
	return &inv, nil
}

// GetInvoice fetches a single invoice by ID.
func (c *CryptoPayClient) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	params := struct {
		InvoiceIDs string `json:"invoice_ids"`
	}{InvoiceIDs: strconv.FormatInt(invoiceID, 10)}

	var result struct {
		Items []Invoice `json:"items"`
	}
	if err := c.call(ctx, "getInvoices", params, &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("cryptopay: invoice %d not found", invoiceID)
	}
	return &result.Items[0], nil
}

// InvoiceStatus maps the invoice into the three-way confirmation outcome.
func (c *CryptoPayClient) InvoiceStatus(ctx context.Context, invoiceID int64) (Status, error) {
	inv, err := c.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	switch inv.Status {
	case StatusPaid, StatusExpired, StatusPending:
		return inv.Status, nil
	}
	return "", fmt.Errorf("cryptopay: unexpected invoice status %q", inv.Status)
}
