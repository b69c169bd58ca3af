package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"esimstore/internal/models"
	"esimstore/internal/services"
)

type EsimHandler struct {
	Esims     *services.EsimService
	Purchases *services.PurchaseService
	Provider  services.Provisioner
	ErrorLog  *log.Logger
}

// MyEsims handles GET /api/esims: the buyer's orders with live provider
// state merged in.
func (h *EsimHandler) MyEsims(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Esims.MyEsims(r.Context(), userID(r))
	if err != nil {
		h.ErrorLog.Printf("my esims: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	type view struct {
		models.Order
		StatusLabel string `json:"status_label"`
	}
	out := make([]view, 0, len(orders))
	for _, o := range orders {
		out = append(out, view{Order: o, StatusLabel: models.StatusLabel(o.SmdpStatus, o.EsimStatus)})
	}
	json.NewEncoder(w).Encode(out)
}

// CancelEsim handles POST /api/esims/:iccid/cancel.
func (h *EsimHandler) CancelEsim(w http.ResponseWriter, r *http.Request) {
	iccid := r.URL.Query().Get(":iccid")
	err := h.Esims.Cancel(r.Context(), userID(r), iccid)
	if err != nil {
		h.writeEsimError(w, iccid, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "canceled"})
}

// TopupOptions handles GET /api/esims/:iccid/topups.
func (h *EsimHandler) TopupOptions(w http.ResponseWriter, r *http.Request) {
	iccid := r.URL.Query().Get(":iccid")
	pkgs, err := h.Esims.TopupOptions(r.Context(), userID(r), iccid)
	if err != nil {
		h.writeEsimError(w, iccid, err)
		return
	}
	json.NewEncoder(w).Encode(pkgs)
}

// TopUp handles POST /api/esims/:iccid/topup.
func (h *EsimHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	iccid := r.URL.Query().Get(":iccid")
	var req struct {
		PackageCode string `json:"package_code"`
		Price       int64  `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.Esims.TopUp(r.Context(), userID(r), iccid, req.PackageCode, req.Price)
	if err != nil {
		h.writeEsimError(w, iccid, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "topped_up"})
}

// RefreshUsage handles POST /api/esims/:iccid/usage.
func (h *EsimHandler) RefreshUsage(w http.ResponseWriter, r *http.Request) {
	iccid := r.URL.Query().Get(":iccid")
	ord, err := h.Esims.RefreshUsage(r.Context(), userID(r), iccid)
	if err != nil {
		h.writeEsimError(w, iccid, err)
		return
	}
	json.NewEncoder(w).Encode(ord)
}

// RemoveEsim handles DELETE /api/esims/:iccid.
func (h *EsimHandler) RemoveEsim(w http.ResponseWriter, r *http.Request) {
	iccid := r.URL.Query().Get(":iccid")
	if err := h.Esims.Remove(r.Context(), userID(r), iccid); err != nil {
		h.writeEsimError(w, iccid, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "removed"})
}

// CheckCryptoInvoice handles POST /api/payments/crypto/check: the mini-app
// counterpart of the bot's "I've paid" button.
func (h *EsimHandler) CheckCryptoInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceID int64 `json:"invoice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	chatID, err := strconv.ParseInt(userID(r), 10, 64)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	res, err := h.Purchases.ConfirmCrypto(r.Context(), chatID, req.InvoiceID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrPaymentPending):
			json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
		case errors.Is(err, models.ErrInvoiceExpired):
			json.NewEncoder(w).Encode(map[string]string{"status": "expired"})
		case errors.Is(err, models.ErrNoPendingPayment):
			json.NewEncoder(w).Encode(map[string]string{"status": "already_processed"})
		default:
			h.ErrorLog.Printf("confirm crypto: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(map[string]any{"status": "fulfilled", "order_no": res.OrderNo})
}

// Balance handles GET /api/balance: the merchant balance at the provider.
func (h *EsimHandler) Balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Provider.Balance(r.Context())
	if err != nil {
		h.ErrorLog.Printf("balance: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"balance":     balance,
		"balance_usd": float64(balance) / 10000,
	})
}

func (h *EsimHandler) writeEsimError(w http.ResponseWriter, iccid string, err error) {
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		http.Error(w, "eSIM not found", http.StatusNotFound)
	case errors.Is(err, models.ErrNotCancelable):
		http.Error(w, "eSIM is not cancelable: only never-installed profiles can be canceled", http.StatusConflict)
	case errors.Is(err, models.ErrTopupNotAllowed):
		http.Error(w, "eSIM does not support top-up in its current state", http.StatusConflict)
	case errors.Is(err, models.ErrTopupNotActivated):
		http.Error(w, "eSIM is not activated yet, install it first", http.StatusConflict)
	case errors.Is(err, models.ErrUsageNotReady):
		http.Error(w, "Usage is only available for eSIMs in use", http.StatusConflict)
	default:
		h.ErrorLog.Printf("esim %s: %v", iccid, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
