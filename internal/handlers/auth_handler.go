package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"esimstore/internal/models"
	"esimstore/internal/services"
)

type AuthHandler struct {
	Service  *services.AuthService
	ErrorLog *log.Logger
}

// SignInTelegram handles POST /api/auth/telegram: verifies WebApp initData
// and returns the account with a token pair.
func (h *AuthHandler) SignInTelegram(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InitData string `json:"init_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.Service.Login(r.Context(), req.InitData)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInitData) {
			http.Error(w, "Invalid init data", http.StatusUnauthorized)
			return
		}
		h.ErrorLog.Printf("login: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(res)
}

// RefreshToken handles POST /api/auth/refresh.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tokens, err := h.Service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
			return
		}
		h.ErrorLog.Printf("refresh: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(tokens)
}
