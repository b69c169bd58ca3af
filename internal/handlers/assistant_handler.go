package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"esimstore/internal/services"
)

type AssistantHandler struct {
	Service *services.AssistantService
}

type AskRequest struct {
	Question string `json:"question"`
	UseLLM   *bool  `json:"use_llm,omitempty"`
	MaxKB    *int   `json:"max_kb,omitempty"`
}

func NewAssistantHandler(service *services.AssistantService) *AssistantHandler {
	return &AssistantHandler{Service: service}
}

func (h *AssistantHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		http.Error(w, "assistant service unavailable", http.StatusServiceUnavailable)
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	maxKB := 3
	if req.MaxKB != nil {
		maxKB = clamp(*req.MaxKB, 1, 5)
	}

	useLLM := true
	if req.UseLLM != nil {
		useLLM = *req.UseLLM
	}

	params := services.AskParams{
		Question: question,
		UseLLM:   useLLM,
		MaxKB:    maxKB,
	}

	result, err := h.Service.Ask(r.Context(), params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(result)
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
