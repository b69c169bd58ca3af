package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"esimstore/internal/models"
	"esimstore/internal/services"
)

type CatalogHandler struct {
	Catalog *services.CatalogService
}

// Countries handles GET /api/packages/countries.
func (h *CatalogHandler) Countries(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.Catalog.Countries())
}

// ByCountry handles GET /api/packages/country/:code.
func (h *CatalogHandler) ByCountry(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get(":code")
	json.NewEncoder(w).Encode(h.Catalog.ByCountry(code))
}

// Regional handles GET /api/packages/regional.
func (h *CatalogHandler) Regional(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.Catalog.Regional())
}

// Global handles GET /api/packages/global.
func (h *CatalogHandler) Global(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.Catalog.Global())
}

// Package handles GET /api/packages/:code.
func (h *CatalogHandler) Package(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get(":code")
	pkg, err := h.Catalog.Find(code)
	if err != nil {
		if errors.Is(err, models.ErrPackageNotFound) {
			http.Error(w, "Package not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(pkg)
}
