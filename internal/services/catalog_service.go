package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"esimstore/internal/esimaccess"
	"esimstore/internal/models"
)

// CatalogService keeps an in-memory snapshot of the sellable packages,
// refreshed periodically. Reads never touch the provider.
type CatalogService struct {
	Provider Provisioner

	InfoLog  *log.Logger
	ErrorLog *log.Logger

	mu        sync.RWMutex
	local     []esimaccess.PackageInfo
	regional  []esimaccess.PackageInfo
	global    []esimaccess.PackageInfo
	updatedAt time.Time
}

// Refresh pulls the three catalog scopes and applies the retail pricing
// rules. Partial failure aborts the refresh; the previous snapshot stays.
func (s *CatalogService) Refresh(ctx context.Context) error {
	local, err := s.Provider.Packages(ctx, "BASE", "")
	if err != nil {
		return fmt.Errorf("fetch base packages: %w", err)
	}
	regional, err := s.Provider.Packages(ctx, "BASE", "!RG")
	if err != nil {
		return fmt.Errorf("fetch regional packages: %w", err)
	}
	global, err := s.Provider.Packages(ctx, "BASE", "!GL")
	if err != nil {
		return fmt.Errorf("fetch global packages: %w", err)
	}

	// Country plans are the base list minus the multi-location scopes.
	countryOnly := local[:0]
	for _, p := range local {
		if len(p.Location) == 2 {
			countryOnly = append(countryOnly, p)
		}
	}

	AdjustPrices(countryOnly)
	AdjustPrices(regional)
	AdjustPrices(global)

	s.mu.Lock()
	s.local = countryOnly
	s.regional = regional
	s.global = global
	s.updatedAt = time.Now()
	s.mu.Unlock()

	if s.InfoLog != nil {
		s.InfoLog.Printf("catalog refreshed: %d local, %d regional, %d global",
			len(countryOnly), len(regional), len(global))
	}
	return nil
}

// AdjustPrices fills in sane retail prices, in 1/10000 USD units:
// a missing retail price becomes cost x3, a retail price at or below cost
// becomes cost x1.5, and anything above cost x3 is capped there.
func AdjustPrices(pkgs []esimaccess.PackageInfo) {
	for i := range pkgs {
		p := &pkgs[i]
		switch {
		case p.RetailPrice == 0:
			p.RetailPrice = p.Price * 3
		case p.RetailPrice <= p.Price:
			p.RetailPrice = p.Price * 3 / 2
		case p.RetailPrice > p.Price*3:
			p.RetailPrice = p.Price * 3
		}
	}
}

func (s *CatalogService) Local() []esimaccess.PackageInfo    { return s.copyOf(&s.local) }
func (s *CatalogService) Regional() []esimaccess.PackageInfo { return s.copyOf(&s.regional) }
func (s *CatalogService) Global() []esimaccess.PackageInfo   { return s.copyOf(&s.global) }

func (s *CatalogService) copyOf(src *[]esimaccess.PackageInfo) []esimaccess.PackageInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]esimaccess.PackageInfo, len(*src))
	copy(out, *src)
	return out
}

// Countries lists the 2-letter codes that have at least one plan, sorted.
func (s *CatalogService) Countries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.local))
	for _, p := range s.local {
		seen[p.Location] = true
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ByCountry returns the country's plans, cheapest first.
func (s *CatalogService) ByCountry(code string) []esimaccess.PackageInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []esimaccess.PackageInfo
	for _, p := range s.local {
		if p.Location == code {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetailPrice < out[j].RetailPrice })
	return out
}

// Find looks a package up across all scopes.
func (s *CatalogService) Find(packageCode string) (esimaccess.PackageInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, scope := range [][]esimaccess.PackageInfo{s.local, s.regional, s.global} {
		for _, p := range scope {
			if p.PackageCode == packageCode {
				return p, nil
			}
		}
	}
	return esimaccess.PackageInfo{}, models.ErrPackageNotFound
}

func (s *CatalogService) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
