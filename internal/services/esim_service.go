package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"esimstore/internal/esimaccess"
	"esimstore/internal/models"
	"esimstore/internal/repositories"
)

// EsimService owns the post-purchase operations: listing with a live
// provider refresh, cancel, top-up and usage refresh. Every operation is a
// stateless read-precondition-act-resync cycle; the provider response is
// the source of truth and the store converges to it.
type EsimService struct {
	Provider Provisioner
	Orders   OrderStore

	InfoLog  *log.Logger
	ErrorLog *log.Logger
}

// MyEsims returns the buyer's orders with provider state merged in. A
// provider failure for one profile degrades to the stored snapshot instead
// of failing the whole listing.
func (s *EsimService) MyEsims(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := s.Orders.ByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	for i := range orders {
		if orders[i].ICCID == "" {
			continue
		}
		prof, err := s.Provider.QueryICCID(ctx, orders[i].ICCID)
		if err != nil {
			s.errorf("refresh %s: %v", orders[i].ICCID, err)
			continue
		}
		mergeProfile(&orders[i], prof)
		if err := s.Orders.Upsert(ctx, &orders[i]); err != nil {
			s.errorf("persist refreshed %s: %v", orders[i].ICCID, err)
		}
	}
	return orders, nil
}

// Cancel releases an unused profile and refunds the wholesale cost. The
// precondition is checked against fresh provider state; when it fails no
// cancel call is made at all.
func (s *EsimService) Cancel(ctx context.Context, userID, iccid string) error {
	ord, err := s.owned(ctx, userID, iccid)
	if err != nil {
		return err
	}

	prof, err := s.Provider.QueryICCID(ctx, iccid)
	if err != nil {
		return fmt.Errorf("query esim: %w", err)
	}
	if !models.CanCancel(prof.SmdpStatus, prof.EsimStatus) {
		return models.ErrNotCancelable
	}

	if err := s.Provider.Cancel(ctx, iccid, prof.EsimTranNo); err != nil {
		return fmt.Errorf("cancel esim: %w", err)
	}
	s.infof("canceled esim %s (order %s)", iccid, ord.OrderNo)

	s.resync(ctx, &ord)
	return nil
}

// TopupOptions lists the TOPUP plans applicable to the profile. The same
// state gate as TopUp applies, so the buyer never sees options that a
// subsequent top-up would reject.
func (s *EsimService) TopupOptions(ctx context.Context, userID, iccid string) ([]esimaccess.PackageInfo, error) {
	if _, err := s.owned(ctx, userID, iccid); err != nil {
		return nil, err
	}

	prof, err := s.Provider.QueryICCID(ctx, iccid)
	if err != nil {
		return nil, fmt.Errorf("query esim: %w", err)
	}
	if !models.CanTopup(prof.SmdpStatus, prof.EsimStatus) {
		return nil, models.ErrTopupNotAllowed
	}

	pkgs, err := s.Provider.TopupPackages(ctx, iccid)
	if err != nil {
		return nil, fmt.Errorf("list topup packages: %w", err)
	}
	AdjustPrices(pkgs)

	// Plans the profile's base package cannot absorb are filtered out.
	filtered := pkgs[:0]
	for _, p := range pkgs {
		if p.SupportTopUpType == 2 {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// TopUp recharges the profile with the chosen plan. The provider applies
// the charge idempotently by transaction ID.
func (s *EsimService) TopUp(ctx context.Context, userID, iccid, packageCode string, price int64) error {
	ord, err := s.owned(ctx, userID, iccid)
	if err != nil {
		return err
	}

	prof, err := s.Provider.QueryICCID(ctx, iccid)
	if err != nil {
		return fmt.Errorf("query esim: %w", err)
	}
	if !models.CanTopup(prof.SmdpStatus, prof.EsimStatus) {
		return models.ErrTopupNotAllowed
	}

	err = s.Provider.TopUp(ctx, esimaccess.TopupRequest{
		EsimTranNo:    prof.EsimTranNo,
		PackageCode:   packageCode,
		Price:         price,
		TransactionID: uuid.NewString(),
	})
	if err != nil {
		var apiErr *esimaccess.APIError
		// The provider's wording for a profile that has not finished
		// activating on the device yet.
		if errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "status doesn`t support") {
			return models.ErrTopupNotActivated
		}
		return fmt.Errorf("topup esim: %w", err)
	}
	s.infof("topped up esim %s with %s (order %s)", iccid, packageCode, ord.OrderNo)

	s.resync(ctx, &ord)
	return nil
}

// RefreshUsage pulls the live usage counters. Only profiles that are
// actually in use have meaningful counters.
func (s *EsimService) RefreshUsage(ctx context.Context, userID, iccid string) (models.Order, error) {
	ord, err := s.owned(ctx, userID, iccid)
	if err != nil {
		return models.Order{}, err
	}
	if !models.HasUsage(ord.SmdpStatus, ord.EsimStatus) {
		return models.Order{}, models.ErrUsageNotReady
	}

	prof, err := s.Provider.QueryICCID(ctx, iccid)
	if err != nil {
		return models.Order{}, fmt.Errorf("query esim: %w", err)
	}

	now := time.Now()
	if err := s.Orders.UpdateUsage(ctx, iccid, prof.OrderUsage, now); err != nil {
		return models.Order{}, fmt.Errorf("persist usage: %w", err)
	}
	ord.OrderUsage = prof.OrderUsage
	ord.LastSyncAt = &now
	return ord, nil
}

// Remove deletes the profile from the buyer's list. Store-only: the
// provider record is untouched.
func (s *EsimService) Remove(ctx context.Context, userID, iccid string) error {
	err := s.Orders.DeleteByICCID(ctx, userID, iccid)
	if err != nil {
		if isNotFound(err) {
			return models.ErrOrderNotFound
		}
		return err
	}
	return nil
}

func (s *EsimService) owned(ctx context.Context, userID, iccid string) (models.Order, error) {
	ord, err := s.Orders.ByICCID(ctx, iccid)
	if err != nil {
		if isNotFound(err) {
			return models.Order{}, models.ErrOrderNotFound
		}
		return models.Order{}, err
	}
	if ord.UserID != userID {
		return models.Order{}, models.ErrOrderNotFound
	}
	return ord, nil
}

// resync re-reads provider state after a mutating call and converges the
// store to it. Best-effort: a failed resync only logs, the next listing
// refresh repairs the row.
func (s *EsimService) resync(ctx context.Context, ord *models.Order) {
	prof, err := s.Provider.QueryICCID(ctx, ord.ICCID)
	if err != nil {
		s.errorf("resync %s: %v", ord.ICCID, err)
		return
	}
	mergeProfile(ord, prof)
	if err := s.Orders.Upsert(ctx, ord); err != nil {
		s.errorf("persist resync %s: %v", ord.ICCID, err)
	}
}

func mergeProfile(ord *models.Order, prof esimaccess.Profile) {
	ord.EsimTranNo = prof.EsimTranNo
	ord.EsimStatus = prof.EsimStatus
	ord.SmdpStatus = prof.SmdpStatus
	ord.ExpiredTime = prof.ExpiredTime
	ord.TotalVolume = prof.TotalVolume
	ord.TotalDuration = prof.TotalDuration
	ord.OrderUsage = prof.OrderUsage
	if prof.QRCodeURL != "" && ord.QRCode == "" {
		ord.QRCode = prof.QRCodeURL
	}
	if len(prof.PackageList) > 0 {
		ord.PackageList = string(prof.PackageList)
	}
	if snapshot, err := json.Marshal(prof); err == nil {
		ord.EsimList = string(snapshot)
	}
	now := time.Now()
	ord.LastSyncAt = &now
}

func isNotFound(err error) bool {
	return errors.Is(err, repositories.ErrNotFound)
}

func (s *EsimService) infof(format string, args ...any) {
	if s.InfoLog != nil {
		s.InfoLog.Printf(format, args...)
	}
}

func (s *EsimService) errorf(format string, args ...any) {
	if s.ErrorLog != nil {
		s.ErrorLog.Printf(format, args...)
	}
}
