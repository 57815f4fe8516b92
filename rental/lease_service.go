package rental

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/rent-billing/generic"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateLeaseRequest struct {
	TenantID  string       `validate:"required"`
	UnitID    string       `validate:"required"`
	StartDate generic.Date `validate:"required"`
	// EndDate nil means open-ended.
	EndDate *generic.Date
	// DepositAmount nil uses the unit default.
	DepositAmount *generic.Money `validate:"omitempty,gte=0"`
}

type EndLeaseRequest struct {
	LeaseID string `validate:"required"`
	// EndDate zero means today.
	EndDate generic.Date
}

type MoveOutRequest struct {
	LeaseID         string        `validate:"required"`
	KPLCTokenDebt   generic.Money `validate:"gte=0"`
	DamagesCost     generic.Money `validate:"gte=0"`
	OtherDeductions generic.Money `validate:"gte=0"`
	Notes           string        `validate:"max=500"`
	// MovedOutAt defaults to now.
	MovedOutAt *time.Time
}

// MoveOutResult is the updated lease and the persisted settlement.
type MoveOutResult struct {
	Lease      Lease
	Settlement MoveOutSettlement
}

// =============================================================================
// LEASE SERVICE
// =============================================================================

type LeaseService struct {
	store  TxStore
	opts   Options
	logger *zap.Logger
}

func NewLeaseService(store TxStore, opts Options) *LeaseService {
	opts = opts.withDefaults()
	return &LeaseService{
		store:  store,
		opts:   opts,
		logger: opts.Logger.Named("leases"),
	}
}

// Create opens a lease. A unit may have only one active lease.
func (s *LeaseService) Create(ctx context.Context, scope Scope, req CreateLeaseRequest) (*Lease, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	end := generic.EndFrom(req.EndDate)
	if _, err := generic.NewPeriod(req.StartDate, end.Resolve()); err != nil {
		return nil, err
	}

	var created *Lease
	err := s.store.WithTx(ctx, func(st Store) error {
		tenant, err := st.GetTenant(ctx, scope, req.TenantID)
		if err != nil {
			return err
		}
		unit, err := st.GetUnit(ctx, scope, req.UnitID)
		if err != nil {
			return err
		}
		active, err := st.ActiveLeaseForUnit(ctx, scope, unit.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("unit %s (lease %s): %w", unit.ID, active.ID, ErrUnitAlreadyLeased)
		}

		deposit := unit.Deposit
		if req.DepositAmount != nil {
			deposit = *req.DepositAmount
		}
		l := Lease{
			ID:            s.opts.NewID(),
			AccountID:     scope.AccountID,
			TenantID:      tenant.ID,
			UnitID:        unit.ID,
			StartDate:     req.StartDate,
			End:           end,
			IsActive:      true,
			DepositAmount: deposit,
			DepositHeld:   deposit,
			CreatedAt:     s.opts.Now().UTC(),
		}
		if err := st.CreateLease(ctx, l); err != nil {
			return err
		}
		created = &l
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lease created",
		zap.String("account_id", string(scope.AccountID)),
		zap.String("lease_id", created.ID),
		zap.String("unit_id", created.UnitID),
		zap.Stringer("deposit", created.DepositAmount))
	return created, nil
}

// Get returns one lease in scope.
func (s *LeaseService) Get(ctx context.Context, scope Scope, id string) (*Lease, error) {
	return s.store.GetLease(ctx, scope, id)
}

// End closes a lease without settlement. It is rejected while a deposit is
// held; MoveOut must be used instead.
func (s *LeaseService) End(ctx context.Context, scope Scope, req EndLeaseRequest) (*Lease, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	endDate := req.EndDate
	if endDate.IsZero() {
		endDate = generic.DateOf(s.opts.Now().UTC())
	}

	var ended *Lease
	err := s.store.WithTx(ctx, func(st Store) error {
		lease, err := st.GetLease(ctx, scope, req.LeaseID)
		if err != nil {
			return err
		}
		if _, err := generic.NewPeriod(lease.StartDate, endDate); err != nil {
			return err
		}
		if !lease.IsActive {
			return fmt.Errorf("lease %s: %w", lease.ID, ErrLeaseInactive)
		}
		if lease.DepositHeld.IsPositive() {
			return &DepositHeldError{LeaseID: lease.ID, DepositHeld: lease.DepositHeld}
		}

		lease.End = generic.Bounded(endDate)
		lease.IsActive = false
		if err := st.UpdateLease(ctx, *lease); err != nil {
			return err
		}
		ended = lease
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lease ended",
		zap.String("account_id", string(scope.AccountID)),
		zap.String("lease_id", ended.ID),
		zap.Stringer("end_date", endDate))
	return ended, nil
}

// MoveOut settles the held deposit against the deductions and closes the
// lease. It runs once per lease: a second call finds the lease inactive.
func (s *LeaseService) MoveOut(ctx context.Context, scope Scope, req MoveOutRequest) (*MoveOutResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	for _, m := range []generic.Money{req.KPLCTokenDebt, req.DamagesCost, req.OtherDeductions} {
		if m.IsNegative() {
			return nil, fmt.Errorf("deduction %s: %w", m, ErrNegativeAmount)
		}
	}
	movedOutAt := s.opts.Now().UTC()
	if req.MovedOutAt != nil {
		movedOutAt = req.MovedOutAt.UTC()
	}

	var result *MoveOutResult
	err := s.store.WithTx(ctx, func(st Store) error {
		lease, err := st.GetLease(ctx, scope, req.LeaseID)
		if err != nil {
			return err
		}
		if !lease.IsActive {
			return fmt.Errorf("lease %s: %w", lease.ID, ErrLeaseInactive)
		}

		settlement := Settle(lease.DepositHeld, Deductions{
			KPLCTokenDebt: req.KPLCTokenDebt,
			Damages:       req.DamagesCost,
			Other:         req.OtherDeductions,
		})
		updated := ApplySettlement(*lease, settlement, movedOutAt)
		if err := st.UpdateLease(ctx, updated); err != nil {
			return err
		}

		record := MoveOutSettlement{
			ID:              s.opts.NewID(),
			AccountID:       scope.AccountID,
			LeaseID:         lease.ID,
			KPLCTokenDebt:   req.KPLCTokenDebt,
			DamagesCost:     req.DamagesCost,
			OtherDeductions: req.OtherDeductions,
			DepositUsed:     settlement.Used,
			RefundAmount:    settlement.Refund,
			RemainingDebt:   settlement.RemainingDebt,
			Notes:           req.Notes,
			MovedOutAt:      movedOutAt,
		}
		if err := st.AppendSettlement(ctx, record); err != nil {
			return err
		}
		result = &MoveOutResult{Lease: updated, Settlement: record}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("tenant moved out",
		zap.String("account_id", string(scope.AccountID)),
		zap.String("lease_id", result.Lease.ID),
		zap.Stringer("deposit_used", result.Settlement.DepositUsed),
		zap.Stringer("refund", result.Settlement.RefundAmount),
		zap.Stringer("remaining_debt", result.Settlement.RemainingDebt))
	return result, nil
}

// Settlements lists move-out records for a lease.
func (s *LeaseService) Settlements(ctx context.Context, scope Scope, leaseID string) ([]MoveOutSettlement, error) {
	return s.store.ListSettlements(ctx, scope, leaseID)
}
