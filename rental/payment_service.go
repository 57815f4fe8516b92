package rental

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/rent-billing/generic"
)

// RecordPaymentRequest is one incoming payment for a tenant on a unit.
type RecordPaymentRequest struct {
	TenantID string        `validate:"required"`
	UnitID   string        `validate:"required"`
	Amount   generic.Money `validate:"gt=0"`
	// PaidForMonth is "YYYY-MM" or "YYYY-MM-DD".
	PaidForMonth   string `validate:"required"`
	Method         string `validate:"max=40"`
	Reference      string `validate:"max=120"`
	IdempotencyKey string `validate:"max=128"`
	PaidAt         *time.Time
}

// =============================================================================
// PAYMENT SERVICE
// =============================================================================

type PaymentService struct {
	store  TxStore
	opts   Options
	logger *zap.Logger
}

func NewPaymentService(store TxStore, opts Options) *PaymentService {
	opts = opts.withDefaults()
	return &PaymentService{
		store:  store,
		opts:   opts,
		logger: opts.Logger.Named("payments"),
	}
}

// Record allocates the payment against the month's dues and appends it to
// the ledger. The tenant must hold an active lease on the unit.
func (s *PaymentService) Record(ctx context.Context, scope Scope, req RecordPaymentRequest) (*Payment, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("payment amount %s: %w", req.Amount, ErrNegativeAmount)
	}
	month, err := generic.ParseYearMonth(req.PaidForMonth)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now().UTC()
	paidAt := now
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	var recorded *Payment
	err = s.store.WithTx(ctx, func(st Store) error {
		tenant, err := st.GetTenant(ctx, scope, req.TenantID)
		if err != nil {
			return err
		}
		unit, err := st.GetUnit(ctx, scope, req.UnitID)
		if err != nil {
			return err
		}
		lease, err := st.ActiveLeaseFor(ctx, scope, tenant.ID, unit.ID)
		if err != nil {
			return err
		}
		if lease == nil {
			return fmt.Errorf("tenant %s unit %s: %w", tenant.ID, unit.ID, ErrNoActiveLease)
		}

		dues, err := duesFor(ctx, st, scope, *lease, *unit, month)
		if err != nil {
			return err
		}
		alloc := Allocate(req.Amount, dues)

		p := Payment{
			ID:             s.opts.NewID(),
			AccountID:      scope.AccountID,
			TenantID:       tenant.ID,
			UnitID:         unit.ID,
			LeaseID:        lease.ID,
			Amount:         req.Amount,
			PaidForMonth:   month,
			Method:         req.Method,
			Reference:      req.Reference,
			WaterPaid:      alloc.WaterPaid,
			GarbagePaid:    alloc.GarbagePaid,
			RentPaid:       alloc.RentPaid,
			BalanceAfter:   alloc.BalanceAfter,
			CreditAfter:    alloc.CreditAfter,
			IdempotencyKey: req.IdempotencyKey,
			PaidAt:         paidAt,
			CreatedAt:      now,
		}
		if err := NewPaymentLedger(st).Append(ctx, scope, p); err != nil {
			return err
		}
		recorded = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		zap.String("account_id", string(scope.AccountID)),
		zap.String("payment_id", recorded.ID),
		zap.String("lease_id", recorded.LeaseID),
		zap.Stringer("amount", recorded.Amount),
		zap.Stringer("balance_after", recorded.BalanceAfter),
		zap.Stringer("credit_after", recorded.CreditAfter))
	return recorded, nil
}

// Dues returns what the lease owes for month, as used by Record.
func (s *PaymentService) Dues(ctx context.Context, scope Scope, leaseID string, month generic.YearMonth) (Dues, error) {
	lease, err := s.store.GetLease(ctx, scope, leaseID)
	if err != nil {
		return Dues{}, err
	}
	unit, err := s.store.GetUnit(ctx, scope, lease.UnitID)
	if err != nil {
		return Dues{}, err
	}
	return duesFor(ctx, s.store, scope, *lease, *unit, month)
}

// Snapshot is the balance/credit carried forward for tenant and unit.
func (s *PaymentService) Snapshot(ctx context.Context, scope Scope, tenantID, unitID string) (BalanceSnapshot, error) {
	return NewPaymentLedger(s.store).LatestSnapshot(ctx, scope, tenantID, unitID)
}

// History lists payments for tenant and unit, newest first.
func (s *PaymentService) History(ctx context.Context, scope Scope, tenantID, unitID string) ([]Payment, error) {
	return NewPaymentLedger(s.store).Payments(ctx, scope, tenantID, unitID)
}

// duesFor takes the RENT/WATER/GARBAGE lines of the invoice issued for the
// month when there is one. Otherwise it uses the unit's monthly rent and
// garbage fee and the resolved water charge, with absent water as zero.
func duesFor(ctx context.Context, st Store, scope Scope, lease Lease, unit Unit, month generic.YearMonth) (Dues, error) {
	inv, err := st.InvoiceForMonth(ctx, scope, lease.ID, month)
	if err != nil {
		return Dues{}, err
	}
	if inv != nil {
		var d Dues
		for _, li := range inv.LineItems {
			switch li.Code {
			case LineRent:
				d.Rent = d.Rent.Add(li.Amount)
			case LineWater:
				d.Water = d.Water.Add(li.Amount)
			case LineGarbage:
				d.Garbage = d.Garbage.Add(li.Amount)
			}
		}
		return d, nil
	}

	d := Dues{Rent: unit.Rent, Garbage: unit.GarbageFee}
	property, err := optionalProperty(ctx, st, scope, unit.PropertyID)
	if err != nil {
		return Dues{}, err
	}
	current, err := st.GetReading(ctx, scope, unit.ID, month)
	if err != nil {
		return Dues{}, err
	}
	previous, err := st.GetReading(ctx, scope, unit.ID, month.Prev())
	if err != nil {
		return Dues{}, err
	}
	if water, ok := ResolveWaterCharge(unit, property, month, current, previous); ok {
		d.Water = water.Amount
	}
	return d, nil
}
