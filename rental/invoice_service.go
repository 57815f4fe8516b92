package rental

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/rent-billing/generic"
)

// =============================================================================
// REQUESTS
// =============================================================================

// InvoiceRequest selects a lease and period to preview or issue.
type InvoiceRequest struct {
	LeaseID     string       `validate:"required"`
	PeriodStart generic.Date `validate:"required"`
	PeriodEnd   generic.Date `validate:"required"`

	IncludeDeposit bool
	// IncludeBalance defaults to on for previews and off for issued invoices.
	IncludeBalance *bool

	// IssuedAt defaults to now; DueDate to the issue date plus DueDays.
	IssuedAt *time.Time
	DueDate  *generic.Date
}

// =============================================================================
// INVOICE SERVICE
// =============================================================================

type InvoiceService struct {
	store  TxStore
	opts   Options
	logger *zap.Logger
}

func NewInvoiceService(store TxStore, opts Options) *InvoiceService {
	opts = opts.withDefaults()
	return &InvoiceService{
		store:  store,
		opts:   opts,
		logger: opts.Logger.Named("invoices"),
	}
}

// Preview computes the invoice without writing anything or consuming a number.
func (s *InvoiceService) Preview(ctx context.Context, scope Scope, req InvoiceRequest) (Draft, error) {
	if err := validateStruct(req); err != nil {
		return Draft{}, err
	}
	includeBalance := s.opts.PreviewIncludesBalance
	if req.IncludeBalance != nil {
		includeBalance = *req.IncludeBalance
	}
	in, err := s.buildInput(ctx, s.store, scope, req, includeBalance)
	if err != nil {
		return Draft{}, err
	}
	return BuildInvoice(in)
}

// Issue builds, numbers and persists the invoice for the lease and period.
//
// Number assignment holds a lock on (account, prefix) and runs inside one
// store transaction with the duplicate check and the insert. A number
// conflict from a concurrent writer the lock did not cover is retried.
func (s *InvoiceService) Issue(ctx context.Context, scope Scope, req InvoiceRequest) (*Invoice, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if _, err := generic.NewPeriod(req.PeriodStart, req.PeriodEnd); err != nil {
		return nil, err
	}

	now := s.opts.Now().UTC()
	issuedAt := now
	if req.IssuedAt != nil {
		issuedAt = req.IssuedAt.UTC()
	}
	dueDate := generic.DateOf(issuedAt).AddDays(s.opts.DueDays)
	if req.DueDate != nil && !req.DueDate.IsZero() {
		dueDate = *req.DueDate
	}
	includeBalance := req.IncludeBalance != nil && *req.IncludeBalance

	prefix := InvoicePrefix(now)
	unlock, err := s.opts.Locker.Lock(ctx, sequenceLockKey(scope, prefix))
	if err != nil {
		return nil, fmt.Errorf("invoice sequence %s: %w", prefix, err)
	}
	defer unlock()

	var issued *Invoice
	for attempt := 0; ; attempt++ {
		err = s.store.WithTx(ctx, func(st Store) error {
			in, err := s.buildInput(ctx, st, scope, req, includeBalance)
			if err != nil {
				return err
			}
			draft, err := BuildInvoice(in)
			if err != nil {
				return err
			}

			existing, err := st.FindInvoice(ctx, scope, draft.LeaseID, draft.PeriodStart, draft.PeriodEnd)
			if err != nil {
				return err
			}
			if existing != nil {
				return &DuplicateInvoiceError{
					LeaseID:        draft.LeaseID,
					PeriodStart:    draft.PeriodStart,
					PeriodEnd:      draft.PeriodEnd,
					ExistingID:     existing.ID,
					ExistingNumber: existing.InvoiceNumber,
				}
			}

			last, err := st.MaxInvoiceNumber(ctx, scope, prefix)
			if err != nil {
				return err
			}
			number, err := NextInvoiceNumber(prefix, last)
			if err != nil {
				return err
			}

			inv := Invoice{
				ID:            s.opts.NewID(),
				AccountID:     scope.AccountID,
				LeaseID:       draft.LeaseID,
				TenantID:      draft.TenantID,
				UnitID:        draft.UnitID,
				InvoiceNumber: number,
				PeriodStart:   draft.PeriodStart,
				PeriodEnd:     draft.PeriodEnd,
				IssuedAt:      issuedAt,
				DueDate:       dueDate,
				Currency:      s.opts.Currency,
				Status:        InvoiceStatusIssued,
				LineItems:     draft.LineItems,
				Subtotal:      draft.Subtotal,
				Total:         draft.Total,
				CreatedAt:     now,
			}
			if err := st.CreateInvoice(ctx, inv); err != nil {
				return err
			}
			issued = &inv
			return nil
		})
		if IsRetryable(err) && attempt < s.opts.SequenceRetries {
			s.logger.Warn("invoice number taken, retrying",
				zap.String("account_id", string(scope.AccountID)),
				zap.String("prefix", prefix),
				zap.Int("attempt", attempt+1))
			continue
		}
		break
	}

	if err != nil {
		if errors.Is(err, ErrDuplicateInvoice) {
			s.logger.Info("duplicate invoice rejected",
				zap.String("account_id", string(scope.AccountID)),
				zap.String("lease_id", req.LeaseID),
				zap.Stringer("period_start", req.PeriodStart),
				zap.Stringer("period_end", req.PeriodEnd))
		}
		return nil, err
	}

	s.logger.Info("invoice issued",
		zap.String("account_id", string(scope.AccountID)),
		zap.String("invoice_number", issued.InvoiceNumber),
		zap.String("lease_id", issued.LeaseID),
		zap.Stringer("total", issued.Total))
	return issued, nil
}

// Get returns one invoice in scope.
func (s *InvoiceService) Get(ctx context.Context, scope Scope, id string) (*Invoice, error) {
	return s.store.GetInvoice(ctx, scope, id)
}

// List returns invoices newest first. limit <= 0 means 20.
func (s *InvoiceService) List(ctx context.Context, scope Scope, limit, offset int) ([]Invoice, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListInvoices(ctx, scope, limit, offset)
}

// buildInput fetches every record BuildInvoice needs through st.
func (s *InvoiceService) buildInput(ctx context.Context, st Store, scope Scope, req InvoiceRequest, includeBalance bool) (BuildInput, error) {
	lease, err := st.GetLease(ctx, scope, req.LeaseID)
	if err != nil {
		return BuildInput{}, err
	}
	tenant, err := st.GetTenant(ctx, scope, lease.TenantID)
	if err != nil {
		return BuildInput{}, err
	}
	unit, err := st.GetUnit(ctx, scope, lease.UnitID)
	if err != nil {
		return BuildInput{}, err
	}
	property, err := optionalProperty(ctx, st, scope, unit.PropertyID)
	if err != nil {
		return BuildInput{}, err
	}

	key := generic.YearMonthOf(req.PeriodStart)
	current, err := st.GetReading(ctx, scope, unit.ID, key)
	if err != nil {
		return BuildInput{}, err
	}
	previous, err := st.GetReading(ctx, scope, unit.ID, key.Prev())
	if err != nil {
		return BuildInput{}, err
	}

	in := BuildInput{
		Scope:           scope,
		Lease:           *lease,
		Tenant:          *tenant,
		Unit:            *unit,
		Property:        property,
		PeriodStart:     req.PeriodStart,
		PeriodEnd:       req.PeriodEnd,
		CurrentReading:  current,
		PreviousReading: previous,
		IncludeDeposit:  req.IncludeDeposit,
	}
	if includeBalance {
		snap, err := NewPaymentLedger(st).LatestSnapshot(ctx, scope, tenant.ID, unit.ID)
		if err != nil {
			return BuildInput{}, err
		}
		in.Balance = &snap
	}
	return in, nil
}

// optionalProperty treats a unit without a property as having no fallback rate.
func optionalProperty(ctx context.Context, st Store, scope Scope, id string) (*Property, error) {
	if id == "" {
		return nil, nil
	}
	p, err := st.GetProperty(ctx, scope, id)
	if errors.Is(err, ErrPropertyNotFound) {
		return nil, nil
	}
	return p, err
}

func sequenceLockKey(scope Scope, prefix string) string {
	return "invoice-seq:" + string(scope.AccountID) + ":" + prefix
}
