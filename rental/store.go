/*
store.go - Persistence interface for billing records

PURPOSE:
  Defines the boundary between billing logic and the database. The store
  supplies validated records (properties, units, tenants, leases, readings,
  payments) and persists invoices and settlements. Every call takes a Scope;
  records of another account are invisible.

KEY INTERFACES:
  RecordStore:     Properties, units, tenants
  LeaseStore:      Lease lifecycle
  ReadingStore:    Water meter readings, one per unit and period key
  PaymentStore:    Append-only payment ledger
  InvoiceStore:    Frozen invoices and the number sequence
  SettlementStore: Move-out settlements
  TxStore:         All of the above plus WithTx

APPEND-ONLY CONTRACT:
  Payments, readings, invoices and settlements are never updated or
  deleted. Only leases change state (end, move-out) and only inside WithTx.

UNIQUENESS:
  Stores enforce, independent of service checks:
  - one invoice per (account, lease, period start, period end)
  - one invoice number per account
  - one reading per (account, unit, period key)
  - one payment per idempotency key

IMPLEMENTATIONS:
  - store/sqlite: SQLite with embedded migrations
  - rental/store: In-memory for tests and dev

SEE ALSO:
  - ledger.go: Payment ledger and balance snapshots
  - invoice_service.go: Uses WithTx for numbering
*/
package rental

import (
	"context"

	"github.com/warp/rent-billing/generic"
)

// =============================================================================
// RECORD STORES
// =============================================================================

// RecordStore holds the reference records that leases point at.
//
// Every scoped getter in this file returns the matching Err*NotFound when
// the id is unknown, and ErrForbidden when it exists under another account.
type RecordStore interface {
	SaveProperty(ctx context.Context, p Property) error
	GetProperty(ctx context.Context, scope Scope, id string) (*Property, error)

	SaveUnit(ctx context.Context, u Unit) error
	GetUnit(ctx context.Context, scope Scope, id string) (*Unit, error)

	SaveTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, scope Scope, id string) (*Tenant, error)

	// ListAccounts returns every account that has at least one active lease.
	ListAccounts(ctx context.Context) ([]AccountID, error)
}

type LeaseStore interface {
	CreateLease(ctx context.Context, l Lease) error
	UpdateLease(ctx context.Context, l Lease) error
	GetLease(ctx context.Context, scope Scope, id string) (*Lease, error)

	// ActiveLeaseForUnit returns nil when the unit has no active lease.
	ActiveLeaseForUnit(ctx context.Context, scope Scope, unitID string) (*Lease, error)

	// ActiveLeaseFor returns the newest active lease tying tenant to unit, or nil.
	ActiveLeaseFor(ctx context.Context, scope Scope, tenantID, unitID string) (*Lease, error)

	// ListLeasesInPeriod returns every lease, active or ended, whose active
	// range overlaps period, oldest first.
	ListLeasesInPeriod(ctx context.Context, scope Scope, period generic.Period) ([]Lease, error)
}

type ReadingStore interface {
	// AppendReading returns ErrDuplicateReading when the period is taken.
	AppendReading(ctx context.Context, r WaterReading) error

	// GetReading returns nil when no reading exists for the period key.
	GetReading(ctx context.Context, scope Scope, unitID string, period generic.YearMonth) (*WaterReading, error)
}

// PaymentStore is APPEND-ONLY. No Update, no Delete.
type PaymentStore interface {
	// AppendPayment returns ErrDuplicatePayment when the idempotency key exists.
	AppendPayment(ctx context.Context, p Payment) error

	// PaymentKeyExists checks an idempotency key.
	PaymentKeyExists(ctx context.Context, scope Scope, idempotencyKey string) (bool, error)

	// LatestPayment returns the newest payment by PaidAt for tenant and unit, or nil.
	LatestPayment(ctx context.Context, scope Scope, tenantID, unitID string) (*Payment, error)

	// ListPayments returns payments for tenant and unit, newest first.
	ListPayments(ctx context.Context, scope Scope, tenantID, unitID string) ([]Payment, error)
}

type InvoiceStore interface {
	// CreateInvoice returns *DuplicateInvoiceError for a taken period and
	// ErrSequenceConflict for a taken number.
	CreateInvoice(ctx context.Context, inv Invoice) error

	GetInvoice(ctx context.Context, scope Scope, id string) (*Invoice, error)

	// FindInvoice returns the invoice for exactly [start, end] on the lease, or nil.
	FindInvoice(ctx context.Context, scope Scope, leaseID string, start, end generic.Date) (*Invoice, error)

	// InvoiceForMonth returns the newest invoice on the lease whose period
	// starts in month, or nil.
	InvoiceForMonth(ctx context.Context, scope Scope, leaseID string, month generic.YearMonth) (*Invoice, error)

	// ListInvoices returns invoices newest IssuedAt first.
	ListInvoices(ctx context.Context, scope Scope, limit, offset int) ([]Invoice, error)

	// MaxInvoiceNumber returns the lexicographically greatest number starting
	// with prefix, or "" when there is none.
	MaxInvoiceNumber(ctx context.Context, scope Scope, prefix string) (string, error)
}

type SettlementStore interface {
	AppendSettlement(ctx context.Context, s MoveOutSettlement) error
	ListSettlements(ctx context.Context, scope Scope, leaseID string) ([]MoveOutSettlement, error)
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	RecordStore
	LeaseStore
	ReadingStore
	PaymentStore
	InvoiceStore
	SettlementStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
