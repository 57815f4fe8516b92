// Package rental implements rent billing on top of the generic money and
// calendar primitives: proration, metered water, payment allocation,
// deposit settlement and invoicing.
package rental

import (
	"time"

	"github.com/warp/rent-billing/generic"
)

// =============================================================================
// SCOPE - Tenant-isolation boundary
// =============================================================================

// AccountID identifies the landlord company that owns properties, leases and
// invoices.
type AccountID string

// Scope is threaded through every store and service call. There is no
// ambient "current account".
type Scope struct {
	AccountID AccountID
}

func NewScope(accountID AccountID) Scope { return Scope{AccountID: accountID} }

// Owns reports whether a record with the given account belongs to this scope.
func (s Scope) Owns(accountID AccountID) bool {
	return s.AccountID != "" && s.AccountID == accountID
}

// =============================================================================
// RECORDS - Supplied by the store
// =============================================================================

type Property struct {
	ID        string
	AccountID AccountID
	Name      string
	// WaterRatePerUnit is the fallback for units without their own rate.
	WaterRatePerUnit generic.Money
}

type Unit struct {
	ID         string
	AccountID  AccountID
	PropertyID string
	Name       string
	Rent       generic.Money
	GarbageFee generic.Money
	// WaterRate of zero means "use the property rate".
	WaterRate generic.Money
	// Deposit is the default deposit for new leases.
	Deposit generic.Money
}

type Tenant struct {
	ID        string
	AccountID AccountID
	Name      string
	Phone     string
}

// Lease links one tenant to one unit for [StartDate, End].
//
// Deposit bookkeeping holds DepositHeld + DepositUsed + DepositRefunded ==
// DepositAmount outside of a store transaction.
type Lease struct {
	ID        string
	AccountID AccountID
	TenantID  string
	UnitID    string
	StartDate generic.Date
	End       generic.EndBound
	IsActive  bool

	DepositAmount   generic.Money
	DepositHeld     generic.Money
	DepositUsed     generic.Money
	DepositRefunded generic.Money
	MovedOutAt      *time.Time

	CreatedAt time.Time
}

// ActiveRange is [StartDate, End] with an open end resolved to the far-future sentinel.
func (l Lease) ActiveRange() generic.Period {
	return generic.ActiveRange(l.StartDate, l.End)
}

// DepositBalanced checks the deposit bookkeeping invariant.
func (l Lease) DepositBalanced() bool {
	return generic.SumMoney(l.DepositHeld, l.DepositUsed, l.DepositRefunded).Equal(l.DepositAmount)
}

// WaterReading is the raw meter value for one unit and one period key.
// Usage is derived from consecutive readings and never stored.
type WaterReading struct {
	ID           string
	AccountID    AccountID
	UnitID       string
	Period       generic.YearMonth
	ReadingValue generic.Money
	CreatedAt    time.Time
}

// Payment is an immutable ledger entry carrying the allocation outcome at the
// time it was recorded.
type Payment struct {
	ID           string
	AccountID    AccountID
	TenantID     string
	UnitID       string
	LeaseID      string
	Amount       generic.Money
	PaidForMonth generic.YearMonth
	Method       string
	Reference    string

	WaterPaid    generic.Money
	GarbagePaid  generic.Money
	RentPaid     generic.Money
	BalanceAfter generic.Money
	CreditAfter  generic.Money

	IdempotencyKey string
	PaidAt         time.Time
	CreatedAt      time.Time
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoiceStatusIssued InvoiceStatus = "issued"
)

// DefaultCurrency is carried opaquely on every invoice.
const DefaultCurrency = "KES"

// LineCode classifies an invoice line.
type LineCode string

const (
	LineRent    LineCode = "RENT"
	LineGarbage LineCode = "GARBAGE"
	LineWater   LineCode = "WATER"
	LineDeposit LineCode = "DEPOSIT"
	LineBalance LineCode = "BALANCE"
	LineCredit  LineCode = "CREDIT"
)

// IsCharge reports whether the line counts toward the subtotal.
func (c LineCode) IsCharge() bool {
	switch c {
	case LineRent, LineGarbage, LineWater, LineDeposit:
		return true
	}
	return false
}

// LineItem serializes as {code, name, qty, unit_price, amount, meta?} with
// every numeric field a fixed 2-decimal string.
type LineItem struct {
	Code      LineCode          `json:"code"`
	Name      string            `json:"name"`
	Qty       generic.Money     `json:"qty"`
	UnitPrice generic.Money     `json:"unit_price"`
	Amount    generic.Money     `json:"amount"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Invoice is a frozen computation for (lease, period start, period end).
type Invoice struct {
	ID            string
	AccountID     AccountID
	LeaseID       string
	TenantID      string
	UnitID        string
	InvoiceNumber string
	PeriodStart   generic.Date
	PeriodEnd     generic.Date
	IssuedAt      time.Time
	DueDate       generic.Date
	Currency      string
	Status        InvoiceStatus
	LineItems     []LineItem
	Subtotal      generic.Money
	Total         generic.Money
	CreatedAt     time.Time
}

// Line returns the first line with the given code.
func (inv Invoice) Line(code LineCode) (LineItem, bool) {
	for _, li := range inv.LineItems {
		if li.Code == code {
			return li, true
		}
	}
	return LineItem{}, false
}

// =============================================================================
// SETTLEMENT AND BALANCE
// =============================================================================

// MoveOutSettlement records one move-out event.
type MoveOutSettlement struct {
	ID              string
	AccountID       AccountID
	LeaseID         string
	KPLCTokenDebt   generic.Money
	DamagesCost     generic.Money
	OtherDeductions generic.Money
	DepositUsed     generic.Money
	RefundAmount    generic.Money
	RemainingDebt   generic.Money
	Notes           string
	MovedOutAt      time.Time
}

// BalanceSnapshot is the carry-forward state for a tenant and unit: the
// balance/credit of the newest payment, or zeros when there is none.
type BalanceSnapshot struct {
	Balance   generic.Money
	Credit    generic.Money
	PaymentID string
}
