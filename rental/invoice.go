/*
invoice.go - Line-itemized invoice computation

PURPOSE:
  BuildInvoice turns already-fetched records into an invoice draft. It does
  no I/O: the caller resolves the lease, tenant, unit, property, the two
  water readings and the balance snapshot. Preview and Issue both go
  through here, so a preview is exactly what would be issued.

BUILD STEPS:
  1. Validate the period and the account of every record
  2. RENT    - prorated over period ∩ lease active range, kept if > 0
  3. GARBAGE - same as rent with the garbage fee
  4. WATER   - keyed by the month of PeriodStart, kept if present and > 0
  5. DEPOSIT - only when requested; lease deposit, else unit default
  6. BALANCE / CREDIT - only when a snapshot is supplied
  7. Subtotal = charge lines; Total = Subtotal + balance - credit

  Numbering, duplicate detection and persistence are in InvoiceService.Issue.

SEE ALSO:
  - proration.go, water.go: Line amounts
  - invoice_service.go: Preview and Issue
*/
package rental

import (
	"fmt"

	"github.com/warp/rent-billing/generic"
)

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

// BuildInput carries every record the builder needs.
type BuildInput struct {
	Scope       Scope
	Lease       Lease
	Tenant      Tenant
	Unit        Unit
	Property    *Property
	PeriodStart generic.Date
	PeriodEnd   generic.Date

	// Readings for the month of PeriodStart and the month before. Either may be nil.
	CurrentReading  *WaterReading
	PreviousReading *WaterReading

	IncludeDeposit bool

	// Balance is folded in when non-nil.
	Balance *BalanceSnapshot
}

// Draft is an unnumbered invoice.
type Draft struct {
	AccountID   AccountID
	LeaseID     string
	TenantID    string
	UnitID      string
	PeriodStart generic.Date
	PeriodEnd   generic.Date
	LineItems   []LineItem
	Subtotal    generic.Money
	Total       generic.Money

	// Water is set when both readings were present, even if the line was
	// dropped for a zero amount.
	Water *WaterCharge
	// Balance is the snapshot that was folded in, if any.
	Balance *BalanceSnapshot
}

// Period returns [PeriodStart, PeriodEnd].
func (d Draft) Period() generic.Period {
	return generic.Period{Start: d.PeriodStart, End: d.PeriodEnd}
}

// =============================================================================
// BUILD
// =============================================================================

// BuildInvoice computes the invoice lines and totals for one lease and period.
func BuildInvoice(in BuildInput) (Draft, error) {
	period, err := generic.NewPeriod(in.PeriodStart, in.PeriodEnd)
	if err != nil {
		return Draft{}, err
	}
	if err := checkScope(in); err != nil {
		return Draft{}, err
	}

	draft := Draft{
		AccountID:   in.Lease.AccountID,
		LeaseID:     in.Lease.ID,
		TenantID:    in.Tenant.ID,
		UnitID:      in.Unit.ID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	}

	rent, err := LeaseCharge(in.Unit.Rent, in.Lease, period)
	if err != nil {
		return Draft{}, fmt.Errorf("rent: %w", err)
	}
	if rent.IsPositive() {
		draft.LineItems = append(draft.LineItems, flatLine(LineRent, "Rent", rent))
	}

	garbage, err := LeaseCharge(in.Unit.GarbageFee, in.Lease, period)
	if err != nil {
		return Draft{}, fmt.Errorf("garbage: %w", err)
	}
	if garbage.IsPositive() {
		draft.LineItems = append(draft.LineItems, flatLine(LineGarbage, "Garbage", garbage))
	}

	key := generic.YearMonthOf(period.Start)
	if water, ok := ResolveWaterCharge(in.Unit, in.Property, key, in.CurrentReading, in.PreviousReading); ok {
		draft.Water = &water
		if water.Amount.IsPositive() {
			draft.LineItems = append(draft.LineItems, waterLine(water))
		}
	}

	if in.IncludeDeposit {
		deposit := DepositFor(in.Lease, in.Unit)
		if deposit.IsPositive() {
			draft.LineItems = append(draft.LineItems, flatLine(LineDeposit, "Deposit", deposit))
		}
	}

	draft.Subtotal = sumLines(draft.LineItems)
	draft.Total = draft.Subtotal

	if in.Balance != nil {
		snap := *in.Balance
		draft.Balance = &snap
		if snap.Balance.IsPositive() {
			draft.LineItems = append(draft.LineItems, flatLine(LineBalance, "Previous balance", snap.Balance))
			draft.Total = draft.Total.Add(snap.Balance)
		}
		if snap.Credit.IsPositive() {
			draft.LineItems = append(draft.LineItems, flatLine(LineCredit, "Credit", snap.Credit.Neg()))
			draft.Total = draft.Total.Sub(snap.Credit)
		}
	}

	return draft, nil
}

// DepositFor is the lease deposit when positive, else the unit default.
func DepositFor(lease Lease, unit Unit) generic.Money {
	if lease.DepositAmount.IsPositive() {
		return lease.DepositAmount
	}
	return unit.Deposit
}

func checkScope(in BuildInput) error {
	if !in.Scope.Owns(in.Lease.AccountID) {
		return fmt.Errorf("lease %s: %w", in.Lease.ID, ErrForbidden)
	}
	if !in.Scope.Owns(in.Tenant.AccountID) {
		return fmt.Errorf("tenant %s: %w", in.Tenant.ID, ErrForbidden)
	}
	if !in.Scope.Owns(in.Unit.AccountID) {
		return fmt.Errorf("unit %s: %w", in.Unit.ID, ErrForbidden)
	}
	if in.Property != nil && !in.Scope.Owns(in.Property.AccountID) {
		return fmt.Errorf("property %s: %w", in.Property.ID, ErrForbidden)
	}
	if in.Lease.TenantID != in.Tenant.ID || in.Lease.UnitID != in.Unit.ID {
		return fmt.Errorf("%w: tenant or unit does not match lease %s", ErrInvalidInput, in.Lease.ID)
	}
	return nil
}

func flatLine(code LineCode, name string, amount generic.Money) LineItem {
	return LineItem{
		Code:      code,
		Name:      name,
		Qty:       generic.MoneyFromInt(1),
		UnitPrice: amount,
		Amount:    amount,
	}
}

func waterLine(w WaterCharge) LineItem {
	return LineItem{
		Code:      LineWater,
		Name:      "Water",
		Qty:       w.Usage,
		UnitPrice: w.Rate,
		Amount:    w.Amount,
		Meta: map[string]string{
			"period":          w.Period.String(),
			"prev_period":     w.PrevPeriod.String(),
			"prev_reading":    w.PrevReading.String(),
			"current_reading": w.CurrentReading.String(),
			"usage_units":     w.Usage.String(),
			"rate":            w.Rate.String(),
		},
	}
}

// sumLines adds charge lines in order.
func sumLines(items []LineItem) generic.Money {
	total := generic.ZeroMoney
	for _, li := range items {
		if li.Code.IsCharge() {
			total = total.Add(li.Amount)
		}
	}
	return total
}
