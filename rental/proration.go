package rental

import (
	"fmt"

	"github.com/warp/rent-billing/generic"
)

// =============================================================================
// PRORATION - Monthly fee over an arbitrary date range
// =============================================================================

// ProratedAmount converts a monthly fee into the amount owed for
// [start, end]. The range is split at calendar month boundaries and each
// segment contributes fee * overlapDays / daysInThatMonth, rounded to cents
// on its own before summing.
//
// Example: 8000.00 over 2026-01-15..2026-02-14
//
//	Jan: 8000 * 17/31 = 4387.10
//	Feb: 8000 * 14/28 = 4000.00
//	total              8387.10
func ProratedAmount(monthlyFee generic.Money, start, end generic.Date) (generic.Money, error) {
	if monthlyFee.IsNegative() {
		return generic.ZeroMoney, fmt.Errorf("monthly fee %s: %w", monthlyFee, ErrNegativeAmount)
	}
	period, err := generic.NewPeriod(start, end)
	if err != nil {
		return generic.ZeroMoney, err
	}

	total := generic.ZeroMoney
	for _, seg := range period.Months() {
		total = total.Add(monthlyFee.Prorate(seg.Days(), seg.DaysInMonth))
	}
	// Segments are already at 2 fraction digits; re-quantize the sum anyway.
	return generic.NewMoney(total.Decimal()), nil
}

// LeaseCharge prorates fee over the part of period during which the lease is
// active. A period that does not overlap the lease costs nothing.
func LeaseCharge(monthlyFee generic.Money, lease Lease, period generic.Period) (generic.Money, error) {
	overlap, ok := period.Intersect(lease.ActiveRange())
	if !ok {
		return generic.ZeroMoney, nil
	}
	return ProratedAmount(monthlyFee, overlap.Start, overlap.End)
}
