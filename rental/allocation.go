package rental

import "github.com/warp/rent-billing/generic"

// =============================================================================
// PAYMENT ALLOCATION - Water, then garbage, then rent
// =============================================================================

// Dues are the amounts owed per category for one month.
type Dues struct {
	Rent    generic.Money
	Water   generic.Money
	Garbage generic.Money
}

// Total of all categories.
func (d Dues) Total() generic.Money {
	return generic.SumMoney(d.Rent, d.Water, d.Garbage)
}

// Allocation is the outcome of applying one payment to Dues.
type Allocation struct {
	WaterPaid    generic.Money
	GarbagePaid  generic.Money
	RentPaid     generic.Money
	BalanceAfter generic.Money
	CreditAfter  generic.Money
}

// Applied is the part of the payment that went to dues.
func (a Allocation) Applied() generic.Money {
	return generic.SumMoney(a.WaterPaid, a.GarbagePaid, a.RentPaid)
}

// Allocate applies amountPaid to dues in the fixed order water, garbage,
// rent. Inputs are expected non-negative; callers reject negative payments
// before calling.
//
// Example: dues rent 8000, water 937.50, garbage 500; paid 6000
//
//	water 937.50, garbage 500.00, rent 4562.50, balance 3937.50, credit 0.00
func Allocate(amountPaid generic.Money, dues Dues) Allocation {
	remaining := amountPaid
	take := func(due generic.Money) generic.Money {
		paid := due.Min(remaining).ClampZero()
		remaining = remaining.Sub(paid)
		return paid
	}

	var a Allocation
	a.WaterPaid = take(dues.Water)
	a.GarbagePaid = take(dues.Garbage)
	a.RentPaid = take(dues.Rent)

	applied := a.Applied()
	a.BalanceAfter = dues.Total().Sub(applied).ClampZero()
	a.CreditAfter = amountPaid.Sub(applied).ClampZero()
	return a
}
