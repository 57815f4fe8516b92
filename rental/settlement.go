package rental

import (
	"time"

	"github.com/warp/rent-billing/generic"
)

// =============================================================================
// DEPOSIT SETTLEMENT - Net move-out deductions against the held deposit
// =============================================================================

// Deductions are charged against the deposit at move-out.
type Deductions struct {
	KPLCTokenDebt generic.Money
	Damages       generic.Money
	Other         generic.Money
}

func (d Deductions) Total() generic.Money {
	return generic.SumMoney(d.KPLCTokenDebt, d.Damages, d.Other)
}

// Settlement is the outcome of netting deductions against a deposit.
//
// Used + Refund == deposit held, Used + RemainingDebt == TotalDeductions.
type Settlement struct {
	TotalDeductions generic.Money
	Used            generic.Money
	Refund          generic.Money
	RemainingDebt   generic.Money
}

// Settle nets deductions against depositHeld. Over-deduction is not an
// error; the excess becomes RemainingDebt.
func Settle(depositHeld generic.Money, d Deductions) Settlement {
	total := d.Total()
	return Settlement{
		TotalDeductions: total,
		Used:            depositHeld.Min(total),
		Refund:          depositHeld.Sub(total).ClampZero(),
		RemainingDebt:   total.Sub(depositHeld).ClampZero(),
	}
}

// ApplySettlement moves the held deposit into used/refunded and closes the
// lease at movedOutAt. An open end is set to the move-out date.
func ApplySettlement(lease Lease, s Settlement, movedOutAt time.Time) Lease {
	lease.DepositUsed = lease.DepositUsed.Add(s.Used)
	lease.DepositRefunded = lease.DepositRefunded.Add(s.Refund)
	lease.DepositHeld = generic.ZeroMoney
	lease.IsActive = false
	at := movedOutAt.UTC()
	lease.MovedOutAt = &at
	if lease.End.IsOpen() {
		lease.End = generic.Bounded(generic.DateOf(at))
	}
	return lease
}
