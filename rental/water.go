package rental

import (
	"github.com/warp/rent-billing/generic"
)

// =============================================================================
// WATER - Metered charge from two consecutive readings
// =============================================================================

// WaterCharge is the metered charge for one period key.
type WaterCharge struct {
	Period         generic.YearMonth
	PrevPeriod     generic.YearMonth
	PrevReading    generic.Money
	CurrentReading generic.Money
	Usage          generic.Money
	Rate           generic.Money
	Amount         generic.Money
}

// ResolveWaterRate returns the unit rate when positive, else the property
// rate when positive, else zero. property may be nil.
func ResolveWaterRate(unit Unit, property *Property) generic.Money {
	if unit.WaterRate.IsPositive() {
		return unit.WaterRate
	}
	if property != nil && property.WaterRatePerUnit.IsPositive() {
		return property.WaterRatePerUnit
	}
	return generic.ZeroMoney
}

// ResolveWaterCharge derives the charge for key from the reading for key
// (current) and the reading for the preceding month (previous).
//
// ok is false when either reading is missing: "no data" is never reported as
// zero usage. A meter rollback clamps usage to zero instead of failing. A
// zero amount with ok == true is a valid outcome.
func ResolveWaterCharge(unit Unit, property *Property, key generic.YearMonth, current, previous *WaterReading) (WaterCharge, bool) {
	prevKey := key.Prev()
	if current == nil || previous == nil {
		return WaterCharge{}, false
	}
	if current.Period != key || previous.Period != prevKey {
		return WaterCharge{}, false
	}

	usage := current.ReadingValue.Sub(previous.ReadingValue).ClampZero()
	rate := ResolveWaterRate(unit, property)

	return WaterCharge{
		Period:         key,
		PrevPeriod:     prevKey,
		PrevReading:    previous.ReadingValue,
		CurrentReading: current.ReadingValue,
		Usage:          usage,
		Rate:           rate,
		Amount:         usage.Times(rate),
	}, true
}
