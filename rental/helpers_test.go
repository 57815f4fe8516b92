package rental_test

import (
	"github.com/shopspring/decimal"

	"github.com/warp/rent-billing/generic"
	"github.com/warp/rent-billing/rental"
)

func money(s string) generic.Money { return generic.MustMoney(s) }

func date(s string) generic.Date { return generic.MustDate(s) }

func decimalOf(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func reading(unitID, period, value string) *rental.WaterReading {
	ym, err := generic.ParseYearMonth(period)
	if err != nil {
		panic(err)
	}
	return &rental.WaterReading{UnitID: unitID, Period: ym, ReadingValue: money(value)}
}
