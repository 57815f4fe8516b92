/*
Package generic provides the money and calendar primitives of the billing engine.

PURPOSE:
  This package contains domain-agnostic value types used by every billing
  computation: fixed-point money, calendar dates without time zone, closed
  date ranges, open-or-bounded range ends and year-month period keys.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A 2-fraction-digit fixed-point amount
  - Quantization: round-half-up (ties away from zero) to 2 digits, applied
    at the point of computation

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for arithmetic
  2. Always quantized: every Money value holds at most 2 fraction digits
  3. Wire safety: Money serializes as a fixed 2-decimal string ("937.50")

USAGE:
  rent := generic.MustMoney("8000.00")
  half := rent.Prorate(15, 30) // 4000.00
  total := generic.SumMoney(rent, half)

SEE ALSO:
  - time.go: Date
  - period.go: Period, EndBound, YearMonth
*/
package generic

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point amount with 2 fraction digits
// =============================================================================

// MoneyScale is the number of fraction digits every Money value carries.
const MoneyScale = 2

// Money is an immutable amount quantized to MoneyScale fraction digits.
// The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// ZeroMoney is 0.00.
var ZeroMoney = Money{}

// Quantize rounds d half-up (ties away from zero) to 2 fraction digits.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// NewMoney quantizes d into a Money value.
func NewMoney(d decimal.Decimal) Money {
	return Money{d: Quantize(d)}
}

// MoneyFromInt returns a whole amount.
func MoneyFromInt(v int64) Money {
	return Money{d: decimal.NewFromInt(v)}
}

// ParseMoney parses a decimal string such as "937.5" or "-12.345".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return NewMoney(d), nil
}

// MustMoney parses s and panics on error. Intended for constants and tests.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// SumMoney adds amounts in order.
func SumMoney(amounts ...Money) Money {
	total := ZeroMoney
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func (m Money) Decimal() decimal.Decimal { return m.d }
func (m Money) Add(o Money) Money        { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money        { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money               { return Money{d: m.d.Neg()} }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) Cmp(o Money) int          { return m.d.Cmp(o.d) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// ClampZero returns m, or 0.00 when m is negative.
func (m Money) ClampZero() Money {
	return m.Max(ZeroMoney)
}

// Times multiplies by another quantity (e.g. usage * rate) and quantizes.
func (m Money) Times(o Money) Money {
	return NewMoney(m.d.Mul(o.d))
}

// Prorate returns m * num / den quantized. den must be positive.
func (m Money) Prorate(num, den int) Money {
	return NewMoney(m.d.Mul(decimal.NewFromInt(int64(num))).Div(decimal.NewFromInt(int64(den))))
}

// Float64 is for validation and display only.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// String returns the fixed 2-decimal form, e.g. "937.50".
func (m Money) String() string {
	return m.d.StringFixed(MoneyScale)
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// MarshalJSON writes a fixed 2-decimal string, never a float.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts "12.50" or 12.5.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*m = ZeroMoney
		return nil
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores Money as TEXT.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads TEXT, BLOB, integer or float columns.
func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = ZeroMoney
		return nil
	case string:
		parsed, err := ParseMoney(v)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case []byte:
		return m.Scan(string(v))
	case int64:
		*m = MoneyFromInt(v)
		return nil
	case float64:
		*m = NewMoney(decimal.NewFromFloat(v))
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T into Money", ErrInvalidAmount, src)
	}
}
