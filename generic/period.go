package generic

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Closed calendar range [Start, End]
// =============================================================================

// Period is a closed date range. Both ends are included.
//
// Examples:
//   - Billing period March 2026: 2026-03-01 .. 2026-03-31
//   - Partial move-in period: 2026-03-15 .. 2026-03-31
type Period struct {
	Start Date
	End   Date
}

// NewPeriod returns ErrInvalidPeriod when end is before start.
func NewPeriod(start, end Date) (Period, error) {
	p := Period{Start: start, End: end}
	if !p.Valid() {
		return Period{}, fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return p, nil
}

// Valid reports End >= Start.
func (p Period) Valid() bool {
	return p.End.AfterOrEqual(p.Start)
}

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns the inclusive day count, 0 for an invalid range.
func (p Period) Days() int {
	if !p.Valid() {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// Intersect returns the overlap of two ranges; ok is false when they are disjoint.
func (p Period) Intersect(o Period) (Period, bool) {
	out := Period{Start: MaxDate(p.Start, o.Start), End: MinDate(p.End, o.End)}
	if !out.Valid() {
		return Period{}, false
	}
	return out, true
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthSegment is the part of a range that falls inside one calendar month.
type MonthSegment struct {
	Month       YearMonth
	Overlap     Period
	DaysInMonth int
}

// Days in the overlap.
func (s MonthSegment) Days() int { return s.Overlap.Days() }

// Months splits the range at calendar month boundaries, walking from the
// month containing Start with year rollover at December. An invalid range
// yields no segments.
func (p Period) Months() []MonthSegment {
	var segments []MonthSegment
	for cursor := YearMonthOf(p.Start); !cursor.FirstDay().After(p.End); cursor = cursor.Next() {
		overlap, ok := p.Intersect(cursor.Period())
		if !ok {
			continue
		}
		segments = append(segments, MonthSegment{
			Month:       cursor,
			Overlap:     overlap,
			DaysInMonth: cursor.Days(),
		})
	}
	return segments
}

// =============================================================================
// END BOUND - Bounded(date) or Open
// =============================================================================

// EndBound is the end of a range that may be open. The far-future sentinel
// only appears through Resolve, never in stored values.
type EndBound struct {
	date    Date
	bounded bool
}

// Bounded ends on d (inclusive).
func Bounded(d Date) EndBound { return EndBound{date: d, bounded: true} }

// OpenEnd never ends.
func OpenEnd() EndBound { return EndBound{} }

// EndFrom maps a nullable end date to an EndBound.
func EndFrom(d *Date) EndBound {
	if d == nil || d.IsZero() {
		return OpenEnd()
	}
	return Bounded(*d)
}

func (b EndBound) IsOpen() bool { return !b.bounded }

// Date returns the bound date; ok is false when open.
func (b EndBound) Date() (Date, bool) { return b.date, b.bounded }

// Resolve returns the concrete last day, FarFuture when open.
func (b EndBound) Resolve() Date {
	if !b.bounded {
		return FarFuture
	}
	return b.date
}

// Ptr returns nil when open.
func (b EndBound) Ptr() *Date {
	if !b.bounded {
		return nil
	}
	d := b.date
	return &d
}

func (b EndBound) String() string {
	if !b.bounded {
		return "open"
	}
	return b.date.String()
}

func (b EndBound) MarshalJSON() ([]byte, error) {
	if !b.bounded {
		return []byte("null"), nil
	}
	return json.Marshal(b.date.String())
}

func (b *EndBound) UnmarshalJSON(data []byte) error {
	var d Date
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*b = EndFrom(&d)
	return nil
}

// ActiveRange is [start, end] with an open end resolved to FarFuture.
func ActiveRange(start Date, end EndBound) Period {
	return Period{Start: start, End: end.Resolve()}
}

// =============================================================================
// YEAR MONTH - Period key for metered readings
// =============================================================================

// YearMonth identifies a calendar month, e.g. "2026-03".
type YearMonth struct {
	Year  int
	Month time.Month
}

func NewYearMonth(year int, month time.Month) YearMonth {
	return YearMonth{Year: year, Month: month}
}

func YearMonthOf(d Date) YearMonth {
	return YearMonth{Year: d.Year(), Month: d.Month()}
}

// ParseYearMonth accepts "YYYY-MM" or "YYYY-MM-DD" (the day is dropped).
func ParseYearMonth(s string) (YearMonth, error) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 7:
		parts := strings.SplitN(s, "-", 2)
		if len(parts) != 2 {
			break
		}
		y, errY := strconv.Atoi(parts[0])
		m, errM := strconv.Atoi(parts[1])
		if errY != nil || errM != nil || m < 1 || m > 12 || y < 1 {
			break
		}
		return NewYearMonth(y, time.Month(m)), nil
	case len(DateLayout):
		d, err := ParseDate(s)
		if err != nil {
			break
		}
		return YearMonthOf(d), nil
	}
	return YearMonth{}, fmt.Errorf("%w: %q", ErrInvalidPeriodKey, s)
}

func (ym YearMonth) Prev() YearMonth {
	if ym.Month == time.January {
		return YearMonth{Year: ym.Year - 1, Month: time.December}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month - 1}
}

func (ym YearMonth) Next() YearMonth {
	if ym.Month == time.December {
		return YearMonth{Year: ym.Year + 1, Month: time.January}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

func (ym YearMonth) FirstDay() Date { return NewDate(ym.Year, ym.Month, 1) }
func (ym YearMonth) LastDay() Date  { return NewDate(ym.Year, ym.Month, ym.Days()) }
func (ym YearMonth) Days() int      { return DaysIn(ym.Year, ym.Month) }
func (ym YearMonth) Period() Period { return Period{Start: ym.FirstDay(), End: ym.LastDay()} }
func (ym YearMonth) IsZero() bool   { return ym.Year == 0 && ym.Month == 0 }

func (ym YearMonth) Before(o YearMonth) bool {
	return ym.Year < o.Year || (ym.Year == o.Year && ym.Month < o.Month)
}

// String is the period key form, "2026-03".
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// Compact is "202603", used in invoice numbers.
func (ym YearMonth) Compact() string {
	return fmt.Sprintf("%04d%02d", ym.Year, int(ym.Month))
}

func (ym YearMonth) MarshalJSON() ([]byte, error) {
	return json.Marshal(ym.String())
}

func (ym *YearMonth) UnmarshalJSON(data []byte) error {
	parsed, err := ParseYearMonth(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*ym = parsed
	return nil
}
