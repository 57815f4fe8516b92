/*
errors.go - Input validation errors for the money and calendar primitives

PURPOSE:
  Parsing and range construction fail with these sentinels. The rental
  package classifies them as validation errors (never retried, never
  partially applied).

USAGE:
  if errors.Is(err, generic.ErrInvalidPeriod) {
      // reject the request
  }

SEE ALSO:
  - rental/errors.go: Domain errors and classification helpers
*/
package generic

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriod is returned when a range ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidAmount is returned for malformed decimal amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPeriodKey is returned for period keys not in YYYY-MM form.
	ErrInvalidPeriodKey = errors.New("invalid period key")
)

// IsInputError returns true for any parse or range error from this package.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriodKey)
}
