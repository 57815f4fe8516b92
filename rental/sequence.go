package rental

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/rent-billing/generic"
)

// =============================================================================
// INVOICE NUMBERS - INV-YYYYMM-NNNN per account and processing month
// =============================================================================

const invoiceNumberPrefix = "INV-"

// InvoicePrefix is "INV-YYYYMM-" for the processing month of now (UTC), not
// the invoice period.
func InvoicePrefix(now time.Time) string {
	return invoiceNumberPrefix + generic.YearMonthOf(generic.DateOf(now.UTC())).Compact() + "-"
}

// maxInvoiceSuffix is the largest NNNN suffix. Numbers are compared as
// strings, so a fifth digit would sort below 9999.
const maxInvoiceSuffix = 9999

// NextInvoiceNumber increments the suffix of last, the lexicographically
// greatest number already issued under prefix. An empty or unparsable last
// starts at 0001. Once 9999 is used the month is exhausted.
func NextInvoiceNumber(prefix, last string) (string, error) {
	next := 1
	if suffix, ok := strings.CutPrefix(last, prefix); ok {
		if n, err := strconv.Atoi(suffix); err == nil && n >= 0 {
			next = n + 1
		}
	}
	if next > maxInvoiceSuffix {
		return "", fmt.Errorf("%s: %w", prefix, ErrSequenceExhausted)
	}
	return fmt.Sprintf("%s%04d", prefix, next), nil
}
