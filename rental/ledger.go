/*
ledger.go - Append-only payment log and balance snapshots

PURPOSE:
  Payments are the source of truth for what a tenant owes on a unit. Each
  payment stores the allocation outcome at the time it was recorded, and
  the current balance is the BalanceAfter/CreditAfter of the newest one.
  It is never recomputed by replaying history.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same payment (no duplicates)
  3. SNAPSHOT: Latest payment by PaidAt defines the balance

SEE ALSO:
  - allocation.go: Computes the per-payment outcome
  - payment_service.go: Records payments
  - invoice.go: Folds the snapshot into invoices
*/
package rental

import (
	"context"
	"fmt"
)

// =============================================================================
// PAYMENT LEDGER
// =============================================================================

type PaymentLedger struct {
	Store PaymentStore
}

func NewPaymentLedger(store PaymentStore) *PaymentLedger {
	return &PaymentLedger{Store: store}
}

// Append adds a payment. Fails with ErrDuplicatePayment if its idempotency
// key exists. This is the ONLY write operation.
func (l *PaymentLedger) Append(ctx context.Context, scope Scope, p Payment) error {
	if !scope.Owns(p.AccountID) {
		return fmt.Errorf("payment %s: %w", p.ID, ErrForbidden)
	}
	if p.IdempotencyKey != "" {
		exists, err := l.Store.PaymentKeyExists(ctx, scope, p.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicatePayment
		}
	}
	return l.Store.AppendPayment(ctx, p)
}

// Payments returns the history for tenant and unit, newest first.
func (l *PaymentLedger) Payments(ctx context.Context, scope Scope, tenantID, unitID string) ([]Payment, error) {
	return l.Store.ListPayments(ctx, scope, tenantID, unitID)
}

// LatestSnapshot returns the balance and credit left by the newest payment
// for tenant and unit. No payments yields zeros.
func (l *PaymentLedger) LatestSnapshot(ctx context.Context, scope Scope, tenantID, unitID string) (BalanceSnapshot, error) {
	p, err := l.Store.LatestPayment(ctx, scope, tenantID, unitID)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	if p == nil {
		return BalanceSnapshot{}, nil
	}
	return BalanceSnapshot{
		Balance:   p.BalanceAfter,
		Credit:    p.CreditAfter,
		PaymentID: p.ID,
	}, nil
}
