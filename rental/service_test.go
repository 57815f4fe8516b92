package rental_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-billing/generic"
	"github.com/warp/rent-billing/rental"
	"github.com/warp/rent-billing/rental/store"
)

// =============================================================================
// FIXTURES
// =============================================================================

var fixedNow = time.Date(2026, time.March, 5, 8, 0, 0, 0, time.UTC)

type harness struct {
	ctx      context.Context
	scope    rental.Scope
	store    *store.Memory
	invoices *rental.InvoiceService
	payments *rental.PaymentService
	leases   *rental.LeaseService
	readings *rental.ReadingService
	faker    *gofakeit.Faker
	seq      int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	opts := rental.DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }
	st := store.NewMemory()
	h := &harness{
		ctx:      context.Background(),
		scope:    rental.NewScope(acct),
		store:    st,
		invoices: rental.NewInvoiceService(st, opts),
		payments: rental.NewPaymentService(st, opts),
		leases:   rental.NewLeaseService(st, opts),
		readings: rental.NewReadingService(st, opts),
		faker:    gofakeit.New(99),
	}
	require.NoError(t, st.SaveProperty(h.ctx, rental.Property{
		ID: "prop-1", AccountID: acct, Name: "Riverside", WaterRatePerUnit: money("30"),
	}))
	return h
}

func (h *harness) id(kind string) string {
	h.seq++
	return fmt.Sprintf("%s-%d", kind, h.seq)
}

// unitWithTenant saves a unit (rent 8000, garbage 500, water 25, deposit
// 15000) and a tenant.
func (h *harness) unitWithTenant(t *testing.T) (rental.Unit, rental.Tenant) {
	t.Helper()
	unit := rental.Unit{
		ID:         h.id("unit"),
		AccountID:  acct,
		PropertyID: "prop-1",
		Name:       "A" + h.faker.DigitN(2),
		Rent:       money("8000"),
		GarbageFee: money("500"),
		WaterRate:  money("25"),
		Deposit:    money("15000"),
	}
	tenant := rental.Tenant{ID: h.id("tenant"), AccountID: acct, Name: h.faker.Name(), Phone: h.faker.Phone()}
	require.NoError(t, h.store.SaveUnit(h.ctx, unit))
	require.NoError(t, h.store.SaveTenant(h.ctx, tenant))
	return unit, tenant
}

func (h *harness) lease(t *testing.T, start string) (*rental.Lease, rental.Unit, rental.Tenant) {
	t.Helper()
	unit, tenant := h.unitWithTenant(t)
	l, err := h.leases.Create(h.ctx, h.scope, rental.CreateLeaseRequest{
		TenantID: tenant.ID, UnitID: unit.ID, StartDate: date(start),
	})
	require.NoError(t, err)
	return l, unit, tenant
}

func monthReq(leaseID, month string) rental.InvoiceRequest {
	ym, err := generic.ParseYearMonth(month)
	if err != nil {
		panic(err)
	}
	return rental.InvoiceRequest{LeaseID: leaseID, PeriodStart: ym.FirstDay(), PeriodEnd: ym.LastDay()}
}

func boolPtr(b bool) *bool { return &b }

// =============================================================================
// INVOICE SERVICE
// =============================================================================

func TestInvoiceService_IssueNumbersAndPersists(t *testing.T) {
	h := newHarness(t)
	lease, unit, _ := h.lease(t, "2026-01-01")

	_, err := h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-01", ReadingValue: money("100")})
	require.NoError(t, err)
	_, err = h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-02", ReadingValue: money("137.50")})
	require.NoError(t, err)

	// WHEN: February is issued
	inv, err := h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-02"))

	// THEN: numbered by the processing month, not the period
	require.NoError(t, err)
	assert.Equal(t, "INV-202603-0001", inv.InvoiceNumber)
	assert.Equal(t, "9437.50", inv.Total.String())
	assert.Equal(t, rental.InvoiceStatusIssued, inv.Status)
	assert.Equal(t, rental.DefaultCurrency, inv.Currency)
	assert.Equal(t, "2026-03-12", inv.DueDate.String())
	assert.True(t, inv.IssuedAt.Equal(fixedNow))

	got, err := h.invoices.Get(h.ctx, h.scope, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.InvoiceNumber, got.InvoiceNumber)
	assert.Len(t, got.LineItems, 3)
}

func TestInvoiceService_DuplicatePeriodRejected(t *testing.T) {
	// GIVEN: January already issued
	h := newHarness(t)
	lease, _, _ := h.lease(t, "2026-01-01")
	first, err := h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-01"))
	require.NoError(t, err)

	// WHEN: issued again
	_, err = h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-01"))

	// THEN: a conflict naming the first invoice, which is untouched
	require.Error(t, err)
	assert.True(t, rental.IsConflict(err))
	var dup *rental.DuplicateInvoiceError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)
	assert.Equal(t, first.InvoiceNumber, dup.ExistingNumber)

	list, err := h.invoices.List(h.ctx, h.scope, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.Total.String(), list[0].Total.String())

	// A different period on the same lease is fine
	next, err := h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-02"))
	require.NoError(t, err)
	assert.Equal(t, "INV-202603-0002", next.InvoiceNumber)
}

func TestInvoiceService_SequentialNumbering(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 12; i++ {
		lease, _, _ := h.lease(t, "2026-01-01")
		inv, err := h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-02"))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("INV-202603-%04d", i), inv.InvoiceNumber)
	}
}

func TestInvoiceService_IssuedLinesAreFrozen(t *testing.T) {
	// GIVEN: an issued invoice with a water line
	h := newHarness(t)
	lease, unit, _ := h.lease(t, "2026-01-01")
	_, err := h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-01", ReadingValue: money("100")})
	require.NoError(t, err)
	_, err = h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-02", ReadingValue: money("137.50")})
	require.NoError(t, err)
	inv, err := h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-02"))
	require.NoError(t, err)

	// WHEN: the caller edits the returned water meta
	water, ok := inv.Line(rental.LineWater)
	require.True(t, ok)
	water.Meta["rate"] = "0.01"

	// THEN: the stored invoice keeps its rate
	got, err := h.invoices.Get(h.ctx, h.scope, inv.ID)
	require.NoError(t, err)
	stored, ok := got.Line(rental.LineWater)
	require.True(t, ok)
	assert.Equal(t, "25.00", stored.Meta["rate"])
}

func TestInvoiceService_SequenceExhausted(t *testing.T) {
	// GIVEN: the month's last four-digit number is already used
	h := newHarness(t)
	require.NoError(t, h.store.CreateInvoice(h.ctx, rental.Invoice{
		ID: "inv-old", AccountID: acct, LeaseID: "lease-old", InvoiceNumber: "INV-202603-9999",
		PeriodStart: date("2025-01-01"), PeriodEnd: date("2025-01-31"), IssuedAt: fixedNow,
	}))
	lease, _, _ := h.lease(t, "2026-01-01")

	// WHEN: another invoice is issued
	_, err := h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-02"))

	// THEN: a clear conflict, and nothing is written
	assert.ErrorIs(t, err, rental.ErrSequenceExhausted)
	assert.True(t, rental.IsConflict(err))
	list, err := h.invoices.List(h.ctx, h.scope, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// conflictingStore reports a taken invoice number for the first n inserts.
type conflictingStore struct {
	*store.Memory
	remaining int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(rental.Store) error) error {
	return c.Memory.WithTx(ctx, func(st rental.Store) error {
		return fn(&conflictingTx{Store: st, parent: c})
	})
}

type conflictingTx struct {
	rental.Store
	parent *conflictingStore
}

func (c *conflictingTx) CreateInvoice(ctx context.Context, inv rental.Invoice) error {
	if c.parent.remaining > 0 {
		c.parent.remaining--
		return fmt.Errorf("%s: %w", inv.InvoiceNumber, rental.ErrSequenceConflict)
	}
	return c.Store.CreateInvoice(ctx, inv)
}

func TestInvoiceService_RetriesSequenceConflict(t *testing.T) {
	h := newHarness(t)
	lease, _, _ := h.lease(t, "2026-01-01")
	opts := rental.DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }
	opts.SequenceRetries = 2

	// GIVEN: two inserts lose the number race
	st := &conflictingStore{Memory: h.store, remaining: 2}
	inv, err := rental.NewInvoiceService(st, opts).Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-02"))

	// THEN: the third attempt succeeds
	require.NoError(t, err)
	assert.Equal(t, "INV-202603-0001", inv.InvoiceNumber)

	// GIVEN: more conflicts than retries
	lease2, _, _ := h.lease(t, "2026-01-01")
	st.remaining = 5
	_, err = rental.NewInvoiceService(st, opts).Issue(h.ctx, h.scope, monthReq(lease2.ID, "2026-02"))
	assert.ErrorIs(t, err, rental.ErrSequenceConflict)
	assert.True(t, rental.IsRetryable(err))
}

func TestInvoiceService_ConcurrentIssueUniqueNumbers(t *testing.T) {
	// GIVEN: many leases issued in parallel
	h := newHarness(t)
	const n = 25
	leaseIDs := make([]string, n)
	for i := range leaseIDs {
		l, _, _ := h.lease(t, "2026-01-01")
		leaseIDs[i] = l.ID
	}

	// WHEN
	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i, id := range leaseIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			inv, err := h.invoices.Issue(h.ctx, h.scope, monthReq(id, "2026-02"))
			errs[i] = err
			if err == nil {
				numbers[i] = inv.InvoiceNumber
			}
		}(i, id)
	}
	wg.Wait()

	// THEN: every number is distinct and contiguous
	seen := make(map[string]bool, n)
	for i := range numbers {
		require.NoError(t, errs[i])
		assert.False(t, seen[numbers[i]], "duplicate %s", numbers[i])
		seen[numbers[i]] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[fmt.Sprintf("INV-202603-%04d", i)])
	}
}

func TestInvoiceService_PreviewWritesNothing(t *testing.T) {
	h := newHarness(t)
	lease, _, _ := h.lease(t, "2026-01-15")

	draft, err := h.invoices.Preview(h.ctx, h.scope, monthReq(lease.ID, "2026-01"))
	require.NoError(t, err)
	assert.Equal(t, "4387.10", draft.LineItems[0].Amount.String())

	list, err := h.invoices.List(h.ctx, h.scope, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// The number is not consumed
	inv, err := h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-01"))
	require.NoError(t, err)
	assert.Equal(t, "INV-202603-0001", inv.InvoiceNumber)
	assert.Equal(t, draft.Subtotal.String(), inv.Subtotal.String())
}

func TestInvoiceService_BalanceFolding(t *testing.T) {
	// GIVEN: a partial payment leaving 3937.50 owed
	h := newHarness(t)
	lease, unit, tenant := h.lease(t, "2026-01-01")
	_, err := h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-01", ReadingValue: money("100")})
	require.NoError(t, err)
	_, err = h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-02", ReadingValue: money("137.50")})
	require.NoError(t, err)
	_, err = h.payments.Record(h.ctx, h.scope, rental.RecordPaymentRequest{
		TenantID: tenant.ID, UnitID: unit.ID, Amount: money("6000"), PaidForMonth: "2026-02",
	})
	require.NoError(t, err)

	// WHEN: previewing March (previews fold the balance by default)
	draft, err := h.invoices.Preview(h.ctx, h.scope, monthReq(lease.ID, "2026-03"))
	require.NoError(t, err)
	assert.Equal(t, "8500.00", draft.Subtotal.String())
	assert.Equal(t, "12437.50", draft.Total.String())

	// Issued invoices leave it out unless asked
	inv, err := h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-03"))
	require.NoError(t, err)
	assert.Equal(t, "8500.00", inv.Total.String())

	req := monthReq(lease.ID, "2026-04")
	req.IncludeBalance = boolPtr(true)
	inv, err = h.invoices.Issue(h.ctx, h.scope, req)
	require.NoError(t, err)
	assert.Equal(t, "12437.50", inv.Total.String())
}

func TestInvoiceService_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.invoices.Issue(h.ctx, h.scope, rental.InvoiceRequest{LeaseID: "x"})
	assert.True(t, rental.IsValidation(err))

	_, err = h.invoices.Issue(h.ctx, h.scope, rental.InvoiceRequest{
		LeaseID: "x", PeriodStart: date("2026-02-10"), PeriodEnd: date("2026-02-01"),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	_, err = h.invoices.Issue(h.ctx, h.scope, monthReq("missing", "2026-02"))
	assert.True(t, rental.IsNotFound(err))
}

func TestInvoiceService_CrossAccount(t *testing.T) {
	h := newHarness(t)
	lease, _, _ := h.lease(t, "2026-01-01")
	other := rental.NewScope("acct-2")

	_, err := h.invoices.Issue(h.ctx, other, monthReq(lease.ID, "2026-01"))
	assert.True(t, rental.IsForbidden(err))

	_, err = h.invoices.Preview(h.ctx, other, monthReq(lease.ID, "2026-01"))
	assert.True(t, rental.IsForbidden(err))
}

// =============================================================================
// PAYMENT SERVICE
// =============================================================================

func TestPaymentService_AllocatesAgainstInvoice(t *testing.T) {
	// GIVEN: an issued February invoice with water
	h := newHarness(t)
	lease, unit, tenant := h.lease(t, "2026-01-01")
	_, err := h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-01", ReadingValue: money("100")})
	require.NoError(t, err)
	_, err = h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-02", ReadingValue: money("137.50")})
	require.NoError(t, err)
	_, err = h.invoices.Issue(h.ctx, h.scope, monthReq(lease.ID, "2026-02"))
	require.NoError(t, err)

	// WHEN: 6000 is paid for February
	p, err := h.payments.Record(h.ctx, h.scope, rental.RecordPaymentRequest{
		TenantID: tenant.ID, UnitID: unit.ID, Amount: money("6000"), PaidForMonth: "2026-02-14",
		Method: "mpesa", Reference: h.faker.LetterN(10),
	})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, lease.ID, p.LeaseID)
	assert.Equal(t, "2026-02", p.PaidForMonth.String())
	assert.Equal(t, "937.50", p.WaterPaid.String())
	assert.Equal(t, "500.00", p.GarbagePaid.String())
	assert.Equal(t, "4562.50", p.RentPaid.String())
	assert.Equal(t, "3937.50", p.BalanceAfter.String())
	assert.True(t, p.CreditAfter.IsZero())

	snap, err := h.payments.Snapshot(h.ctx, h.scope, tenant.ID, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "3937.50", snap.Balance.String())
	assert.Equal(t, p.ID, snap.PaymentID)
}

func TestPaymentService_DuesWithoutInvoice(t *testing.T) {
	// GIVEN: no invoice and no readings for the month
	h := newHarness(t)
	lease, _, _ := h.lease(t, "2026-01-01")

	dues, err := h.payments.Dues(h.ctx, h.scope, lease.ID, generic.NewYearMonth(2026, time.February))

	// THEN: unit rent and garbage, water treated as zero
	require.NoError(t, err)
	assert.Equal(t, "8000.00", dues.Rent.String())
	assert.Equal(t, "500.00", dues.Garbage.String())
	assert.True(t, dues.Water.IsZero())
}

func TestPaymentService_Overpayment(t *testing.T) {
	h := newHarness(t)
	_, unit, tenant := h.lease(t, "2026-01-01")

	p, err := h.payments.Record(h.ctx, h.scope, rental.RecordPaymentRequest{
		TenantID: tenant.ID, UnitID: unit.ID, Amount: money("10000"), PaidForMonth: "2026-02",
	})
	require.NoError(t, err)
	assert.Equal(t, "1500.00", p.CreditAfter.String())
	assert.True(t, p.BalanceAfter.IsZero())
}

func TestPaymentService_SnapshotUsesLatestPaidAt(t *testing.T) {
	h := newHarness(t)
	_, unit, tenant := h.lease(t, "2026-01-01")

	late := fixedNow.Add(-24 * time.Hour)
	early := fixedNow.Add(-72 * time.Hour)
	_, err := h.payments.Record(h.ctx, h.scope, rental.RecordPaymentRequest{
		TenantID: tenant.ID, UnitID: unit.ID, Amount: money("1000"), PaidForMonth: "2026-02", PaidAt: &late,
	})
	require.NoError(t, err)
	// Recorded later but paid earlier
	_, err = h.payments.Record(h.ctx, h.scope, rental.RecordPaymentRequest{
		TenantID: tenant.ID, UnitID: unit.ID, Amount: money("9000"), PaidForMonth: "2026-02", PaidAt: &early,
	})
	require.NoError(t, err)

	snap, err := h.payments.Snapshot(h.ctx, h.scope, tenant.ID, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "7500.00", snap.Balance.String())

	history, err := h.payments.History(h.ctx, h.scope, tenant.ID, unit.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "1000.00", history[0].Amount.String())
}

func TestPaymentService_NoPaymentsSnapshotIsZero(t *testing.T) {
	h := newHarness(t)
	_, unit, tenant := h.lease(t, "2026-01-01")

	snap, err := h.payments.Snapshot(h.ctx, h.scope, tenant.ID, unit.ID)
	require.NoError(t, err)
	assert.True(t, snap.Balance.IsZero())
	assert.True(t, snap.Credit.IsZero())
	assert.Empty(t, snap.PaymentID)
}

func TestPaymentService_Idempotency(t *testing.T) {
	h := newHarness(t)
	_, unit, tenant := h.lease(t, "2026-01-01")
	req := rental.RecordPaymentRequest{
		TenantID: tenant.ID, UnitID: unit.ID, Amount: money("500"), PaidForMonth: "2026-02",
		IdempotencyKey: "mpesa-" + h.faker.UUID(),
	}

	_, err := h.payments.Record(h.ctx, h.scope, req)
	require.NoError(t, err)
	_, err = h.payments.Record(h.ctx, h.scope, req)
	assert.ErrorIs(t, err, rental.ErrDuplicatePayment)

	history, err := h.payments.History(h.ctx, h.scope, tenant.ID, unit.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPaymentService_Rejections(t *testing.T) {
	h := newHarness(t)
	unit, tenant := h.unitWithTenant(t)

	// No lease
	_, err := h.payments.Record(h.ctx, h.scope, rental.RecordPaymentRequest{
		TenantID: tenant.ID, UnitID: unit.ID, Amount: money("100"), PaidForMonth: "2026-02",
	})
	assert.ErrorIs(t, err, rental.ErrNoActiveLease)

	// Non-positive amount
	_, err = h.payments.Record(h.ctx, h.scope, rental.RecordPaymentRequest{
		TenantID: tenant.ID, UnitID: unit.ID, Amount: money("-5"), PaidForMonth: "2026-02",
	})
	assert.True(t, rental.IsValidation(err))

	// Bad month
	_, err = h.payments.Record(h.ctx, h.scope, rental.RecordPaymentRequest{
		TenantID: tenant.ID, UnitID: unit.ID, Amount: money("100"), PaidForMonth: "Feb 2026",
	})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriodKey)
}

// =============================================================================
// LEASE SERVICE
// =============================================================================

func TestLeaseService_CreateDefaultsDeposit(t *testing.T) {
	h := newHarness(t)
	lease, unit, _ := h.lease(t, "2026-01-01")

	assert.True(t, lease.IsActive)
	assert.True(t, lease.End.IsOpen())
	assert.Equal(t, unit.Deposit.String(), lease.DepositAmount.String())
	assert.Equal(t, unit.Deposit.String(), lease.DepositHeld.String())
	assert.True(t, lease.DepositBalanced())

	// Second active lease on the same unit
	other := rental.Tenant{ID: h.id("tenant"), AccountID: acct, Name: h.faker.Name()}
	require.NoError(t, h.store.SaveTenant(h.ctx, other))
	_, err := h.leases.Create(h.ctx, h.scope, rental.CreateLeaseRequest{
		TenantID: other.ID, UnitID: unit.ID, StartDate: date("2026-02-01"),
	})
	assert.ErrorIs(t, err, rental.ErrUnitAlreadyLeased)
}

func TestLeaseService_CreateRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	unit, tenant := h.unitWithTenant(t)

	end := date("2025-12-31")
	_, err := h.leases.Create(h.ctx, h.scope, rental.CreateLeaseRequest{
		TenantID: tenant.ID, UnitID: unit.ID, StartDate: date("2026-01-01"), EndDate: &end,
	})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	negative := money("-1")
	_, err = h.leases.Create(h.ctx, h.scope, rental.CreateLeaseRequest{
		TenantID: tenant.ID, UnitID: unit.ID, StartDate: date("2026-01-01"), DepositAmount: &negative,
	})
	assert.True(t, rental.IsValidation(err))
}

func TestLeaseService_EndRequiresSettledDeposit(t *testing.T) {
	// GIVEN: a lease holding its deposit
	h := newHarness(t)
	lease, _, _ := h.lease(t, "2026-01-01")

	// WHEN: ended normally
	_, err := h.leases.End(h.ctx, h.scope, rental.EndLeaseRequest{LeaseID: lease.ID})

	// THEN: rejected, the lease is untouched
	var held *rental.DepositHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "15000.00", held.DepositHeld.String())
	got, err := h.leases.Get(h.ctx, h.scope, lease.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestLeaseService_EndWithoutDeposit(t *testing.T) {
	h := newHarness(t)
	unit, tenant := h.unitWithTenant(t)
	zero := generic.ZeroMoney
	lease, err := h.leases.Create(h.ctx, h.scope, rental.CreateLeaseRequest{
		TenantID: tenant.ID, UnitID: unit.ID, StartDate: date("2026-01-01"), DepositAmount: &zero,
	})
	require.NoError(t, err)

	ended, err := h.leases.End(h.ctx, h.scope, rental.EndLeaseRequest{LeaseID: lease.ID})
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	end, ok := ended.End.Date()
	require.True(t, ok)
	assert.Equal(t, "2026-03-05", end.String())

	_, err = h.leases.End(h.ctx, h.scope, rental.EndLeaseRequest{LeaseID: lease.ID})
	assert.ErrorIs(t, err, rental.ErrLeaseInactive)
}

func TestLeaseService_MoveOutOnce(t *testing.T) {
	// GIVEN: an active lease holding 15000
	h := newHarness(t)
	lease, unit, _ := h.lease(t, "2026-01-01")

	// WHEN: moving out with 5000 of deductions
	res, err := h.leases.MoveOut(h.ctx, h.scope, rental.MoveOutRequest{
		LeaseID:         lease.ID,
		KPLCTokenDebt:   money("1200"),
		DamagesCost:     money("3000"),
		OtherDeductions: money("800"),
		Notes:           "broken window",
	})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "5000.00", res.Settlement.DepositUsed.String())
	assert.Equal(t, "10000.00", res.Settlement.RefundAmount.String())
	assert.True(t, res.Settlement.RemainingDebt.IsZero())
	assert.False(t, res.Lease.IsActive)
	assert.True(t, res.Lease.DepositBalanced())

	stored, err := h.leases.Get(h.ctx, h.scope, lease.ID)
	require.NoError(t, err)
	assert.True(t, stored.DepositHeld.IsZero())
	require.NotNil(t, stored.MovedOutAt)

	settlements, err := h.leases.Settlements(h.ctx, h.scope, lease.ID)
	require.NoError(t, err)
	assert.Len(t, settlements, 1)

	// A second move-out is a conflict and writes nothing
	_, err = h.leases.MoveOut(h.ctx, h.scope, rental.MoveOutRequest{LeaseID: lease.ID})
	assert.ErrorIs(t, err, rental.ErrLeaseInactive)
	settlements, err = h.leases.Settlements(h.ctx, h.scope, lease.ID)
	require.NoError(t, err)
	assert.Len(t, settlements, 1)

	// The unit can be leased again
	other := rental.Tenant{ID: h.id("tenant"), AccountID: acct, Name: h.faker.Name()}
	require.NoError(t, h.store.SaveTenant(h.ctx, other))
	_, err = h.leases.Create(h.ctx, h.scope, rental.CreateLeaseRequest{
		TenantID: other.ID, UnitID: unit.ID, StartDate: date("2026-04-01"),
	})
	assert.NoError(t, err)
}

func TestLeaseService_MoveOutDeficit(t *testing.T) {
	h := newHarness(t)
	lease, _, _ := h.lease(t, "2026-01-01")

	res, err := h.leases.MoveOut(h.ctx, h.scope, rental.MoveOutRequest{LeaseID: lease.ID, DamagesCost: money("20000")})
	require.NoError(t, err)
	assert.Equal(t, "15000.00", res.Settlement.DepositUsed.String())
	assert.True(t, res.Settlement.RefundAmount.IsZero())
	assert.Equal(t, "5000.00", res.Settlement.RemainingDebt.String())
}

func TestLeaseService_MoveOutRejectsNegative(t *testing.T) {
	h := newHarness(t)
	lease, _, _ := h.lease(t, "2026-01-01")

	_, err := h.leases.MoveOut(h.ctx, h.scope, rental.MoveOutRequest{LeaseID: lease.ID, DamagesCost: money("-1")})
	assert.True(t, rental.IsValidation(err))

	got, err := h.leases.Get(h.ctx, h.scope, lease.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

// =============================================================================
// READING SERVICE
// =============================================================================

func TestReadingService_OnePerPeriod(t *testing.T) {
	h := newHarness(t)
	unit, _ := h.unitWithTenant(t)

	_, err := h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-03", ReadingValue: money("250")})
	require.NoError(t, err)

	// Same period key, day-form input
	_, err = h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-03-28", ReadingValue: money("260")})
	assert.ErrorIs(t, err, rental.ErrDuplicateReading)

	// Only March: no data, not zero
	_, ok, err := h.readings.WaterCharge(h.ctx, h.scope, unit.ID, generic.NewYearMonth(2026, time.March))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-04", ReadingValue: money("262")})
	require.NoError(t, err)
	wc, ok, err := h.readings.WaterCharge(h.ctx, h.scope, unit.ID, generic.NewYearMonth(2026, time.April))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "300.00", wc.Amount.String())
}

func TestReadingService_Rejections(t *testing.T) {
	h := newHarness(t)
	unit, _ := h.unitWithTenant(t)

	_, err := h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-13", ReadingValue: money("1")})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriodKey)

	_, err = h.readings.Record(h.ctx, h.scope, rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-03", ReadingValue: money("-1")})
	assert.True(t, rental.IsValidation(err))

	_, err = h.readings.Record(h.ctx, rental.NewScope("acct-2"), rental.RecordReadingRequest{UnitID: unit.ID, Period: "2026-03", ReadingValue: money("1")})
	assert.True(t, rental.IsForbidden(err))
}
