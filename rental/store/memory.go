// Package store provides an in-memory rental.TxStore.
package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/warp/rent-billing/generic"
	"github.com/warp/rent-billing/rental"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is safe for concurrent use. WithTx holds the write lock for the
// whole callback and restores a snapshot when it fails.
type Memory struct {
	mu sync.RWMutex
	st *state
}

var _ rental.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(rental.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) read(fn func(s *state) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.st)
}

func (m *Memory) write(fn func(s *state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Memory) SaveProperty(ctx context.Context, p rental.Property) error {
	return m.write(func(s *state) error { return s.SaveProperty(ctx, p) })
}

func (m *Memory) GetProperty(ctx context.Context, scope rental.Scope, id string) (out *rental.Property, err error) {
	err = m.read(func(s *state) error { out, err = s.GetProperty(ctx, scope, id); return err })
	return out, err
}

func (m *Memory) SaveUnit(ctx context.Context, u rental.Unit) error {
	return m.write(func(s *state) error { return s.SaveUnit(ctx, u) })
}

func (m *Memory) GetUnit(ctx context.Context, scope rental.Scope, id string) (out *rental.Unit, err error) {
	err = m.read(func(s *state) error { out, err = s.GetUnit(ctx, scope, id); return err })
	return out, err
}

func (m *Memory) SaveTenant(ctx context.Context, t rental.Tenant) error {
	return m.write(func(s *state) error { return s.SaveTenant(ctx, t) })
}

func (m *Memory) GetTenant(ctx context.Context, scope rental.Scope, id string) (out *rental.Tenant, err error) {
	err = m.read(func(s *state) error { out, err = s.GetTenant(ctx, scope, id); return err })
	return out, err
}

func (m *Memory) ListAccounts(ctx context.Context) (out []rental.AccountID, err error) {
	err = m.read(func(s *state) error { out, err = s.ListAccounts(ctx); return err })
	return out, err
}

func (m *Memory) CreateLease(ctx context.Context, l rental.Lease) error {
	return m.write(func(s *state) error { return s.CreateLease(ctx, l) })
}

func (m *Memory) UpdateLease(ctx context.Context, l rental.Lease) error {
	return m.write(func(s *state) error { return s.UpdateLease(ctx, l) })
}

func (m *Memory) GetLease(ctx context.Context, scope rental.Scope, id string) (out *rental.Lease, err error) {
	err = m.read(func(s *state) error { out, err = s.GetLease(ctx, scope, id); return err })
	return out, err
}

func (m *Memory) ActiveLeaseForUnit(ctx context.Context, scope rental.Scope, unitID string) (out *rental.Lease, err error) {
	err = m.read(func(s *state) error { out, err = s.ActiveLeaseForUnit(ctx, scope, unitID); return err })
	return out, err
}

func (m *Memory) ActiveLeaseFor(ctx context.Context, scope rental.Scope, tenantID, unitID string) (out *rental.Lease, err error) {
	err = m.read(func(s *state) error { out, err = s.ActiveLeaseFor(ctx, scope, tenantID, unitID); return err })
	return out, err
}

func (m *Memory) ListLeasesInPeriod(ctx context.Context, scope rental.Scope, period generic.Period) (out []rental.Lease, err error) {
	err = m.read(func(s *state) error { out, err = s.ListLeasesInPeriod(ctx, scope, period); return err })
	return out, err
}

func (m *Memory) AppendReading(ctx context.Context, r rental.WaterReading) error {
	return m.write(func(s *state) error { return s.AppendReading(ctx, r) })
}

func (m *Memory) GetReading(ctx context.Context, scope rental.Scope, unitID string, period generic.YearMonth) (out *rental.WaterReading, err error) {
	err = m.read(func(s *state) error { out, err = s.GetReading(ctx, scope, unitID, period); return err })
	return out, err
}

func (m *Memory) AppendPayment(ctx context.Context, p rental.Payment) error {
	return m.write(func(s *state) error { return s.AppendPayment(ctx, p) })
}

func (m *Memory) PaymentKeyExists(ctx context.Context, scope rental.Scope, key string) (out bool, err error) {
	err = m.read(func(s *state) error { out, err = s.PaymentKeyExists(ctx, scope, key); return err })
	return out, err
}

func (m *Memory) LatestPayment(ctx context.Context, scope rental.Scope, tenantID, unitID string) (out *rental.Payment, err error) {
	err = m.read(func(s *state) error { out, err = s.LatestPayment(ctx, scope, tenantID, unitID); return err })
	return out, err
}

func (m *Memory) ListPayments(ctx context.Context, scope rental.Scope, tenantID, unitID string) (out []rental.Payment, err error) {
	err = m.read(func(s *state) error { out, err = s.ListPayments(ctx, scope, tenantID, unitID); return err })
	return out, err
}

func (m *Memory) CreateInvoice(ctx context.Context, inv rental.Invoice) error {
	return m.write(func(s *state) error { return s.CreateInvoice(ctx, inv) })
}

func (m *Memory) GetInvoice(ctx context.Context, scope rental.Scope, id string) (out *rental.Invoice, err error) {
	err = m.read(func(s *state) error { out, err = s.GetInvoice(ctx, scope, id); return err })
	return out, err
}

func (m *Memory) FindInvoice(ctx context.Context, scope rental.Scope, leaseID string, start, end generic.Date) (out *rental.Invoice, err error) {
	err = m.read(func(s *state) error { out, err = s.FindInvoice(ctx, scope, leaseID, start, end); return err })
	return out, err
}

func (m *Memory) InvoiceForMonth(ctx context.Context, scope rental.Scope, leaseID string, month generic.YearMonth) (out *rental.Invoice, err error) {
	err = m.read(func(s *state) error { out, err = s.InvoiceForMonth(ctx, scope, leaseID, month); return err })
	return out, err
}

func (m *Memory) ListInvoices(ctx context.Context, scope rental.Scope, limit, offset int) (out []rental.Invoice, err error) {
	err = m.read(func(s *state) error { out, err = s.ListInvoices(ctx, scope, limit, offset); return err })
	return out, err
}

func (m *Memory) MaxInvoiceNumber(ctx context.Context, scope rental.Scope, prefix string) (out string, err error) {
	err = m.read(func(s *state) error { out, err = s.MaxInvoiceNumber(ctx, scope, prefix); return err })
	return out, err
}

func (m *Memory) AppendSettlement(ctx context.Context, st rental.MoveOutSettlement) error {
	return m.write(func(s *state) error { return s.AppendSettlement(ctx, st) })
}

func (m *Memory) ListSettlements(ctx context.Context, scope rental.Scope, leaseID string) (out []rental.MoveOutSettlement, err error) {
	err = m.read(func(s *state) error { out, err = s.ListSettlements(ctx, scope, leaseID); return err })
	return out, err
}

// =============================================================================
// STATE - Unlocked rental.Store; also the transactional view
// =============================================================================

type readingKey struct {
	AccountID rental.AccountID
	UnitID    string
	Period    generic.YearMonth
}

type paymentKey struct {
	AccountID rental.AccountID
	Key       string
}

type state struct {
	properties  map[string]rental.Property
	units       map[string]rental.Unit
	tenants     map[string]rental.Tenant
	leases      map[string]rental.Lease
	leaseOrder  []string
	readings    map[readingKey]rental.WaterReading
	payments    []rental.Payment
	paymentKeys map[paymentKey]bool
	invoices    []rental.Invoice
	settlements []rental.MoveOutSettlement
}

func newState() *state {
	return &state{
		properties:  make(map[string]rental.Property),
		units:       make(map[string]rental.Unit),
		tenants:     make(map[string]rental.Tenant),
		leases:      make(map[string]rental.Lease),
		readings:    make(map[readingKey]rental.WaterReading),
		paymentKeys: make(map[paymentKey]bool),
	}
}

// clone copies every container. Records are values and appended slices are
// never mutated in place, so a shallow copy per container is enough.
func (s *state) clone() *state {
	return &state{
		properties:  maps.Clone(s.properties),
		units:       maps.Clone(s.units),
		tenants:     maps.Clone(s.tenants),
		leases:      maps.Clone(s.leases),
		leaseOrder:  slices.Clone(s.leaseOrder),
		readings:    maps.Clone(s.readings),
		payments:    slices.Clone(s.payments),
		paymentKeys: maps.Clone(s.paymentKeys),
		invoices:    slices.Clone(s.invoices),
		settlements: slices.Clone(s.settlements),
	}
}

// scoped applies the not-found / forbidden contract of rental.RecordStore.
func scoped(scope rental.Scope, found bool, account rental.AccountID, notFound error, id string) error {
	if !found {
		return fmt.Errorf("%s: %w", id, notFound)
	}
	if !scope.Owns(account) {
		return fmt.Errorf("%s: %w", id, rental.ErrForbidden)
	}
	return nil
}

func (s *state) SaveProperty(_ context.Context, p rental.Property) error {
	s.properties[p.ID] = p
	return nil
}

func (s *state) GetProperty(_ context.Context, scope rental.Scope, id string) (*rental.Property, error) {
	p, ok := s.properties[id]
	if err := scoped(scope, ok, p.AccountID, rental.ErrPropertyNotFound, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *state) SaveUnit(_ context.Context, u rental.Unit) error {
	s.units[u.ID] = u
	return nil
}

func (s *state) GetUnit(_ context.Context, scope rental.Scope, id string) (*rental.Unit, error) {
	u, ok := s.units[id]
	if err := scoped(scope, ok, u.AccountID, rental.ErrUnitNotFound, id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *state) SaveTenant(_ context.Context, t rental.Tenant) error {
	s.tenants[t.ID] = t
	return nil
}

func (s *state) GetTenant(_ context.Context, scope rental.Scope, id string) (*rental.Tenant, error) {
	t, ok := s.tenants[id]
	if err := scoped(scope, ok, t.AccountID, rental.ErrTenantNotFound, id); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *state) ListAccounts(_ context.Context) ([]rental.AccountID, error) {
	seen := make(map[rental.AccountID]bool)
	var out []rental.AccountID
	for _, id := range s.leaseOrder {
		l := s.leases[id]
		if l.IsActive && !seen[l.AccountID] {
			seen[l.AccountID] = true
			out = append(out, l.AccountID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *state) CreateLease(_ context.Context, l rental.Lease) error {
	if _, exists := s.leases[l.ID]; exists {
		return fmt.Errorf("lease %s already exists", l.ID)
	}
	if l.IsActive {
		for _, other := range s.leases {
			if other.IsActive && other.AccountID == l.AccountID && other.UnitID == l.UnitID {
				return rental.ErrUnitAlreadyLeased
			}
		}
	}
	s.leases[l.ID] = l
	s.leaseOrder = append(s.leaseOrder, l.ID)
	return nil
}

func (s *state) UpdateLease(_ context.Context, l rental.Lease) error {
	if _, exists := s.leases[l.ID]; !exists {
		return fmt.Errorf("%s: %w", l.ID, rental.ErrLeaseNotFound)
	}
	s.leases[l.ID] = l
	return nil
}

func (s *state) GetLease(_ context.Context, scope rental.Scope, id string) (*rental.Lease, error) {
	l, ok := s.leases[id]
	if err := scoped(scope, ok, l.AccountID, rental.ErrLeaseNotFound, id); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *state) ActiveLeaseForUnit(_ context.Context, scope rental.Scope, unitID string) (*rental.Lease, error) {
	return s.newestActive(scope, func(l rental.Lease) bool { return l.UnitID == unitID }), nil
}

func (s *state) ActiveLeaseFor(_ context.Context, scope rental.Scope, tenantID, unitID string) (*rental.Lease, error) {
	return s.newestActive(scope, func(l rental.Lease) bool {
		return l.TenantID == tenantID && l.UnitID == unitID
	}), nil
}

func (s *state) newestActive(scope rental.Scope, match func(rental.Lease) bool) *rental.Lease {
	for i := len(s.leaseOrder) - 1; i >= 0; i-- {
		l := s.leases[s.leaseOrder[i]]
		if l.IsActive && scope.Owns(l.AccountID) && match(l) {
			return &l
		}
	}
	return nil
}

func (s *state) ListLeasesInPeriod(_ context.Context, scope rental.Scope, period generic.Period) ([]rental.Lease, error) {
	var out []rental.Lease
	for _, id := range s.leaseOrder {
		l := s.leases[id]
		if !scope.Owns(l.AccountID) {
			continue
		}
		if _, ok := l.ActiveRange().Intersect(period); ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *state) AppendReading(_ context.Context, r rental.WaterReading) error {
	k := readingKey{AccountID: r.AccountID, UnitID: r.UnitID, Period: r.Period}
	if _, exists := s.readings[k]; exists {
		return rental.ErrDuplicateReading
	}
	s.readings[k] = r
	return nil
}

func (s *state) GetReading(_ context.Context, scope rental.Scope, unitID string, period generic.YearMonth) (*rental.WaterReading, error) {
	r, ok := s.readings[readingKey{AccountID: scope.AccountID, UnitID: unitID, Period: period}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// AppendPayment adds a payment. Append-only.
func (s *state) AppendPayment(_ context.Context, p rental.Payment) error {
	if p.IdempotencyKey != "" {
		k := paymentKey{AccountID: p.AccountID, Key: p.IdempotencyKey}
		if s.paymentKeys[k] {
			return rental.ErrDuplicatePayment
		}
		s.paymentKeys[k] = true
	}
	s.payments = append(s.payments, p)
	return nil
}

func (s *state) PaymentKeyExists(_ context.Context, scope rental.Scope, key string) (bool, error) {
	return s.paymentKeys[paymentKey{AccountID: scope.AccountID, Key: key}], nil
}

func (s *state) LatestPayment(ctx context.Context, scope rental.Scope, tenantID, unitID string) (*rental.Payment, error) {
	list, _ := s.ListPayments(ctx, scope, tenantID, unitID)
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// ListPayments returns newest PaidAt first; ties keep the later append first.
func (s *state) ListPayments(_ context.Context, scope rental.Scope, tenantID, unitID string) ([]rental.Payment, error) {
	var out []rental.Payment
	for i := len(s.payments) - 1; i >= 0; i-- {
		p := s.payments[i]
		if scope.Owns(p.AccountID) && p.TenantID == tenantID && p.UnitID == unitID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaidAt.After(out[j].PaidAt) })
	return out, nil
}

func (s *state) CreateInvoice(_ context.Context, inv rental.Invoice) error {
	for _, existing := range s.invoices {
		if existing.AccountID != inv.AccountID {
			continue
		}
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return fmt.Errorf("%s: %w", inv.InvoiceNumber, rental.ErrSequenceConflict)
		}
		if existing.LeaseID == inv.LeaseID &&
			existing.PeriodStart.Equal(inv.PeriodStart) &&
			existing.PeriodEnd.Equal(inv.PeriodEnd) {
			return &rental.DuplicateInvoiceError{
				LeaseID:        inv.LeaseID,
				PeriodStart:    inv.PeriodStart,
				PeriodEnd:      inv.PeriodEnd,
				ExistingID:     existing.ID,
				ExistingNumber: existing.InvoiceNumber,
			}
		}
	}
	inv.LineItems = cloneLines(inv.LineItems)
	s.invoices = append(s.invoices, inv)
	return nil
}

func (s *state) GetInvoice(_ context.Context, scope rental.Scope, id string) (*rental.Invoice, error) {
	for _, inv := range s.invoices {
		if inv.ID != id {
			continue
		}
		if !scope.Owns(inv.AccountID) {
			return nil, fmt.Errorf("%s: %w", id, rental.ErrForbidden)
		}
		return copyInvoice(inv), nil
	}
	return nil, fmt.Errorf("%s: %w", id, rental.ErrInvoiceNotFound)
}

func (s *state) FindInvoice(_ context.Context, scope rental.Scope, leaseID string, start, end generic.Date) (*rental.Invoice, error) {
	for _, inv := range s.invoices {
		if scope.Owns(inv.AccountID) && inv.LeaseID == leaseID &&
			inv.PeriodStart.Equal(start) && inv.PeriodEnd.Equal(end) {
			return copyInvoice(inv), nil
		}
	}
	return nil, nil
}

func (s *state) InvoiceForMonth(_ context.Context, scope rental.Scope, leaseID string, month generic.YearMonth) (*rental.Invoice, error) {
	var found *rental.Invoice
	for _, inv := range s.invoices {
		if !scope.Owns(inv.AccountID) || inv.LeaseID != leaseID || generic.YearMonthOf(inv.PeriodStart) != month {
			continue
		}
		if found == nil || !inv.IssuedAt.Before(found.IssuedAt) {
			found = copyInvoice(inv)
		}
	}
	return found, nil
}

func (s *state) ListInvoices(_ context.Context, scope rental.Scope, limit, offset int) ([]rental.Invoice, error) {
	var out []rental.Invoice
	for i := len(s.invoices) - 1; i >= 0; i-- {
		if scope.Owns(s.invoices[i].AccountID) {
			out = append(out, *copyInvoice(s.invoices[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *state) MaxInvoiceNumber(_ context.Context, scope rental.Scope, prefix string) (string, error) {
	max := ""
	for _, inv := range s.invoices {
		if scope.Owns(inv.AccountID) && strings.HasPrefix(inv.InvoiceNumber, prefix) && inv.InvoiceNumber > max {
			max = inv.InvoiceNumber
		}
	}
	return max, nil
}

func (s *state) AppendSettlement(_ context.Context, st rental.MoveOutSettlement) error {
	s.settlements = append(s.settlements, st)
	return nil
}

func (s *state) ListSettlements(_ context.Context, scope rental.Scope, leaseID string) ([]rental.MoveOutSettlement, error) {
	var out []rental.MoveOutSettlement
	for _, st := range s.settlements {
		if scope.Owns(st.AccountID) && st.LeaseID == leaseID {
			out = append(out, st)
		}
	}
	return out, nil
}

func copyInvoice(inv rental.Invoice) *rental.Invoice {
	inv.LineItems = cloneLines(inv.LineItems)
	return &inv
}

// cloneLines copies line items including their Meta maps.
func cloneLines(items []rental.LineItem) []rental.LineItem {
	out := slices.Clone(items)
	for i := range out {
		out[i].Meta = maps.Clone(out[i].Meta)
	}
	return out
}
