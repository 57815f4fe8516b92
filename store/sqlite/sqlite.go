/*
Package sqlite provides a SQLite-backed implementation of rental.TxStore.

TABLES:

	properties, units, tenants:  account-scoped master records
	leases:                      one active lease per unit (partial unique index)
	water_readings:              UNIQUE(account_id, unit_id, period)
	payments:                    append-only; idempotency key unique per account
	invoices:                    number unique per account; (lease, period) unique
	move_out_settlements:        append-only

CONSTRAINTS:

	Unique violations are mapped to the rental sentinel errors so that callers
	see the same errors as with the memory store:
	- invoices number     -> rental.ErrSequenceConflict (retried by the caller)
	- invoices period     -> *rental.DuplicateInvoiceError
	- water_readings      -> rental.ErrDuplicateReading
	- payments key        -> rental.ErrDuplicatePayment
	- leases active unit  -> rental.ErrUnitAlreadyLeased

CONCURRENCY:

	The pool is limited to one connection, so ":memory:" databases are shared
	and writers are serialized. WithTx additionally holds a mutex; code inside
	the callback must only use the Store it is given.

MIGRATION:

	Schema is applied on New() with golang-migrate from the embedded
	migrations/ directory.

USAGE:

	store, err := sqlite.New("./data/billing.db", logger)
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/rent-billing/generic"
	"github.com/warp/rent-billing/rental"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements rental.TxStore using SQLite.
type Store struct {
	queries
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

var _ rental.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	m, err := NewMigrator(db, logger.Named("migrate"))
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := m.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{
		queries: queries{q: db},
		db:      db,
		logger:  logger,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx executes fn within a database transaction. Any error rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(rental.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		s.logger.Debug("transaction rolled back", zap.Error(err))
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - rental.Store over *sql.DB or *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type queries struct {
	q querier
}

// -----------------------------------------------------------------------------
// Master records
// -----------------------------------------------------------------------------

func (s *queries) SaveProperty(ctx context.Context, p rental.Property) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO properties (id, account_id, name, water_rate_per_unit)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			water_rate_per_unit = excluded.water_rate_per_unit
	`, p.ID, string(p.AccountID), p.Name, p.WaterRatePerUnit)
	if err != nil {
		return fmt.Errorf("failed to save property: %w", err)
	}
	return nil
}

func (s *queries) GetProperty(ctx context.Context, scope rental.Scope, id string) (*rental.Property, error) {
	var p rental.Property
	err := s.q.QueryRowContext(ctx,
		`SELECT id, account_id, name, water_rate_per_unit FROM properties WHERE id = ?`, id,
	).Scan(&p.ID, &p.AccountID, &p.Name, &p.WaterRatePerUnit)
	if err := checkScope(scope, err, p.AccountID, rental.ErrPropertyNotFound, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *queries) SaveUnit(ctx context.Context, u rental.Unit) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO units (id, account_id, property_id, name, rent, garbage_fee, water_rate, deposit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id = excluded.property_id,
			name = excluded.name,
			rent = excluded.rent,
			garbage_fee = excluded.garbage_fee,
			water_rate = excluded.water_rate,
			deposit = excluded.deposit
	`, u.ID, string(u.AccountID), nullString(u.PropertyID), u.Name,
		u.Rent, u.GarbageFee, u.WaterRate, u.Deposit)
	if err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}
	return nil
}

func (s *queries) GetUnit(ctx context.Context, scope rental.Scope, id string) (*rental.Unit, error) {
	var (
		u          rental.Unit
		propertyID sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, account_id, property_id, name, rent, garbage_fee, water_rate, deposit
		FROM units WHERE id = ?
	`, id).Scan(&u.ID, &u.AccountID, &propertyID, &u.Name,
		&u.Rent, &u.GarbageFee, &u.WaterRate, &u.Deposit)
	if err := checkScope(scope, err, u.AccountID, rental.ErrUnitNotFound, id); err != nil {
		return nil, err
	}
	u.PropertyID = propertyID.String
	return &u, nil
}

func (s *queries) SaveTenant(ctx context.Context, t rental.Tenant) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tenants (id, account_id, name, phone)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone
	`, t.ID, string(t.AccountID), t.Name, nullString(t.Phone))
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}

func (s *queries) GetTenant(ctx context.Context, scope rental.Scope, id string) (*rental.Tenant, error) {
	var (
		t     rental.Tenant
		phone sql.NullString
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, account_id, name, phone FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.AccountID, &t.Name, &phone)
	if err := checkScope(scope, err, t.AccountID, rental.ErrTenantNotFound, id); err != nil {
		return nil, err
	}
	t.Phone = phone.String
	return &t, nil
}

func (s *queries) ListAccounts(ctx context.Context) ([]rental.AccountID, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT account_id FROM leases WHERE is_active = 1 ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []rental.AccountID
	for rows.Next() {
		var id rental.AccountID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Leases
// -----------------------------------------------------------------------------

const leaseColumns = `id, account_id, tenant_id, unit_id, start_date, end_date, is_active,
	deposit_amount, deposit_held, deposit_used, deposit_refunded, moved_out_at, created_at`

func (s *queries) CreateLease(ctx context.Context, l rental.Lease) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO leases (`+leaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, string(l.AccountID), l.TenantID, l.UnitID, l.StartDate, endDateValue(l.End), l.IsActive,
		l.DepositAmount, l.DepositHeld, l.DepositUsed, l.DepositRefunded,
		nullTime(l.MovedOutAt), formatTime(l.CreatedAt))
	if err != nil {
		if uniqueViolation(err, "leases.") {
			return rental.ErrUnitAlreadyLeased
		}
		return fmt.Errorf("failed to create lease: %w", err)
	}
	return nil
}

func (s *queries) UpdateLease(ctx context.Context, l rental.Lease) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE leases SET
			end_date = ?, is_active = ?,
			deposit_amount = ?, deposit_held = ?, deposit_used = ?, deposit_refunded = ?,
			moved_out_at = ?
		WHERE id = ? AND account_id = ?
	`, endDateValue(l.End), l.IsActive,
		l.DepositAmount, l.DepositHeld, l.DepositUsed, l.DepositRefunded,
		nullTime(l.MovedOutAt), l.ID, string(l.AccountID))
	if err != nil {
		if uniqueViolation(err, "leases.") {
			return rental.ErrUnitAlreadyLeased
		}
		return fmt.Errorf("failed to update lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", l.ID, rental.ErrLeaseNotFound)
	}
	return nil
}

func (s *queries) GetLease(ctx context.Context, scope rental.Scope, id string) (*rental.Lease, error) {
	l, err := scanLease(s.q.QueryRowContext(ctx,
		`SELECT `+leaseColumns+` FROM leases WHERE id = ?`, id))
	if err := checkScope(scope, err, l.AccountID, rental.ErrLeaseNotFound, id); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *queries) ActiveLeaseForUnit(ctx context.Context, scope rental.Scope, unitID string) (*rental.Lease, error) {
	return s.optionalLease(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE account_id = ? AND unit_id = ? AND is_active = 1
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, string(scope.AccountID), unitID)
}

func (s *queries) ActiveLeaseFor(ctx context.Context, scope rental.Scope, tenantID, unitID string) (*rental.Lease, error) {
	return s.optionalLease(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE account_id = ? AND tenant_id = ? AND unit_id = ? AND is_active = 1
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, string(scope.AccountID), tenantID, unitID)
}

func (s *queries) optionalLease(ctx context.Context, query string, args ...any) (*rental.Lease, error) {
	l, err := scanLease(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *queries) ListLeasesInPeriod(ctx context.Context, scope rental.Scope, period generic.Period) ([]rental.Lease, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE account_id = ? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY created_at ASC, rowid ASC
	`, string(scope.AccountID), period.End, period.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to query leases: %w", err)
	}
	defer rows.Close()

	var out []rental.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLease(row scanner) (rental.Lease, error) {
	var (
		l          rental.Lease
		endDate    sql.NullString
		movedOutAt sql.NullString
		createdAt  string
	)
	err := row.Scan(&l.ID, &l.AccountID, &l.TenantID, &l.UnitID, &l.StartDate, &endDate, &l.IsActive,
		&l.DepositAmount, &l.DepositHeld, &l.DepositUsed, &l.DepositRefunded, &movedOutAt, &createdAt)
	if err != nil {
		return l, err
	}

	l.End = generic.OpenEnd()
	if endDate.Valid {
		d, err := generic.ParseDate(endDate.String)
		if err != nil {
			return l, err
		}
		l.End = generic.Bounded(d)
	}
	if movedOutAt.Valid {
		t := parseTime(movedOutAt.String)
		l.MovedOutAt = &t
	}
	l.CreatedAt = parseTime(createdAt)
	return l, nil
}

// -----------------------------------------------------------------------------
// Water readings
// -----------------------------------------------------------------------------

func (s *queries) AppendReading(ctx context.Context, r rental.WaterReading) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO water_readings (id, account_id, unit_id, period, reading_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.AccountID), r.UnitID, r.Period.String(), r.ReadingValue, formatTime(r.CreatedAt))
	if err != nil {
		if uniqueViolation(err, "water_readings.") {
			return rental.ErrDuplicateReading
		}
		return fmt.Errorf("failed to append reading: %w", err)
	}
	return nil
}

func (s *queries) GetReading(ctx context.Context, scope rental.Scope, unitID string, period generic.YearMonth) (*rental.WaterReading, error) {
	var (
		r         rental.WaterReading
		key       string
		createdAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, account_id, unit_id, period, reading_value, created_at
		FROM water_readings WHERE account_id = ? AND unit_id = ? AND period = ?
	`, string(scope.AccountID), unitID, period.String()).Scan(
		&r.ID, &r.AccountID, &r.UnitID, &key, &r.ReadingValue, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reading: %w", err)
	}
	if r.Period, err = generic.ParseYearMonth(key); err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// -----------------------------------------------------------------------------
// Payments (append-only)
// -----------------------------------------------------------------------------

const paymentColumns = `id, account_id, tenant_id, unit_id, lease_id, amount, paid_for_month,
	method, reference, water_paid, garbage_paid, rent_paid, balance_after, credit_after,
	idempotency_key, paid_at, created_at`

// AppendPayment adds a payment. There is no update or delete.
func (s *queries) AppendPayment(ctx context.Context, p rental.Payment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, string(p.AccountID), p.TenantID, p.UnitID, p.LeaseID, p.Amount, p.PaidForMonth.String(),
		nullString(p.Method), nullString(p.Reference),
		p.WaterPaid, p.GarbagePaid, p.RentPaid, p.BalanceAfter, p.CreditAfter,
		nullString(p.IdempotencyKey), formatTime(p.PaidAt), formatTime(p.CreatedAt))
	if err != nil {
		if uniqueViolation(err, "payments.") {
			return rental.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (s *queries) PaymentKeyExists(ctx context.Context, scope rental.Scope, key string) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE account_id = ? AND idempotency_key = ?`,
		string(scope.AccountID), key,
	).Scan(&count)
	return count > 0, err
}

func (s *queries) LatestPayment(ctx context.Context, scope rental.Scope, tenantID, unitID string) (*rental.Payment, error) {
	p, err := scanPayment(s.q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE account_id = ? AND tenant_id = ? AND unit_id = ?
		ORDER BY paid_at DESC, rowid DESC LIMIT 1
	`, string(scope.AccountID), tenantID, unitID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *queries) ListPayments(ctx context.Context, scope rental.Scope, tenantID, unitID string) ([]rental.Payment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE account_id = ? AND tenant_id = ? AND unit_id = ?
		ORDER BY paid_at DESC, rowid DESC
	`, string(scope.AccountID), tenantID, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []rental.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row scanner) (rental.Payment, error) {
	var (
		p                 rental.Payment
		month             string
		method, reference sql.NullString
		idemKey           sql.NullString
		paidAt, createdAt string
	)
	err := row.Scan(&p.ID, &p.AccountID, &p.TenantID, &p.UnitID, &p.LeaseID, &p.Amount, &month,
		&method, &reference, &p.WaterPaid, &p.GarbagePaid, &p.RentPaid, &p.BalanceAfter, &p.CreditAfter,
		&idemKey, &paidAt, &createdAt)
	if err != nil {
		return p, err
	}
	if p.PaidForMonth, err = generic.ParseYearMonth(month); err != nil {
		return p, err
	}
	p.Method = method.String
	p.Reference = reference.String
	p.IdempotencyKey = idemKey.String
	p.PaidAt = parseTime(paidAt)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// -----------------------------------------------------------------------------
// Invoices
// -----------------------------------------------------------------------------

const invoiceColumns = `id, account_id, lease_id, tenant_id, unit_id, invoice_number,
	period_start, period_end, issued_at, due_date, currency, status,
	line_items_json, subtotal, total, created_at`

func (s *queries) CreateInvoice(ctx context.Context, inv rental.Invoice) error {
	linesJSON, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.ID, string(inv.AccountID), inv.LeaseID, inv.TenantID, inv.UnitID, inv.InvoiceNumber,
		inv.PeriodStart, inv.PeriodEnd, formatTime(inv.IssuedAt), inv.DueDate, inv.Currency, string(inv.Status),
		string(linesJSON), inv.Subtotal, inv.Total, formatTime(inv.CreatedAt))
	if err == nil {
		return nil
	}

	switch {
	case uniqueViolation(err, "invoices.invoice_number"):
		return fmt.Errorf("%s: %w", inv.InvoiceNumber, rental.ErrSequenceConflict)
	case uniqueViolation(err, "invoices.lease_id"):
		dup := &rental.DuplicateInvoiceError{
			LeaseID:     inv.LeaseID,
			PeriodStart: inv.PeriodStart,
			PeriodEnd:   inv.PeriodEnd,
		}
		existing, findErr := s.FindInvoice(ctx, rental.NewScope(inv.AccountID), inv.LeaseID, inv.PeriodStart, inv.PeriodEnd)
		if findErr == nil && existing != nil {
			dup.ExistingID = existing.ID
			dup.ExistingNumber = existing.InvoiceNumber
		}
		return dup
	}
	return fmt.Errorf("failed to create invoice: %w", err)
}

func (s *queries) GetInvoice(ctx context.Context, scope rental.Scope, id string) (*rental.Invoice, error) {
	inv, err := scanInvoice(s.q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
	if err := checkScope(scope, err, inv.AccountID, rental.ErrInvoiceNotFound, id); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *queries) FindInvoice(ctx context.Context, scope rental.Scope, leaseID string, start, end generic.Date) (*rental.Invoice, error) {
	return s.optionalInvoice(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE account_id = ? AND lease_id = ? AND period_start = ? AND period_end = ?
	`, string(scope.AccountID), leaseID, start, end)
}

func (s *queries) InvoiceForMonth(ctx context.Context, scope rental.Scope, leaseID string, month generic.YearMonth) (*rental.Invoice, error) {
	return s.optionalInvoice(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE account_id = ? AND lease_id = ? AND period_start BETWEEN ? AND ?
		ORDER BY issued_at DESC, rowid DESC LIMIT 1
	`, string(scope.AccountID), leaseID, month.FirstDay(), month.LastDay())
}

func (s *queries) optionalInvoice(ctx context.Context, query string, args ...any) (*rental.Invoice, error) {
	inv, err := scanInvoice(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *queries) ListInvoices(ctx context.Context, scope rental.Scope, limit, offset int) ([]rental.Invoice, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE account_id = ?
		ORDER BY issued_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, string(scope.AccountID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []rental.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MaxInvoiceNumber compares numbers as text; the 4-digit suffix keeps that
// numeric up to 9999 per month.
func (s *queries) MaxInvoiceNumber(ctx context.Context, scope rental.Scope, prefix string) (string, error) {
	var last string
	err := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(invoice_number), '') FROM invoices
		WHERE account_id = ? AND substr(invoice_number, 1, length(?)) = ?
	`, string(scope.AccountID), prefix, prefix).Scan(&last)
	if err != nil {
		return "", fmt.Errorf("failed to read invoice sequence: %w", err)
	}
	return last, nil
}

func scanInvoice(row scanner) (rental.Invoice, error) {
	var (
		inv                 rental.Invoice
		issuedAt, createdAt string
		linesJSON           string
	)
	err := row.Scan(&inv.ID, &inv.AccountID, &inv.LeaseID, &inv.TenantID, &inv.UnitID, &inv.InvoiceNumber,
		&inv.PeriodStart, &inv.PeriodEnd, &issuedAt, &inv.DueDate, &inv.Currency, &inv.Status,
		&linesJSON, &inv.Subtotal, &inv.Total, &createdAt)
	if err != nil {
		return inv, err
	}
	if err := json.Unmarshal([]byte(linesJSON), &inv.LineItems); err != nil {
		return inv, fmt.Errorf("failed to decode line items of %s: %w", inv.ID, err)
	}
	inv.IssuedAt = parseTime(issuedAt)
	inv.CreatedAt = parseTime(createdAt)
	return inv, nil
}

// -----------------------------------------------------------------------------
// Settlements
// -----------------------------------------------------------------------------

func (s *queries) AppendSettlement(ctx context.Context, st rental.MoveOutSettlement) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO move_out_settlements
		(id, account_id, lease_id, kplc_token_debt, damages_cost, other_deductions,
		 deposit_used, refund_amount, remaining_debt, notes, moved_out_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ID, string(st.AccountID), st.LeaseID, st.KPLCTokenDebt, st.DamagesCost, st.OtherDeductions,
		st.DepositUsed, st.RefundAmount, st.RemainingDebt, nullString(st.Notes), formatTime(st.MovedOutAt))
	if err != nil {
		return fmt.Errorf("failed to append settlement: %w", err)
	}
	return nil
}

func (s *queries) ListSettlements(ctx context.Context, scope rental.Scope, leaseID string) ([]rental.MoveOutSettlement, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, account_id, lease_id, kplc_token_debt, damages_cost, other_deductions,
		       deposit_used, refund_amount, remaining_debt, notes, moved_out_at
		FROM move_out_settlements
		WHERE account_id = ? AND lease_id = ?
		ORDER BY moved_out_at ASC, rowid ASC
	`, string(scope.AccountID), leaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var out []rental.MoveOutSettlement
	for rows.Next() {
		var (
			st         rental.MoveOutSettlement
			notes      sql.NullString
			movedOutAt string
		)
		if err := rows.Scan(&st.ID, &st.AccountID, &st.LeaseID, &st.KPLCTokenDebt, &st.DamagesCost,
			&st.OtherDeductions, &st.DepositUsed, &st.RefundAmount, &st.RemainingDebt, &notes, &movedOutAt); err != nil {
			return nil, err
		}
		st.Notes = notes.String
		st.MovedOutAt = parseTime(movedOutAt)
		out = append(out, st)
	}
	return out, rows.Err()
}

// =============================================================================
// Helper functions
// =============================================================================

// checkScope turns a single-row lookup result into the not-found / forbidden
// contract of rental.RecordStore.
func checkScope(scope rental.Scope, err error, owner rental.AccountID, notFound error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", id, notFound)
	}
	if err != nil {
		return err
	}
	if !scope.Owns(owner) {
		return fmt.Errorf("%s: %w", id, rental.ErrForbidden)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func endDateValue(b generic.EndBound) sql.NullString {
	d, ok := b.Date()
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

// uniqueViolation reports a UNIQUE failure whose message names column.
func uniqueViolation(err error, column string) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(sqlErr.Error(), column)
}
