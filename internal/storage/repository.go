// Package storage is the ledger store: the durable, authoritative
// record of accounts, transactions, categories and budgets, backed by
// SQLite. All mutations run inside a unit of work scoped to one or
// more accounts; reads run at the store's snapshot isolation.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fintrack/internal/core"

	_ "modernc.org/sqlite"
)

type Repository struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs
// migrations. The busy_timeout pragma makes concurrent writers queue
// instead of failing immediately; writers that still time out surface
// as core.ErrConflict.
func New(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// UnitOfWork is an atomic group of ledger writes against one or more
// locked accounts. It commits or aborts as a whole; nothing inside it
// is externally observable before commit.
type UnitOfWork struct {
	tx *sql.Tx
}

// WithAccounts runs fn inside a transaction that has exclusively
// locked the given accounts. Locks are taken in ascending account-id
// order so two multi-account units of work can never deadlock. Returns
// core.ErrNotFound if any account is absent and core.ErrConflict if
// the lock cannot be acquired within the store's bounded wait.
func (r *Repository) WithAccounts(ctx context.Context, accountIDs []string, fn func(uow *UnitOfWork) error) error {
	ids := append([]string(nil), accountIDs...)
	sort.Strings(ids)
	// Drop duplicates so a self-move does not touch a row twice.
	ids = dedupe(ids)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin unit of work: %w", err))
	}
	defer tx.Rollback()

	uow := &UnitOfWork{tx: tx}
	for _, id := range ids {
		// Touching the row takes the write lock and pins the fixed
		// global lock order.
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET lock_version = lock_version + 1 WHERE id = ?`, id)
		if err != nil {
			return mapError(fmt.Errorf("lock account %s: %w", id, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return mapError(fmt.Errorf("lock account %s: %w", id, err))
		}
		if n == 0 {
			return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
		}
	}

	if err := fn(uow); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit unit of work: %w", err))
	}
	return nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}

// mapError classifies driver errors into the core taxonomy.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return core.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	case strings.Contains(err.Error(), "SQLITE_BUSY"),
		strings.Contains(err.Error(), "database is locked"):
		return fmt.Errorf("%w: %v", core.ErrConflict, err)
	default:
		return err
	}
}

const transactionColumns = `id, account_id, type, amount_cents, description, category_id, date,
	is_recurring, recurring_interval, next_recurring_date, last_processed_date, needs_review,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var (
		t                    core.Transaction
		amountCents          int64
		date                 string
		isRecurring          bool
		interval             sql.NullString
		nextDate, processed  sql.NullString
		needsReview          bool
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.Type, &amountCents, &t.Description, &t.CategoryID,
		&date, &isRecurring, &interval, &nextDate, &processed, &needsReview,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Amount = core.Money{Cents: amountCents}
	if t.Date, err = core.ParseDate(date); err != nil {
		return nil, fmt.Errorf("stored date %q: %w", date, err)
	}
	if isRecurring {
		rec := &core.Recurrence{Interval: core.RecurringInterval(interval.String), NeedsReview: needsReview}
		if nextDate.Valid {
			if rec.NextDate, err = core.ParseDate(nextDate.String); err != nil {
				return nil, fmt.Errorf("stored next date %q: %w", nextDate.String, err)
			}
		}
		if processed.Valid {
			if rec.LastProcessed, err = core.ParseDate(processed.String); err != nil {
				return nil, fmt.Errorf("stored processed date %q: %w", processed.String, err)
			}
		}
		t.Recurrence = rec
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

func nullDate(d core.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func recurrenceFields(t *core.Transaction) (isRecurring bool, interval, next, processed any, needsReview bool) {
	if t.Recurrence == nil {
		return false, nil, nil, nil, false
	}
	return true, string(t.Recurrence.Interval), nullDate(t.Recurrence.NextDate),
		nullDate(t.Recurrence.LastProcessed), t.Recurrence.NeedsReview
}

// CreateTransaction inserts a transaction row. Creation is idempotent
// on the transaction id: re-inserting an existing id is a no-op and
// returns created=false, so a retried create never double-counts.
func (u *UnitOfWork) CreateTransaction(ctx context.Context, t *core.Transaction) (created bool, err error) {
	isRec, interval, next, processed, review := recurrenceFields(t)
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := u.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, type, amount_cents, description, category_id, date,
			is_recurring, recurring_interval, next_recurring_date, last_processed_date, needs_review,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.AccountID, string(t.Type), t.Amount.Cents, t.Description, t.CategoryID, t.Date.String(),
		isRec, interval, next, processed, review, now, now)
	if err != nil {
		return false, mapError(fmt.Errorf("insert transaction: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(fmt.Errorf("insert transaction: %w", err))
	}
	return n > 0, nil
}

// UpdateTransaction replaces all mutable fields of an active
// transaction.
func (u *UnitOfWork) UpdateTransaction(ctx context.Context, t *core.Transaction) error {
	isRec, interval, next, processed, review := recurrenceFields(t)
	res, err := u.tx.ExecContext(ctx, `
		UPDATE transactions
		SET account_id = ?, type = ?, amount_cents = ?, description = ?, category_id = ?, date = ?,
			is_recurring = ?, recurring_interval = ?, next_recurring_date = ?,
			last_processed_date = ?, needs_review = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		t.AccountID, string(t.Type), t.Amount.Cents, t.Description, t.CategoryID, t.Date.String(),
		isRec, interval, next, processed, review, time.Now().UTC().Format(time.RFC3339), t.ID)
	if err != nil {
		return mapError(fmt.Errorf("update transaction: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(fmt.Errorf("update transaction: %w", err))
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

// SoftDeleteTransaction marks a transaction deleted and terminates any
// recurrence attached to it. The row stays for audit; no read path
// returns it again.
func (u *UnitOfWork) SoftDeleteTransaction(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := u.tx.ExecContext(ctx, `
		UPDATE transactions
		SET deleted_at = ?, next_recurring_date = NULL, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		now, now, id)
	if err != nil {
		return mapError(fmt.Errorf("soft delete transaction: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(fmt.Errorf("soft delete transaction: %w", err))
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// GetTransaction loads an active transaction inside the unit of work.
func (u *UnitOfWork) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	row := u.tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND deleted_at IS NULL`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, mapError(fmt.Errorf("get transaction %s: %w", id, err))
	}
	return t, nil
}

// AddToBalance applies a signed delta to the cached account balance.
// The read-modify-write happens inside the row lock already held by
// the unit of work, so it is atomic with the triggering ledger write.
func (u *UnitOfWork) AddToBalance(ctx context.Context, accountID string, deltaCents int64) error {
	res, err := u.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance_cents = balance_cents + ?, updated_at = ?
		WHERE id = ?`,
		deltaCents, time.Now().UTC().Format(time.RFC3339), accountID)
	if err != nil {
		return mapError(fmt.Errorf("apply balance delta: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(fmt.Errorf("apply balance delta: %w", err))
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
	}
	return nil
}

// SetBalance overwrites the cached balance. Only the reconciler's full
// recompute uses this.
func (u *UnitOfWork) SetBalance(ctx context.Context, accountID string, cents int64) error {
	_, err := u.tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = ?, updated_at = ? WHERE id = ?`,
		cents, time.Now().UTC().Format(time.RFC3339), accountID)
	if err != nil {
		return mapError(fmt.Errorf("set balance: %w", err))
	}
	return nil
}

// Balance reads the cached balance under the unit of work's lock.
func (u *UnitOfWork) Balance(ctx context.Context, accountID string) (int64, error) {
	var cents int64
	err := u.tx.QueryRowContext(ctx,
		`SELECT balance_cents FROM accounts WHERE id = ?`, accountID).Scan(&cents)
	if err != nil {
		return 0, mapError(fmt.Errorf("read balance: %w", err))
	}
	return cents, nil
}

// SumActive recomputes the signed sum of the account's active
// transactions, the ground truth the cached balance must match.
func (u *UnitOfWork) SumActive(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := u.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'INCOME' THEN amount_cents ELSE -amount_cents END), 0)
		FROM transactions
		WHERE account_id = ? AND deleted_at IS NULL`, accountID).Scan(&sum)
	if err != nil {
		return 0, mapError(fmt.Errorf("sum active transactions: %w", err))
	}
	return sum, nil
}

// GetTransaction returns an active transaction by id.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND deleted_at IS NULL`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, mapError(fmt.Errorf("get transaction %s: %w", id, err))
	}
	return t, nil
}

// ListByAccount returns the account's active transactions, newest
// effective date first, creation order breaking ties. Soft-deleted
// rows are never returned. from/to bound the effective date
// (inclusive) when non-nil.
func (r *Repository) ListByAccount(ctx context.Context, accountID string, from, to *core.Date) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = ? AND deleted_at IS NULL`
	args := []any{accountID}
	if from != nil {
		query += ` AND date >= ?`
		args = append(args, from.String())
	}
	if to != nil {
		query += ` AND date <= ?`
		args = append(args, to.String())
	}
	query += ` ORDER BY date DESC, rowid ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list transactions: %w", err))
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapError(fmt.Errorf("scan transaction: %w", err))
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("list transactions: %w", err))
	}
	return out, nil
}
