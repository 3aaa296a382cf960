package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fintrack/internal/core"
)

func scanAccount(row rowScanner) (*core.Account, error) {
	var (
		a                    core.Account
		balanceCents         int64
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.Currency, &a.IsDefault,
		&balanceCents, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.Balance = core.Money{Cents: balanceCents}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

const accountColumns = `id, owner_id, name, type, currency, is_default, balance_cents, created_at, updated_at`

// CreateAccount inserts an account. When the new account is the
// default, the owner's previous default is cleared in the same
// transaction, keeping at most one default per owner.
func (r *Repository) CreateAccount(ctx context.Context, a *core.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin create account: %w", err))
	}
	defer tx.Rollback()

	if a.IsDefault {
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET is_default = 0 WHERE owner_id = ? AND is_default = 1`, a.OwnerID)
		if err != nil {
			return mapError(fmt.Errorf("clear previous default: %w", err))
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_id, name, type, currency, is_default, balance_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.Name, string(a.Type), a.Currency, a.IsDefault, a.Balance.Cents, now, now)
	if err != nil {
		return mapError(fmt.Errorf("insert account: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit create account: %w", err))
	}
	return nil
}

// SetDefaultAccount makes accountID the owner's single default.
func (r *Repository) SetDefaultAccount(ctx context.Context, ownerID, accountID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin set default: %w", err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET is_default = 0 WHERE owner_id = ? AND is_default = 1`, ownerID)
	if err != nil {
		return mapError(fmt.Errorf("clear previous default: %w", err))
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET is_default = 1, updated_at = ? WHERE id = ? AND owner_id = ?`,
		time.Now().UTC().Format(time.RFC3339), accountID, ownerID)
	if err != nil {
		return mapError(fmt.Errorf("set default: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(fmt.Errorf("set default: %w", err))
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit set default: %w", err))
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, mapError(fmt.Errorf("get account %s: %w", id, err))
	}
	return a, nil
}

func (r *Repository) ListAccountsByOwner(ctx context.Context, ownerID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = ? ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, mapError(fmt.Errorf("list accounts: %w", err))
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, mapError(fmt.Errorf("scan account: %w", err))
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("list accounts: %w", err))
	}
	return out, nil
}

// ListAccountIDs returns every account id. The drift checker walks
// this to audit cached balances.
func (r *Repository) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id ASC`)
	if err != nil {
		return nil, mapError(fmt.Errorf("list account ids: %w", err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(fmt.Errorf("scan account id: %w", err))
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("list account ids: %w", err))
	}
	return out, nil
}

func (r *Repository) GetCategory(ctx context.Context, id string) (*core.Category, error) {
	var c core.Category
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, type FROM categories WHERE id = ?`, id).Scan(&c.ID, &c.Name, &c.Type)
	if err != nil {
		return nil, mapError(fmt.Errorf("get category %s: %w", id, err))
	}
	return &c, nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, type FROM categories ORDER BY type, name`)
	if err != nil {
		return nil, mapError(fmt.Errorf("list categories: %w", err))
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Type); err != nil {
			return nil, mapError(fmt.Errorf("scan category: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("list categories: %w", err))
	}
	return out, nil
}

// GetBudget returns the owner's budget, or core.ErrNotFound when none
// is set.
func (r *Repository) GetBudget(ctx context.Context, ownerID string) (*core.Budget, error) {
	var (
		b                    core.Budget
		amountCents          int64
		lastAlert            sql.NullString
		createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, amount_cents, currency, last_alert_sent, created_at, updated_at
		FROM budgets WHERE owner_id = ?`, ownerID).
		Scan(&b.ID, &b.OwnerID, &amountCents, &b.Currency, &lastAlert, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapError(fmt.Errorf("get budget for %s: %w", ownerID, err))
	}
	b.Amount = core.Money{Cents: amountCents}
	if lastAlert.Valid {
		b.LastAlertSent, _ = time.Parse(time.RFC3339, lastAlert.String)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// UpsertBudget creates or replaces the owner's monthly limit.
func (r *Repository) UpsertBudget(ctx context.Context, b *core.Budget) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (id, owner_id, amount_cents, currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET amount_cents = excluded.amount_cents,
			currency = excluded.currency, updated_at = excluded.updated_at`,
		b.ID, b.OwnerID, b.Amount.Cents, b.Currency, now, now)
	if err != nil {
		return mapError(fmt.Errorf("upsert budget: %w", err))
	}
	return nil
}

// MarkBudgetAlertSent records when the owner was last alerted, so the
// alert worker fires at most once per calendar month.
func (r *Repository) MarkBudgetAlertSent(ctx context.Context, ownerID string, when time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE budgets SET last_alert_sent = ?, updated_at = ? WHERE owner_id = ?`,
		when.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), ownerID)
	if err != nil {
		return mapError(fmt.Errorf("mark alert sent: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(fmt.Errorf("mark alert sent: %w", err))
	}
	if n == 0 {
		return fmt.Errorf("budget for %s: %w", ownerID, core.ErrNotFound)
	}
	return nil
}
