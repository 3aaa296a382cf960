package storage

import (
	"context"
	"fmt"
	"strings"

	"fintrack/internal/core"
)

// CategoryTotal is one category's summed amount inside a range.
type CategoryTotal struct {
	CategoryID string
	Name       string
	Type       core.TransactionType
	Cents      int64
}

// TypeTotals holds per-type sums for a set of accounts and a range.
type TypeTotals struct {
	IncomeCents  int64
	ExpenseCents int64
}

// SumExpensesInRange sums EXPENSE amounts on the account with
// effective date in [start, end). Income never counts toward budget
// progress.
func (r *Repository) SumExpensesInRange(ctx context.Context, accountID string, start, end core.Date) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM transactions
		WHERE account_id = ? AND type = 'EXPENSE' AND deleted_at IS NULL
		  AND date >= ? AND date < ?`,
		accountID, start.String(), end.String()).Scan(&sum)
	if err != nil {
		return 0, mapError(fmt.Errorf("sum expenses: %w", err))
	}
	return sum, nil
}

// OverviewTotals aggregates active transactions across the given
// accounts: totals by type and by category. from/to bound the
// effective date (inclusive) when non-nil.
func (r *Repository) OverviewTotals(ctx context.Context, accountIDs []string, from, to *core.Date) (TypeTotals, []CategoryTotal, error) {
	var totals TypeTotals
	if len(accountIDs) == 0 {
		return totals, nil, nil
	}

	placeholders := strings.Repeat("?,", len(accountIDs))
	placeholders = placeholders[:len(placeholders)-1]

	filter := ` WHERE t.account_id IN (` + placeholders + `) AND t.deleted_at IS NULL`
	args := make([]any, 0, len(accountIDs)+2)
	for _, id := range accountIDs {
		args = append(args, id)
	}
	if from != nil {
		filter += ` AND t.date >= ?`
		args = append(args, from.String())
	}
	if to != nil {
		filter += ` AND t.date <= ?`
		args = append(args, to.String())
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN t.type = 'INCOME' THEN t.amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN t.type = 'EXPENSE' THEN t.amount_cents ELSE 0 END), 0)
		FROM transactions t`+filter, args...).
		Scan(&totals.IncomeCents, &totals.ExpenseCents)
	if err != nil {
		return totals, nil, mapError(fmt.Errorf("sum by type: %w", err))
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.category_id, c.name, t.type, SUM(t.amount_cents)
		FROM transactions t
		JOIN categories c ON c.id = t.category_id`+filter+`
		GROUP BY t.category_id, c.name, t.type
		ORDER BY SUM(t.amount_cents) DESC`, args...)
	if err != nil {
		return totals, nil, mapError(fmt.Errorf("sum by category: %w", err))
	}
	defer rows.Close()

	var byCategory []CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.CategoryID, &ct.Name, &ct.Type, &ct.Cents); err != nil {
			return totals, nil, mapError(fmt.Errorf("scan category total: %w", err))
		}
		byCategory = append(byCategory, ct)
	}
	if err := rows.Err(); err != nil {
		return totals, nil, mapError(fmt.Errorf("sum by category: %w", err))
	}
	return totals, byCategory, nil
}
