package storage

import (
	"context"
	"fmt"

	"fintrack/internal/core"
)

// ListDueRecurring returns active recurring series whose next
// occurrence is on or before due, oldest first so catch-up happens in
// date order across series too.
func (r *Repository) ListDueRecurring(ctx context.Context, due core.Date, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE is_recurring = 1
		  AND next_recurring_date IS NOT NULL
		  AND next_recurring_date <= ?
		  AND deleted_at IS NULL
		ORDER BY next_recurring_date ASC
		LIMIT ?`, due.String(), limit)
	if err != nil {
		return nil, mapError(fmt.Errorf("list due series: %w", err))
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapError(fmt.Errorf("scan series: %w", err))
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("list due series: %w", err))
	}
	return out, nil
}

// AdvanceRecurrence moves a series' schedule forward with an optimistic
// compare-and-swap on the stored next date. A racing sweep that already
// advanced the series makes the swap fail, and the caller simply skips
// the series; no cross-process lock is held across a sweep.
func (r *Repository) AdvanceRecurrence(ctx context.Context, id string, expected, next, processed core.Date, needsReview bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET next_recurring_date = ?, last_processed_date = ?, needs_review = ?,
			updated_at = datetime('now')
		WHERE id = ? AND next_recurring_date = ? AND deleted_at IS NULL`,
		nullDate(next), nullDate(processed), needsReview, id, expected.String())
	if err != nil {
		return false, mapError(fmt.Errorf("advance series %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(fmt.Errorf("advance series %s: %w", id, err))
	}
	return n > 0, nil
}
