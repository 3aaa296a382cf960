// Package services holds the business logic around the ledger store:
// the transaction orchestrator, the balance reconciler, the recurrence
// scheduler and the read-only aggregation engine.
package services

import (
	"context"
	"log/slog"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// Reconciler keeps Account.Balance equal to the signed sum of the
// account's active transactions. It is the only writer of the cached
// balance.
type Reconciler struct {
	repo           *storage.Repository
	toleranceCents int64
}

func NewReconciler(repo *storage.Repository, toleranceCents int64) *Reconciler {
	return &Reconciler{repo: repo, toleranceCents: toleranceCents}
}

// Apply adds a signed delta to the cached balance inside the caller's
// unit of work: +amount for a new INCOME, -amount for a new EXPENSE,
// the signed difference on update, the negated old amount on delete.
// Incremental on purpose; ReconcileFull is the repair path.
func (r *Reconciler) Apply(ctx context.Context, uow *storage.UnitOfWork, accountID string, deltaCents int64) error {
	if deltaCents == 0 {
		return nil
	}
	return uow.AddToBalance(ctx, accountID, deltaCents)
}

// ReconcileFull recomputes the balance from the ledger and persists
// it, returning the recomputed value.
func (r *Reconciler) ReconcileFull(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := r.repo.WithAccounts(ctx, []string{accountID}, func(uow *storage.UnitOfWork) error {
		var err error
		if sum, err = uow.SumActive(ctx, accountID); err != nil {
			return err
		}
		return uow.SetBalance(ctx, accountID, sum)
	})
	return sum, err
}

// CheckDrift compares the cached balance with a fresh recompute. Drift
// beyond the tolerance is logged as core.ErrDriftDetected and repaired
// in place, atomically with the comparison. Returns the signed drift
// (cached minus recomputed) and whether a repair happened.
func (r *Reconciler) CheckDrift(ctx context.Context, accountID string) (drift int64, repaired bool, err error) {
	err = r.repo.WithAccounts(ctx, []string{accountID}, func(uow *storage.UnitOfWork) error {
		cached, err := uow.Balance(ctx, accountID)
		if err != nil {
			return err
		}
		actual, err := uow.SumActive(ctx, accountID)
		if err != nil {
			return err
		}
		drift = cached - actual
		if abs(drift) <= r.toleranceCents {
			return nil
		}
		slog.ErrorContext(ctx, "Balance drift detected, repairing",
			"error", core.ErrDriftDetected,
			"account_id", accountID,
			"cached_cents", cached,
			"recomputed_cents", actual,
			"drift_cents", drift)
		repaired = true
		return uow.SetBalance(ctx, accountID, actual)
	})
	return drift, repaired, err
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
