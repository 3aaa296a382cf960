package services

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// BudgetProgress is the derived spend against a monthly limit. Usage
// is zero when no budget is set.
type BudgetProgress struct {
	CurrentExpenses core.Money
	BudgetAmount    core.Money
	UsagePct        float64
}

// Overview groups ledger totals for a set of accounts and a range.
type Overview struct {
	Income     core.Money
	Expense    core.Money
	Net        core.Money
	ByCategory []storage.CategoryTotal
}

// Aggregator is the read-only aggregation engine. It never mutates the
// ledger and reads at the store's snapshot isolation, so it cannot
// observe a balance without its transaction row or vice versa.
type Aggregator struct {
	repo *storage.Repository
}

func NewAggregator(repo *storage.Repository) *Aggregator {
	return &Aggregator{repo: repo}
}

// BudgetProgress sums EXPENSE transactions on the account with
// effective date in [periodStart, periodEnd) and relates them to the
// owner's budget when one exists.
func (a *Aggregator) BudgetProgress(ctx context.Context, ownerID, accountID string, periodStart, periodEnd core.Date) (*BudgetProgress, error) {
	expenses, err := a.repo.SumExpensesInRange(ctx, accountID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("budget progress: %w", err)
	}

	progress := &BudgetProgress{CurrentExpenses: core.Money{Cents: expenses}}

	budget, err := a.repo.GetBudget(ctx, ownerID)
	switch {
	case err == nil:
		progress.BudgetAmount = budget.Amount
		if budget.Amount.Cents > 0 {
			progress.UsagePct = float64(expenses) * 100 / float64(budget.Amount.Cents)
		}
	case errors.Is(err, core.ErrNotFound):
		// No budget set: expenses alone are still useful to callers.
	default:
		return nil, fmt.Errorf("budget progress: %w", err)
	}

	return progress, nil
}

// MonthProgress is BudgetProgress for the calendar month containing
// day.
func (a *Aggregator) MonthProgress(ctx context.Context, ownerID, accountID string, day core.Date) (*BudgetProgress, error) {
	start := day.StartOfMonth()
	end := core.Advance(start, core.IntervalMonthly)
	return a.BudgetProgress(ctx, ownerID, accountID, start, end)
}

// Overview sums active transactions by type and by category across the
// given accounts. from/to bound the effective date (inclusive) when
// non-nil.
func (a *Aggregator) Overview(ctx context.Context, accountIDs []string, from, to *core.Date) (*Overview, error) {
	totals, byCategory, err := a.repo.OverviewTotals(ctx, accountIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}
	return &Overview{
		Income:     core.Money{Cents: totals.IncomeCents},
		Expense:    core.Money{Cents: totals.ExpenseCents},
		Net:        core.Money{Cents: totals.IncomeCents - totals.ExpenseCents},
		ByCategory: byCategory,
	}, nil
}
