package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

// Notifier delivers a budget alert to the owner. The default just
// logs; deployments plug in mail or push delivery here.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, progress *services.BudgetProgress) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ownerID string, progress *services.BudgetProgress) error {
	slog.WarnContext(ctx, "Budget alert",
		"owner_id", ownerID,
		"current_expenses", progress.CurrentExpenses.Float(),
		"budget", progress.BudgetAmount.Float(),
		"usage_pct", progress.UsagePct)
	return nil
}

// AlertWorker consumes transaction events and raises a budget alert
// when an owner's monthly spend crosses the threshold. At most one
// alert per owner per calendar month.
type AlertWorker struct {
	repo         *storage.Repository
	agg          *services.Aggregator
	notifier     Notifier
	thresholdPct float64
}

func NewAlertWorker(repo *storage.Repository, agg *services.Aggregator, notifier Notifier, thresholdPct float64) *AlertWorker {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if thresholdPct <= 0 {
		thresholdPct = 80
	}
	return &AlertWorker{
		repo:         repo,
		agg:          agg,
		notifier:     notifier,
		thresholdPct: thresholdPct,
	}
}

// HandleTransactionEvent processes a single event from the stream.
// Returning an error requeues the delivery.
func (w *AlertWorker) HandleTransactionEvent(ctx context.Context, ev *amqp.TransactionEvent) error {
	slog.InfoContext(ctx, "Processing transaction event",
		"kind", ev.Kind,
		"transaction_id", ev.TransactionID,
		"owner_id", ev.OwnerID)

	// Deletes only lower spend; they can never cross the threshold.
	if ev.Kind == amqp.EventDeleted || ev.Type != string(core.Expense) {
		return nil
	}

	date, err := core.ParseDate(ev.Date)
	if err != nil {
		// Malformed event, drop rather than requeue forever.
		slog.ErrorContext(ctx, "Event carries unparseable date",
			"transaction_id", ev.TransactionID,
			"date", ev.Date,
			"error", err)
		return nil
	}

	return w.checkOwner(ctx, ev.OwnerID, ev.AccountID, date)
}

func (w *AlertWorker) checkOwner(ctx context.Context, ownerID, accountID string, day core.Date) error {
	budget, err := w.repo.GetBudget(ctx, ownerID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load budget: %w", err)
	}

	if alertedForMonth(budget.LastAlertSent, day) {
		return nil
	}

	progress, err := w.agg.MonthProgress(ctx, ownerID, accountID, day)
	if err != nil {
		return fmt.Errorf("budget progress: %w", err)
	}
	if progress.UsagePct < w.thresholdPct {
		return nil
	}

	if err := w.notifier.Notify(ctx, ownerID, progress); err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	// Record the start of the alerted month, not the wall clock, so the
	// guard also holds for future-dated transactions.
	if err := w.repo.MarkBudgetAlertSent(ctx, ownerID, day.StartOfMonth().Time); err != nil {
		// The alert went out; failing to record it means at worst one
		// duplicate next event.
		slog.ErrorContext(ctx, "Failed to record alert timestamp",
			"owner_id", ownerID,
			"error", err)
	}
	return nil
}

// alertedForMonth reports whether an alert already covers the calendar
// month containing day. The recorded timestamp is the month start of
// the last alerted event.
func alertedForMonth(lastSent time.Time, day core.Date) bool {
	if lastSent.IsZero() {
		return false
	}
	return !lastSent.Before(day.StartOfMonth().Time)
}

// Run consumes the event stream until the context ends.
func (w *AlertWorker) Run(ctx context.Context, events *amqp.Client) error {
	return events.ConsumeTransactionEvents(ctx, w.HandleTransactionEvent)
}
