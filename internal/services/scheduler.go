package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// Namespace for deterministic occurrence ids: the same series and
// occurrence date always produce the same transaction id, so two
// racing sweeps materialize each occurrence at most once.
var occurrenceNamespace = uuid.MustParse("9a7e6b1c-3f2d-4e8a-b5c4-1d9f8e7a6b5c")

// Scheduler materializes due recurring series into concrete ledger
// entries. Each materialization goes through the transaction service
// create path so the balance reconciler and aggregation stay
// consistent; the schedule itself advances with an optimistic
// compare-and-swap, never a sweep-wide lock.
type Scheduler struct {
	repo       *storage.Repository
	svc        *TransactionService
	maxCatchUp int
	batchLimit int
}

func NewScheduler(repo *storage.Repository, svc *TransactionService, maxCatchUp int) *Scheduler {
	if maxCatchUp <= 0 {
		maxCatchUp = 12
	}
	return &Scheduler{
		repo:       repo,
		svc:        svc,
		maxCatchUp: maxCatchUp,
		batchLimit: 500,
	}
}

// OccurrenceID returns the deterministic transaction id for one
// occurrence of a series.
func OccurrenceID(seriesID string, date core.Date) string {
	return uuid.NewSHA1(occurrenceNamespace, []byte(seriesID+"/"+date.String())).String()
}

// Sweep processes every series whose next occurrence is due at or
// before now. Idempotent: a second sweep, or a concurrent one, finds
// the schedules already advanced and skips them. Returns the number of
// occurrences materialized.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (int, error) {
	today := core.DateOf(now)

	due, err := s.repo.ListDueRecurring(ctx, today, s.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("list due series: %w", err)
	}

	slog.InfoContext(ctx, "Sweeping recurring series",
		"due", len(due),
		"sweep_date", today.String())

	total := 0
	for i := range due {
		made, err := s.processSeries(ctx, &due[i], today)
		total += made
		if err != nil {
			slog.ErrorContext(ctx, "Failed to process series",
				"series_id", due[i].ID,
				"error", err)
			continue
		}
	}

	slog.InfoContext(ctx, "Sweep complete",
		"materialized", total,
		"series_checked", len(due))
	return total, nil
}

// processSeries catches a single series up to today, one occurrence
// per missed period in date order, bounded by the catch-up cap.
func (s *Scheduler) processSeries(ctx context.Context, series *core.Transaction, today core.Date) (int, error) {
	rec := series.Recurrence
	if rec.State() != core.SeriesScheduled {
		return 0, nil
	}

	account, err := s.repo.GetAccount(ctx, series.AccountID)
	if err != nil {
		return 0, fmt.Errorf("series account: %w", err)
	}

	made := 0
	next := rec.NextDate
	processed := rec.LastProcessed
	for !next.After(today) && made < s.maxCatchUp {
		occ := &core.Transaction{
			ID:          OccurrenceID(series.ID, next),
			AccountID:   series.AccountID,
			Type:        series.Type,
			Amount:      series.Amount,
			Description: series.Description,
			CategoryID:  series.CategoryID,
			Date:        next,
		}
		if _, err := s.svc.create(ctx, account.OwnerID, occ, amqp.EventMaterialized); err != nil {
			return made, fmt.Errorf("materialize occurrence %s: %w", next, err)
		}

		advanced, err := s.repo.AdvanceRecurrence(ctx, series.ID, next, core.Advance(next, rec.Interval), next, rec.NeedsReview)
		if err != nil {
			return made, err
		}
		made++
		processed = next
		if !advanced {
			// A racing sweep moved the schedule first; the occurrence
			// create above was idempotent, so just stop here.
			slog.InfoContext(ctx, "Series advanced by concurrent sweep, skipping",
				"series_id", series.ID,
				"occurrence_date", next.String())
			return made, nil
		}
		next = core.Advance(next, rec.Interval)
	}

	if !next.After(today) {
		// Catch-up cap hit with periods still owed. Skip to the first
		// future occurrence without materializing and flag the series
		// for operator review.
		skipTo := next
		for !skipTo.After(today) {
			skipTo = core.Advance(skipTo, rec.Interval)
		}
		advanced, err := s.repo.AdvanceRecurrence(ctx, series.ID, next, skipTo, processed, true)
		if err != nil {
			return made, err
		}
		if advanced {
			slog.WarnContext(ctx, "Catch-up cap exceeded, series skipped ahead",
				"series_id", series.ID,
				"materialized", made,
				"skipped_from", next.String(),
				"skipped_to", skipTo.String(),
				"max_catch_up", s.maxCatchUp)
		}
	}

	return made, nil
}

// Terminate ends a series: the next occurrence date is cleared and the
// sweep never sees it again. Used when a series is edited to
// non-recurring semantics from outside the normal update path.
func (s *Scheduler) Terminate(ctx context.Context, seriesID string, current core.Date) error {
	_, err := s.repo.AdvanceRecurrence(ctx, seriesID, current, core.Date{}, core.Date{}, false)
	return err
}
