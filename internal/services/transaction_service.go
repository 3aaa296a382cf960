package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// TransactionInput is the mutable surface of a transaction as supplied
// by callers, including drafts pre-filled by the receipt-scanning
// collaborator. Validation never trusts the origin.
type TransactionInput struct {
	// ID lets callers retry a create idempotently. Empty means the
	// service assigns one.
	ID                string
	AccountID         string
	Type              core.TransactionType
	AmountCents       int64
	Description       string
	CategoryID        string
	Date              core.Date
	IsRecurring       bool
	RecurringInterval core.RecurringInterval
}

// Options bound the orchestrator's retry and timeout behavior.
type Options struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	StoreTimeout  time.Duration
}

func (o *Options) withDefaults() {
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 25 * time.Millisecond
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
}

// TransactionService is the public mutation surface of the ledger. It
// composes the store, the balance reconciler and the recurrence state
// under one unit of work per operation, and announces committed
// mutations on the event stream.
type TransactionService struct {
	repo       *storage.Repository
	reconciler *Reconciler
	events     *amqp.Client
	opts       Options
}

func NewTransactionService(repo *storage.Repository, reconciler *Reconciler, events *amqp.Client, opts Options) *TransactionService {
	opts.withDefaults()
	return &TransactionService{
		repo:       repo,
		reconciler: reconciler,
		events:     events,
		opts:       opts,
	}
}

// withRetry re-runs fn on lock contention with doubling backoff, a
// small fixed number of times, then surfaces the conflict.
func (s *TransactionService) withRetry(ctx context.Context, fn func() error) error {
	backoff := s.opts.RetryBackoff
	var err error
	for attempt := 0; attempt < s.opts.RetryAttempts; attempt++ {
		if err = fn(); !errors.Is(err, core.ErrConflict) {
			return err
		}
		slog.WarnContext(ctx, "Account contention, retrying",
			"attempt", attempt+1,
			"backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", core.ErrTimeout, ctx.Err())
		}
		backoff *= 2
	}
	return err
}

// ownedAccount loads an account and verifies ownership. A foreign
// account reads as absent so ids do not leak across owners.
func (s *TransactionService) ownedAccount(ctx context.Context, ownerID, accountID string) (*core.Account, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != ownerID {
		return nil, fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
	}
	return account, nil
}

// checkCategory verifies the category exists and its type matches the
// transaction type.
func (s *TransactionService) checkCategory(ctx context.Context, t *core.Transaction) error {
	cat, err := s.repo.GetCategory(ctx, t.CategoryID)
	if err != nil {
		return err
	}
	if cat.Type != t.Type {
		return core.ErrCategoryMismatch
	}
	return nil
}

func buildTransaction(in TransactionInput) *core.Transaction {
	t := &core.Transaction{
		ID:          in.ID,
		AccountID:   in.AccountID,
		Type:        in.Type,
		Amount:      core.Money{Cents: in.AmountCents},
		Description: in.Description,
		CategoryID:  in.CategoryID,
		Date:        in.Date,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if in.IsRecurring {
		t.Recurrence = &core.Recurrence{
			Interval: in.RecurringInterval,
			NextDate: core.Advance(in.Date, in.RecurringInterval),
		}
	}
	return t
}

// Create validates the input, writes the transaction and its balance
// delta under the account's unit of work, initializes recurrence
// state, and publishes a created event after commit.
func (s *TransactionService) Create(ctx context.Context, ownerID string, in TransactionInput) (*core.Transaction, error) {
	return s.create(ctx, ownerID, buildTransaction(in), amqp.EventCreated)
}

func (s *TransactionService) create(ctx context.Context, ownerID string, t *core.Transaction, eventKind string) (*core.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, t); err != nil {
		return nil, err
	}
	if _, err := s.ownedAccount(ctx, ownerID, t.AccountID); err != nil {
		return nil, err
	}

	err := s.withRetry(ctx, func() error {
		return s.repo.WithAccounts(ctx, []string{t.AccountID}, func(uow *storage.UnitOfWork) error {
			created, err := uow.CreateTransaction(ctx, t)
			if err != nil {
				return err
			}
			if !created {
				// Retried create: row and balance already committed.
				return nil
			}
			return s.reconciler.Apply(ctx, uow, t.AccountID, t.SignedCents())
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	s.publish(ctx, eventKind, ownerID, t)
	return t, nil
}

// Update replaces the mutable fields of a transaction and reapplies
// the balance delta: the signed difference on the same account, or a
// negative delta on the old account plus a positive one on the new
// account when the transaction moves, all inside one unit of work
// locking both accounts in fixed order.
func (s *TransactionService) Update(ctx context.Context, ownerID, id string, in TransactionInput) (*core.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	old, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	in.ID = id
	updated := buildTransaction(in)
	// An unchanged schedule survives the edit; a changed interval or
	// effective date restarts it from the new date.
	if in.IsRecurring && old.Recurrence != nil &&
		old.Recurrence.Interval == in.RecurringInterval && old.Date.Equal(in.Date) {
		updated.Recurrence = old.Recurrence
	}

	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, updated); err != nil {
		return nil, err
	}
	if _, err := s.ownedAccount(ctx, ownerID, updated.AccountID); err != nil {
		return nil, err
	}

	err = s.withRetry(ctx, func() error {
		return s.repo.WithAccounts(ctx, []string{old.AccountID, updated.AccountID}, func(uow *storage.UnitOfWork) error {
			// Re-read under the lock: a racing update may have moved
			// the transaction to an account we have not locked.
			current, err := uow.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			if current.AccountID != old.AccountID {
				return fmt.Errorf("transaction moved concurrently: %w", core.ErrConflict)
			}

			if err := uow.UpdateTransaction(ctx, updated); err != nil {
				return err
			}

			if current.AccountID == updated.AccountID {
				delta := updated.SignedCents() - current.SignedCents()
				return s.reconciler.Apply(ctx, uow, updated.AccountID, delta)
			}
			if err := s.reconciler.Apply(ctx, uow, current.AccountID, -current.SignedCents()); err != nil {
				return err
			}
			return s.reconciler.Apply(ctx, uow, updated.AccountID, updated.SignedCents())
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	s.publish(ctx, amqp.EventUpdated, ownerID, updated)
	return updated, nil
}

// Delete soft-deletes a transaction, reverses its balance
// contribution, and terminates any recurrence tied to it. Deleting an
// already-deleted transaction is a no-op, so retries are safe.
func (s *TransactionService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	old, err := s.Get(ctx, ownerID, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = s.withRetry(ctx, func() error {
		return s.repo.WithAccounts(ctx, []string{old.AccountID}, func(uow *storage.UnitOfWork) error {
			current, err := uow.GetTransaction(ctx, id)
			if errors.Is(err, core.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := uow.SoftDeleteTransaction(ctx, id); err != nil {
				return err
			}
			return s.reconciler.Apply(ctx, uow, current.AccountID, -current.SignedCents())
		})
	})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	s.publish(ctx, amqp.EventDeleted, ownerID, old)
	return nil
}

// Get returns a single active transaction scoped to the owner.
func (s *TransactionService) Get(ctx context.Context, ownerID, id string) (*core.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedAccount(ctx, ownerID, t.AccountID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListForAccount returns the account's active transactions, optionally
// bounded by an effective-date range.
func (s *TransactionService) ListForAccount(ctx context.Context, ownerID, accountID string, from, to *core.Date) ([]core.Transaction, error) {
	if _, err := s.ownedAccount(ctx, ownerID, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListByAccount(ctx, accountID, from, to)
}

// publish announces a committed mutation. Best effort: the ledger is
// already consistent, so a broker outage only delays downstream
// consumers.
func (s *TransactionService) publish(ctx context.Context, kind, ownerID string, t *core.Transaction) {
	if s.events == nil {
		return
	}
	ev := &amqp.TransactionEvent{
		Kind:          kind,
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		OwnerID:       ownerID,
		Type:          string(t.Type),
		AmountCents:   t.Amount.Cents,
		Date:          t.Date.String(),
		Timestamp:     time.Now(),
	}
	if err := s.events.PublishTransactionEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			"kind", kind,
			"transaction_id", t.ID,
			"error", err)
	}
}
