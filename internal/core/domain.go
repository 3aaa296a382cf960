package core

import (
	"strings"
	"time"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	IntervalDaily   RecurringInterval = "DAILY"
	IntervalWeekly  RecurringInterval = "WEEKLY"
	IntervalMonthly RecurringInterval = "MONTHLY"
	IntervalYearly  RecurringInterval = "YEARLY"
)

const (
	AccountCurrent AccountType = "CURRENT"
	AccountSavings AccountType = "SAVINGS"
)

// Recurrence series states. A series is SCHEDULED while it has a next
// occurrence date and TERMINATED once the date is cleared.
const (
	SeriesScheduled  SeriesState = "SCHEDULED"
	SeriesTerminated SeriesState = "TERMINATED"
)

type (
	TransactionType   string
	RecurringInterval string
	AccountType       string
	SeriesState       string

	// Account is a ledger account. Balance is a cached derived value:
	// it always equals the signed sum of the account's active
	// transactions and is written only by the balance reconciler.
	Account struct {
		ID        string
		OwnerID   string
		Name      string
		Type      AccountType
		Currency  string
		IsDefault bool
		Balance   Money
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Recurrence is the schedule attached to a recurring transaction.
	// Its presence is the recurring flag: a one-off transaction carries
	// a nil *Recurrence, which keeps "not recurring but scheduled"
	// unrepresentable. NextDate zero means the series is terminated.
	Recurrence struct {
		Interval      RecurringInterval
		NextDate      Date
		LastProcessed Date
		NeedsReview   bool
	}

	// Transaction is one ledger entry. Date is the effective date, not
	// the creation time. Amount is non-negative; SignedCents applies
	// the sign implied by Type.
	Transaction struct {
		ID          string
		AccountID   string
		Type        TransactionType
		Amount      Money
		Description string
		CategoryID  string
		Date        Date
		Recurrence  *Recurrence
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// Category belongs to a fixed reference set seeded by migrations.
	Category struct {
		ID   string
		Name string
		Type TransactionType
	}

	// Budget is a monthly spending limit per owner. Current expenses
	// are never stored; the aggregation engine recomputes them.
	Budget struct {
		ID            string
		OwnerID       string
		Amount        Money
		Currency      string
		LastAlertSent time.Time
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}
)

// State reports whether the series still produces occurrences.
func (r *Recurrence) State() SeriesState {
	if r == nil || r.NextDate.IsZero() {
		return SeriesTerminated
	}
	return SeriesScheduled
}

// IsRecurring reports whether the transaction is a recurring series
// template.
func (t Transaction) IsRecurring() bool {
	return t.Recurrence != nil
}

// SignedCents returns the amount with the sign implied by the
// transaction type: positive for INCOME, negative for EXPENSE.
func (t Transaction) SignedCents() int64 {
	if t.Type == Expense {
		return -t.Amount.Cents
	}
	return t.Amount.Cents
}

func (tt TransactionType) Validate() error {
	switch tt {
	case Income, Expense:
		return nil
	default:
		return ErrInvalidType
	}
}

func (ri RecurringInterval) Validate() error {
	switch ri {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return nil
	default:
		return ErrInvalidInterval
	}
}

func (t Transaction) Validate() error {
	if err := t.Type.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return ErrDescriptionLong
	}
	if strings.TrimSpace(t.CategoryID) == "" {
		return ErrEmptyCategory
	}
	if t.Recurrence != nil {
		if err := t.Recurrence.Interval.Validate(); err != nil {
			return err
		}
		if t.Recurrence.State() == SeriesScheduled && t.Recurrence.NextDate.Before(t.Date) {
			return ErrRecurringFields
		}
	}
	return nil
}

func (a Account) Validate() error {
	if len(strings.TrimSpace(a.Name)) == 0 {
		return ErrAccountNameEmpty
	}
	switch a.Type {
	case AccountCurrent, AccountSavings:
	default:
		return ErrInvalidAccountType
	}
	return nil
}

func (b Budget) Validate() error {
	return b.Amount.Validate()
}
