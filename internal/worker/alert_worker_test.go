package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

type recordingNotifier struct {
	alerts []string
}

func (n *recordingNotifier) Notify(ctx context.Context, ownerID string, progress *services.BudgetProgress) error {
	n.alerts = append(n.alerts, ownerID)
	return nil
}

type alertEnv struct {
	repo     *storage.Repository
	accounts *services.AccountService
	txns     *services.TransactionService
	worker   *AlertWorker
	notifier *recordingNotifier
}

func newAlertEnv(t *testing.T) *alertEnv {
	t.Helper()
	repo, err := storage.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	reconciler := services.NewReconciler(repo, 0)
	notifier := &recordingNotifier{}
	return &alertEnv{
		repo:     repo,
		accounts: services.NewAccountService(repo),
		txns:     services.NewTransactionService(repo, reconciler, nil, services.Options{}),
		worker:   NewAlertWorker(repo, services.NewAggregator(repo), notifier, 80),
		notifier: notifier,
	}
}

func (e *alertEnv) seed(t *testing.T, ownerID string, budgetCents int64, expenseCents int64) (accountID string) {
	t.Helper()
	ctx := context.Background()

	account, err := e.accounts.Create(ctx, ownerID, services.AccountInput{Name: "Main", Type: core.AccountCurrent})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := e.accounts.SetBudget(ctx, ownerID, budgetCents, "USD"); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	if expenseCents > 0 {
		_, err = e.txns.Create(ctx, ownerID, services.TransactionInput{
			AccountID:   account.ID,
			Type:        core.Expense,
			AmountCents: expenseCents,
			Description: "spend",
			CategoryID:  "groceries",
			Date:        core.NewDate(2025, 3, 10),
		})
		if err != nil {
			t.Fatalf("create expense: %v", err)
		}
	}
	return account.ID
}

func expenseEvent(ownerID, accountID string, cents int64) *amqp.TransactionEvent {
	return &amqp.TransactionEvent{
		Kind:        amqp.EventCreated,
		OwnerID:     ownerID,
		AccountID:   accountID,
		Type:        string(core.Expense),
		AmountCents: cents,
		Date:        "2025-03-10",
		Timestamp:   time.Now().UTC(),
	}
}

func TestAlertFiresAtThreshold(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()
	accountID := env.seed(t, "owner-1", 10000, 8500)

	if err := env.worker.HandleTransactionEvent(ctx, expenseEvent("owner-1", accountID, 8500)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(env.notifier.alerts) != 1 || env.notifier.alerts[0] != "owner-1" {
		t.Fatalf("alerts = %v, want one for owner-1", env.notifier.alerts)
	}

	budget, err := env.repo.GetBudget(ctx, "owner-1")
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if budget.LastAlertSent.IsZero() {
		t.Fatal("alert timestamp must be recorded")
	}
}

func TestAlertOncePerMonth(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()
	accountID := env.seed(t, "owner-1", 10000, 8500)

	ev := expenseEvent("owner-1", accountID, 8500)
	for i := 0; i < 3; i++ {
		if err := env.worker.HandleTransactionEvent(ctx, ev); err != nil {
			t.Fatalf("handle event %d: %v", i, err)
		}
	}
	if len(env.notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want exactly 1 per month", len(env.notifier.alerts))
	}
}

func TestAlertForFutureMonthFiresOnce(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()
	accountID := env.seed(t, "owner-1", 10000, 0)

	// A transaction scheduled two months ahead of the wall clock.
	future := core.DateOf(time.Now().AddDate(0, 2, 0)).StartOfMonth()
	_, err := env.txns.Create(ctx, "owner-1", services.TransactionInput{
		AccountID:   accountID,
		Type:        core.Expense,
		AmountCents: 9000,
		Description: "prepaid rent",
		CategoryID:  "housing",
		Date:        future,
	})
	if err != nil {
		t.Fatalf("create future expense: %v", err)
	}

	ev := expenseEvent("owner-1", accountID, 9000)
	ev.Date = future.String()
	for i := 0; i < 3; i++ {
		if err := env.worker.HandleTransactionEvent(ctx, ev); err != nil {
			t.Fatalf("handle event %d: %v", i, err)
		}
	}
	if len(env.notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want exactly 1 for a future month", len(env.notifier.alerts))
	}

	budget, err := env.repo.GetBudget(ctx, "owner-1")
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if !budget.LastAlertSent.Equal(future.StartOfMonth().Time) {
		t.Fatalf("recorded alert time = %v, want start of %v", budget.LastAlertSent, future)
	}
}

func TestNoAlertBelowThreshold(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()
	accountID := env.seed(t, "owner-1", 10000, 5000)

	if err := env.worker.HandleTransactionEvent(ctx, expenseEvent("owner-1", accountID, 5000)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(env.notifier.alerts) != 0 {
		t.Fatalf("alerts = %v, want none at 50%% usage", env.notifier.alerts)
	}
}

func TestNoAlertWithoutBudget(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	account, err := env.accounts.Create(ctx, "owner-1", services.AccountInput{Name: "Main", Type: core.AccountCurrent})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := env.worker.HandleTransactionEvent(ctx, expenseEvent("owner-1", account.ID, 99999)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(env.notifier.alerts) != 0 {
		t.Fatalf("alerts = %v, want none without a budget", env.notifier.alerts)
	}
}

func TestIncomeAndDeleteEventsIgnored(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()
	accountID := env.seed(t, "owner-1", 10000, 9000)

	income := expenseEvent("owner-1", accountID, 100)
	income.Type = string(core.Income)
	if err := env.worker.HandleTransactionEvent(ctx, income); err != nil {
		t.Fatalf("income event: %v", err)
	}

	deleted := expenseEvent("owner-1", accountID, 100)
	deleted.Kind = amqp.EventDeleted
	if err := env.worker.HandleTransactionEvent(ctx, deleted); err != nil {
		t.Fatalf("delete event: %v", err)
	}

	if len(env.notifier.alerts) != 0 {
		t.Fatalf("alerts = %v, want none for income or delete events", env.notifier.alerts)
	}
}
