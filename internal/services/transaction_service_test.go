package services

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

type testEnv struct {
	repo       *storage.Repository
	accounts   *AccountService
	txns       *TransactionService
	reconciler *Reconciler
	agg        *Aggregator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := storage.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	reconciler := NewReconciler(repo, 0)
	return &testEnv{
		repo:       repo,
		accounts:   NewAccountService(repo),
		txns:       NewTransactionService(repo, reconciler, nil, Options{}),
		reconciler: reconciler,
		agg:        NewAggregator(repo),
	}
}

func (e *testEnv) newAccount(t *testing.T, ownerID, name string) *core.Account {
	t.Helper()
	account, err := e.accounts.Create(context.Background(), ownerID, AccountInput{
		Name: name,
		Type: core.AccountCurrent,
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return account
}

func (e *testEnv) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	account, err := e.repo.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Balance.Cents
}

func expenseInput(accountID string, cents int64, date core.Date) TransactionInput {
	return TransactionInput{
		AccountID:   accountID,
		Type:        core.Expense,
		AmountCents: cents,
		Description: "expense",
		CategoryID:  "groceries",
		Date:        date,
	}
}

func incomeInput(accountID string, cents int64, date core.Date) TransactionInput {
	return TransactionInput{
		AccountID:   accountID,
		Type:        core.Income,
		AmountCents: cents,
		Description: "income",
		CategoryID:  "salary",
		Date:        date,
	}
}

func TestCreateAppliesSignedDelta(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.newAccount(t, "owner-1", "Main")

	if _, err := env.txns.Create(ctx, "owner-1", incomeInput(acc.ID, 10000, core.NewDate(2025, 3, 1))); err != nil {
		t.Fatalf("create income: %v", err)
	}
	if _, err := env.txns.Create(ctx, "owner-1", expenseInput(acc.ID, 2500, core.NewDate(2025, 3, 2))); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	if got := env.balance(t, acc.ID); got != 7500 {
		t.Fatalf("balance = %d, want 7500", got)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.newAccount(t, "owner-1", "Main")

	cases := []struct {
		name string
		in   TransactionInput
		want error
	}{
		{"zero amount", expenseInput(acc.ID, 0, core.NewDate(2025, 3, 1)), core.ErrInvalidAmount},
		{"category type mismatch", TransactionInput{
			AccountID: acc.ID, Type: core.Income, AmountCents: 100,
			Description: "x", CategoryID: "groceries", Date: core.NewDate(2025, 3, 1),
		}, core.ErrCategoryMismatch},
		{"unknown category", TransactionInput{
			AccountID: acc.ID, Type: core.Expense, AmountCents: 100,
			Description: "x", CategoryID: "nope", Date: core.NewDate(2025, 3, 1),
		}, core.ErrNotFound},
		{"unknown account", expenseInput("missing", 100, core.NewDate(2025, 3, 1)), core.ErrNotFound},
		{"recurring without interval", TransactionInput{
			AccountID: acc.ID, Type: core.Expense, AmountCents: 100,
			Description: "x", CategoryID: "groceries", Date: core.NewDate(2025, 3, 1),
			IsRecurring: true,
		}, core.ErrInvalidInterval},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.txns.Create(ctx, "owner-1", tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	if got := env.balance(t, acc.ID); got != 0 {
		t.Fatalf("rejected inputs must not move the balance, got %d", got)
	}
}

func TestCreateScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.newAccount(t, "owner-1", "Main")

	_, err := env.txns.Create(ctx, "intruder", expenseInput(acc.ID, 100, core.NewDate(2025, 3, 1)))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("foreign account should read as absent, got %v", err)
	}
}

func TestCreateIdempotentOnID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.newAccount(t, "owner-1", "Main")

	in := expenseInput(acc.ID, 3000, core.NewDate(2025, 3, 1))
	in.ID = "retry-me"

	for i := 0; i < 3; i++ {
		if _, err := env.txns.Create(ctx, "owner-1", in); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	if got := env.balance(t, acc.ID); got != -3000 {
		t.Fatalf("balance = %d, want -3000 (retries must not double count)", got)
	}
	list, err := env.txns.ListForAccount(ctx, "owner-1", acc.ID, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("want 1 row, got %d", len(list))
	}
}

func TestUpdateSameAccountDelta(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.newAccount(t, "owner-1", "Main")

	tx, err := env.txns.Create(ctx, "owner-1", expenseInput(acc.ID, 2000, core.NewDate(2025, 3, 1)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	in := expenseInput(acc.ID, 4500, core.NewDate(2025, 3, 1))
	if _, err := env.txns.Update(ctx, "owner-1", tx.ID, in); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := env.balance(t, acc.ID); got != -4500 {
		t.Fatalf("balance = %d, want -4500", got)
	}

	// Flipping the type reverses the sign.
	in = incomeInput(acc.ID, 4500, core.NewDate(2025, 3, 1))
	if _, err := env.txns.Update(ctx, "owner-1", tx.ID, in); err != nil {
		t.Fatalf("update type: %v", err)
	}
	if got := env.balance(t, acc.ID); got != 4500 {
		t.Fatalf("balance = %d, want 4500", got)
	}
}

func TestUpdateMovesBetweenAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAccount(t, "owner-1", "A")
	b := env.newAccount(t, "owner-1", "B")

	// A starts at 100.00, B at 200.00.
	if _, err := env.txns.Create(ctx, "owner-1", incomeInput(a.ID, 10000, core.NewDate(2025, 2, 1))); err != nil {
		t.Fatalf("seed A: %v", err)
	}
	if _, err := env.txns.Create(ctx, "owner-1", incomeInput(b.ID, 20000, core.NewDate(2025, 2, 1))); err != nil {
		t.Fatalf("seed B: %v", err)
	}

	tx, err := env.txns.Create(ctx, "owner-1", expenseInput(a.ID, 5000, core.NewDate(2025, 3, 1)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := env.balance(t, a.ID); got != 5000 {
		t.Fatalf("A = %d, want 5000", got)
	}

	if _, err := env.txns.Update(ctx, "owner-1", tx.ID, expenseInput(b.ID, 5000, core.NewDate(2025, 3, 1))); err != nil {
		t.Fatalf("move: %v", err)
	}

	if got := env.balance(t, a.ID); got != 10000 {
		t.Fatalf("A = %d, want 10000 after move", got)
	}
	if got := env.balance(t, b.ID); got != 15000 {
		t.Fatalf("B = %d, want 15000 after move", got)
	}
}

func TestDeleteReversesDeltaAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.newAccount(t, "owner-1", "Main")

	tx, err := env.txns.Create(ctx, "owner-1", expenseInput(acc.ID, 1234, core.NewDate(2025, 3, 1)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.txns.Delete(ctx, "owner-1", tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := env.balance(t, acc.ID); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}

	// Repeat delete is a no-op.
	if err := env.txns.Delete(ctx, "owner-1", tx.ID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if got := env.balance(t, acc.ID); got != 0 {
		t.Fatalf("balance = %d after repeat delete, want 0", got)
	}

	if _, err := env.txns.Get(ctx, "owner-1", tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("deleted transaction should be gone, got %v", err)
	}
}

func TestConcurrentCreatesSerializePerAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.newAccount(t, "owner-1", "Main")

	amounts := []int64{1000, 2000}
	var wg sync.WaitGroup
	errs := make([]error, len(amounts))
	for i, cents := range amounts {
		wg.Add(1)
		go func(i int, cents int64) {
			defer wg.Done()
			_, errs[i] = env.txns.Create(ctx, "owner-1", expenseInput(acc.ID, cents, core.NewDate(2025, 3, 1)))
		}(i, cents)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent create %d: %v", i, err)
		}
	}
	if got := env.balance(t, acc.ID); got != -3000 {
		t.Fatalf("balance = %d, want -3000 regardless of interleaving", got)
	}
}

// Randomized sequences of create/update/delete must leave the cached
// balance equal to the signed sum of active rows.
func TestBalanceMatchesLedgerProperty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.newAccount(t, "owner-1", "Main")

	rng := rand.New(rand.NewSource(42))
	var live []string

	for i := 0; i < 120; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			var tx *core.Transaction
			var err error
			if rng.Intn(2) == 0 {
				tx, err = env.txns.Create(ctx, "owner-1", incomeInput(acc.ID, int64(rng.Intn(9000)+1), core.NewDate(2025, 3, rng.Intn(28)+1)))
			} else {
				tx, err = env.txns.Create(ctx, "owner-1", expenseInput(acc.ID, int64(rng.Intn(9000)+1), core.NewDate(2025, 3, rng.Intn(28)+1)))
			}
			if err != nil {
				t.Fatalf("op %d create: %v", i, err)
			}
			live = append(live, tx.ID)
		case op == 1:
			id := live[rng.Intn(len(live))]
			in := expenseInput(acc.ID, int64(rng.Intn(9000)+1), core.NewDate(2025, 3, rng.Intn(28)+1))
			if rng.Intn(2) == 0 {
				in = incomeInput(acc.ID, int64(rng.Intn(9000)+1), core.NewDate(2025, 3, rng.Intn(28)+1))
			}
			if _, err := env.txns.Update(ctx, "owner-1", id, in); err != nil {
				t.Fatalf("op %d update: %v", i, err)
			}
		default:
			k := rng.Intn(len(live))
			if err := env.txns.Delete(ctx, "owner-1", live[k]); err != nil {
				t.Fatalf("op %d delete: %v", i, err)
			}
			live = append(live[:k], live[k+1:]...)
		}
	}

	drift, repaired, err := env.reconciler.CheckDrift(ctx, acc.ID)
	if err != nil {
		t.Fatalf("check drift: %v", err)
	}
	if drift != 0 || repaired {
		t.Fatalf("drift = %d (repaired=%v), want exact agreement", drift, repaired)
	}
}

func TestListForAccountOrderingAndRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.newAccount(t, "owner-1", "Main")

	first, _ := env.txns.Create(ctx, "owner-1", expenseInput(acc.ID, 100, core.NewDate(2025, 3, 10)))
	second, _ := env.txns.Create(ctx, "owner-1", expenseInput(acc.ID, 200, core.NewDate(2025, 3, 10)))
	newest, _ := env.txns.Create(ctx, "owner-1", expenseInput(acc.ID, 300, core.NewDate(2025, 3, 20)))
	old, _ := env.txns.Create(ctx, "owner-1", expenseInput(acc.ID, 400, core.NewDate(2025, 2, 1)))

	list, err := env.txns.ListForAccount(ctx, "owner-1", acc.ID, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantOrder := []string{newest.ID, first.ID, second.ID, old.ID}
	if len(list) != len(wantOrder) {
		t.Fatalf("got %d rows, want %d", len(list), len(wantOrder))
	}
	for i, want := range wantOrder {
		if list[i].ID != want {
			t.Fatalf("row %d = %s, want %s (date desc, creation order asc)", i, list[i].ID, want)
		}
	}

	from := core.NewDate(2025, 3, 1)
	to := core.NewDate(2025, 3, 15)
	ranged, err := env.txns.ListForAccount(ctx, "owner-1", acc.ID, &from, &to)
	if err != nil {
		t.Fatalf("ranged list: %v", err)
	}
	if len(ranged) != 2 {
		t.Fatalf("ranged rows = %d, want 2", len(ranged))
	}
}
