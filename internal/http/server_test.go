package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"fintrack/internal/services"
	"fintrack/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	repo, err := storage.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	reconciler := services.NewReconciler(repo, 0)
	txns := services.NewTransactionService(repo, reconciler, nil, services.Options{})
	accounts := services.NewAccountService(repo)
	agg := services.NewAggregator(repo)

	srv := NewServer(":0", testSecret, txns, accounts, agg)
	t.Cleanup(func() {
		srv.rateLimiter.stop()
		srv.cacheManager.Stop()
	})

	token, err := srv.auth.IssueToken("owner-1", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return srv, token
}

func doJSON(t *testing.T, srv *Server, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func createAccount(t *testing.T, srv *Server, token, name string) accountResponse {
	t.Helper()
	rec := doJSON(t, srv, token, http.MethodPost, "/accounts", accountRequest{Name: name, Type: "CURRENT"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[accountResponse](t, rec)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, "", http.MethodGet, "/accounts", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", rec.Code)
	}

	rec = doJSON(t, srv, "not-a-token", http.MethodGet, "/accounts", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", rec.Code)
	}
}

func TestHealthEndpointsArePublic(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, srv, "", http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d, want 200", path, rec.Code)
		}
	}
}

func TestCreateAcceptsDecimalAmount(t *testing.T) {
	srv, token := newTestServer(t)
	acc := createAccount(t, srv, token, "Main")

	rec := doJSON(t, srv, token, http.MethodPost, "/transactions", transactionRequest{
		AccountID:   acc.ID,
		Type:        "EXPENSE",
		Amount:      "45,505",
		Description: "groceries",
		CategoryID:  "groceries",
		Date:        "2025-03-10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[transactionResponse](t, rec)
	if created.AmountCents != 4551 {
		t.Fatalf("amount_cents = %d, want 4551 (half-up from 45,505)", created.AmountCents)
	}

	// A decimal amount wins over amount_cents when both are present.
	rec = doJSON(t, srv, token, http.MethodPost, "/transactions", transactionRequest{
		AccountID:   acc.ID,
		Type:        "EXPENSE",
		Amount:      "12.34",
		AmountCents: 9999,
		Description: "coffee",
		CategoryID:  "food",
		Date:        "2025-03-11",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[transactionResponse](t, rec).AmountCents; got != 1234 {
		t.Fatalf("amount_cents = %d, want 1234", got)
	}

	rec = doJSON(t, srv, token, http.MethodPost, "/transactions", transactionRequest{
		AccountID:   acc.ID,
		Type:        "EXPENSE",
		Amount:      "-3.50",
		Description: "bad",
		CategoryID:  "food",
		Date:        "2025-03-12",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative amount: status %d, want 422", rec.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	srv, token := newTestServer(t)
	acc := createAccount(t, srv, token, "Main")

	rec := doJSON(t, srv, token, http.MethodPost, "/transactions", transactionRequest{
		AccountID:   acc.ID,
		Type:        "EXPENSE",
		AmountCents: 2500,
		Description: "lunch",
		CategoryID:  "food",
		Date:        "2025-03-10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[transactionResponse](t, rec)
	if created.ID == "" || created.AmountCents != 2500 {
		t.Fatalf("create response = %+v", created)
	}

	rec = doJSON(t, srv, token, http.MethodGet, "/transactions/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}

	rec = doJSON(t, srv, token, http.MethodPut, "/transactions/"+created.ID, transactionRequest{
		AccountID:   acc.ID,
		Type:        "EXPENSE",
		AmountCents: 4000,
		Description: "dinner",
		CategoryID:  "food",
		Date:        "2025-03-10",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", rec.Code, rec.Body.String())
	}

	// Balance reflects the update.
	rec = doJSON(t, srv, token, http.MethodGet, "/accounts", nil)
	list := decodeBody[[]accountResponse](t, rec)
	if len(list) != 1 || list[0].BalanceCents != -4000 {
		t.Fatalf("accounts = %+v, want balance -4000", list)
	}

	rec = doJSON(t, srv, token, http.MethodDelete, "/transactions/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}

	rec = doJSON(t, srv, token, http.MethodGet, "/transactions/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: status %d, want 404", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, token := newTestServer(t)
	acc := createAccount(t, srv, token, "Main")

	cases := []struct {
		name string
		req  transactionRequest
		want int
	}{
		{
			name: "zero amount",
			req: transactionRequest{
				AccountID: acc.ID, Type: "EXPENSE", AmountCents: 0,
				Description: "x", CategoryID: "food", Date: "2025-03-10",
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "bad date",
			req: transactionRequest{
				AccountID: acc.ID, Type: "EXPENSE", AmountCents: 100,
				Description: "x", CategoryID: "food", Date: "10/03/2025",
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown account",
			req: transactionRequest{
				AccountID: "missing", Type: "EXPENSE", AmountCents: 100,
				Description: "x", CategoryID: "food", Date: "2025-03-10",
			},
			want: http.StatusNotFound,
		},
		{
			name: "category type mismatch",
			req: transactionRequest{
				AccountID: acc.ID, Type: "INCOME", AmountCents: 100,
				Description: "x", CategoryID: "food", Date: "2025-03-10",
			},
			want: http.StatusUnprocessableEntity,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, srv, token, http.MethodPost, "/transactions", tc.req)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	srv, token := newTestServer(t)
	acc := createAccount(t, srv, token, "Main")

	rec := doJSON(t, srv, token, http.MethodPost, "/transactions", transactionRequest{
		AccountID: acc.ID, Type: "EXPENSE", AmountCents: 100,
		Description: "x", CategoryID: "food", Date: "2025-03-10",
	})
	created := decodeBody[transactionResponse](t, rec)

	otherToken, err := srv.auth.IssueToken("owner-2", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec = doJSON(t, srv, otherToken, http.MethodGet, "/transactions/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign read: status %d, want 404", rec.Code)
	}
	rec = doJSON(t, srv, otherToken, http.MethodGet, "/accounts/"+acc.ID+"/transactions", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign list: status %d, want 404", rec.Code)
	}
}

func TestOverviewReflectsMutations(t *testing.T) {
	srv, token := newTestServer(t)
	acc := createAccount(t, srv, token, "Main")

	doJSON(t, srv, token, http.MethodPost, "/transactions", transactionRequest{
		AccountID: acc.ID, Type: "INCOME", AmountCents: 10000,
		Description: "pay", CategoryID: "salary", Date: "2025-03-01",
	})

	rec := doJSON(t, srv, token, http.MethodGet, "/overview", nil)
	overview := decodeBody[overviewResponse](t, rec)
	if overview.IncomeCents != 10000 || overview.NetCents != 10000 {
		t.Fatalf("overview = %+v", overview)
	}

	// A mutation invalidates the cached overview.
	doJSON(t, srv, token, http.MethodPost, "/transactions", transactionRequest{
		AccountID: acc.ID, Type: "EXPENSE", AmountCents: 4000,
		Description: "rent", CategoryID: "housing", Date: "2025-03-02",
	})

	rec = doJSON(t, srv, token, http.MethodGet, "/overview", nil)
	overview = decodeBody[overviewResponse](t, rec)
	if overview.ExpenseCents != 4000 || overview.NetCents != 6000 {
		t.Fatalf("overview after mutation = %+v", overview)
	}
}

func TestBudgetProgressEndpoint(t *testing.T) {
	srv, token := newTestServer(t)
	acc := createAccount(t, srv, token, "Main")

	rec := doJSON(t, srv, token, http.MethodPut, "/budget", budgetRequest{AmountCents: 10000})
	if rec.Code != http.StatusOK {
		t.Fatalf("set budget: status %d, body %s", rec.Code, rec.Body.String())
	}

	doJSON(t, srv, token, http.MethodPost, "/transactions", transactionRequest{
		AccountID: acc.ID, Type: "EXPENSE", AmountCents: 7500,
		Description: "rent", CategoryID: "housing", Date: "2025-03-02",
	})

	rec = doJSON(t, srv, token, http.MethodGet, "/accounts/"+acc.ID+"/budget-progress?date=2025-03-15", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress: status %d, body %s", rec.Code, rec.Body.String())
	}
	progress := decodeBody[budgetProgressResponse](t, rec)
	if progress.CurrentExpensesCents != 7500 || progress.UsagePct != 75 {
		t.Fatalf("progress = %+v, want 7500 cents at 75%%", progress)
	}
}
