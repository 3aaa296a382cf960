package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

type transactionRequest struct {
	ID        string `json:"id,omitempty"`
	AccountID string `json:"account_id"`
	Type      string `json:"type"`
	// Amount is a decimal string ("45.50"), the form receipt drafts
	// and form posts arrive in. It takes precedence over amount_cents.
	Amount            string `json:"amount,omitempty"`
	AmountCents       int64  `json:"amount_cents,omitempty"`
	Description       string `json:"description"`
	CategoryID        string `json:"category_id"`
	Date              string `json:"date"`
	IsRecurring       bool   `json:"is_recurring,omitempty"`
	RecurringInterval string `json:"recurring_interval,omitempty"`
}

func (req transactionRequest) toInput() (services.TransactionInput, error) {
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return services.TransactionInput{}, err
	}
	cents := req.AmountCents
	if req.Amount != "" {
		cents, err = core.ParseDecimalToCents(req.Amount)
		if err != nil {
			return services.TransactionInput{}, err
		}
	}
	return services.TransactionInput{
		ID:                req.ID,
		AccountID:         req.AccountID,
		Type:              core.TransactionType(strings.ToUpper(req.Type)),
		AmountCents:       cents,
		Description:       req.Description,
		CategoryID:        req.CategoryID,
		Date:              date,
		IsRecurring:       req.IsRecurring,
		RecurringInterval: core.RecurringInterval(strings.ToUpper(req.RecurringInterval)),
	}, nil
}

type transactionResponse struct {
	ID                string `json:"id"`
	AccountID         string `json:"account_id"`
	Type              string `json:"type"`
	AmountCents       int64  `json:"amount_cents"`
	Description       string `json:"description"`
	CategoryID        string `json:"category_id"`
	Date              string `json:"date"`
	IsRecurring       bool   `json:"is_recurring"`
	RecurringInterval string `json:"recurring_interval,omitempty"`
	NextOccurrence    string `json:"next_occurrence,omitempty"`
	NeedsReview       bool   `json:"needs_review,omitempty"`
}

func toTransactionResponse(t *core.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Type:        string(t.Type),
		AmountCents: t.Amount.Cents,
		Description: t.Description,
		CategoryID:  t.CategoryID,
		Date:        t.Date.String(),
		IsRecurring: t.IsRecurring(),
	}
	if t.Recurrence != nil {
		resp.RecurringInterval = string(t.Recurrence.Interval)
		if !t.Recurrence.NextDate.IsZero() {
			resp.NextOccurrence = t.Recurrence.NextDate.String()
		}
		resp.NeedsReview = t.Recurrence.NeedsReview
	}
	return resp
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, r, err)
		return
	}

	owner := ownerID(r)
	created, err := s.transactions.Create(r.Context(), owner, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateOwner(owner)
	writeJSON(w, http.StatusCreated, toTransactionResponse(created))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.transactions.Get(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(t))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, r, err)
		return
	}

	owner := ownerID(r)
	updated, err := s.transactions.Update(r.Context(), owner, r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateOwner(owner)
	writeJSON(w, http.StatusOK, toTransactionResponse(updated))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if err := s.transactions.Delete(r.Context(), owner, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateOwner(owner)
	w.WriteHeader(http.StatusNoContent)
}

type accountRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Currency  string `json:"currency,omitempty"`
	IsDefault bool   `json:"is_default,omitempty"`
}

type accountResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Currency     string `json:"currency"`
	IsDefault    bool   `json:"is_default"`
	BalanceCents int64  `json:"balance_cents"`
}

func toAccountResponse(a *core.Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		Name:         a.Name,
		Type:         string(a.Type),
		Currency:     a.Currency,
		IsDefault:    a.IsDefault,
		BalanceCents: a.Balance.Cents,
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.accounts.List(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(list))
	for i := range list {
		out = append(out, toAccountResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := s.accounts.Create(r.Context(), ownerID(r), services.AccountInput{
		Name:      req.Name,
		Type:      core.AccountType(strings.ToUpper(req.Type)),
		Currency:  req.Currency,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (s *Server) handleSetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.SetDefault(r.Context(), ownerID(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dateRange reads optional from/to query parameters.
func dateRange(r *http.Request) (from, to *core.Date, err error) {
	if v := strings.TrimSpace(r.URL.Query().Get("from")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return nil, nil, err
		}
		from = &d
	}
	if v := strings.TrimSpace(r.URL.Query().Get("to")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return nil, nil, err
		}
		to = &d
	}
	return from, to, nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.transactions.ListForAccount(r.Context(), ownerID(r), r.PathValue("id"), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(list))
	for i := range list {
		out = append(out, toTransactionResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type budgetProgressResponse struct {
	CurrentExpensesCents int64   `json:"current_expenses_cents"`
	BudgetAmountCents    int64   `json:"budget_amount_cents"`
	UsagePct             float64 `json:"usage_pct"`
}

func (s *Server) handleBudgetProgress(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	accountID := r.PathValue("id")

	day := core.DateOf(time.Now())
	if v := strings.TrimSpace(r.URL.Query().Get("date")); v != "" {
		parsed, err := core.ParseDate(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		day = parsed
	}

	// Ownership check before touching the cache.
	if _, err := s.accounts.Get(r.Context(), owner, accountID); err != nil {
		writeError(w, r, err)
		return
	}

	key := owner + "|" + accountID + "|" + day.StartOfMonth().String()
	progress, found := s.progressCache.Get(key)
	if !found {
		var err error
		progress, err = s.aggregator.MonthProgress(r.Context(), owner, accountID, day)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.progressCache.Set(key, progress)
	}

	writeJSON(w, http.StatusOK, budgetProgressResponse{
		CurrentExpensesCents: progress.CurrentExpenses.Cents,
		BudgetAmountCents:    progress.BudgetAmount.Cents,
		UsagePct:             progress.UsagePct,
	})
}

type budgetRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency,omitempty"`
}

type budgetResponse struct {
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	LastAlertSent string `json:"last_alert_sent,omitempty"`
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	budget, err := s.accounts.Budget(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := budgetResponse{AmountCents: budget.Amount.Cents, Currency: budget.Currency}
	if !budget.LastAlertSent.IsZero() {
		resp.LastAlertSent = budget.LastAlertSent.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner := ownerID(r)
	budget, err := s.accounts.SetBudget(r.Context(), owner, req.AmountCents, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateOwner(owner)
	writeJSON(w, http.StatusOK, budgetResponse{AmountCents: budget.Amount.Cents, Currency: budget.Currency})
}

type overviewResponse struct {
	IncomeCents  int64                   `json:"income_cents"`
	ExpenseCents int64                   `json:"expense_cents"`
	NetCents     int64                   `json:"net_cents"`
	ByCategory   []categoryTotalResponse `json:"by_category"`
}

type categoryTotalResponse struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	TotalCents int64  `json:"total_cents"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	key := overviewCacheKey(owner, from, to)
	overview, found := s.overviewCache.Get(key)
	if !found {
		accounts, err := s.accounts.List(r.Context(), owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ids := make([]string, 0, len(accounts))
		for _, a := range accounts {
			ids = append(ids, a.ID)
		}

		overview, err = s.aggregator.Overview(r.Context(), ids, from, to)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.overviewCache.Set(key, overview)
	}

	resp := overviewResponse{
		IncomeCents:  overview.Income.Cents,
		ExpenseCents: overview.Expense.Cents,
		NetCents:     overview.Net.Cents,
		ByCategory:   make([]categoryTotalResponse, 0, len(overview.ByCategory)),
	}
	for _, ct := range overview.ByCategory {
		resp.ByCategory = append(resp.ByCategory, categoryTotalResponse{
			CategoryID: ct.CategoryID,
			Name:       ct.Name,
			Type:       string(ct.Type),
			TotalCents: ct.Cents,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func overviewCacheKey(owner string, from, to *core.Date) string {
	f, t := "", ""
	if from != nil {
		f = from.String()
	}
	if to != nil {
		t = to.String()
	}
	return fmt.Sprintf("%s|%s|%s", owner, f, t)
}
