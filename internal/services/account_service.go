package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// AccountInput is the caller-facing shape for creating an account.
type AccountInput struct {
	Name      string
	Type      core.AccountType
	Currency  string
	IsDefault bool
}

// AccountService manages accounts and budgets for an owner.
type AccountService struct {
	repo *storage.Repository
}

func NewAccountService(repo *storage.Repository) *AccountService {
	return &AccountService{repo: repo}
}

// Create adds an account for the owner. The first account an owner
// creates becomes the default automatically, matching what users
// expect from the dashboard.
func (s *AccountService) Create(ctx context.Context, ownerID string, in AccountInput) (*core.Account, error) {
	account := &core.Account{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      in.Name,
		Type:      in.Type,
		Currency:  in.Currency,
		IsDefault: in.IsDefault,
	}
	if account.Currency == "" {
		account.Currency = "USD"
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if len(existing) == 0 {
		account.IsDefault = true
	}

	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// List returns the owner's accounts.
func (s *AccountService) List(ctx context.Context, ownerID string) ([]core.Account, error) {
	return s.repo.ListAccountsByOwner(ctx, ownerID)
}

// Get returns one of the owner's accounts.
func (s *AccountService) Get(ctx context.Context, ownerID, accountID string) (*core.Account, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != ownerID {
		return nil, fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
	}
	return account, nil
}

// SetDefault makes the given account the owner's single default.
func (s *AccountService) SetDefault(ctx context.Context, ownerID, accountID string) error {
	return s.repo.SetDefaultAccount(ctx, ownerID, accountID)
}

// SetBudget creates or replaces the owner's monthly budget limit.
func (s *AccountService) SetBudget(ctx context.Context, ownerID string, amountCents int64, currency string) (*core.Budget, error) {
	budget := &core.Budget{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Amount:   core.Money{Cents: amountCents},
		Currency: currency,
	}
	if budget.Currency == "" {
		budget.Currency = "USD"
	}
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertBudget(ctx, budget); err != nil {
		return nil, fmt.Errorf("set budget: %w", err)
	}
	return budget, nil
}

// Budget returns the owner's budget, or core.ErrNotFound when unset.
func (s *AccountService) Budget(ctx context.Context, ownerID string) (*core.Budget, error) {
	return s.repo.GetBudget(ctx, ownerID)
}
