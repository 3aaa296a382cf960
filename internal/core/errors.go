package core

import (
	"errors"
	"fmt"
)

// Error taxonomy for the ledger core. Callers classify with errors.Is;
// everything user-caused wraps ErrValidation so the transport layer can
// map whole families without enumerating causes.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("concurrent mutation conflict")
	ErrTimeout       = errors.New("store timeout")
	ErrDriftDetected = errors.New("balance drift detected")
)

var (
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidType       = fmt.Errorf("%w: type must be INCOME or EXPENSE", ErrValidation)
	ErrInvalidInterval   = fmt.Errorf("%w: invalid recurring interval", ErrValidation)
	ErrEmptyDescription  = fmt.Errorf("%w: empty description", ErrValidation)
	ErrDescriptionLong   = fmt.Errorf("%w: description too long (max 200 characters)", ErrValidation)
	ErrEmptyCategory     = fmt.Errorf("%w: empty category", ErrValidation)
	ErrCategoryMismatch  = fmt.Errorf("%w: category type does not match transaction type", ErrValidation)
	ErrRecurringFields   = fmt.Errorf("%w: recurring interval and next date must be paired", ErrValidation)
	ErrInvalidDate       = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrAccountNameEmpty  = fmt.Errorf("%w: account name cannot be empty", ErrValidation)
	ErrInvalidAccountType = fmt.Errorf("%w: account type must be CURRENT or SAVINGS", ErrValidation)
)
