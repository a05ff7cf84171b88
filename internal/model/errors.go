package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Errors shared by the rule engine, the ledger and the services.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadySpunToday    = errors.New("already spun today")
	ErrAccountInactive     = errors.New("account is not active")
	ErrDailyLimitReached   = errors.New("daily spin limit reached")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrConfiguration       = errors.New("configuration error")
	ErrUserNotFound        = errors.New("user not found")
)

// Storage limits. Money columns are NUMERIC(20,4) and keys VARCHAR(255).
const MaxKeyLength = 255

// MaxMoney is the exclusive upper bound of any stored amount.
var MaxMoney = decimal.New(1, 16)

// InMoneyRange reports whether |d| fits a money column.
func InMoneyRange(d decimal.Decimal) bool {
	return d.Abs().LessThan(MaxMoney)
}

// HasMoneyPrecision reports whether d fits in MoneyPlaces fractional digits.
func HasMoneyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyPlaces))
}
