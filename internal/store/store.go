// Package store holds the AccountStore and HistoryStore implementations:
// in-memory, redis (balances in minor units) and postgres.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"reaper/internal/game"
)

var ErrInvalidAmount = errors.New("amount must be positive with at most 2 decimals")

// BalanceSetter is implemented by stores that allow an operator to
// overwrite a balance.
type BalanceSetter interface {
	SetBalance(ctx context.Context, userID string, amount decimal.Decimal) error
}

// Accounts is an AccountStore that also supports admin balance writes.
type Accounts interface {
	game.AccountStore
	BalanceSetter
}

var (
	_ Accounts          = (*MemoryAccounts)(nil)
	_ Accounts          = (*RedisAccounts)(nil)
	_ Accounts          = (*PostgresAccounts)(nil)
	_ game.HistoryStore = (*MemoryHistory)(nil)
	_ game.HistoryStore = (*PostgresHistory)(nil)
)

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(2)) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

// checkBalance accepts zero, unlike checkAmount.
func checkBalance(amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	return checkAmount(amount)
}

// toMinor converts a 2-decimal amount to cents.
func toMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).IntPart()
}

func fromMinor(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
