package game

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountStore is the external balance store. Debit and Credit are
// idempotent on ref: replaying a ref returns the current balance without
// moving money again.
type AccountStore interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// Debit fails with ErrInsufficientBalance and leaves the balance
	// untouched when it cannot cover amount.
	Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error)
}

// HistoryStore archives settled rounds. Append is idempotent on RoundID.
type HistoryStore interface {
	Append(ctx context.Context, rec RoundHistoryRecord) error
	Recent(ctx context.Context, game GameType, limit int) ([]RoundHistoryRecord, error)
}
