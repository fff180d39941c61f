package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"reaper/internal/game"
)

const (
	accountsTable = "accounts"
	entriesTable  = "account_entries"

	colUserID  = "user_id"
	colBalance = "balance"
	colRef     = "ref"
	colAmount  = "amount"
	colKind    = "kind"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresAccounts keeps balances in numeric(20,2). Every movement writes
// an account_entries row keyed by ref in the same transaction, which is
// what makes Debit and Credit idempotent.
type PostgresAccounts struct {
	pool      *pgxpool.Pool
	txManager trm.Manager
	getter    *trmpgx.CtxGetter
}

func NewPostgresAccounts(pool *pgxpool.Pool, txManager trm.Manager) *PostgresAccounts {
	return &PostgresAccounts{pool: pool, txManager: txManager, getter: trmpgx.DefaultCtxGetter}
}

func (a *PostgresAccounts) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	query := psql.Select(colBalance + "::text").
		From(accountsTable).
		Where(sq.Eq{colUserID: userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return decimal.Zero, err
	}

	var raw string
	err = a.getter.DefaultTrOrDB(ctx, a.pool).QueryRow(ctx, sqlStr, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("select balance %s: %w", userID, err)
	}
	return decimal.NewFromString(raw)
}

func (a *PostgresAccounts) SetBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	if err := checkBalance(amount); err != nil {
		return err
	}
	query := psql.Insert(accountsTable).
		Columns(colUserID, colBalance).
		Values(userID, amount.String()).
		Suffix("ON CONFLICT (" + colUserID + ") DO UPDATE SET " + colBalance + " = EXCLUDED." + colBalance)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}
	if _, err := a.getter.DefaultTrOrDB(ctx, a.pool).Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set balance %s: %w", userID, err)
	}
	return nil
}

func (a *PostgresAccounts) Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if err := checkAmount(amount); err != nil {
		return decimal.Zero, err
	}

	var (
		balance decimal.Decimal
		applied bool
	)
	err := a.txManager.Do(ctx, func(txCtx context.Context) error {
		fresh, err := a.recordEntry(txCtx, userID, amount.Neg(), ref, "debit")
		if err != nil || !fresh {
			return err
		}

		query := psql.Update(accountsTable).
			Set(colBalance, sq.Expr(colBalance+" - ?", amount.String())).
			Where(sq.Eq{colUserID: userID}).
			Where(sq.Expr(colBalance+" >= ?", amount.String())).
			Suffix("RETURNING " + colBalance + "::text")

		sqlStr, args, err := query.ToSql()
		if err != nil {
			return err
		}
		var raw string
		err = a.getter.DefaultTrOrDB(txCtx, a.pool).QueryRow(txCtx, sqlStr, args...).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return game.ErrInsufficientBalance
		}
		if err != nil {
			return err
		}
		applied = true
		balance, err = decimal.NewFromString(raw)
		return err
	})
	if errors.Is(err, game.ErrInsufficientBalance) {
		current, _ := a.Balance(ctx, userID)
		return current, game.ErrInsufficientBalance
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("debit %s: %w", userID, err)
	}
	if !applied {
		return a.Balance(ctx, userID)
	}
	return balance, nil
}

func (a *PostgresAccounts) Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if err := checkAmount(amount); err != nil {
		return decimal.Zero, err
	}

	var (
		balance decimal.Decimal
		applied bool
	)
	err := a.txManager.Do(ctx, func(txCtx context.Context) error {
		fresh, err := a.recordEntry(txCtx, userID, amount, ref, "credit")
		if err != nil || !fresh {
			return err
		}

		query := psql.Insert(accountsTable).
			Columns(colUserID, colBalance).
			Values(userID, amount.String()).
			Suffix("ON CONFLICT (" + colUserID + ") DO UPDATE SET " +
				colBalance + " = " + accountsTable + "." + colBalance + " + EXCLUDED." + colBalance +
				" RETURNING " + colBalance + "::text")

		sqlStr, args, err := query.ToSql()
		if err != nil {
			return err
		}
		var raw string
		if err := a.getter.DefaultTrOrDB(txCtx, a.pool).QueryRow(txCtx, sqlStr, args...).Scan(&raw); err != nil {
			return err
		}
		applied = true
		balance, err = decimal.NewFromString(raw)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit %s: %w", userID, err)
	}
	if !applied {
		return a.Balance(ctx, userID)
	}
	return balance, nil
}

// recordEntry inserts the ledger row for ref. fresh is false when the ref
// was already applied.
func (a *PostgresAccounts) recordEntry(ctx context.Context, userID string, amount decimal.Decimal, ref, kind string) (bool, error) {
	query := psql.Insert(entriesTable).
		Columns(colRef, colUserID, colAmount, colKind).
		Values(ref, userID, amount.String(), kind).
		Suffix("ON CONFLICT (" + colRef + ") DO NOTHING")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return false, err
	}
	tag, err := a.getter.DefaultTrOrDB(ctx, a.pool).Exec(ctx, sqlStr, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
