package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"reaper/internal/game"
)

const (
	roundsTable    = "rounds"
	roundBetsTable = "round_bets"
)

// PostgresHistory archives settled rounds into rounds and round_bets.
type PostgresHistory struct {
	pool      *pgxpool.Pool
	txManager trm.Manager
	getter    *trmpgx.CtxGetter
}

func NewPostgresHistory(pool *pgxpool.Pool, txManager trm.Manager) *PostgresHistory {
	return &PostgresHistory{pool: pool, txManager: txManager, getter: trmpgx.DefaultCtxGetter}
}

func (h *PostgresHistory) Append(ctx context.Context, rec game.RoundHistoryRecord) error {
	outcome, err := json.Marshal(rec.Outcome)
	if err != nil {
		return fmt.Errorf("encode outcome %s: %w", rec.RoundID, err)
	}

	return h.txManager.Do(ctx, func(txCtx context.Context) error {
		db := h.getter.DefaultTrOrDB(txCtx, h.pool)

		query := psql.Insert(roundsTable).
			Columns("id", "game", "outcome", "total_staked", "total_paid",
				"server_seed", "commitment", "started_at", "ended_at").
			Values(rec.RoundID, string(rec.Game), string(outcome), rec.TotalStaked.String(), rec.TotalPaid.String(),
				rec.ServerSeed, rec.Commitment, rec.StartedAt, rec.EndedAt).
			Suffix("ON CONFLICT (id) DO NOTHING")

		sqlStr, args, err := query.ToSql()
		if err != nil {
			return err
		}
		tag, err := db.Exec(txCtx, sqlStr, args...)
		if err != nil {
			return fmt.Errorf("insert round %s: %w", rec.RoundID, err)
		}
		if tag.RowsAffected() == 0 || len(rec.Bets) == 0 {
			return nil
		}

		bets := psql.Insert(roundBetsTable).
			Columns("round_id", "bet_id", "seq", "user_id", "stake", "side", "color", "cashout_target", "payout")
		for i, b := range rec.Bets {
			bets = bets.Values(rec.RoundID, b.BetID, i, b.UserID, b.Stake.String(),
				string(b.Side), string(b.Color), b.CashoutTarget, b.Payout.String())
		}
		sqlStr, args, err = bets.ToSql()
		if err != nil {
			return err
		}
		if _, err := db.Exec(txCtx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert bets %s: %w", rec.RoundID, err)
		}
		return nil
	})
}

func (h *PostgresHistory) Recent(ctx context.Context, g game.GameType, limit int) ([]game.RoundHistoryRecord, error) {
	if limit <= 0 {
		return []game.RoundHistoryRecord{}, nil
	}
	db := h.getter.DefaultTrOrDB(ctx, h.pool)

	query := psql.Select("id", "outcome", "total_staked::text", "total_paid::text",
		"server_seed", "commitment", "started_at", "ended_at").
		From(roundsTable).
		Where(sq.Eq{"game": string(g)}).
		OrderBy("ended_at DESC").
		Limit(uint64(limit))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("select rounds: %w", err)
	}
	defer rows.Close()

	records := make([]game.RoundHistoryRecord, 0, limit)
	index := make(map[string]int, limit)
	for rows.Next() {
		var (
			rec                game.RoundHistoryRecord
			outcome            []byte
			staked, paid       string
			startedAt, endedAt time.Time
		)
		if err := rows.Scan(&rec.RoundID, &outcome, &staked, &paid,
			&rec.ServerSeed, &rec.Commitment, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		rec.Game = g
		if rec.Outcome, err = game.DecodeOutcome(g, outcome); err != nil {
			return nil, err
		}
		if rec.TotalStaked, err = decimal.NewFromString(staked); err != nil {
			return nil, err
		}
		if rec.TotalPaid, err = decimal.NewFromString(paid); err != nil {
			return nil, err
		}
		rec.StartedAt, rec.EndedAt = startedAt.UTC(), endedAt.UTC()
		rec.Bets = []game.SettledBet{}
		index[rec.RoundID] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.RoundID)
	}
	if err := h.loadBets(ctx, ids, records, index); err != nil {
		return nil, err
	}
	return records, nil
}

func (h *PostgresHistory) loadBets(ctx context.Context, ids []string, records []game.RoundHistoryRecord, index map[string]int) error {
	query := psql.Select("round_id", "bet_id", "user_id", "stake::text", "side", "color", "cashout_target", "payout::text").
		From(roundBetsTable).
		Where(sq.Eq{"round_id": ids}).
		OrderBy("round_id", "seq")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}
	rows, err := h.getter.DefaultTrOrDB(ctx, h.pool).Query(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("select bets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			roundID, side, color string
			stake, payout        string
			b                    game.SettledBet
		)
		if err := rows.Scan(&roundID, &b.BetID, &b.UserID, &stake, &side, &color, &b.CashoutTarget, &payout); err != nil {
			return err
		}
		if b.Stake, err = decimal.NewFromString(stake); err != nil {
			return err
		}
		if b.Payout, err = decimal.NewFromString(payout); err != nil {
			return err
		}
		b.Side, b.Color = game.Side(side), game.Color(color)
		i, ok := index[roundID]
		if !ok {
			continue
		}
		records[i].Bets = append(records[i].Bets, b)
	}
	return rows.Err()
}
