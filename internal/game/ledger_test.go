package game

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_PlaceBet(t *testing.T) {
	env := newTestEnv(map[string]string{"alice": "100"})
	r := env.openRound(GameRoulette, 0)

	p, err := env.deps.Ledger.PlaceBet(context.Background(), r, BetRequest{UserID: "alice", Stake: dec("25.50"), Color: ColorRed})
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(dec("74.50")))
	assert.False(t, p.Filled)
	assert.Equal(t, ColorRed, p.Bet.Color)

	got, ok := r.Bet("alice")
	require.True(t, ok)
	assert.Equal(t, p.Bet.ID, got.ID)
	assert.True(t, r.TotalStaked().Equal(dec("25.50")))
}

func TestLedger_DuplicateBetDebitsOnce(t *testing.T) {
	env := newTestEnv(map[string]string{"alice": "100"})
	r := env.openRound(GameJackpot, 0)
	ctx := context.Background()

	_, err := env.deps.Ledger.PlaceBet(ctx, r, BetRequest{UserID: "alice", Stake: dec("10")})
	require.NoError(t, err)
	_, err = env.deps.Ledger.PlaceBet(ctx, r, BetRequest{UserID: "alice", Stake: dec("10")})
	assert.ErrorIs(t, err, ErrDuplicateBet)

	debits, _ := env.accounts.counts()
	assert.Equal(t, 1, debits)
	assert.True(t, env.accounts.balance("alice").Equal(dec("90")))
}

func TestLedger_ConcurrentSameUser(t *testing.T) {
	env := newTestEnv(map[string]string{"alice": "1000"})
	r := env.openRound(GameJackpot, 0)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		dups int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.deps.Ledger.PlaceBet(context.Background(), r, BetRequest{UserID: "alice", Stake: dec("5")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				oks++
			case errors.Is(err, ErrDuplicateBet):
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
	assert.Equal(t, 49, dups)
	assert.Len(t, r.Bets(), 1)
	assert.True(t, env.accounts.balance("alice").Equal(dec("995")))
}

func TestLedger_InvalidStake(t *testing.T) {
	env := newTestEnv(map[string]string{"alice": "100000"})
	r := env.openRound(GameRoulette, 0)

	tests := []struct {
		name  string
		stake string
	}{
		{"zero", "0"},
		{"negative", "-1"},
		{"sub cent", "0.001"},
		{"above max", "10000.01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.deps.Ledger.PlaceBet(context.Background(), r, BetRequest{UserID: "alice", Stake: dec(tt.stake), Color: ColorRed})
			assert.ErrorIs(t, err, ErrInvalidStake)
		})
	}

	debits, _ := env.accounts.counts()
	assert.Zero(t, debits)
	assert.Empty(t, r.Bets())
}

func TestLedger_InsufficientBalance(t *testing.T) {
	env := newTestEnv(map[string]string{"alice": "5"})
	r := env.openRound(GameRoulette, 0)

	_, err := env.deps.Ledger.PlaceBet(context.Background(), r, BetRequest{UserID: "alice", Stake: dec("10"), Color: ColorBlack})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, env.accounts.balance("alice").Equal(dec("5")))
	assert.Empty(t, r.Bets())
}

func TestLedger_ClosedRound(t *testing.T) {
	env := newTestEnv(map[string]string{"alice": "100"})
	r := NewRound(GameRoulette, 0)

	_, err := env.deps.Ledger.PlaceBet(context.Background(), r, BetRequest{UserID: "alice", Stake: dec("1"), Color: ColorRed})
	assert.ErrorIs(t, err, ErrRoundNotAcceptingBets, "awaiting bets")

	require.NoError(t, r.Advance(PhaseBettingOpen))
	require.NoError(t, r.Advance(PhaseResolving))
	_, err = env.deps.Ledger.PlaceBet(context.Background(), r, BetRequest{UserID: "alice", Stake: dec("1"), Color: ColorRed})
	assert.ErrorIs(t, err, ErrRoundNotAcceptingBets, "resolving")
	assert.True(t, env.accounts.balance("alice").Equal(dec("100")))
}

// Bets racing the close either land in the round or leave the balance untouched.
func TestLedger_RaceWithClose(t *testing.T) {
	balances := map[string]string{}
	users := make([]string, 40)
	for i := range users {
		users[i] = string(rune('A' + i))
		balances[users[i]] = "10"
	}
	env := newTestEnv(balances)
	r := env.openRound(GameRoulette, 0)

	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.deps.Ledger.PlaceBet(context.Background(), r, BetRequest{UserID: u, Stake: dec("10"), Color: ColorRed})
		}()
		if i == len(users)/2 {
			require.NoError(t, r.Advance(PhaseResolving))
		}
	}
	wg.Wait()

	placed := map[string]bool{}
	for _, b := range r.Bets() {
		placed[b.UserID] = true
	}
	for _, u := range users {
		want := dec("10")
		if placed[u] {
			want = decimal.Zero
		}
		assert.True(t, env.accounts.balance(u).Equal(want), "user %s", u)
	}
}

func TestLedger_CapacityFill(t *testing.T) {
	env := newTestEnv(map[string]string{"a": "10", "b": "10", "c": "10"})
	r := env.openRound(GameCoinflip, 2)
	ctx := context.Background()

	p, err := env.deps.Ledger.PlaceBet(ctx, r, BetRequest{UserID: "a", Stake: dec("5"), Side: SideHeads})
	require.NoError(t, err)
	assert.False(t, p.Filled)

	p, err = env.deps.Ledger.PlaceBet(ctx, r, BetRequest{UserID: "b", Stake: dec("5"), Side: SideTails})
	require.NoError(t, err)
	assert.True(t, p.Filled)
	assert.Equal(t, PhaseResolving, r.Phase())

	_, err = env.deps.Ledger.PlaceBet(ctx, r, BetRequest{UserID: "c", Stake: dec("5"), Side: SideTails})
	assert.ErrorIs(t, err, ErrRoundNotAcceptingBets)
}

func TestLedger_AmendCashout(t *testing.T) {
	env := newTestEnv(map[string]string{"alice": "100"})
	r := env.openRound(GameCrash, 0)
	l := env.deps.Ledger

	_, err := l.AmendCashout(r, "alice", 2)
	assert.ErrorIs(t, err, ErrBetNotFound)

	_, err = l.PlaceBet(context.Background(), r, BetRequest{UserID: "alice", Stake: dec("10"), CashoutTarget: 2})
	require.NoError(t, err)

	_, err = l.AmendCashout(r, "alice", 1)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	b, err := l.AmendCashout(r, "alice", 3.5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, b.CashoutTarget)
	assert.False(t, b.CashedOut)

	require.NoError(t, r.Advance(PhaseResolving))
	r.mu.Lock()
	r.multiplier = 150
	r.mu.Unlock()

	_, err = l.AmendCashout(r, "alice", 1.2)
	assert.ErrorIs(t, err, ErrInvalidPayload, "below live multiplier")

	b, err = l.CashoutNow(r, "alice")
	require.NoError(t, err)
	assert.True(t, b.CashedOut)
	assert.Equal(t, 1.5, b.CashoutTarget)

	_, err = l.CashoutNow(r, "alice")
	assert.ErrorIs(t, err, ErrAlreadyCashedOut)
}

func TestLedger_SettleIdempotent(t *testing.T) {
	env := newTestEnv(map[string]string{"a": "100", "b": "100"})
	r := env.openRound(GameRoulette, 0)
	ctx := context.Background()
	l := env.deps.Ledger

	_, err := l.PlaceBet(ctx, r, BetRequest{UserID: "a", Stake: dec("10"), Color: ColorGreen})
	require.NoError(t, err)
	_, err = l.PlaceBet(ctx, r, BetRequest{UserID: "b", Stake: dec("10"), Color: ColorRed})
	require.NoError(t, err)

	require.NoError(t, r.Advance(PhaseResolving))
	_, err = l.Settle(r)
	assert.Error(t, err, "no outcome yet")

	require.NoError(t, r.SetOutcome(RouletteOutcome{StopPoint: 0, WinningColor: ColorGreen}))
	_, err = l.Settle(r)
	assert.Error(t, err, "still resolving")

	require.NoError(t, r.Advance(PhasePayout))
	first, err := l.Settle(r)
	require.NoError(t, err)
	second, err := l.Settle(r)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first, 2)
	assert.True(t, first[0].Payout.Equal(dec("140")))
	assert.True(t, first[1].Payout.IsZero())

	b, _ := r.Bet("a")
	assert.True(t, b.Settled)
	_, err = l.AmendCashout(r, "a", 2)
	assert.ErrorIs(t, err, ErrAlreadySettled)
}
