package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJackpot_PoolFillsAndPays(t *testing.T) {
	env := newTestEnv(map[string]string{"a": "1000", "b": "1000", "c": "1000", "d": "1000"})
	env.deps.Source = script(0.0)
	e := NewJackpotEngine(env.deps, JackpotSettings{Threshold: 3})
	stop := startEngine(t, e)
	ctx := context.Background()

	reply, err := e.Handle(ctx, "a", JackpotJoin{Amount: dec("10")})
	require.NoError(t, err)
	require.Equal(t, EventJackpotJoined, reply.Type)
	first := reply.Payload.(BetAckPayload).RoundID

	_, err = e.Handle(ctx, "a", JackpotJoin{Amount: dec("10")})
	assert.ErrorIs(t, err, ErrDuplicateBet)

	_, err = e.Handle(ctx, "b", JackpotJoin{Amount: dec("20")})
	require.NoError(t, err)
	_, err = e.Handle(ctx, "c", JackpotJoin{Amount: dec("30")})
	require.NoError(t, err)

	winner := env.hub.waitFor(t, EventJackpotWinner, time.Second).Payload.(OutcomePayload)
	assert.Equal(t, first, winner.RoundID)
	assert.Equal(t, "a", winner.Outcome.(JackpotOutcome).WinnerID)

	settled := env.hub.waitFor(t, EventJackpotSettled, time.Second).Payload.(SettlementPayload)
	require.Len(t, settled.Winners, 1)
	assert.True(t, settled.Winners[0].Payout.Equal(dec("60")))
	assert.True(t, env.accounts.balance("a").Equal(dec("1050")))
	assert.True(t, env.accounts.balance("c").Equal(dec("970")))

	reply, err = e.Handle(ctx, "d", JackpotJoin{Amount: dec("5")})
	require.NoError(t, err)
	assert.NotEqual(t, first, reply.Payload.(BetAckPayload).RoundID, "fourth join opens a new pool")

	updates := env.hub.ofType(EventJackpotUpdate)
	require.Len(t, updates, 4)
	assert.Len(t, updates[2].Payload.(RoundView).Bets, 3)

	assert.ErrorIs(t, stop(), context.Canceled)
	assert.True(t, env.accounts.balance("d").Equal(dec("1000")), "open pool refunded on shutdown")
}

func TestJackpot_RejectsBetsAfterShutdown(t *testing.T) {
	env := newTestEnv(map[string]string{"a": "1000", "b": "1000"})
	e := NewJackpotEngine(env.deps, JackpotSettings{Threshold: 3})
	stop := startEngine(t, e)
	ctx := context.Background()

	_, err := e.Handle(ctx, "a", JackpotJoin{Amount: dec("10")})
	require.NoError(t, err)
	assert.ErrorIs(t, stop(), context.Canceled)

	_, err = e.Handle(ctx, "b", JackpotJoin{Amount: dec("10")})
	assert.ErrorIs(t, err, ErrRoundNotAcceptingBets)
	_, err = e.Handle(ctx, "a", JackpotJoin{Amount: dec("10")})
	assert.ErrorIs(t, err, ErrRoundNotAcceptingBets)

	assert.True(t, env.accounts.balance("a").Equal(dec("1000")), "open pool refunded")
	assert.True(t, env.accounts.balance("b").Equal(dec("1000")))
	assert.Empty(t, env.rounds.List(GameJackpot))
}

func TestJackpot_FailedFirstBetOpensNothing(t *testing.T) {
	env := newTestEnv(map[string]string{"poor": "1"})
	e := NewJackpotEngine(env.deps, JackpotSettings{Threshold: 3})

	_, err := e.Handle(context.Background(), "poor", JackpotJoin{Amount: dec("5")})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, env.rounds.List(GameJackpot))

	snap := e.Snapshot(context.Background())
	require.Len(t, snap, 1)
	assert.Nil(t, snap[0].Payload.(HistoryPayload).Current)
}

func TestJackpot_ResolvesWithoutLoop(t *testing.T) {
	env := newTestEnv(map[string]string{"a": "100", "b": "100"})
	env.deps.Source = script(0.99)
	e := NewJackpotEngine(env.deps, JackpotSettings{Threshold: 2})
	e.queue.close()

	_, err := e.Handle(context.Background(), "a", JackpotJoin{Amount: dec("10")})
	require.NoError(t, err)
	_, err = e.Handle(context.Background(), "b", JackpotJoin{Amount: dec("10")})
	require.NoError(t, err)

	env.hub.waitFor(t, EventJackpotSettled, time.Second)
	assert.True(t, env.accounts.balance("b").Equal(dec("110")))
}
