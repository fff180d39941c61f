package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGameFactory_RegisterEngine(t *testing.T) {
	env := newTestEnv(nil)
	factory := NewGameFactory(env.deps.Payouts, zap.NewNop())

	factory.RegisterEngine(NewCoinflipEngine(env.deps, DefaultSettings().Coinflip))
	factory.RegisterEngine(NewCrashEngine(env.deps, DefaultSettings().Crash))
	factory.RegisterEngine(NewRouletteEngine(env.deps, DefaultSettings().Roulette))
	factory.RegisterEngine(NewJackpotEngine(env.deps, DefaultSettings().Jackpot))

	for _, g := range GameTypes {
		engine, ok := factory.GetEngine(g)
		require.True(t, ok, "%s engine should be registered", g)
		assert.Equal(t, g, engine.GetType())
	}

	_, ok := factory.GetEngine(GameType("dice"))
	assert.False(t, ok)
}

func TestGameFactory_Dispatch(t *testing.T) {
	env := newTestEnv(map[string]string{"alice": "100"})
	factory := NewGameFactory(env.deps.Payouts, zap.NewNop())
	factory.RegisterEngine(NewJackpotEngine(env.deps, JackpotSettings{Threshold: 5}))
	ctx := context.Background()

	reply, err := factory.Dispatch(ctx, GameJackpot, "alice", Envelope{Action: "join", Payload: json.RawMessage(`{"amount":"12.5"}`)})
	require.NoError(t, err)
	assert.Equal(t, EventJackpotJoined, reply.Type)
	assert.True(t, env.accounts.balance("alice").Equal(dec("87.5")))

	_, err = factory.Dispatch(ctx, GameJackpot, "alice", Envelope{Action: "CASHOUT", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = factory.Dispatch(ctx, GameCrash, "alice", Envelope{Action: "JOIN"})
	assert.ErrorIs(t, err, ErrInvalidAction, "no crash engine registered")
}

type stubEngine struct {
	game    GameType
	err     error
	failed  atomic.Bool
	stopped atomic.Bool
}

func (s *stubEngine) GetType() GameType { return s.game }

func (s *stubEngine) Run(ctx context.Context) error {
	if s.err != nil {
		s.failed.Store(true)
		return s.err
	}
	<-ctx.Done()
	s.stopped.Store(true)
	return ctx.Err()
}

func (s *stubEngine) Handle(context.Context, string, Action) (Event, error) {
	return Event{}, nil
}

func (s *stubEngine) Snapshot(context.Context) []Event { return nil }

func TestGameFactory_StartShutdown(t *testing.T) {
	env := newTestEnv(nil)
	factory := NewGameFactory(env.deps.Payouts, zap.NewNop())
	a := &stubEngine{game: GameCrash}
	b := &stubEngine{game: GameRoulette}
	factory.RegisterEngine(a)
	factory.RegisterEngine(b)

	factory.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, factory.Shutdown(ctx))
	assert.True(t, a.stopped.Load())
	assert.True(t, b.stopped.Load())
}

func TestGameFactory_EngineFailureIsIsolated(t *testing.T) {
	env := newTestEnv(nil)
	factory := NewGameFactory(env.deps.Payouts, zap.NewNop())
	boom := errors.New("boom")
	healthy := &stubEngine{game: GameCrash}
	failing := &stubEngine{game: GameJackpot, err: boom}
	factory.RegisterEngine(healthy)
	factory.RegisterEngine(failing)

	factory.Start(context.Background())
	require.Eventually(t, failing.failed.Load, time.Second, time.Millisecond)
	assert.False(t, healthy.stopped.Load(), "other engines keep running")

	assert.ErrorIs(t, factory.Shutdown(context.Background()), boom)
	assert.True(t, healthy.stopped.Load())
}

func TestFailRound(t *testing.T) {
	ctx := context.Background()

	t.Run("no outcome refunds", func(t *testing.T) {
		env := newTestEnv(map[string]string{"alice": "100"})
		r := env.openRound(GameJackpot, 3)
		_, err := env.deps.Ledger.PlaceBet(ctx, r, BetRequest{UserID: "alice", Stake: dec("25")})
		require.NoError(t, err)
		require.NoError(t, r.Advance(PhaseResolving))

		env.deps.failRound(ctx, r, errors.New("draw failed"))

		assert.Equal(t, PhaseCancelled, r.Phase())
		assert.True(t, env.accounts.balance("alice").Equal(dec("100")))
		assert.Empty(t, env.reconciler.List())
	})

	t.Run("drawn round is held then settled", func(t *testing.T) {
		env := newTestEnv(map[string]string{"alice": "100"})
		r := env.openRound(GameJackpot, 3)
		_, err := env.deps.Ledger.PlaceBet(ctx, r, BetRequest{UserID: "alice", Stake: dec("25")})
		require.NoError(t, err)
		require.NoError(t, r.Advance(PhaseResolving))
		require.NoError(t, r.SetOutcome(JackpotOutcome{WinnerID: "alice", TotalPot: dec("25")}))

		env.deps.failRound(ctx, r, errors.New("advance failed"))

		f, held := env.reconciler.Get(r.ID)
		require.True(t, held)
		assert.Equal(t, FailureSettlement, f.Kind)
		assert.True(t, env.accounts.balance("alice").Equal(dec("75")))

		require.NoError(t, env.deps.Payouts.Reconcile(ctx, r.ID))
		assert.True(t, env.accounts.balance("alice").Equal(dec("100")))
		assert.Empty(t, env.reconciler.List())
		assert.Len(t, env.history.all(), 1)
	})
}

func TestResolveQueue(t *testing.T) {
	q := newResolveQueue(1)
	a, b := NewRound(GameJackpot, 1), NewRound(GameJackpot, 1)

	assert.True(t, q.push(a))
	assert.False(t, q.push(b), "full queue never blocks")

	pending := q.close()
	require.Len(t, pending, 1)
	assert.Same(t, a, pending[0])
	assert.False(t, q.push(b), "closed queue rejects")
}

func TestCountdown(t *testing.T) {
	var calls atomic.Int32
	err := countdown(context.Background(), 35*time.Millisecond, 10*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = countdown(ctx, time.Minute, time.Second, func() {})
	assert.ErrorIs(t, err, context.Canceled)
}
