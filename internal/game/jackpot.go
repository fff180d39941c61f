package game

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const jackpotHistoryLimit = 7

// JackpotEngine pools stakes into a single round that resolves once it
// holds Threshold bets. The first bet after a resolution opens a new pool.
type JackpotEngine struct {
	Deps
	settings JackpotSettings
	queue    *resolveQueue

	mu      sync.Mutex
	pool    *Round
	stopped bool
}

func NewJackpotEngine(deps Deps, settings JackpotSettings) *JackpotEngine {
	deps.Log = deps.Log.Named("jackpot")
	return &JackpotEngine{
		Deps:     deps,
		settings: settings,
		queue:    newResolveQueue(16),
	}
}

func (e *JackpotEngine) GetType() GameType { return GameJackpot }

func (e *JackpotEngine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.shutdown(context.WithoutCancel(ctx))
			return ctx.Err()
		case r := <-e.queue.ch:
			e.resolve(ctx, r)
		}
	}
}

func (e *JackpotEngine) Handle(ctx context.Context, userID string, action Action) (Event, error) {
	a, ok := action.(JackpotJoin)
	if !ok {
		return Event{}, ErrInvalidAction
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return Event{}, ErrRoundNotAcceptingBets
	}

	r, fresh := e.pool, false
	if r == nil {
		r, fresh = NewRound(GameJackpot, e.settings.Threshold), true
		r.Advance(PhaseBettingOpen)
	}
	p, err := e.Ledger.PlaceBet(ctx, r, BetRequest{UserID: userID, Stake: a.Amount})
	if err != nil {
		return Event{}, err
	}
	if fresh {
		e.pool = r
		e.Rounds.Put(r)
		e.Log.Info("pool opened", zap.String("round_id", r.ID))
	}

	e.Hub.Broadcast(GameJackpot, Event{Type: EventJackpotUpdate, Payload: r.View()})

	if p.Filled {
		e.pool = nil
		e.Log.Info("pool full", zap.String("round_id", r.ID), zap.String("pot", r.TotalStaked().String()))
		if !e.queue.push(r) {
			go e.resolve(context.WithoutCancel(ctx), r)
		}
	}
	return Event{
		Type:    EventJackpotJoined,
		Payload: BetAckPayload{RoundID: r.ID, Bet: viewBet(p.Bet), Balance: p.Balance},
	}, nil
}

func (e *JackpotEngine) resolve(ctx context.Context, r *Round) {
	e.resolveRound(ctx, r, EventJackpotWinner, EventJackpotSettled)
}

// shutdown closes the pool to new bets, resolves pools that were already
// full and refunds the open one.
func (e *JackpotEngine) shutdown(ctx context.Context) {
	e.mu.Lock()
	e.stopped = true
	r := e.pool
	e.pool = nil
	e.mu.Unlock()

	for _, full := range e.queue.close() {
		e.resolve(ctx, full)
	}
	if e.voidRound(ctx, r) {
		e.Log.Info("open pool refunded", zap.String("round_id", r.ID))
	}
}

func (e *JackpotEngine) Snapshot(ctx context.Context) []Event {
	e.mu.Lock()
	r := e.pool
	e.mu.Unlock()

	payload := HistoryPayload{Rounds: e.recent(ctx, GameJackpot, jackpotHistoryLimit)}
	if r != nil {
		v := r.View()
		payload.Current = &v
	}
	return []Event{{Type: EventJackpotGame, Payload: payload}}
}
