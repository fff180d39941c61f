package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const rouletteHistoryLimit = 7

// RouletteEngine runs fixed-schedule rounds: a betting window, an instant
// spin, a payout pause and a cooldown counting down to the next round.
type RouletteEngine struct {
	Deps
	settings RouletteSettings

	mu      sync.RWMutex
	current *Round
}

func NewRouletteEngine(deps Deps, settings RouletteSettings) *RouletteEngine {
	deps.Log = deps.Log.Named("roulette")
	return &RouletteEngine{Deps: deps, settings: settings}
}

func (e *RouletteEngine) GetType() GameType { return GameRoulette }

func (e *RouletteEngine) Run(ctx context.Context) error {
	for {
		if err := e.runCycle(ctx); err != nil {
			return err
		}
	}
}

func (e *RouletteEngine) runCycle(ctx context.Context) error {
	r := NewRound(GameRoulette, 0)
	r.SetDeadline(time.Now().Add(e.settings.Betting))
	r.Advance(PhaseBettingOpen)
	e.Rounds.Put(r)
	e.mu.Lock()
	e.current = r
	e.mu.Unlock()

	e.Hub.Broadcast(GameRoulette, Event{Type: EventRouletteRoundStart, Payload: r.View()})
	err := countdown(ctx, e.settings.Betting, e.settings.CountdownInterval, func() {
		e.Hub.Broadcast(GameRoulette, betsEvent(EventRouletteBets, r))
	})
	if err != nil {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
		e.voidRound(context.WithoutCancel(ctx), r)
		return err
	}

	settleCtx := context.WithoutCancel(ctx)
	outcome, err := e.spin(r)
	if err != nil {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
		e.failRound(settleCtx, r, err)
		return e.cooldown(ctx)
	}
	e.Hub.Broadcast(GameRoulette, Event{Type: EventRouletteStopPoint, Payload: OutcomePayload{RoundID: r.ID, Outcome: outcome}})

	o := outcome.(RouletteOutcome)
	e.Log.Info("wheel stopped",
		zap.String("round_id", r.ID),
		zap.Int("stop_point", o.StopPoint),
		zap.String("color", string(o.WinningColor)),
		zap.Int("bets", len(r.Bets())))

	r.setAnnounce(settlementEvent(EventRouletteSettled))
	_, payErr := e.Payouts.Pay(settleCtx, r)
	if payErr != nil {
		e.Log.Error("settlement deferred to reconciliation", zap.String("round_id", r.ID), zap.Error(payErr))
	}

	pauseErr := sleepCtx(ctx, e.settings.Payout)

	if payErr == nil {
		if _, err := e.Payouts.Archive(settleCtx, r); err != nil {
			e.Log.Error("archive deferred to reconciliation", zap.String("round_id", r.ID), zap.Error(err))
		}
	}
	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
	if pauseErr != nil {
		return pauseErr
	}
	return e.cooldown(ctx)
}

// spin closes betting and draws the stop point.
func (e *RouletteEngine) spin(r *Round) (Outcome, error) {
	if err := r.Advance(PhaseResolving); err != nil {
		return nil, fmt.Errorf("close betting: %w", err)
	}
	outcome, err := Draw(GameRoulette, e.source(r.Seed()), nil)
	if err != nil {
		return nil, fmt.Errorf("draw outcome: %w", err)
	}
	if err := r.SetOutcome(outcome); err != nil {
		return nil, fmt.Errorf("set outcome: %w", err)
	}
	if err := r.Advance(PhasePayout); err != nil {
		return nil, fmt.Errorf("advance to payout: %w", err)
	}
	return outcome, nil
}

func (e *RouletteEngine) cooldown(ctx context.Context) error {
	startsAt := time.Now().Add(e.settings.Cooldown)
	return countdown(ctx, e.settings.Cooldown, e.settings.CountdownInterval, func() {
		e.Hub.Broadcast(GameRoulette, Event{Type: EventRouletteNextRound, Payload: CountdownPayload{StartsAt: startsAt}})
	})
}

func (e *RouletteEngine) Handle(ctx context.Context, userID string, action Action) (Event, error) {
	a, ok := action.(RouletteBet)
	if !ok {
		return Event{}, ErrInvalidAction
	}

	e.mu.RLock()
	r := e.current
	e.mu.RUnlock()
	if r == nil {
		return Event{}, ErrRoundNotAcceptingBets
	}

	p, err := e.Ledger.PlaceBet(ctx, r, BetRequest{UserID: userID, Stake: a.Amount, Color: a.Color})
	if err != nil {
		return Event{}, err
	}
	e.Hub.Broadcast(GameRoulette, betsEvent(EventRouletteBets, r))
	return Event{
		Type:    EventRouletteJoined,
		Payload: BetAckPayload{RoundID: r.ID, Bet: viewBet(p.Bet), Balance: p.Balance},
	}, nil
}

func (e *RouletteEngine) Snapshot(ctx context.Context) []Event {
	e.mu.RLock()
	r := e.current
	e.mu.RUnlock()

	payload := HistoryPayload{Rounds: e.recent(ctx, GameRoulette, rouletteHistoryLimit)}
	if r != nil {
		v := r.View()
		payload.Current = &v
	}
	return []Event{{Type: EventRouletteGames, Payload: payload}}
}
