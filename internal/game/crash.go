package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const crashHistoryLimit = 7

// CrashEngine runs a continuous cycle of crash rounds. Bets always go to
// the next round, which stays open through the current round's flight,
// the pause and the countdown. Cashouts act on the round in flight.
type CrashEngine struct {
	Deps
	settings CrashSettings

	mu      sync.RWMutex
	current *Round
	next    *Round
}

func NewCrashEngine(deps Deps, settings CrashSettings) *CrashEngine {
	deps.Log = deps.Log.Named("crash")
	return &CrashEngine{Deps: deps, settings: settings}
}

func (e *CrashEngine) GetType() GameType { return GameCrash }

func (e *CrashEngine) Run(ctx context.Context) error {
	e.openNext(ctx)
	for {
		if err := e.runCycle(ctx); err != nil {
			e.mu.Lock()
			next := e.next
			e.next = nil
			e.mu.Unlock()
			e.voidRound(context.WithoutCancel(ctx), next)
			return err
		}
	}
}

func (e *CrashEngine) openNext(ctx context.Context) *Round {
	r := NewRound(GameCrash, 0)
	r.Advance(PhaseBettingOpen)
	e.Rounds.Put(r)
	e.mu.Lock()
	e.next = r
	e.mu.Unlock()
	return r
}

// runCycle takes the next round through countdown, flight, payout and the
// pause that follows. A cancelled ctx ends the countdown or pause early;
// a round already in flight still settles.
func (e *CrashEngine) runCycle(ctx context.Context) error {
	e.mu.RLock()
	r := e.next
	e.mu.RUnlock()

	startsAt := time.Now().Add(e.settings.BettingWindow)
	r.SetDeadline(startsAt)
	e.Hub.Broadcast(GameCrash, Event{
		Type:    EventCrashNextRound,
		Payload: CountdownPayload{RoundID: r.ID, Commitment: r.Seed().Commitment, StartsAt: startsAt},
	})
	err := countdown(ctx, e.settings.BettingWindow, e.settings.BetsInterval, func() {
		e.Hub.Broadcast(GameCrash, betsEvent(EventCrashBets, r))
	})
	if err != nil {
		return err
	}

	if err := r.Advance(PhaseResolving); err != nil {
		e.openNext(ctx)
		e.failRound(ctx, r, fmt.Errorf("close betting: %w", err))
		return nil
	}
	e.mu.Lock()
	e.current = r
	e.mu.Unlock()
	e.openNext(ctx)

	outcome, err := Draw(GameCrash, e.source(r.Seed()), nil)
	if err == nil {
		err = r.SetOutcome(outcome)
	}
	if err != nil {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
		e.failRound(ctx, r, fmt.Errorf("draw crash point: %w", err))
		return nil
	}
	cp := outcome.(CrashOutcome)

	e.Log.Info("round started",
		zap.String("round_id", r.ID),
		zap.String("commitment", r.Seed().Commitment),
		zap.Int("bets", len(r.Bets())))

	e.fly(ctx, r, cp)

	e.Hub.Broadcast(GameCrash, Event{Type: EventCrashCrashed, Payload: OutcomePayload{RoundID: r.ID, Outcome: cp}})
	if _, err := e.Payouts.SettleAndPay(ctx, r, settlementEvent(EventCrashSettled)); err != nil {
		e.Log.Error("settlement deferred to reconciliation", zap.String("round_id", r.ID), zap.Error(err))
	}

	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()

	e.Log.Info("round ended", zap.String("round_id", r.ID), zap.Float64("crash_point", cp.CrashPoint))

	if err := sleepCtx(ctx, e.settings.Pause); err != nil {
		return err
	}
	e.Hub.Broadcast(GameCrash, Event{Type: EventCrashPoint, Payload: TickPayload{RoundID: r.ID, Current: 0}})
	return nil
}

// fly raises the multiplier by 0.01 per tick until it reaches the crash
// point, then moves the round to PAYOUT. Bets whose target is passed are
// marked cashed out on the way. If ctx ends mid-flight the round crashes
// at once; the outcome was fixed before the first tick.
func (e *CrashEngine) fly(ctx context.Context, r *Round, cp CrashOutcome) {
	limit := crashHundredths(cp.CrashPoint)
	ticker := time.NewTicker(e.settings.TickInterval)
	defer ticker.Stop()

	for {
		aborted := false
		select {
		case <-ctx.Done():
			aborted = true
		case <-ticker.C:
		}

		r.mu.Lock()
		r.multiplier++
		if aborted || r.multiplier >= limit {
			r.advanceLocked(PhasePayout)
			r.mu.Unlock()
			e.Hub.Broadcast(GameCrash, Event{Type: EventCrashPoint, Payload: TickPayload{RoundID: r.ID, Current: -1}})
			return
		}
		m := hundredthsToFloat(r.multiplier)
		for _, b := range r.order {
			if !b.CashedOut && b.CashoutTarget > 0 && b.CashoutTarget <= m {
				b.CashedOut = true
			}
		}
		r.mu.Unlock()

		e.Hub.Broadcast(GameCrash, Event{Type: EventCrashPoint, Payload: TickPayload{RoundID: r.ID, Current: m}})
	}
}

func (e *CrashEngine) Handle(ctx context.Context, userID string, action Action) (Event, error) {
	switch a := action.(type) {
	case CrashJoin:
		return e.join(ctx, userID, a)
	case CrashCashout:
		if a.Multiplier == 0 {
			return e.cashout(userID)
		}
		return e.setTarget(userID, a.Multiplier)
	}
	return Event{}, ErrInvalidAction
}

func (e *CrashEngine) join(ctx context.Context, userID string, a CrashJoin) (Event, error) {
	e.mu.RLock()
	r := e.next
	e.mu.RUnlock()
	if r == nil {
		return Event{}, ErrRoundNotAcceptingBets
	}

	p, err := e.Ledger.PlaceBet(ctx, r, BetRequest{
		UserID:        userID,
		Stake:         a.Amount,
		CashoutTarget: a.CashoutMultiplier,
	})
	if err != nil {
		return Event{}, err
	}
	e.Hub.Broadcast(GameCrash, betsEvent(EventCrashBets, r))
	return Event{
		Type:    EventCrashJoined,
		Payload: BetAckPayload{RoundID: r.ID, Bet: viewBet(p.Bet), Balance: p.Balance},
	}, nil
}

func (e *CrashEngine) cashout(userID string) (Event, error) {
	e.mu.RLock()
	r := e.current
	e.mu.RUnlock()
	if r == nil {
		return Event{}, ErrRoundNotAcceptingBets
	}

	b, err := e.Ledger.CashoutNow(r, userID)
	if err != nil {
		return Event{}, err
	}
	payout := b.Stake.Mul(decimal.NewFromFloat(b.CashoutTarget)).RoundDown(2)

	e.Log.Info("cashed out",
		zap.String("round_id", r.ID),
		zap.String("user_id", userID),
		zap.Float64("multiplier", b.CashoutTarget))

	e.Hub.Broadcast(GameCrash, betsEvent(EventCrashBets, r))
	return Event{
		Type:    EventCrashCashedOut,
		Payload: CashoutAckPayload{RoundID: r.ID, Multiplier: b.CashoutTarget, Payout: payout},
	}, nil
}

// setTarget moves the auto-cashout target of the user's bet in the round
// in flight, or failing that in the next round.
func (e *CrashEngine) setTarget(userID string, target float64) (Event, error) {
	e.mu.RLock()
	current, next := e.current, e.next
	e.mu.RUnlock()

	r := next
	if current != nil {
		if b, ok := current.Bet(userID); ok && !b.Settled {
			r = current
		}
	}
	if r == nil {
		return Event{}, ErrBetNotFound
	}
	b, err := e.Ledger.AmendCashout(r, userID, target)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:    EventCrashTargetSet,
		Payload: TargetAckPayload{RoundID: r.ID, CashoutTarget: b.CashoutTarget},
	}, nil
}

func (e *CrashEngine) Snapshot(ctx context.Context) []Event {
	e.mu.RLock()
	current, next := e.current, e.next
	e.mu.RUnlock()

	payload := HistoryPayload{Rounds: e.recent(ctx, GameCrash, crashHistoryLimit)}
	if current != nil {
		v := current.View()
		payload.Current = &v
	}
	events := []Event{{Type: EventCrashPoints, Payload: payload}}
	if next != nil {
		events = append(events, betsEvent(EventCrashBets, next))
	}
	return events
}

func betsEvent(t EventType, r *Round) Event {
	v := r.View()
	return Event{Type: t, Payload: BetsPayload{RoundID: v.ID, Bets: v.Bets, Timestamp: time.Now()}}
}
