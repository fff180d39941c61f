package game

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const coinflipHistoryLimit = 10

// CoinflipEngine runs player-created one-on-one rounds. A round opens with
// its creator's bet and is claimed exactly once: by a joiner, which fills
// it and sends it to resolution, or by the expiry sweep, which cancels it
// and refunds the creator.
type CoinflipEngine struct {
	Deps
	settings CoinflipSettings
	queue    *resolveQueue
	gate     gate
}

func NewCoinflipEngine(deps Deps, settings CoinflipSettings) *CoinflipEngine {
	deps.Log = deps.Log.Named("coinflip")
	return &CoinflipEngine{
		Deps:     deps,
		settings: settings,
		queue:    newResolveQueue(64),
	}
}

func (e *CoinflipEngine) GetType() GameType { return GameCoinflip }

func (e *CoinflipEngine) Run(ctx context.Context) error {
	sweep := time.NewTicker(e.settings.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown(context.WithoutCancel(ctx))
			return ctx.Err()
		case r := <-e.queue.ch:
			e.resolve(ctx, r)
		case now := <-sweep.C:
			e.expire(ctx, now)
		}
	}
}

// Handle rejects every action once the engine has shut down, so no stake
// lands in a round nothing will settle or refund.
func (e *CoinflipEngine) Handle(ctx context.Context, userID string, action Action) (Event, error) {
	if !e.gate.enter() {
		return Event{}, ErrRoundNotAcceptingBets
	}
	defer e.gate.leave()

	switch a := action.(type) {
	case CoinflipCreate:
		return e.create(ctx, userID, a)
	case CoinflipJoin:
		return e.join(ctx, userID, a)
	}
	return Event{}, ErrInvalidAction
}

func (e *CoinflipEngine) create(ctx context.Context, userID string, a CoinflipCreate) (Event, error) {
	r := NewRound(GameCoinflip, 2)
	r.SetDeadline(time.Now().Add(e.settings.Timeout))
	if err := r.Advance(PhaseBettingOpen); err != nil {
		return Event{}, err
	}
	p, err := e.Ledger.PlaceBet(ctx, r, BetRequest{UserID: userID, Stake: a.Amount, Side: a.Side})
	if err != nil {
		return Event{}, err
	}
	e.Rounds.Put(r)

	e.Log.Info("game created",
		zap.String("round_id", r.ID),
		zap.String("user_id", userID),
		zap.String("amount", a.Amount.String()),
		zap.String("side", string(a.Side)))

	e.Hub.Broadcast(GameCoinflip, Event{Type: EventCoinflipAppend, Payload: r.View()})
	return Event{
		Type:    EventCoinflipCreated,
		Payload: BetAckPayload{RoundID: r.ID, Bet: viewBet(p.Bet), Balance: p.Balance},
	}, nil
}

func (e *CoinflipEngine) join(ctx context.Context, userID string, a CoinflipJoin) (Event, error) {
	r, ok := e.Rounds.Get(a.RoundID)
	if !ok || r.Game != GameCoinflip {
		return Event{}, ErrRoundNotAcceptingBets
	}
	bets := r.Bets()
	if len(bets) == 0 {
		return Event{}, ErrRoundNotAcceptingBets
	}
	creator := bets[0]
	if creator.UserID == userID {
		return Event{}, ErrSelfJoinNotAllowed
	}

	p, err := e.Ledger.PlaceBet(ctx, r, BetRequest{
		UserID: userID,
		Stake:  creator.Stake,
		Side:   creator.Side.Opposite(),
	})
	if err != nil {
		return Event{}, err
	}

	e.Log.Info("game joined", zap.String("round_id", r.ID), zap.String("user_id", userID))

	if p.Filled && !e.queue.push(r) {
		go e.resolve(context.WithoutCancel(ctx), r)
	}
	return Event{
		Type:    EventCoinflipJoined,
		Payload: BetAckPayload{RoundID: r.ID, Bet: viewBet(p.Bet), Balance: p.Balance},
	}, nil
}

func (e *CoinflipEngine) resolve(ctx context.Context, r *Round) {
	e.resolveRound(ctx, r, "", EventCoinflipUpdate)
	if r.Phase() == PhaseCancelled {
		e.announceDelete(r)
	}
}

// expire cancels every open round whose deadline has passed. A round that
// was joined in the meantime is left alone.
func (e *CoinflipEngine) expire(ctx context.Context, now time.Time) {
	for _, r := range e.Rounds.List(GameCoinflip) {
		d := r.Deadline()
		if d.IsZero() || now.Before(d) {
			continue
		}
		e.cancel(ctx, r)
	}
}

func (e *CoinflipEngine) cancel(ctx context.Context, r *Round) {
	if !e.voidRound(ctx, r) {
		return
	}
	e.Log.Info("game cancelled", zap.String("round_id", r.ID))
	e.announceDelete(r)
}

func (e *CoinflipEngine) announceDelete(r *Round) {
	e.Hub.Broadcast(GameCoinflip, Event{
		Type:    EventCoinflipDelete,
		Payload: RoundDeletedPayload{Game: RoundRef{ID: r.ID}},
	})
}

// shutdown stops new actions, resolves rounds that were already full and
// refunds open ones.
func (e *CoinflipEngine) shutdown(ctx context.Context) {
	e.gate.stop()
	for _, r := range e.queue.close() {
		e.resolve(ctx, r)
	}
	for _, r := range e.Rounds.List(GameCoinflip) {
		e.cancel(ctx, r)
	}
}

func (e *CoinflipEngine) Snapshot(ctx context.Context) []Event {
	ongoing := make([]RoundView, 0)
	for _, r := range e.Rounds.List(GameCoinflip) {
		if ph := r.Phase(); ph == PhaseBettingOpen || ph == PhaseResolving || ph == PhasePayout {
			ongoing = append(ongoing, r.View())
		}
	}
	return []Event{{
		Type: EventCoinflipGames,
		Payload: CoinflipGamesPayload{
			Ongoing: ongoing,
			Ended:   e.recent(ctx, GameCoinflip, coinflipHistoryLimit),
		},
	}}
}
