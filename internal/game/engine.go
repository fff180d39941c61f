package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GameEngine drives the rounds of one game. Run owns the round loop until
// ctx is cancelled; Handle is called concurrently from connections.
type GameEngine interface {
	GetType() GameType
	Run(ctx context.Context) error
	Handle(ctx context.Context, userID string, action Action) (Event, error)
	// Snapshot is the state sent to a client when it subscribes.
	Snapshot(ctx context.Context) []Event
}

// GameFactory registers the engines and owns their lifecycle.
type GameFactory struct {
	engines map[GameType]GameEngine
	payouts *PayoutEngine
	log     *zap.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewGameFactory(payouts *PayoutEngine, log *zap.Logger) *GameFactory {
	return &GameFactory{
		engines: make(map[GameType]GameEngine),
		payouts: payouts,
		log:     log.Named("factory"),
	}
}

func (gf *GameFactory) RegisterEngine(engine GameEngine) {
	gf.engines[engine.GetType()] = engine
}

func (gf *GameFactory) GetEngine(gameType GameType) (GameEngine, bool) {
	engine, exists := gf.engines[gameType]
	return engine, exists
}

// Start launches every engine's round loop. An engine that fails is
// logged and its error returned from Shutdown; the others keep running.
func (gf *GameFactory) Start(ctx context.Context) {
	ctx, gf.cancel = context.WithCancel(ctx)
	gf.group = new(errgroup.Group)
	for gameType, engine := range gf.engines {
		gf.group.Go(func() error {
			gf.log.Info("engine started", zap.String("game", string(gameType)))
			err := engine.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				gf.log.Error("engine stopped", zap.String("game", string(gameType)), zap.Error(err))
				return fmt.Errorf("%s engine: %w", gameType, err)
			}
			gf.log.Info("engine stopped", zap.String("game", string(gameType)))
			return nil
		})
	}
}

// Shutdown stops the round loops and waits for in-flight payouts.
func (gf *GameFactory) Shutdown(ctx context.Context) error {
	if gf.cancel == nil {
		return nil
	}
	gf.cancel()
	err := gf.group.Wait()
	if drainErr := gf.payouts.Drain(ctx); drainErr != nil {
		return errors.Join(err, fmt.Errorf("drain payouts: %w", drainErr))
	}
	return err
}

// Dispatch parses an inbound envelope for a game channel and hands it to
// the game's engine.
func (gf *GameFactory) Dispatch(ctx context.Context, gameType GameType, userID string, env Envelope) (Event, error) {
	engine, ok := gf.GetEngine(gameType)
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidAction, gameType)
	}
	action, err := ParseAction(gameType, env)
	if err != nil {
		return Event{}, err
	}
	return engine.Handle(ctx, userID, action)
}

// Deps bundles the collaborators every engine is built from.
type Deps struct {
	Ledger  *Ledger
	Payouts *PayoutEngine
	Rounds  RoundRegistry
	Hub     Broadcaster
	History HistoryStore
	// Source builds the random source for a round. Defaults to NewFairSource.
	Source func(FairSeed) RandomSource
	Log    *zap.Logger
}

func (d Deps) source(seed FairSeed) RandomSource {
	if d.Source != nil {
		return d.Source(seed)
	}
	return NewFairSource(seed)
}

func (d Deps) recent(ctx context.Context, game GameType, limit int) []RoundHistoryRecord {
	recs, err := d.History.Recent(ctx, game, limit)
	if err != nil {
		d.Log.Warn("load history", zap.String("game", string(game)), zap.Error(err))
		return []RoundHistoryRecord{}
	}
	return recs
}

// resolveRound draws the outcome of a full round, reveals it and settles.
func (d Deps) resolveRound(ctx context.Context, r *Round, revealed, settled EventType) {
	outcome, err := Draw(r.Game, d.source(r.Seed()), r.Bets())
	if err != nil {
		d.failRound(ctx, r, fmt.Errorf("draw outcome: %w", err))
		return
	}
	if err := r.SetOutcome(outcome); err != nil {
		d.failRound(ctx, r, fmt.Errorf("set outcome: %w", err))
		return
	}
	if err := r.Advance(PhasePayout); err != nil {
		d.failRound(ctx, r, fmt.Errorf("advance to payout: %w", err))
		return
	}
	if revealed != "" {
		d.Hub.Broadcast(r.Game, Event{Type: revealed, Payload: OutcomePayload{RoundID: r.ID, Outcome: outcome}})
	}
	if _, err := d.Payouts.SettleAndPay(ctx, r, settlementEvent(settled)); err != nil {
		d.Log.Error("settlement deferred to reconciliation", zap.String("round_id", r.ID), zap.Error(err))
	}
}

// failRound takes a round out of play after an error the engine cannot
// recover from. A round with no outcome yet is cancelled and refunded;
// one with an outcome is held for reconciliation.
func (d Deps) failRound(ctx context.Context, r *Round, cause error) {
	ctx = context.WithoutCancel(ctx)
	d.Log.Error("round failed", zap.String("round_id", r.ID), zap.Error(cause))
	if r.Abort() {
		if err := d.Payouts.Refund(ctx, r); err != nil {
			d.Log.Error("refund deferred to reconciliation", zap.String("round_id", r.ID), zap.Error(err))
		}
		return
	}
	d.Payouts.Hold(ctx, r, cause)
}

// voidRound cancels an open round and refunds its stakes.
func (d Deps) voidRound(ctx context.Context, r *Round) bool {
	if r == nil || !r.Claim(PhaseCancelled) {
		return false
	}
	if err := d.Payouts.Refund(ctx, r); err != nil {
		d.Log.Error("refund deferred to reconciliation", zap.String("round_id", r.ID), zap.Error(err))
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// countdown calls emit now and every interval until d has elapsed.
func countdown(ctx context.Context, d, every time.Duration, emit func()) error {
	emit()
	if every <= 0 {
		return sleepCtx(ctx, d)
	}
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-tick.C:
			emit()
		}
	}
}

// gate admits Handle calls until the engine stops. stop waits for calls
// already admitted to return.
type gate struct {
	mu      sync.RWMutex
	stopped bool
}

func (g *gate) enter() bool {
	g.mu.RLock()
	if g.stopped {
		g.mu.RUnlock()
		return false
	}
	return true
}

func (g *gate) leave() { g.mu.RUnlock() }

func (g *gate) stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
}

// resolveQueue hands full rounds to an engine loop. push never blocks:
// when the loop is gone or behind, the caller resolves the round itself.
type resolveQueue struct {
	mu     sync.Mutex
	ch     chan *Round
	closed bool
}

func newResolveQueue(size int) *resolveQueue {
	return &resolveQueue{ch: make(chan *Round, size)}
}

func (q *resolveQueue) push(r *Round) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- r:
		return true
	default:
		return false
	}
}

// close stops the queue and returns rounds still waiting in it.
func (q *resolveQueue) close() []*Round {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	var pending []*Round
	for {
		select {
		case r := <-q.ch:
			pending = append(pending, r)
		default:
			return pending
		}
	}
}
