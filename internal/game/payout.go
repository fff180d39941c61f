package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrPayoutIncomplete  = errors.New("payout incomplete")
	ErrArchiveIncomplete = errors.New("round not archived")
)

var (
	coinflipMultiplier      = decimal.NewFromInt(2)
	rouletteGreenMultiplier = decimal.NewFromInt(14)
	rouletteColorMultiplier = decimal.NewFromInt(2)
)

// PayoutFor is the amount credited for bet under outcome. pot is the sum
// of all stakes in the round.
func PayoutFor(outcome Outcome, bet Bet, pot decimal.Decimal) decimal.Decimal {
	switch o := outcome.(type) {
	case CoinflipOutcome:
		if bet.UserID == o.WinnerID {
			return bet.Stake.Mul(coinflipMultiplier)
		}
	case CrashOutcome:
		if bet.CashoutTarget > 0 && bet.CashoutTarget < o.CrashPoint {
			return bet.Stake.Mul(decimal.NewFromFloat(bet.CashoutTarget)).RoundDown(2)
		}
	case RouletteOutcome:
		if bet.Color != o.WinningColor {
			return decimal.Zero
		}
		if o.WinningColor == ColorGreen {
			return bet.Stake.Mul(rouletteGreenMultiplier)
		}
		return bet.Stake.Mul(rouletteColorMultiplier)
	case JackpotOutcome:
		if bet.UserID == o.WinnerID {
			return pot
		}
	}
	return decimal.Zero
}

// PayoutEngine turns settled bets into credits and archived history. A
// settled round is only evicted once every credit is applied and the
// record is durable; anything short of that goes to the Reconciler.
type PayoutEngine struct {
	ledger     *Ledger
	accounts   AccountStore
	history    HistoryStore
	hub        Broadcaster
	rounds     RoundRegistry
	reconciler *Reconciler
	settings   PayoutSettings
	log        *zap.Logger

	inflight sync.WaitGroup
}

func NewPayoutEngine(ledger *Ledger, accounts AccountStore, history HistoryStore, hub Broadcaster,
	rounds RoundRegistry, reconciler *Reconciler, settings PayoutSettings, log *zap.Logger) *PayoutEngine {
	return &PayoutEngine{
		ledger:     ledger,
		accounts:   accounts,
		history:    history,
		hub:        hub,
		rounds:     rounds,
		reconciler: reconciler,
		settings:   settings,
		log:        log.Named("payout"),
	}
}

// SettleAndPay runs Pay then Archive. It keeps going after ctx is
// cancelled so a shutdown never strands a half-paid round.
func (p *PayoutEngine) SettleAndPay(ctx context.Context, r *Round, announce func(*RoundHistoryRecord) Event) (*RoundHistoryRecord, error) {
	p.inflight.Add(1)
	defer p.inflight.Done()
	ctx = context.WithoutCancel(ctx)

	r.setAnnounce(announce)
	if _, err := p.Pay(ctx, r); err != nil {
		return nil, err
	}
	return p.Archive(ctx, r)
}

// Pay settles r and credits every winning bet once.
func (p *PayoutEngine) Pay(ctx context.Context, r *Round) ([]SettledBet, error) {
	p.inflight.Add(1)
	defer p.inflight.Done()
	ctx = context.WithoutCancel(ctx)

	settled, err := p.ledger.Settle(r)
	if err != nil {
		return nil, err
	}

	var (
		pending []PendingCredit
		lastErr error
	)
	for _, s := range settled {
		if !s.Payout.IsPositive() || r.isPaid(s.BetID) {
			continue
		}
		ref := fmt.Sprintf("payout:%s:%s", r.ID, s.BetID)
		err := p.retry(ctx, func() error {
			_, err := p.accounts.Credit(ctx, s.UserID, s.Payout, ref)
			return err
		})
		if err != nil {
			lastErr = err
			pending = append(pending, PendingCredit{UserID: s.UserID, Amount: s.Payout.String(), Ref: ref})
			continue
		}
		r.markPaid(s.BetID)
		p.log.Debug("payout credited",
			zap.String("round_id", r.ID),
			zap.String("user_id", s.UserID),
			zap.String("amount", s.Payout.String()))
	}

	if len(pending) > 0 {
		p.reconciler.Record(ctx, Failure{
			RoundID: r.ID,
			Game:    r.Game,
			Kind:    FailureSettlement,
			Pending: pending,
			Error:   lastErr.Error(),
		})
		return settled, fmt.Errorf("%w: round %s: %v", ErrPayoutIncomplete, r.ID, lastErr)
	}
	return settled, nil
}

// Archive persists the history record, moves the round to COOLDOWN,
// emits the settlement event and evicts the round.
func (p *PayoutEngine) Archive(ctx context.Context, r *Round) (*RoundHistoryRecord, error) {
	p.inflight.Add(1)
	defer p.inflight.Done()
	ctx = context.WithoutCancel(ctx)

	rec, err := r.historyRecord()
	if err != nil {
		return nil, err
	}
	if r.isArchived() {
		return rec, nil
	}
	if err := p.retry(ctx, func() error { return p.history.Append(ctx, *rec) }); err != nil {
		p.reconciler.Record(ctx, Failure{
			RoundID: r.ID,
			Game:    r.Game,
			Kind:    FailureSettlement,
			Error:   err.Error(),
		})
		return nil, fmt.Errorf("%w: round %s: %v", ErrArchiveIncomplete, r.ID, err)
	}

	r.markArchived()
	if err := r.Advance(PhaseCooldown); err != nil && !errors.Is(err, ErrPhaseRegression) {
		return nil, err
	}
	if announce, first := r.claimAnnouncement(); first && announce != nil {
		p.hub.Broadcast(r.Game, announce(rec))
	}
	p.rounds.Delete(r.ID)
	p.reconciler.Resolve(ctx, r.ID)

	p.log.Info("round settled",
		zap.String("round_id", r.ID),
		zap.String("game", string(r.Game)),
		zap.Int("bets", len(rec.Bets)),
		zap.String("total_staked", rec.TotalStaked.String()),
		zap.String("total_paid", rec.TotalPaid.String()))
	return rec, nil
}

// Refund returns every stake of a cancelled round. No history is written.
func (p *PayoutEngine) Refund(ctx context.Context, r *Round) error {
	p.inflight.Add(1)
	defer p.inflight.Done()
	ctx = context.WithoutCancel(ctx)

	if ph := r.Phase(); ph != PhaseCancelled {
		return fmt.Errorf("refund round %s: phase %s", r.ID, ph)
	}

	var (
		pending []PendingCredit
		lastErr error
	)
	for _, b := range r.Bets() {
		if r.isPaid(b.ID) {
			continue
		}
		ref := "refund:" + b.ID
		err := p.retry(ctx, func() error {
			_, err := p.accounts.Credit(ctx, b.UserID, b.Stake, ref)
			return err
		})
		if err != nil {
			lastErr = err
			pending = append(pending, PendingCredit{UserID: b.UserID, Amount: b.Stake.String(), Ref: ref})
			continue
		}
		r.markPaid(b.ID)
	}
	if len(pending) > 0 {
		p.reconciler.Record(ctx, Failure{
			RoundID: r.ID,
			Game:    r.Game,
			Kind:    FailureRefund,
			Pending: pending,
			Error:   lastErr.Error(),
		})
		return fmt.Errorf("%w: refund round %s: %v", ErrPayoutIncomplete, r.ID, lastErr)
	}

	p.rounds.Delete(r.ID)
	p.reconciler.Resolve(ctx, r.ID)
	p.log.Info("round refunded", zap.String("round_id", r.ID), zap.String("game", string(r.Game)))
	return nil
}

// Reconcile retries a round that was handed to reconciliation.
func (p *PayoutEngine) Reconcile(ctx context.Context, roundID string) error {
	if _, ok := p.reconciler.Get(roundID); !ok {
		return ErrRoundNotFound
	}
	r, ok := p.rounds.Get(roundID)
	if !ok {
		return fmt.Errorf("%w: %s is no longer held in memory", ErrRoundNotFound, roundID)
	}
	switch r.Phase() {
	case PhaseCancelled:
		return p.Refund(ctx, r)
	case PhaseResolving:
		if r.Outcome() == nil {
			return fmt.Errorf("reconcile round %s: no outcome", roundID)
		}
		if err := r.Advance(PhasePayout); err != nil {
			return err
		}
	}
	_, err := p.SettleAndPay(ctx, r, nil)
	return err
}

// Acknowledge closes a failure an operator settled outside the engine,
// typically one restored by Reconciler.Load after a restart. A round still
// held in memory has to go through Reconcile.
func (p *PayoutEngine) Acknowledge(ctx context.Context, roundID string) error {
	if _, ok := p.reconciler.Get(roundID); !ok {
		return ErrRoundNotFound
	}
	if _, held := p.rounds.Get(roundID); held {
		return fmt.Errorf("%w: %s", ErrRoundHeld, roundID)
	}
	p.reconciler.Resolve(ctx, roundID)
	p.log.Info("failure acknowledged", zap.String("round_id", roundID))
	return nil
}

// Hold hands a round the engine gave up on to the Reconciler. The round
// stays registered so Reconcile can drive it later.
func (p *PayoutEngine) Hold(ctx context.Context, r *Round, cause error) {
	p.reconciler.Record(ctx, Failure{
		RoundID: r.ID,
		Game:    r.Game,
		Kind:    FailureSettlement,
		Error:   cause.Error(),
	})
}

// Drain waits for in-flight settlements and refunds.
func (p *PayoutEngine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PayoutEngine) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.settings.RetryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.settings.MaxRetries, 0))), ctx)
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		p.log.Warn("store call failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
}

func (r *Round) isPaid(betID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paid[betID]
}

func (r *Round) markPaid(betID string) {
	r.mu.Lock()
	r.paid[betID] = true
	r.mu.Unlock()
}

func (r *Round) isArchived() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.archived
}

func (r *Round) markArchived() {
	r.mu.Lock()
	r.archived = true
	r.mu.Unlock()
}

// setAnnounce keeps the first settlement event builder for later retries.
func (r *Round) setAnnounce(fn func(*RoundHistoryRecord) Event) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	if r.announce == nil {
		r.announce = fn
	}
	r.mu.Unlock()
}

func (r *Round) claimAnnouncement() (func(*RoundHistoryRecord) Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.announced {
		return nil, false
	}
	r.announced = true
	return r.announce, true
}

func (r *Round) historyRecord() (*RoundHistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record != nil {
		return r.record, nil
	}
	if r.settled == nil {
		return nil, fmt.Errorf("archive round %s: not settled", r.ID)
	}
	paid := decimal.Zero
	for _, s := range r.settled {
		paid = paid.Add(s.Payout)
	}
	r.endedAt = time.Now()
	r.record = &RoundHistoryRecord{
		RoundID:     r.ID,
		Game:        r.Game,
		Outcome:     r.outcome,
		Bets:        append([]SettledBet(nil), r.settled...),
		TotalStaked: totalStake(r.order),
		TotalPaid:   paid,
		ServerSeed:  r.seed.ServerSeed,
		Commitment:  r.seed.Commitment,
		StartedAt:   r.CreatedAt,
		EndedAt:     r.endedAt,
	}
	return r.record, nil
}
