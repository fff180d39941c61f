package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger owns bet placement and settlement. Every mutation happens under
// the round's lock, so a bet either lands before the round leaves
// BETTING_OPEN or is rejected; it is never half applied.
type Ledger struct {
	accounts AccountStore
	limits   BetLimits
	log      *zap.Logger
}

func NewLedger(accounts AccountStore, limits BetLimits, log *zap.Logger) *Ledger {
	return &Ledger{accounts: accounts, limits: limits, log: log.Named("ledger")}
}

type BetRequest struct {
	UserID        string
	Stake         decimal.Decimal
	Side          Side
	Color         Color
	CashoutTarget float64
}

type Placement struct {
	Bet     Bet
	Balance decimal.Decimal
	// Filled is set when this bet brought the round to capacity and
	// moved it to RESOLVING.
	Filled bool
}

// ValidateStake rejects non-positive stakes, sub-cent precision and
// amounts outside the configured limits.
func (l *Ledger) ValidateStake(stake decimal.Decimal) error {
	if !stake.IsPositive() || !stake.Equal(stake.Truncate(2)) {
		return ErrInvalidStake
	}
	if stake.LessThan(l.limits.Min) {
		return fmt.Errorf("%w: below minimum %s", ErrInvalidStake, l.limits.Min)
	}
	if l.limits.Max.IsPositive() && stake.GreaterThan(l.limits.Max) {
		return fmt.Errorf("%w: above maximum %s", ErrInvalidStake, l.limits.Max)
	}
	return nil
}

func (l *Ledger) PlaceBet(ctx context.Context, r *Round, req BetRequest) (Placement, error) {
	if err := l.ValidateStake(req.Stake); err != nil {
		return Placement{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseBettingOpen {
		return Placement{}, ErrRoundNotAcceptingBets
	}
	if _, ok := r.bets[req.UserID]; ok {
		return Placement{}, ErrDuplicateBet
	}

	bet := &Bet{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Stake:         req.Stake,
		Side:          req.Side,
		Color:         req.Color,
		CashoutTarget: req.CashoutTarget,
		PlacedAt:      time.Now(),
	}
	balance, err := l.accounts.Debit(ctx, req.UserID, req.Stake, "bet:"+bet.ID)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return Placement{}, ErrInsufficientBalance
		}
		return Placement{}, fmt.Errorf("debit stake: %w", err)
	}

	r.bets[req.UserID] = bet
	r.order = append(r.order, bet)

	filled := r.capacity > 0 && len(r.order) >= r.capacity
	if filled {
		r.phase = PhaseResolving
	}

	l.log.Debug("bet placed",
		zap.String("round_id", r.ID),
		zap.String("game", string(r.Game)),
		zap.String("user_id", req.UserID),
		zap.String("stake", req.Stake.String()),
		zap.Bool("filled", filled))

	return Placement{Bet: *bet, Balance: balance, Filled: filled}, nil
}

// AmendCashout moves a bet's cashout target. While the round is resolving
// the target may not be below the live multiplier; a target equal to it
// locks the cashout in.
func (l *Ledger) AmendCashout(r *Round, userID string, target float64) (Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return l.amendCashoutLocked(r, userID, target)
}

// CashoutNow locks a crash bet in at the live multiplier.
func (l *Ledger) CashoutNow(r *Round, userID string) (Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseResolving {
		if b, ok := r.bets[userID]; ok && b.Settled {
			return Bet{}, ErrAlreadySettled
		}
		return Bet{}, ErrRoundNotAcceptingBets
	}
	return l.amendCashoutLocked(r, userID, hundredthsToFloat(r.multiplier))
}

func (l *Ledger) amendCashoutLocked(r *Round, userID string, target float64) (Bet, error) {
	b, ok := r.bets[userID]
	if !ok {
		return Bet{}, ErrBetNotFound
	}
	if b.Settled {
		return Bet{}, ErrAlreadySettled
	}
	if b.CashedOut {
		return Bet{}, ErrAlreadyCashedOut
	}

	switch r.phase {
	case PhaseBettingOpen:
		if target <= 1 {
			return Bet{}, ErrInvalidPayload
		}
		b.CashoutTarget = target
	case PhaseResolving:
		current := hundredthsToFloat(r.multiplier)
		if target < current {
			return Bet{}, fmt.Errorf("%w: target %.2f is below live multiplier %.2f", ErrInvalidPayload, target, current)
		}
		b.CashoutTarget = target
		b.CashedOut = target == current
	default:
		return Bet{}, ErrAlreadySettled
	}
	return *b, nil
}

// Settle evaluates every bet of the round against its outcome. The first
// call fixes the result; later calls return the same list.
func (l *Ledger) Settle(r *Round) ([]SettledBet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settled != nil {
		return append([]SettledBet(nil), r.settled...), nil
	}
	if r.outcome == nil {
		return nil, fmt.Errorf("settle round %s: no outcome", r.ID)
	}
	if r.phase != PhasePayout {
		return nil, fmt.Errorf("settle round %s: phase %s", r.ID, r.phase)
	}

	pot := totalStake(r.order)
	settled := make([]SettledBet, 0, len(r.order))
	for _, b := range r.order {
		b.Payout = PayoutFor(r.outcome, *b, pot)
		b.Settled = true
		settled = append(settled, SettledBet{
			BetID:         b.ID,
			UserID:        b.UserID,
			Stake:         b.Stake,
			Side:          b.Side,
			Color:         b.Color,
			CashoutTarget: b.CashoutTarget,
			Payout:        b.Payout,
		})
	}
	r.settled = settled
	return append([]SettledBet(nil), settled...), nil
}
