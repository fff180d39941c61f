package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Round is one instance of a game. All mutable state is guarded by mu; bet
// placement, cashouts and phase claims serialize on it.
type Round struct {
	mu sync.Mutex

	ID        string
	Game      GameType
	CreatedAt time.Time

	// capacity closes betting once this many bets are in. Zero means unbounded.
	capacity int

	phase      Phase
	deadline   time.Time
	seed       FairSeed
	outcome    Outcome
	multiplier int64 // crash only, hundredths
	bets       map[string]*Bet
	order      []*Bet

	settled   []SettledBet
	paid      map[string]bool
	record    *RoundHistoryRecord
	announce  func(*RoundHistoryRecord) Event
	announced bool
	archived  bool
	endedAt   time.Time
}

func NewRound(game GameType, capacity int) *Round {
	id := uuid.NewString()
	return &Round{
		ID:         id,
		Game:       game,
		CreatedAt:  time.Now(),
		capacity:   capacity,
		phase:      PhaseAwaitingBets,
		seed:       NewFairSeed(id),
		multiplier: 100,
		bets:       make(map[string]*Bet),
		paid:       make(map[string]bool),
	}
}

func (r *Round) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Round) Deadline() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadline
}

func (r *Round) SetDeadline(t time.Time) {
	r.mu.Lock()
	r.deadline = t
	r.mu.Unlock()
}

func (r *Round) Seed() FairSeed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seed
}

func (r *Round) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Multiplier returns the crash multiplier last published for the round.
func (r *Round) Multiplier() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return hundredthsToFloat(r.multiplier)
}

// Bets returns copies of the round's bets in placement order.
func (r *Round) Bets() []Bet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.betsLocked()
}

func (r *Round) betsLocked() []Bet {
	out := make([]Bet, 0, len(r.order))
	for _, b := range r.order {
		out = append(out, *b)
	}
	return out
}

func (r *Round) Bet(userID string) (Bet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bets[userID]
	if !ok {
		return Bet{}, false
	}
	return *b, true
}

// Creator is the user behind the first bet, or "" for an empty round.
func (r *Round) Creator() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0].UserID
}

func (r *Round) TotalStaked() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return totalStake(r.order)
}

func totalStake(bets []*Bet) decimal.Decimal {
	total := decimal.Zero
	for _, b := range bets {
		total = total.Add(b.Stake)
	}
	return total
}

func (r *Round) Advance(to Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advanceLocked(to)
}

func (r *Round) advanceLocked(to Phase) error {
	if to == PhaseCancelled {
		if r.phase != PhaseAwaitingBets && r.phase != PhaseBettingOpen {
			return ErrPhaseRegression
		}
		r.phase = to
		return nil
	}
	from, ok := phaseRank[r.phase]
	if !ok || phaseRank[to] <= from {
		return ErrPhaseRegression
	}
	r.phase = to
	return nil
}

// Claim moves an open round to the given phase. Exactly one of several
// racing callers gets true; the rest must leave the round alone.
func (r *Round) Claim(to Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseBettingOpen {
		return false
	}
	return r.advanceLocked(to) == nil
}

// Abort cancels a round that never got an outcome, whatever betting phase
// it is in. It reports false once an outcome is set or the round is done.
func (r *Round) Abort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome != nil {
		return false
	}
	switch r.phase {
	case PhaseAwaitingBets, PhaseBettingOpen, PhaseResolving:
		r.phase = PhaseCancelled
		return true
	}
	return false
}

// SetOutcome records the single authoritative draw for the round.
func (r *Round) SetOutcome(o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome != nil {
		return ErrOutcomeSet
	}
	if r.phase != PhaseResolving {
		return ErrNotResolving
	}
	r.outcome = o
	return nil
}

func hundredthsToFloat(h int64) float64 {
	return float64(h) / 100
}
