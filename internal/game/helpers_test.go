package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store unavailable")

// memAccounts is an in-package AccountStore with call counters and
// injectable credit failures.
type memAccounts struct {
	mu          sync.Mutex
	balances    map[string]decimal.Decimal
	refs        map[string]bool
	debits      int
	credits     int
	failCredits int
}

func newMemAccounts(initial map[string]string) *memAccounts {
	m := &memAccounts{balances: make(map[string]decimal.Decimal), refs: make(map[string]bool)}
	for user, amount := range initial {
		m.balances[user] = decimal.RequireFromString(amount)
	}
	return m
}

func (m *memAccounts) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memAccounts) Debit(_ context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[ref] {
		return m.balances[userID], nil
	}
	if m.balances[userID].LessThan(amount) {
		return m.balances[userID], ErrInsufficientBalance
	}
	m.refs[ref] = true
	m.debits++
	m.balances[userID] = m.balances[userID].Sub(amount)
	return m.balances[userID], nil
}

func (m *memAccounts) Credit(_ context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCredits > 0 {
		m.failCredits--
		return decimal.Zero, errStoreDown
	}
	if m.refs[ref] {
		return m.balances[userID], nil
	}
	m.refs[ref] = true
	m.credits++
	m.balances[userID] = m.balances[userID].Add(amount)
	return m.balances[userID], nil
}

func (m *memAccounts) balance(userID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

func (m *memAccounts) counts() (debits, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debits, m.credits
}

func (m *memAccounts) failNextCredits(n int) {
	m.mu.Lock()
	m.failCredits = n
	m.mu.Unlock()
}

type memHistory struct {
	mu      sync.Mutex
	records []RoundHistoryRecord
	appends int
	fail    int
}

func (h *memHistory) Append(_ context.Context, rec RoundHistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appends++
	if h.fail > 0 {
		h.fail--
		return errStoreDown
	}
	for _, r := range h.records {
		if r.RoundID == rec.RoundID {
			return nil
		}
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *memHistory) Recent(_ context.Context, game GameType, limit int) ([]RoundHistoryRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []RoundHistoryRecord{}
	for i := len(h.records) - 1; i >= 0 && len(out) < limit; i-- {
		if h.records[i].Game == game {
			out = append(out, h.records[i])
		}
	}
	return out, nil
}

func (h *memHistory) all() []RoundHistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RoundHistoryRecord(nil), h.records...)
}

func (h *memHistory) appendCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.appends
}

type recordedEvent struct {
	game GameType
	evt  Event
}

// recorder is a Broadcaster that keeps every event it is given.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1)}
}

func (r *recorder) Broadcast(game GameType, evt Event) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{game: game, evt: evt})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.evt.Type == t {
			out = append(out, e.evt)
		}
	}
	return out
}

// waitFor blocks until an event of type t has been broadcast.
func (r *recorder) waitFor(t *testing.T, et EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if evs := r.ofType(et); len(evs) > 0 {
			return evs[0]
		}
		select {
		case <-r.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %s", et)
		}
	}
}

// scriptedSource replays fixed draws, cycling when exhausted.
type scriptedSource struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func script(vals ...float64) func(FairSeed) RandomSource {
	return func(FairSeed) RandomSource { return &scriptedSource{vals: vals} }
}

func (s *scriptedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

type testEnv struct {
	deps       Deps
	accounts   *memAccounts
	history    *memHistory
	hub        *recorder
	rounds     *MemoryRegistry
	reconciler *Reconciler
}

func newTestEnv(balances map[string]string) *testEnv {
	log := zap.NewNop()
	accounts := newMemAccounts(balances)
	history := &memHistory{}
	hub := newRecorder()
	rounds := NewMemoryRegistry()
	reconciler := NewReconciler(nil, log)
	ledger := NewLedger(accounts, DefaultSettings().Limits, log)
	payouts := NewPayoutEngine(ledger, accounts, history, hub, rounds, reconciler,
		PayoutSettings{MaxRetries: 2, RetryInterval: time.Millisecond}, log)
	return &testEnv{
		deps: Deps{
			Ledger:  ledger,
			Payouts: payouts,
			Rounds:  rounds,
			Hub:     hub,
			History: history,
			Log:     log,
		},
		accounts:   accounts,
		history:    history,
		hub:        hub,
		rounds:     rounds,
		reconciler: reconciler,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// openRound returns a registered round of game in BETTING_OPEN.
func (env *testEnv) openRound(game GameType, capacity int) *Round {
	r := NewRound(game, capacity)
	r.Advance(PhaseBettingOpen)
	env.rounds.Put(r)
	return r
}
