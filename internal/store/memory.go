package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"reaper/internal/game"
)

// MemoryAccounts keeps balances in process. It backs local runs and tests.
type MemoryAccounts struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	refs     map[string]struct{}
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		balances: make(map[string]decimal.Decimal),
		refs:     make(map[string]struct{}),
	}
}

func (m *MemoryAccounts) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *MemoryAccounts) SetBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	if err := checkBalance(amount); err != nil {
		return err
	}
	m.mu.Lock()
	m.balances[userID] = amount
	m.mu.Unlock()
	return nil
}

func (m *MemoryAccounts) Debit(_ context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if err := checkAmount(amount); err != nil {
		return decimal.Zero, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.refs[ref]; seen {
		return m.balances[userID], nil
	}
	if m.balances[userID].LessThan(amount) {
		return m.balances[userID], game.ErrInsufficientBalance
	}
	m.refs[ref] = struct{}{}
	m.balances[userID] = m.balances[userID].Sub(amount)
	return m.balances[userID], nil
}

func (m *MemoryAccounts) Credit(_ context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if err := checkAmount(amount); err != nil {
		return decimal.Zero, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.refs[ref]; seen {
		return m.balances[userID], nil
	}
	m.refs[ref] = struct{}{}
	m.balances[userID] = m.balances[userID].Add(amount)
	return m.balances[userID], nil
}

// MemoryHistory is an in-process HistoryStore, newest record last.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []game.RoundHistoryRecord
	index   map[string]struct{}
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{index: make(map[string]struct{})}
}

func (h *MemoryHistory) Append(_ context.Context, rec game.RoundHistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.index[rec.RoundID]; ok {
		return nil
	}
	h.index[rec.RoundID] = struct{}{}
	h.records = append(h.records, rec)
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, g game.GameType, limit int) ([]game.RoundHistoryRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]game.RoundHistoryRecord, 0, limit)
	for i := len(h.records) - 1; i >= 0 && len(out) < limit; i-- {
		if h.records[i].Game == g {
			out = append(out, h.records[i])
		}
	}
	return out, nil
}
