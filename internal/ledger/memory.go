package ledger

import (
	"context"
	"sync"
)

// Memory is an in-process Ledger backed by a map. A single mutex guards
// the map; balance checks and mutations happen under it, which gives
// TryDebit its check-and-act atomicity.
type Memory struct {
	mu       sync.Mutex
	balances map[int64]int64
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[int64]int64)}
}

// GetBalance returns the current balance for userID.
func (m *Memory) GetBalance(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return balance, nil
}

// TryDebit subtracts amount if the balance covers it.
func (m *Memory) TryDebit(_ context.Context, userID int64, amount int64) (bool, int64, error) {
	if amount <= 0 {
		return false, 0, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[userID]
	if !ok {
		return false, 0, ErrUserNotFound
	}
	if balance < amount {
		return false, balance, nil
	}

	balance -= amount
	m.balances[userID] = balance
	return true, balance, nil
}

// Credit adds amount to the balance and returns the new balance.
func (m *Memory) Credit(_ context.Context, userID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}

	balance += amount
	m.balances[userID] = balance
	return balance, nil
}

// CreateAccount registers userID with the given starting balance. Creating
// an account that already exists overwrites nothing and returns nil, so
// registration retries are harmless.
func (m *Memory) CreateAccount(_ context.Context, userID int64, initial int64) error {
	if initial < 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.balances[userID]; ok {
		return nil
	}
	m.balances[userID] = initial
	return nil
}
