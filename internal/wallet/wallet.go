// Package wallet is the ledger collaborator that holds user balances.
// Every mutation is keyed so a retried call is applied at most once.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrLedgerUnavailable marks transient failures; callers may retry with
	// the same idempotency key.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Ledger debits and credits user balances.
type Ledger interface {
	// Debit removes amount from the user's balance. Replaying a key that
	// was already applied succeeds without a second debit.
	Debit(ctx context.Context, userID string, amount int64, key string) error
	// Credit adds amount to the user's balance. A zero amount is a no-op.
	Credit(ctx context.Context, userID string, amount int64, key string) error
	// Reverse refunds the debit applied under key. A key with no debit, or
	// one already reversed, is a no-op.
	Reverse(ctx context.Context, userID string, key string) error
	Balance(ctx context.Context, userID string) (int64, error)
}

type operation string

const (
	opDebit    operation = "debit"
	opCredit   operation = "credit"
	opReversal operation = "reversal"
)

// Entry is one applied ledger movement.
type Entry struct {
	UserID string
	Op     string
	Amount int64
	Key    string
}

// Memory is an in-process ledger. Unknown users start with the configured
// opening balance.
type Memory struct {
	mu       sync.Mutex
	opening  int64
	balances map[string]int64
	applied  map[string]int64
	entries  []Entry
}

// NewMemory returns a ledger that opens new accounts with opening minor units.
func NewMemory(opening int64) *Memory {
	return &Memory{
		opening:  opening,
		balances: make(map[string]int64),
		applied:  make(map[string]int64),
	}
}

func (m *Memory) balanceLocked(userID string) int64 {
	bal, ok := m.balances[userID]
	if !ok {
		bal = m.opening
		m.balances[userID] = bal
	}
	return bal
}

// Fund credits an account outside of any bet, e.g. for demos and tests.
func (m *Memory) Fund(userID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = m.balanceLocked(userID) + amount
}

func (m *Memory) Debit(ctx context.Context, userID string, amount int64, key string) error {
	return m.apply(ctx, opDebit, userID, amount, key)
}

func (m *Memory) Credit(ctx context.Context, userID string, amount int64, key string) error {
	if amount == 0 {
		return nil
	}
	return m.apply(ctx, opCredit, userID, amount, key)
}

func (m *Memory) apply(ctx context.Context, op operation, userID string, amount int64, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref := string(op) + ":" + key
	if _, done := m.applied[ref]; done {
		return nil
	}

	bal := m.balanceLocked(userID)
	if op == opDebit {
		if bal < amount {
			return ErrInsufficientBalance
		}
		bal -= amount
	} else {
		bal += amount
	}
	m.balances[userID] = bal
	m.applied[ref] = amount
	m.entries = append(m.entries, Entry{UserID: userID, Op: string(op), Amount: amount, Key: key})
	return nil
}

func (m *Memory) Reverse(ctx context.Context, userID string, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	amount, debited := m.applied[string(opDebit)+":"+key]
	ref := string(opReversal) + ":" + key
	if _, done := m.applied[ref]; !debited || done {
		return nil
	}
	m.balances[userID] = m.balanceLocked(userID) + amount
	m.applied[ref] = amount
	m.entries = append(m.entries, Entry{UserID: userID, Op: string(opReversal), Amount: amount, Key: key})
	return nil
}

func (m *Memory) Balance(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(userID), nil
}

// Entries returns a copy of every applied movement in order.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
