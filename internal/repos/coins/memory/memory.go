// Package memory is a process-local coin store used by tests and by the
// shell when persistence is switched off.
package memory

import (
	"context"
	"sync"

	"github.com/shuttlemath/guessit/internal/repos/coins"
)

var _ coins.Coins = (*Store)(nil)

type Store struct {
	mu        sync.Mutex
	balance   int64
	found     bool
	credited  map[string]int64
	failApply error
}

func New() *Store {
	return &Store{credited: make(map[string]int64)}
}

// WithBalance returns a store that already holds balance.
func WithBalance(balance int64) *Store {
	s := New()
	s.balance = balance
	s.found = true

	return s
}

func (s *Store) Load(_ context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.balance, s.found, nil
}

func (s *Store) Apply(_ context.Context, m coins.Mutation) error {
	err := m.Validate()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failApply != nil {
		return s.failApply
	}

	if m.InvoiceID != "" {
		if _, ok := s.credited[m.InvoiceID]; ok {
			return coins.ErrAlreadyCredited
		}

		s.credited[m.InvoiceID] = m.Coins
	}

	s.balance = m.Balance
	s.found = true

	return nil
}

func (s *Store) Credited(_ context.Context, invoiceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.credited[invoiceID]

	return ok, nil
}

// SetFailApply makes every following Apply fail with err without writing.
// Pass nil to heal the store.
func (s *Store) SetFailApply(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failApply = err
}
