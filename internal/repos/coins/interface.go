// Package coins defines the durable store behind the coin ledger.
//
// A store is scoped to one client and keeps a single balance under a
// well-known key together with the set of invoice ids that have already
// been credited.
package coins

import (
	"context"
	"errors"
)

// DefaultKey is the well-known key the balance is stored under.
const DefaultKey = "guessit.coins"

var (
	ErrAlreadyCredited = errors.New("invoice already credited")
	ErrNegativeBalance = errors.New("negative balance")
)

// Mutation is one ledger write. Balance is the value after the write.
// When InvoiceID is set the credit record is stored in the same atomic
// write; if the record already exists the whole write is rejected with
// ErrAlreadyCredited and the balance is left untouched.
type Mutation struct {
	Balance   int64
	InvoiceID string
	Coins     int64
}

type Coins interface {
	// Load returns the stored balance; found is false when nothing has been
	// written under the key yet.
	Load(ctx context.Context) (balance int64, found bool, err error)
	Apply(ctx context.Context, m Mutation) error
	Credited(ctx context.Context, invoiceID string) (bool, error)
}

// Validate checks the parts of a mutation every store enforces.
func (m Mutation) Validate() error {
	if m.Balance < 0 {
		return ErrNegativeBalance
	}

	return nil
}
