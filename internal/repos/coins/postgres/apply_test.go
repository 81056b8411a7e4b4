package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shuttlemath/guessit/internal/infra/pgtestutil"
	"github.com/shuttlemath/guessit/internal/repos/coins"
)

func TestCoins_Apply(t *testing.T) {
	t.Parallel()

	type seedFn func(db *sql.DB, t *testing.T)

	seedBalance := func(key string, bal int64) seedFn {
		return func(db *sql.DB, t *testing.T) {
			_, err := db.Exec(`INSERT INTO coin_balances (store_key, balance) VALUES ($1, $2)`, key, bal)
			if err != nil {
				t.Fatalf("seed balance(%s): %v", key, err)
			}
		}
	}

	tests := []struct {
		name        string
		key         string
		seed        seedFn
		mutation    coins.Mutation
		wantErr     error
		wantBalance int64
		wantFound   bool
	}{
		{
			name:        "first_write_creates_row",
			key:         "player.first",
			mutation:    coins.Mutation{Balance: 10},
			wantBalance: 10,
			wantFound:   true,
		},
		{
			name:        "overwrite_existing",
			key:         "player.existing",
			seed:        seedBalance("player.existing", 50),
			mutation:    coins.Mutation{Balance: 49},
			wantBalance: 49,
			wantFound:   true,
		},
		{
			name:        "invoice_credit_recorded",
			key:         "player.credit",
			seed:        seedBalance("player.credit", 5),
			mutation:    coins.Mutation{Balance: 18, InvoiceID: "inv-1", Coins: 13},
			wantBalance: 18,
			wantFound:   true,
		},
		{
			name: "duplicate_invoice_rolls_back_balance",
			key:  "player.dup",
			seed: func(db *sql.DB, t *testing.T) {
				seedBalance("player.dup", 18)(db, t)
				_, err := db.Exec(`INSERT INTO credited_invoices (store_key, invoice_id, coins) VALUES ($1, $2, $3)`, "player.dup", "inv-dup", 13)
				if err != nil {
					t.Fatalf("seed credit: %v", err)
				}
			},
			mutation:    coins.Mutation{Balance: 31, InvoiceID: "inv-dup", Coins: 13},
			wantErr:     coins.ErrAlreadyCredited,
			wantBalance: 18,
			wantFound:   true,
		},
		{
			name:      "negative_balance_rejected",
			key:       "player.negative",
			mutation:  coins.Mutation{Balance: -1},
			wantErr:   coins.ErrNegativeBalance,
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, cleanup := pgtestutil.NewTestDB(t)
			defer cleanup()

			if tt.seed != nil {
				tt.seed(db, t)
			}

			repo := New(db, tt.key)

			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()

			err := repo.Apply(ctx, tt.mutation)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("apply: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("apply err: want %v, got %v", tt.wantErr, err)
			}

			got, found, err := repo.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("found mismatch: want %v, got %v", tt.wantFound, found)
			}
			if got != tt.wantBalance {
				t.Fatalf("balance mismatch: want %d, got %d", tt.wantBalance, got)
			}
		})
	}
}

func TestCoins_Apply_ConcurrentSameInvoice(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	_, err := db.Exec(`INSERT INTO coin_balances (store_key, balance) VALUES ($1, $2)`, "player.race", 0)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	repo := New(db, "player.race")

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	const workers = 4

	errCh := make(chan error, workers)

	for range workers {
		go func() {
			errCh <- repo.Apply(ctx, coins.Mutation{Balance: 13, InvoiceID: "inv-race", Coins: 13})
		}()
	}

	var ok, dup int

	for range workers {
		e := <-errCh
		switch {
		case e == nil:
			ok++
		case errors.Is(e, coins.ErrAlreadyCredited):
			dup++
		default:
			t.Fatalf("worker error: %v", e)
		}
	}

	if ok != 1 || dup != workers-1 {
		t.Fatalf("want exactly one credit, got ok=%d dup=%d", ok, dup)
	}
}
