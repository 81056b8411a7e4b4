package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shuttlemath/guessit/internal/infra/pgutils"
	"github.com/shuttlemath/guessit/internal/repos/coins"
)

// Apply writes the new balance and, for invoice credits, the credit record
// in one transaction:
//
// 1) Upsert the balance row.
// 2) Insert the credit record (unique-violation -> ErrAlreadyCredited).
func (r *coinsRepo) Apply(ctx context.Context, m coins.Mutation) error {
	err := m.Validate()
	if err != nil {
		return err
	}

	return pgutils.WithTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		err := r.upsertBalance(ctx, tx, m.Balance)
		if err != nil {
			return err
		}

		if m.InvoiceID == "" {
			return nil
		}

		return r.insertCredit(ctx, tx, m.InvoiceID, m.Coins)
	})
}

func (r *coinsRepo) upsertBalance(ctx context.Context, tx *sql.Tx, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO coin_balances (store_key, balance)
		VALUES ($1, $2)
		ON CONFLICT (store_key) DO UPDATE
		SET balance = EXCLUDED.balance, updated_at = now()
	`, r.key, balance)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" { // check_violation
			return coins.ErrNegativeBalance
		}

		return fmt.Errorf("upsert balance: %w", err)
	}

	return nil
}

func (r *coinsRepo) insertCredit(ctx context.Context, tx *sql.Tx, invoiceID string, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credited_invoices (store_key, invoice_id, coins)
		VALUES ($1, $2, $3)
	`, r.key, invoiceID, amount)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return coins.ErrAlreadyCredited
		}

		return fmt.Errorf("insert credit: %w", err)
	}

	return nil
}
