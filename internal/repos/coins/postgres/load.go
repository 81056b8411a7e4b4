package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (r *coinsRepo) Load(ctx context.Context) (int64, bool, error) {
	var balance int64

	err := r.db.QueryRowContext(ctx, `
		SELECT balance
		FROM coin_balances
		WHERE store_key = $1
	`, r.key).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("load balance: %w", err)
	}

	return balance, true, nil
}

func (r *coinsRepo) Credited(ctx context.Context, invoiceID string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM credited_invoices
			WHERE store_key = $1 AND invoice_id = $2
		)
	`, r.key, invoiceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check credited: %w", err)
	}

	return exists, nil
}
