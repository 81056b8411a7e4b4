// Package postgres keeps the coin balance in Postgres, one row per store
// key, with credited invoices in a child table.
package postgres

import (
	"database/sql"

	"github.com/shuttlemath/guessit/internal/repos/coins"
)

var _ coins.Coins = (*coinsRepo)(nil)

type coinsRepo struct {
	db  *sql.DB
	key string
}

func New(db *sql.DB, key string) *coinsRepo {
	if key == "" {
		key = coins.DefaultKey
	}

	return &coinsRepo{db: db, key: key}
}
