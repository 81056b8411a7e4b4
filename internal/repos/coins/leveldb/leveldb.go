// Package leveldb stores the coin balance in an on-disk LevelDB database
// local to the client.
package leveldb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/shuttlemath/guessit/internal/repos/coins"
	"github.com/syndtr/goleveldb/leveldb"
	lverrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var _ coins.Coins = (*Store)(nil)

type Store struct {
	// mu makes the credited check and the batch write one step.
	mu  sync.Mutex
	db  *leveldb.DB
	key string
}

// Open opens (or creates) dir/name.db and recovers it if it is corrupted.
func Open(dir, name, key string) (*Store, error) {
	if key == "" {
		key = coins.DefaultKey
	}

	path := filepath.Join(dir, name+".db")

	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: 16,
		BlockCacheCapacity:     4 * opt.MiB,
		WriteBuffer:            1 * opt.MiB,
	})
	if _, corrupted := err.(*lverrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}

	return &Store{db: db, key: key}, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close leveldb: %w", err)
	}

	return nil
}

func (s *Store) Load(_ context.Context) (int64, bool, error) {
	raw, err := s.db.Get([]byte(s.key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("get balance: %w", err)
	}

	balance, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode balance %q: %w", raw, err)
	}

	return balance, true, nil
}

func (s *Store) Apply(_ context.Context, m coins.Mutation) error {
	err := m.Validate()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	batch.Put([]byte(s.key), []byte(strconv.FormatInt(m.Balance, 10)))

	if m.InvoiceID != "" {
		ck := s.creditKey(m.InvoiceID)

		exists, err := s.db.Has(ck, nil)
		if err != nil {
			return fmt.Errorf("check credited: %w", err)
		}
		if exists {
			return coins.ErrAlreadyCredited
		}

		batch.Put(ck, []byte(strconv.FormatInt(m.Coins, 10)))
	}

	// Sync so the write survives a crash right after Apply returns.
	err = s.db.Write(batch, &opt.WriteOptions{Sync: true})
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	return nil
}

func (s *Store) Credited(_ context.Context, invoiceID string) (bool, error) {
	ok, err := s.db.Has(s.creditKey(invoiceID), nil)
	if err != nil {
		return false, fmt.Errorf("check credited: %w", err)
	}

	return ok, nil
}

func (s *Store) creditKey(invoiceID string) []byte {
	return []byte(s.key + "/credited/" + invoiceID)
}
