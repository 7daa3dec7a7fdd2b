// badger.go: Embedded persistent window store
package ratelimit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// badgerMaxRetries bounds optimistic-transaction retries on conflict.
const badgerMaxRetries = 16

// BadgerStore keeps windows in an embedded Badger database. Each key holds
// the count, window start and length and expires with the window, so
// counters survive a restart but never outlive their window.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadgerStore opens (or creates) a store at dir. An empty dir opens an
// in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

const windowRecordSize = 24

func encodeWindow(w Window) []byte {
	buf := make([]byte, windowRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(w.Count))
	binary.BigEndian.PutUint64(buf[8:16], uint64(w.Start.UnixNano()))
	binary.BigEndian.PutUint64(buf[16:24], uint64(w.Length))
	return buf
}

func decodeWindow(val []byte) (Window, error) {
	if len(val) != windowRecordSize {
		return Window{}, fmt.Errorf("corrupt window record of %d bytes", len(val))
	}
	return Window{
		Count:  int64(binary.BigEndian.Uint64(val[0:8])),
		Start:  time.Unix(0, int64(binary.BigEndian.Uint64(val[8:16]))),
		Length: time.Duration(binary.BigEndian.Uint64(val[16:24])),
	}, nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < badgerMaxRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) load(txn *badger.Txn, key []byte) (Window, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, err
	}
	var w Window
	err = item.Value(func(val []byte) error {
		var derr error
		w, derr = decodeWindow(val)
		return derr
	})
	if err != nil {
		return Window{}, false, err
	}
	return w, true, nil
}

// save writes w with a TTL covering the rest of its window.
func (s *BadgerStore) save(txn *badger.Txn, key []byte, w Window, now time.Time) error {
	ttl := w.ResetAt().Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return txn.SetEntry(badger.NewEntry(key, encodeWindow(w)).WithTTL(ttl))
}

// Increment implements Store.
func (s *BadgerStore) Increment(ctx context.Context, key string, window time.Duration) (Window, error) {
	var out Window
	err := s.update(ctx, func(txn *badger.Txn) error {
		now := s.now()
		w, ok, err := s.load(txn, []byte(key))
		if err != nil {
			return err
		}
		if !ok || !now.Before(w.ResetAt()) {
			w = Window{Start: now, Length: window}
		}
		w.Count++
		out = w
		return s.save(txn, []byte(key), w, now)
	})
	if err != nil {
		return Window{}, fmt.Errorf("badger increment: %w", err)
	}
	return out, nil
}

// Decrement implements Store.
func (s *BadgerStore) Decrement(ctx context.Context, key string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		now := s.now()
		w, ok, err := s.load(txn, []byte(key))
		if err != nil || !ok || w.Count == 0 || !now.Before(w.ResetAt()) {
			return err
		}
		w.Count--
		return s.save(txn, []byte(key), w, now)
	})
	if err != nil {
		return fmt.Errorf("badger decrement: %w", err)
	}
	return nil
}

// Reset implements Store.
func (s *BadgerStore) Reset(ctx context.Context, key string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger reset: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
