// Package badger implements the kv.Store contract on BadgerDB.
//
// Namespaces are key prefixes inside a single database: the full key
// of ("files", "F1") is "files/F1". Composite keys are ASCII, so a
// 0xff-padded prefix is a safe upper bound for reverse scans.
package badger

import (
	"context"
	"errors"
	"math/rand"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/kv"
)

// nsSeparator joins a namespace with the key proper. Namespace names
// must not be a prefix of one another up to the separator.
const nsSeparator = "/"

// maxRetries bounds transaction retries on optimistic-concurrency
// conflicts. No retry happens above the engine.
const maxRetries = 3

// Store is a BadgerDB-backed kv.Store.
type Store struct {
	db  *badgerdb.DB
	log zerolog.Logger
}

// Options configure the engine.
type Options struct {
	// Path is the database directory. Empty runs fully in memory,
	// which the tests use.
	Path string

	Logger zerolog.Logger
}

// Open opens or creates the database at opts.Path.
func Open(opts Options) (*Store, error) {
	bopts := badgerdb.DefaultOptions(opts.Path)
	bopts.Logger = nil
	if opts.Path == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, log: opts.Logger}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func fullKey(ns, key string) []byte {
	return []byte(ns + nsSeparator + key)
}

func nsPrefix(ns string) []byte {
	return []byte(ns + nsSeparator)
}

// Get returns the value stored under key in ns.
func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(fullKey(ns, key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return kv.ErrNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores value under key in ns.
func (s *Store) Put(ctx context.Context, ns, key string, value []byte) error {
	return s.Batch(ctx, []kv.Op{kv.PutOp(ns, key, value)})
}

// Delete removes key from ns.
func (s *Store) Delete(ctx context.Context, ns, key string) error {
	return s.Batch(ctx, []kv.Op{kv.DeleteOp(ns, key)})
}

// Batch applies all operations in one transaction. Conflicting
// transactions are retried with jitter up to maxRetries times.
func (s *Store) Batch(ctx context.Context, ops []kv.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = s.db.Update(func(txn *badgerdb.Txn) error {
			for _, op := range ops {
				k := fullKey(op.Namespace, op.Key)
				if op.Delete {
					if err := txn.Delete(k); err != nil {
						return err
					}
					continue
				}
				if err := txn.Set(k, op.Value); err != nil {
					return err
				}
			}
			return nil
		})
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		jitter := time.Duration(rand.Intn(20)+5) * time.Millisecond
		s.log.Debug().Int("attempt", attempt+1).Dur("backoff", jitter).
			Msg("transaction conflict, retrying batch")
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// RangeAsc scans ns ascending within the bounds.
func (s *Store) RangeAsc(ctx context.Context, ns string, opts kv.RangeOptions) ([]kv.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := nsPrefix(ns)
	var entries []kv.Entry

	err := s.db.View(func(txn *badgerdb.Txn) error {
		iopts := badgerdb.DefaultIteratorOptions
		iopts.Prefix = prefix
		it := txn.NewIterator(iopts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), opts.Start...)
		var end []byte
		if opts.End != "" {
			end = append(append([]byte{}, prefix...), opts.End...)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if end != nil && string(key) >= string(end) {
				break
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, kv.Entry{
				Key:   string(key[len(prefix):]),
				Value: value,
			})
			if opts.Limit > 0 && len(entries) >= opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// RangeDesc scans ns descending within the bounds.
func (s *Store) RangeDesc(ctx context.Context, ns string, opts kv.RangeOptions) ([]kv.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := nsPrefix(ns)
	var entries []kv.Entry

	err := s.db.View(func(txn *badgerdb.Txn) error {
		iopts := badgerdb.DefaultIteratorOptions
		iopts.Prefix = prefix
		iopts.Reverse = true
		it := txn.NewIterator(iopts)
		defer it.Close()

		// Keys are ASCII, so a 0xff pad is past every key in the
		// namespace.
		seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		var end []byte
		if opts.End != "" {
			end = append(append([]byte{}, prefix...), opts.End...)
			seek = end
		}
		var start []byte
		if opts.Start != "" {
			start = append(append([]byte{}, prefix...), opts.Start...)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if end != nil && string(key) >= string(end) {
				continue
			}
			if start != nil && string(key) < string(start) {
				break
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, kv.Entry{
				Key:   string(key[len(prefix):]),
				Value: value,
			})
			if opts.Limit > 0 && len(entries) >= opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Clear removes every key in ns.
func (s *Store) Clear(ctx context.Context, ns string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropPrefix(nsPrefix(ns))
}
