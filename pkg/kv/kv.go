// Package kv defines the ordered key-value engine contract the
// sub-stores are built on.
//
// The engine exposes independent namespaces inside one database. A
// batch may span namespaces and applies atomically: either every
// operation is visible to subsequent reads or none is. Iteration
// within a namespace returns keys in lexicographic byte order. The
// engine is the only component that blocks on disk I/O.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("kv: key not found")

	// ErrClosed is returned after the engine has been closed.
	ErrClosed = errors.New("kv: engine closed")
)

// Op is one mutation inside a batch. When Delete is set the value is
// ignored.
type Op struct {
	Namespace string
	Key       string
	Value     []byte
	Delete    bool
}

// PutOp builds a put operation.
func PutOp(ns, key string, value []byte) Op {
	return Op{Namespace: ns, Key: key, Value: value}
}

// DeleteOp builds a delete operation.
func DeleteOp(ns, key string) Op {
	return Op{Namespace: ns, Key: key, Delete: true}
}

// Entry is one key-value pair produced by a range scan.
type Entry struct {
	Key   string
	Value []byte
}

// RangeOptions bounds a scan. Start is inclusive, End exclusive; empty
// bounds mean the namespace edge. Limit 0 means no limit.
type RangeOptions struct {
	Start string
	End   string
	Limit int
}

// Store is the ordered key-value engine.
type Store interface {
	// Get returns the value stored under key in ns, or ErrNotFound.
	Get(ctx context.Context, ns, key string) ([]byte, error)

	// Put stores value under key in ns.
	Put(ctx context.Context, ns, key string, value []byte) error

	// Delete removes key from ns. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, ns, key string) error

	// Batch applies all operations atomically.
	Batch(ctx context.Context, ops []Op) error

	// RangeAsc scans ns in ascending key order within the bounds.
	RangeAsc(ctx context.Context, ns string, opts RangeOptions) ([]Entry, error)

	// RangeDesc scans ns in descending key order within the bounds.
	RangeDesc(ctx context.Context, ns string, opts RangeOptions) ([]Entry, error)

	// Clear removes every key in ns.
	Clear(ctx context.Context, ns string) error

	// Close flushes and closes the underlying database.
	Close() error
}

// PrefixEnd returns the smallest key greater than every key with the
// given prefix, for use as an exclusive End bound. An empty result
// means "no upper bound".
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
