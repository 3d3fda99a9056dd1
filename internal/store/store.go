// Package store persists resource configs and token records behind a small
// key-value capability with atomic multi-key transactions.
//
// Four backends implement Store: an in-memory map, JSON files on disk,
// SQLite and Redis. CredentialStore layers the typed collections used by
// the proxy and refresh coordinator on top of any of them.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	"tokenrelay/pkg/oauth"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// ErrTokenRecordChanged is returned by SwapTokenRecord when the stored record
// was replaced or cleared since it was read.
var ErrTokenRecordChanged = errors.New("token record changed concurrently")

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Tx is the view of one collection inside WithTransaction.
// Writes become visible to other callers only when the transaction commits.
type Tx interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Store is a collection-scoped key-value store.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	Put(ctx context.Context, collection, key string, value []byte) error

	// Delete of a missing key is not an error.
	Delete(ctx context.Context, collection, key string) error

	// Iterate returns a snapshot of the collection in key order.
	Iterate(ctx context.Context, collection string) (iter.Seq2[string, []byte], error)

	// WithTransaction runs fn and commits all of its writes together.
	// An error from fn discards every write.
	WithTransaction(ctx context.Context, collection string, fn func(Tx) error) error

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend string

	// Path is the directory (file backend) or database file (sqlite backend).
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open creates the backend named in opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(opts.Path)
	case BackendSQLite:
		return NewSQLiteStore(ctx, opts.Path)
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

func storageErr(op, collection string, err error) error {
	return &oauth.StorageError{Op: op, Collection: collection, Err: err}
}

// sortedSeq returns an iterator over a private copy of m in key order.
func sortedSeq(m map[string][]byte) iter.Seq2[string, []byte] {
	keys := slices.Sorted(maps.Keys(m))
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = bytes.Clone(m[k])
	}
	return func(yield func(string, []byte) bool) {
		for i, k := range keys {
			if !yield(k, bytes.Clone(values[i])) {
				return
			}
		}
	}
}

type stagedOp struct {
	value   []byte
	deleted bool
}

// stagingTx buffers writes over a read function. Backends without native
// transactions apply the staged ops in one step on commit.
type stagingTx struct {
	read func(key string) ([]byte, error)
	ops  map[string]stagedOp
}

func newStagingTx(read func(string) ([]byte, error)) *stagingTx {
	return &stagingTx{read: read, ops: make(map[string]stagedOp)}
}

func (t *stagingTx) Get(key string) ([]byte, error) {
	if op, ok := t.ops[key]; ok {
		if op.deleted {
			return nil, ErrNotFound
		}
		return bytes.Clone(op.value), nil
	}
	return t.read(key)
}

func (t *stagingTx) Put(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	t.ops[key] = stagedOp{value: bytes.Clone(value)}
	return nil
}

func (t *stagingTx) Delete(key string) error {
	t.ops[key] = stagedOp{deleted: true}
	return nil
}

// applyTo writes the staged ops into m.
func (t *stagingTx) applyTo(m map[string][]byte) {
	for k, op := range t.ops {
		if op.deleted {
			delete(m, k)
			continue
		}
		m[k] = op.value
	}
}
