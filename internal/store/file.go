package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"tokenrelay/pkg/logging"
)

// DefaultStorageDir is the file backend directory relative to the home directory.
const DefaultStorageDir = ".config/tokenrelay/store"

// FileStore keeps one JSON document per collection.
//
// SECURITY: the documents hold access and refresh tokens.
//   - Files are created with 0600 permissions (owner read/write only)
//   - The storage directory is created with 0700 permissions
//   - Documents are replaced by rename, so a crash never leaves a torn file
//   - Writers hold an advisory lock on <collection>.lock, so processes sharing
//     the directory do not lose each other's updates
//   - Token values are never logged
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the storage directory if needed. An empty dir
// selects DefaultStorageDir under the user's home directory.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, DefaultStorageDir)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, storageErr("open", "", fmt.Errorf("failed to create storage directory: %w", err))
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(collection string) (string, error) {
	if !validCollectionName(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	return filepath.Join(s.dir, collection+".json"), nil
}

// lockRetryDelay is how often a blocked writer retries the collection lock.
const lockRetryDelay = 10 * time.Millisecond

// lock takes the cross-process lock of a collection.
func (s *FileStore) lock(ctx context.Context, collection string) (*flock.Flock, error) {
	if !validCollectionName(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	fl := flock.New(filepath.Join(s.dir, collection+".lock"), flock.SetPermissions(0600))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock collection: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock collection")
	}
	return fl, nil
}

func validCollectionName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		ok := r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}

// load reads a collection document. A missing file is an empty collection.
func (s *FileStore) load(collection string) (map[string][]byte, error) {
	p, err := s.path(collection)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- path is built from a validated collection name
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string][]byte), nil
	}
	if err != nil {
		return nil, err
	}

	doc := make(map[string][]byte)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt collection document: %w", err)
	}
	return doc, nil
}

// save replaces the collection document atomically.
func (s *FileStore) save(collection string, doc map[string][]byte) error {
	p, err := s.path(collection)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal collection: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, collection+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write collection: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync collection: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close collection: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("failed to replace collection: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(collection)
	if err != nil {
		return nil, storageErr("get", collection, err)
	}
	v, ok := doc[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Put(ctx context.Context, collection, key string, value []byte) error {
	return s.WithTransaction(ctx, collection, func(tx Tx) error {
		return tx.Put(key, value)
	})
}

func (s *FileStore) Delete(ctx context.Context, collection, key string) error {
	return s.WithTransaction(ctx, collection, func(tx Tx) error {
		return tx.Delete(key)
	})
}

func (s *FileStore) Iterate(_ context.Context, collection string) (iter.Seq2[string, []byte], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(collection)
	if err != nil {
		return nil, storageErr("iterate", collection, err)
	}
	return sortedSeq(doc), nil
}

// WithTransaction stages writes and replaces the document once when fn succeeds.
// The document is read and written under the collection's file lock.
func (s *FileStore) WithTransaction(ctx context.Context, collection string, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fl, err := s.lock(ctx, collection)
	if err != nil {
		return storageErr("transaction", collection, err)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			logging.Warn("Store", "Failed to unlock collection %s: %v", collection, err)
		}
	}()

	doc, err := s.load(collection)
	if err != nil {
		return storageErr("transaction", collection, err)
	}

	tx := newStagingTx(func(key string) ([]byte, error) {
		v, ok := doc[key]
		if !ok {
			return nil, ErrNotFound
		}
		return bytes.Clone(v), nil
	})
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.ops) == 0 {
		return nil
	}

	tx.applyTo(doc)
	if err := s.save(collection, doc); err != nil {
		logging.Audit(logging.AuditEvent{
			Action:  "store_write_failed",
			Outcome: "failure",
			Target:  collection,
			Detail:  err.Error(),
		})
		return storageErr("commit", collection, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
