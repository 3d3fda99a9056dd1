package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/redis/go-redis/v9"

	"tokenrelay/pkg/logging"
)

// DefaultRedisPrefix namespaces the collection hashes.
const DefaultRedisPrefix = "tokenrelay"

// maxTxRetries bounds optimistic transaction retries on WATCH conflicts.
const maxTxRetries = 16

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps each collection in one Redis hash.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, storageErr("open", "", errors.New("redis address is required"))
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storageErr("open", "", fmt.Errorf("failed to connect to redis: %w", err))
	}
	return NewRedisStoreFromClient(client, opts.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client. The store owns the client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hashKey(collection string) string {
	return s.prefix + ":" + collection
}

func (s *RedisStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	v, err := s.client.HGet(ctx, s.hashKey(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", collection, err)
	}
	return v, nil
}

func (s *RedisStore) Put(ctx context.Context, collection, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if err := s.client.HSet(ctx, s.hashKey(collection), key, value).Err(); err != nil {
		return storageErr("put", collection, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, collection, key string) error {
	if err := s.client.HDel(ctx, s.hashKey(collection), key).Err(); err != nil {
		return storageErr("delete", collection, err)
	}
	return nil
}

func (s *RedisStore) Iterate(ctx context.Context, collection string) (iter.Seq2[string, []byte], error) {
	all, err := s.client.HGetAll(ctx, s.hashKey(collection)).Result()
	if err != nil {
		return nil, storageErr("iterate", collection, err)
	}
	snapshot := make(map[string][]byte, len(all))
	for k, v := range all {
		snapshot[k] = []byte(v)
	}
	return sortedSeq(snapshot), nil
}

// WithTransaction WATCHes the collection hash, stages writes and applies
// them in one MULTI/EXEC. A concurrent modification retries fn.
func (s *RedisStore) WithTransaction(ctx context.Context, collection string, fn func(Tx) error) error {
	hash := s.hashKey(collection)

	var fnErr error
	txf := func(rtx *redis.Tx) error {
		staged := newStagingTx(func(key string) ([]byte, error) {
			v, err := rtx.HGet(ctx, hash, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil, ErrNotFound
			}
			if err != nil {
				return nil, storageErr("get", collection, err)
			}
			return v, nil
		})
		if err := fn(staged); err != nil {
			fnErr = err
			return err
		}
		if len(staged.ops) == 0 {
			return nil
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, op := range staged.ops {
				if op.deleted {
					pipe.HDel(ctx, hash, k)
				} else {
					pipe.HSet(ctx, hash, k, op.value)
				}
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, hash)
		if err == nil {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			logging.Debug("Store", "Redis transaction on %s conflicted, retrying (attempt %d)", collection, attempt+1)
			continue
		}
		return storageErr("transaction", collection, err)
	}
	return storageErr("transaction", collection, fmt.Errorf("too many conflicting writers after %d attempts", maxTxRetries))
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
