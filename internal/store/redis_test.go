package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	redisOpts, err := redis.ParseURL(connStr)
	require.NoError(t, err)

	n := 0
	runStoreTests(t, func(t *testing.T) Store {
		n++
		s, err := NewRedisStore(ctx, RedisOptions{
			Addr: redisOpts.Addr,
			// Each subtest gets its own namespace on the shared server.
			Prefix: fmt.Sprintf("test%d", n),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
