//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"doc-translator/internal/translator"
)

func TestRedisMemoryCache(t *testing.T) {
	ctx := context.Background()

	container, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewRedisClient(RedisConfig{URL: fmt.Sprintf("redis://%s:%s/0", host, port.Port())})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	_, err = client.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)

	mem := newCountingMemory()
	c := NewMemoryCache(mem, client, time.Minute)
	hash := translator.HashSource("Hello")

	for i := 0; i < 2; i++ {
		e, err := c.Lookup(ctx, hash, "en", "fr")
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "Bonjour", e.TargetText)
	}
	assert.Equal(t, 1, mem.lookups)

	require.NoError(t, c.Invalidate(ctx))
	_, err = client.Get(ctx, tmKey(hash, "en", "fr"))
	assert.ErrorIs(t, err, ErrCacheMiss)
}
