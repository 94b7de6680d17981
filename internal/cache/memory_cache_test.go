package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/translator"
)

// mapClient is an in-process Client.
type mapClient struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
	err  error
}

func newMapClient() *mapClient { return &mapClient{data: make(map[string][]byte)} }

func (m *mapClient) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m *mapClient) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sets++
	m.data[key] = value
	return nil
}

func (m *mapClient) DeleteByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *mapClient) Close() error { return nil }

// countingMemory records lookups and touches.
type countingMemory struct {
	mu      sync.Mutex
	entries map[string]*translator.TMEntry
	lookups int
	touches int
}

func (c *countingMemory) Lookup(_ context.Context, hash, _, _ string) (*translator.TMEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	if e, ok := c.entries[hash]; ok {
		out := *e
		return &out, nil
	}
	return nil, nil
}

func (c *countingMemory) Touch(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touches++
	return nil
}

func newCountingMemory() *countingMemory {
	hash := translator.HashSource("Hello")
	return &countingMemory{entries: map[string]*translator.TMEntry{
		hash: {ID: "e1", SourceHash: hash, SourceText: "Hello", TargetText: "Bonjour", QualityScore: 0.9},
	}}
}

func TestLookupCachesHits(t *testing.T) {
	ctx := context.Background()
	mem := newCountingMemory()
	client := newMapClient()
	c := NewMemoryCache(mem, client, 0)
	hash := translator.HashSource("Hello")

	for i := 0; i < 3; i++ {
		e, err := c.Lookup(ctx, hash, "en", "fr")
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "Bonjour", e.TargetText)
		assert.Equal(t, 0.9, e.QualityScore)
	}
	assert.Equal(t, 1, mem.lookups)
	assert.Equal(t, 1, client.sets)
	assert.Contains(t, client.data, "tm:en:fr:"+hash)
}

func TestLookupDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	mem := newCountingMemory()
	client := newMapClient()
	c := NewMemoryCache(mem, client, time.Minute)

	for i := 0; i < 2; i++ {
		e, err := c.Lookup(ctx, translator.HashSource("unknown"), "en", "fr")
		require.NoError(t, err)
		assert.Nil(t, e)
	}
	assert.Equal(t, 2, mem.lookups)
	assert.Empty(t, client.data)
}

func TestLookupFallsBackWhenCacheFails(t *testing.T) {
	ctx := context.Background()
	mem := newCountingMemory()
	client := newMapClient()
	client.err = errors.New("connection refused")
	c := NewMemoryCache(mem, client, time.Minute)

	e, err := c.Lookup(ctx, translator.HashSource("Hello"), "en", "fr")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "e1", e.ID)
}

func TestLookupDiscardsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	mem := newCountingMemory()
	client := newMapClient()
	hash := translator.HashSource("Hello")
	client.data[tmKey(hash, "en", "fr")] = []byte("{not json")
	c := NewMemoryCache(mem, client, time.Minute)

	e, err := c.Lookup(ctx, hash, "en", "fr")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 1, mem.lookups)
}

func TestTouchPassesThrough(t *testing.T) {
	mem := newCountingMemory()
	c := NewMemoryCache(mem, newMapClient(), time.Minute)
	require.NoError(t, c.Touch(context.Background(), "e1"))
	assert.Equal(t, 1, mem.touches)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	client := newMapClient()
	client.data["tm:en:fr:x"] = []byte("{}")
	client.data["other"] = []byte("{}")
	c := NewMemoryCache(newCountingMemory(), client, time.Minute)

	require.NoError(t, c.Invalidate(ctx))
	assert.NotContains(t, client.data, "tm:en:fr:x")
	assert.Contains(t, client.data, "other")
}

func TestTMKey(t *testing.T) {
	assert.Equal(t, "tm:auto:fr:h", tmKey("h", "", "FR"))
	assert.Equal(t, "tm:auto:fr:h", tmKey("h", "Auto", "fr"))
	assert.Equal(t, "tm:en:de:h", tmKey("h", "EN", "de"))
}
