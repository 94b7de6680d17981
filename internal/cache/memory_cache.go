package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"doc-translator/internal/logger"
	"doc-translator/internal/translator"
)

// DefaultTTL is how long a cached TM entry is served before re-reading the store.
const DefaultTTL = 10 * time.Minute

const tmKeyPrefix = "tm:"

// MemoryCache puts a Client in front of a translation memory. Hits are
// cached; misses are not, so newly added entries show up immediately. Any
// cache failure falls back to the underlying memory.
type MemoryCache struct {
	inner  translator.TranslationMemory
	client Client
	ttl    time.Duration
}

// NewMemoryCache wraps inner. A non-positive ttl uses DefaultTTL.
func NewMemoryCache(inner translator.TranslationMemory, client Client, ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{inner: inner, client: client, ttl: ttl}
}

func tmKey(hash, srcLang, tgtLang string) string {
	src := strings.ToLower(srcLang)
	if translator.AnyLanguage(src) {
		src = "auto"
	}
	return tmKeyPrefix + src + ":" + strings.ToLower(tgtLang) + ":" + hash
}

// Lookup implements translator.TranslationMemory.
func (c *MemoryCache) Lookup(ctx context.Context, hash, srcLang, tgtLang string) (*translator.TMEntry, error) {
	key := tmKey(hash, srcLang, tgtLang)

	data, err := c.client.Get(ctx, key)
	switch {
	case err == nil:
		var entry translator.TMEntry
		jerr := json.Unmarshal(data, &entry)
		if jerr == nil {
			return &entry, nil
		}
		logger.Warn("discarding corrupt TM cache entry", logger.String("key", key), logger.Err(jerr))
	case errors.Is(err, ErrCacheMiss):
	default:
		logger.Warn("TM cache unavailable, reading store", logger.Err(err))
	}

	entry, err := c.inner.Lookup(ctx, hash, srcLang, tgtLang)
	if err != nil || entry == nil {
		return entry, err
	}
	if data, err := json.Marshal(entry); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
			logger.Warn("failed to cache TM entry", logger.String("entry_id", entry.ID), logger.Err(err))
		}
	}
	return entry, nil
}

// Touch implements translator.TranslationMemory. Counters live in the store
// only.
func (c *MemoryCache) Touch(ctx context.Context, entryID string) error {
	return c.inner.Touch(ctx, entryID)
}

// Invalidate drops every cached TM entry, e.g. after an import.
func (c *MemoryCache) Invalidate(ctx context.Context) error {
	return c.client.DeleteByPrefix(ctx, tmKeyPrefix)
}
