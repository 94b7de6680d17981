package translator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

// DefaultTMThreshold is the minimum quality score for a memory match.
const DefaultTMThreshold = 0.75

// TMEntry is one translation memory record.
type TMEntry struct {
	ID             string    `json:"id" yaml:"id"`
	SourceHash     string    `json:"source_hash" yaml:"-"`
	SourceText     string    `json:"source_text" yaml:"source_text"`
	TargetText     string    `json:"target_text" yaml:"target_text"`
	SourceLanguage string    `json:"source_language" yaml:"source_language"`
	TargetLanguage string    `json:"target_language" yaml:"target_language"`
	QualityScore   float64   `json:"quality_score" yaml:"quality_score"`
	Domain         string    `json:"domain,omitempty" yaml:"domain,omitempty"`
	ContextBefore  string    `json:"context_before,omitempty" yaml:"context_before,omitempty"`
	ContextAfter   string    `json:"context_after,omitempty" yaml:"context_after,omitempty"`
	MatchCount     int       `json:"match_count" yaml:"-"`
	LastUsedAt     time.Time `json:"last_used_at,omitempty" yaml:"-"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
}

// TranslationMemory is the TM collaborator. Lookup returns nil without an
// error on a miss. Touch records one use of an entry.
type TranslationMemory interface {
	Lookup(ctx context.Context, hash, srcLang, tgtLang string) (*TMEntry, error)
	Touch(ctx context.Context, entryID string) error
}

// HashSource returns the normalized hash of a source text: SHA-256 over the
// case-folded, trimmed text, hex encoded. Inner whitespace runs collapse to
// one space.
func HashSource(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	// Casers keep state, so each call gets its own.
	sum := sha256.Sum256([]byte(cases.Fold().String(normalized)))
	return hex.EncodeToString(sum[:])
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
