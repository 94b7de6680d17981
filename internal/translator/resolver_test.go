package translator

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/layout"
)

// fakeMemory is a TM keyed by (hash, src, tgt) whose Touch is a deliberate
// read-modify-write so lost updates show up under concurrency.
type fakeMemory struct {
	entries map[string]*TMEntry
	counts  map[string]int
	lookErr error
}

func newFakeMemory(entries ...TMEntry) *fakeMemory {
	m := &fakeMemory{entries: map[string]*TMEntry{}, counts: map[string]int{}}
	for i := range entries {
		e := entries[i]
		e.SourceHash = HashSource(e.SourceText)
		m.entries[e.SourceHash+"|"+e.SourceLanguage+"|"+e.TargetLanguage] = &e
	}
	return m
}

func (m *fakeMemory) Lookup(_ context.Context, hash, src, tgt string) (*TMEntry, error) {
	if m.lookErr != nil {
		return nil, m.lookErr
	}
	e, ok := m.entries[hash+"|"+src+"|"+tgt]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *fakeMemory) Touch(_ context.Context, id string) error {
	c := m.counts[id]
	runtime.Gosched()
	m.counts[id] = c + 1
	return nil
}

// scriptedProvider returns queued results in order, then succeeds.
type scriptedProvider struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Translate(_ context.Context, text, _, tgt string) (string, *float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return "", nil, err
		}
	}
	return tgt + ":" + text, nil, nil
}

func seg(text string) layout.Segment {
	return layout.Segment{JobID: "job", PageNumber: 0, Index: 0, SourceText: text, FontSize: 12}
}

func noSleep(r *Resolver) *[]time.Duration {
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return &slept
}

func TestResolveGlossaryThenMachine(t *testing.T) {
	glossary := NewStaticGlossary(GlossaryEntry{
		ID: "g1", SourceTerm: "Hello", TargetTerm: "Bonjour",
		SourceLanguage: "en", TargetLanguage: "fr", ExactMatchOnly: true, Priority: 1,
	})
	r := NewResolver(glossary, newFakeMemory(), NewMockProvider(), ResolverConfig{})
	ctx := context.Background()

	tr, err := r.Resolve(ctx, seg("Hello"), "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", tr.Text)
	assert.Equal(t, layout.KindGlossary, tr.Method.Kind())
	assert.Equal(t, 1.0, tr.Confidence)
	assert.Equal(t, layout.GlossaryOverride{Terms: []string{"Hello"}}, tr.Method)

	tr, err = r.Resolve(ctx, seg("World"), "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "[FR] World", tr.Text)
	assert.Equal(t, layout.KindMachine, tr.Method.Kind())
	assert.Equal(t, 0.95, tr.Confidence)
}

func TestResolveGlossarySubstitutesSpansOnly(t *testing.T) {
	glossary := NewStaticGlossary(
		GlossaryEntry{ID: "a", SourceTerm: "machine", TargetTerm: "machine-FR", TargetLanguage: "fr", SourceLanguage: "en", Priority: 1, ExactMatchOnly: true},
		GlossaryEntry{ID: "b", SourceTerm: "machine learning", TargetTerm: "apprentissage automatique", TargetLanguage: "fr", SourceLanguage: "en", Priority: 1, ExactMatchOnly: true},
		GlossaryEntry{ID: "c", SourceTerm: "model", TargetTerm: "modèle", TargetLanguage: "fr", SourceLanguage: "en", Priority: 1, ExactMatchOnly: true},
	)
	r := NewResolver(glossary, nil, NewMockProvider(), ResolverConfig{})

	tr, err := r.Resolve(context.Background(), seg("A machine learning model for models"), "en", "fr")
	require.NoError(t, err)
	// Longest term wins the overlap; "models" is not a whole-word match.
	assert.Equal(t, "A apprentissage automatique modèle for models", tr.Text)
	assert.Equal(t, layout.GlossaryOverride{Terms: []string{"machine learning", "model"}}, tr.Method)
}

func TestResolveTranslationMemory(t *testing.T) {
	mem := newFakeMemory(TMEntry{ID: "tm-1", SourceText: "thank you", TargetText: "merci", SourceLanguage: "en", TargetLanguage: "fr", QualityScore: 0.9})
	r := NewResolver(nil, mem, NewMockProvider(), ResolverConfig{TMThreshold: 0.75})

	tr, err := r.Resolve(context.Background(), seg("  Thank   You "), "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "merci", tr.Text)
	assert.Equal(t, 0.9, tr.Confidence)
	score, ok := tr.TMMatchScore()
	require.True(t, ok)
	assert.Equal(t, 0.9, score)
	assert.Equal(t, 1, mem.counts["tm-1"])
}

func TestResolveTranslationMemoryBelowThreshold(t *testing.T) {
	mem := newFakeMemory(TMEntry{ID: "tm-1", SourceText: "thank you", TargetText: "merci", SourceLanguage: "en", TargetLanguage: "fr", QualityScore: 0.5})
	r := NewResolver(nil, mem, NewMockProvider(), ResolverConfig{TMThreshold: 0.75})

	tr, err := r.Resolve(context.Background(), seg("thank you"), "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, layout.KindMachine, tr.Method.Kind())
	assert.Zero(t, mem.counts["tm-1"])
}

func TestResolveGlossaryBeatsMemory(t *testing.T) {
	glossary := NewStaticGlossary(GlossaryEntry{SourceTerm: "thank you", TargetTerm: "grand merci", TargetLanguage: "fr", SourceLanguage: "en"})
	mem := newFakeMemory(TMEntry{ID: "tm-1", SourceText: "thank you", TargetText: "merci", SourceLanguage: "en", TargetLanguage: "fr", QualityScore: 1})
	r := NewResolver(glossary, mem, NewMockProvider(), ResolverConfig{})

	tr, err := r.Resolve(context.Background(), seg("thank you"), "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "grand merci", tr.Text)
}

func TestResolveMemoryErrorFallsThrough(t *testing.T) {
	mem := newFakeMemory()
	mem.lookErr = errors.New("db down")
	r := NewResolver(nil, mem, NewMockProvider(), ResolverConfig{})

	tr, err := r.Resolve(context.Background(), seg("Hi"), "en", "de")
	require.NoError(t, err)
	assert.Equal(t, "[DE] Hi", tr.Text)
}

func TestResolveEmptySource(t *testing.T) {
	p := &scriptedProvider{}
	r := NewResolver(nil, nil, p, ResolverConfig{})
	tr, err := r.Resolve(context.Background(), seg("   "), "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "   ", tr.Text)
	assert.Equal(t, 1.0, tr.Confidence)
	assert.Equal(t, layout.KindMachine, tr.Method.Kind())
	assert.Zero(t, p.calls)
}

func TestResolveRetriesOnceThenFallsBack(t *testing.T) {
	transient := NewTransientError("scripted", "server error", nil)

	t.Run("second attempt succeeds", func(t *testing.T) {
		p := &scriptedProvider{errs: []error{transient}}
		r := NewResolver(nil, nil, p, ResolverConfig{RetryBackoff: 250 * time.Millisecond})
		slept := noSleep(r)

		tr, err := r.Resolve(context.Background(), seg("Hi"), "en", "fr")
		require.NoError(t, err)
		assert.Equal(t, "fr:Hi", tr.Text)
		assert.Equal(t, DefaultConfidence, tr.Confidence)
		assert.Equal(t, 2, p.calls)
		assert.Equal(t, []time.Duration{250 * time.Millisecond}, *slept)
	})

	t.Run("two failures keep the source", func(t *testing.T) {
		p := &scriptedProvider{errs: []error{transient, errors.New("connection reset")}}
		r := NewResolver(nil, nil, p, ResolverConfig{})
		noSleep(r)

		tr, err := r.Resolve(context.Background(), seg("Hello there"), "en", "fr")
		require.NoError(t, err)
		assert.Equal(t, "Hello there", tr.Text)
		assert.Equal(t, layout.MachineTranslation{Provider: "scripted", Failed: true}, tr.Method)
		assert.Equal(t, 2, p.calls, "exactly one retry")
	})

	t.Run("permanent error is returned", func(t *testing.T) {
		p := &scriptedProvider{errs: []error{NewPermanentError("scripted", "unsupported language pair", "xx-yy", nil)}}
		r := NewResolver(nil, nil, p, ResolverConfig{})
		noSleep(r)

		_, err := r.Resolve(context.Background(), seg("Hi"), "xx", "yy")
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
		assert.Equal(t, 1, p.calls)
	})
}

func TestResolveIsDeterministic(t *testing.T) {
	glossary := NewStaticGlossary(GlossaryEntry{SourceTerm: "cat", TargetTerm: "chat", TargetLanguage: "fr", SourceLanguage: "en", ExactMatchOnly: true})
	r := NewResolver(glossary, newFakeMemory(), NewMockProvider(), ResolverConfig{})
	for _, text := range []string{"the cat", "a dog", "category"} {
		first, err := r.Resolve(context.Background(), seg(text), "en", "fr")
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			again, err := r.Resolve(context.Background(), seg(text), "en", "fr")
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	}
}

func TestResolveSerializesTouches(t *testing.T) {
	mem := newFakeMemory(TMEntry{ID: "tm-1", SourceText: "ok", TargetText: "d'accord", SourceLanguage: "en", TargetLanguage: "fr", QualityScore: 1})
	r := NewResolver(nil, mem, NewMockProvider(), ResolverConfig{})

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), seg("OK"), "en", "fr")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, n, mem.counts["tm-1"])
	assert.Empty(t, r.touches.locks)
}
