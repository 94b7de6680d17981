package translator

import (
	"context"
	"strings"
	"time"

	"doc-translator/internal/layout"
	"doc-translator/internal/logger"
)

// DefaultRetryBackoff is the pause before the single MT retry.
const DefaultRetryBackoff = 500 * time.Millisecond

// ResolverConfig tunes the resolver.
type ResolverConfig struct {
	// TMThreshold is the minimum quality for a memory match.
	TMThreshold  float64
	RetryBackoff time.Duration
}

// Resolver decides each segment's translation: glossary override first,
// then a translation memory match, then machine translation with one retry
// and an untranslated fallback.
//
// Resolve is safe for concurrent use.
type Resolver struct {
	glossary GlossaryLookup
	memory   TranslationMemory
	provider Provider
	cfg      ResolverConfig
	touches  *keyedMutex
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a resolver. glossary and memory may be nil.
func NewResolver(glossary GlossaryLookup, memory TranslationMemory, provider Provider, cfg ResolverConfig) *Resolver {
	if cfg.TMThreshold <= 0 || cfg.TMThreshold > 1 {
		cfg.TMThreshold = DefaultTMThreshold
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if provider == nil {
		provider = NewMockProvider()
	}
	return &Resolver{
		glossary: glossary,
		memory:   memory,
		provider: provider,
		cfg:      cfg,
		touches:  newKeyedMutex(),
		sleep:    sleepContext,
	}
}

// Resolve returns the translation of seg.SourceText. Only a permanent
// provider rejection is returned as an error; lookup failures and
// exhausted retries degrade to the next step.
func (r *Resolver) Resolve(ctx context.Context, seg layout.Segment, srcLang, tgtLang string) (layout.Translation, error) {
	source := seg.SourceText
	if strings.TrimSpace(source) == "" {
		return layout.Translation{
			Text:       source,
			Confidence: 1,
			Method:     layout.MachineTranslation{Provider: r.provider.Name()},
		}, nil
	}
	log := logger.With(
		logger.String("job_id", seg.JobID),
		logger.Int("page", seg.PageNumber),
		logger.Int("segment", seg.Index))

	if tr, ok := r.fromGlossary(ctx, log, source, srcLang, tgtLang); ok {
		return tr, nil
	}
	if tr, ok := r.fromMemory(ctx, log, source, srcLang, tgtLang); ok {
		return tr, nil
	}
	return r.fromProvider(ctx, log, source, srcLang, tgtLang)
}

func (r *Resolver) fromGlossary(ctx context.Context, log logger.Logger, source, srcLang, tgtLang string) (layout.Translation, bool) {
	if r.glossary == nil {
		return layout.Translation{}, false
	}
	matches, err := r.glossary.Matches(ctx, source, srcLang, tgtLang)
	if err != nil {
		log.Warn("glossary lookup failed", logger.Err(err))
		return layout.Translation{}, false
	}
	selected := SelectMatches(matches)
	if len(selected) == 0 {
		return layout.Translation{}, false
	}

	text, terms := ApplyMatches(source, selected)
	if rec, ok := r.glossary.(GlossaryUsageRecorder); ok {
		ids := make([]string, 0, len(selected))
		for _, m := range selected {
			if m.EntryID != "" {
				ids = append(ids, m.EntryID)
			}
		}
		if err := rec.RecordUsage(ctx, ids); err != nil {
			log.Warn("failed to record glossary usage", logger.Err(err))
		}
	}
	log.Debug("glossary override applied", logger.Int("terms", len(terms)))
	return layout.Translation{
		Text:       text,
		Confidence: 1,
		Method:     layout.GlossaryOverride{Terms: terms},
	}, true
}

func (r *Resolver) fromMemory(ctx context.Context, log logger.Logger, source, srcLang, tgtLang string) (layout.Translation, bool) {
	if r.memory == nil {
		return layout.Translation{}, false
	}
	entry, err := r.memory.Lookup(ctx, HashSource(source), srcLang, tgtLang)
	if err != nil {
		log.Warn("translation memory lookup failed", logger.Err(err))
		return layout.Translation{}, false
	}
	if entry == nil || entry.QualityScore < r.cfg.TMThreshold {
		return layout.Translation{}, false
	}

	unlock := r.touches.Lock(entry.ID)
	err = r.memory.Touch(ctx, entry.ID)
	unlock()
	if err != nil {
		log.Warn("failed to touch translation memory entry", logger.String("entry_id", entry.ID), logger.Err(err))
	}

	score := clamp01(entry.QualityScore)
	return layout.Translation{
		Text:       entry.TargetText,
		Confidence: score,
		Method:     layout.MemoryMatch{EntryID: entry.ID, MatchScore: score},
	}, true
}

func (r *Resolver) fromProvider(ctx context.Context, log logger.Logger, source, srcLang, tgtLang string) (layout.Translation, error) {
	name := r.provider.Name()
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			log.Warn("retrying machine translation", logger.Err(lastErr))
			if err := r.sleep(ctx, r.cfg.RetryBackoff); err != nil {
				lastErr = err
				break
			}
		}

		text, confidence, err := r.provider.Translate(ctx, source, srcLang, tgtLang)
		if err == nil {
			c := DefaultConfidence
			if confidence != nil {
				c = clamp01(*confidence)
			}
			return layout.Translation{
				Text:       text,
				Confidence: c,
				Method:     layout.MachineTranslation{Provider: name},
			}, nil
		}
		if !IsTransient(err) {
			return layout.Translation{}, err
		}
		lastErr = err
	}

	log.Warn("machine translation failed, keeping source text", logger.Err(lastErr))
	return layout.Translation{
		Text:       source,
		Confidence: 0,
		Method:     layout.MachineTranslation{Provider: name, Failed: true},
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
