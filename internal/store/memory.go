package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"doc-translator/internal/layout"
	"doc-translator/internal/translator"
)

type pageKey struct {
	jobID string
	page  int
}

// InMemory is a Store kept entirely in process memory.
type InMemory struct {
	mu       sync.RWMutex
	jobs     map[string]*layout.Job
	pages    map[pageKey]layout.Page
	segments map[pageKey][]layout.Segment
	tm       map[string]*translator.TMEntry
	glossary map[string]*translator.GlossaryEntry
	now      func() time.Time
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		jobs:     make(map[string]*layout.Job),
		pages:    make(map[pageKey]layout.Page),
		segments: make(map[pageKey][]layout.Segment),
		tm:       make(map[string]*translator.TMEntry),
		glossary: make(map[string]*translator.GlossaryEntry),
		now:      time.Now,
	}
}

func (s *InMemory) Close() error { return nil }

// CreateJob stores job, assigning an ID when it has none.
func (s *InMemory) CreateJob(_ context.Context, job *layout.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := prepareJob(job, s.now()); err != nil {
		return err
	}
	if _, ok := s.jobs[job.ID]; ok {
		return ErrConflict
	}
	j := cloneJob(*job)
	s.jobs[job.ID] = &j
	return nil
}

func (s *InMemory) GetJob(_ context.Context, id string) (*layout.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	out := cloneJob(*j)
	return &out, nil
}

func (s *InMemory) UpdateJob(_ context.Context, id string, u JobUpdate) (*layout.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	if err := u.checkTransition(j); err != nil {
		return nil, err
	}
	u.Apply(j)
	out := cloneJob(*j)
	return &out, nil
}

func (s *InMemory) ListJobs(_ context.Context, filter JobFilter, page Pagination) ([]layout.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []layout.Job
	for _, j := range s.jobs {
		if matchesFilter(*j, filter) {
			matched = append(matched, cloneJob(*j))
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].CreatedAt.After(matched[b].CreatedAt)
		}
		return matched[a].ID < matched[b].ID
	})
	return paginate(matched, page), len(matched), nil
}

func (s *InMemory) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return notFound("job", id)
	}
	delete(s.jobs, id)
	for k := range s.pages {
		if k.jobID == id {
			delete(s.pages, k)
			delete(s.segments, k)
		}
	}
	return nil
}

func (s *InMemory) SavePage(_ context.Context, page layout.Page, segs []layout.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[page.JobID]; !ok {
		return notFound("job", page.JobID)
	}
	snap := layout.NewPageSnapshot(page, segs)
	k := pageKey{page.JobID, page.Number}
	s.pages[k] = snap.Page
	s.segments[k] = snap.Segments
	return nil
}

func (s *InMemory) ListPages(_ context.Context, jobID string) ([]layout.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []layout.Page
	for k, p := range s.pages {
		if k.jobID == jobID {
			out = append(out, layout.NewPageSnapshot(p, nil).Page)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Number < out[b].Number })
	return out, nil
}

func (s *InMemory) ListSegments(_ context.Context, jobID string) ([]layout.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []layout.Segment
	for k, segs := range s.segments {
		if k.jobID != jobID {
			continue
		}
		for _, seg := range segs {
			out = append(out, seg.Clone())
		}
	}
	sortSegments(out)
	return out, nil
}

func (s *InMemory) UpdateSegment(_ context.Context, seg layout.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segs := s.segments[pageKey{seg.JobID, seg.PageNumber}]
	for i := range segs {
		if segs[i].Index != seg.Index {
			continue
		}
		updated := seg.Clone()
		cur := &segs[i]
		cur.Translation = updated.Translation
		cur.PostEditedText = updated.PostEditedText
		cur.QAFlags = updated.QAFlags
		return nil
	}
	return notFound("segment", seg.Key().String())
}

// AddEntry stores a TM entry, computing its source hash.
func (s *InMemory) AddEntry(_ context.Context, entry *translator.TMEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := prepareEntry(entry, s.now()); err != nil {
		return err
	}
	e := *entry
	s.tm[e.ID] = &e
	return nil
}

// Lookup returns the best entry for hash in the language pair, or nil.
func (s *InMemory) Lookup(_ context.Context, hash, srcLang, tgtLang string) (*translator.TMEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *translator.TMEntry
	for _, e := range s.tm {
		if e.SourceHash != hash || !strings.EqualFold(e.TargetLanguage, tgtLang) {
			continue
		}
		if !translator.AnyLanguage(srcLang) && !strings.EqualFold(e.SourceLanguage, srcLang) {
			continue
		}
		if best == nil || betterEntry(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

// Touch increments an entry's match count and stamps its last use.
func (s *InMemory) Touch(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tm[entryID]
	if !ok {
		return notFound("tm entry", entryID)
	}
	e.MatchCount++
	e.LastUsedAt = s.now()
	return nil
}

func (s *InMemory) ListEntries(_ context.Context) ([]translator.TMEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]translator.TMEntry, 0, len(s.tm))
	for _, e := range s.tm {
		out = append(out, *e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *InMemory) AddGlossaryEntry(_ context.Context, entry *translator.GlossaryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := prepareGlossaryEntry(entry, s.now()); err != nil {
		return err
	}
	e := *entry
	s.glossary[e.ID] = &e
	return nil
}

// Matches implements translator.GlossaryLookup.
func (s *InMemory) Matches(_ context.Context, text, srcLang, tgtLang string) ([]translator.GlossaryMatch, error) {
	s.mu.RLock()
	entries := make([]translator.GlossaryEntry, 0, len(s.glossary))
	for _, e := range s.glossary {
		entries = append(entries, *e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(a, b int) bool { return entries[a].ID < entries[b].ID })
	return translator.FindMatches(translator.FilterEntries(entries, srcLang, tgtLang), text), nil
}

// RecordUsage bumps the usage count of each applied entry.
func (s *InMemory) RecordUsage(_ context.Context, entryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range entryIDs {
		if e, ok := s.glossary[id]; ok {
			e.UsageCount++
		}
	}
	return nil
}

func (s *InMemory) ListGlossary(_ context.Context) ([]translator.GlossaryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]translator.GlossaryEntry, 0, len(s.glossary))
	for _, e := range s.glossary {
		out = append(out, *e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// betterEntry prefers higher quality, then the older entry.
func betterEntry(a, b *translator.TMEntry) bool {
	if a.QualityScore != b.QualityScore {
		return a.QualityScore > b.QualityScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func cloneJob(j layout.Job) layout.Job {
	j.QASummary = copySummary(j.QASummary)
	if j.StartedAt != nil {
		t := *j.StartedAt
		j.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}

func sortSegments(segs []layout.Segment) {
	sort.Slice(segs, func(a, b int) bool {
		if segs[a].PageNumber != segs[b].PageNumber {
			return segs[a].PageNumber < segs[b].PageNumber
		}
		return segs[a].Index < segs[b].Index
	})
}

func paginate(jobs []layout.Job, p Pagination) []layout.Job {
	if p.Offset > len(jobs) {
		return []layout.Job{}
	}
	if p.Offset > 0 {
		jobs = jobs[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(jobs) {
		jobs = jobs[:p.Limit]
	}
	return jobs
}
