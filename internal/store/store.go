// Package store persists jobs, pages, segments, translation memory and
// glossary entries. MemoryStore keeps everything in process; SQLStore uses
// sqlite or postgres.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"doc-translator/internal/layout"
	"doc-translator/internal/translator"
	"doc-translator/internal/types"
)

// Common errors
var (
	ErrNotFound = types.NewAppError(types.ErrNotFound, "record not found", nil)
	ErrConflict = types.NewAppError(types.ErrConflict, "record conflict", nil)
)

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	States   []layout.State
	Filename string
}

// Pagination selects a window of results. Limit ≤ 0 means no limit.
type Pagination struct {
	Offset int
	Limit  int
}

// JobUpdate is a partial job update; nil fields are left untouched.
type JobUpdate struct {
	State          *layout.State
	CurrentStage   *string
	CurrentPage    *int
	TotalPages     *int
	Progress       *float64
	ErrorMessage   *string
	SourceKey      *string
	FileSize       *int64
	OutputKey      *string
	QASummary      map[layout.Flag]int
	ProcessingTime *time.Duration
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Apply writes the set fields onto job.
func (u JobUpdate) Apply(job *layout.Job) {
	if u.State != nil {
		job.State = *u.State
	}
	if u.CurrentStage != nil {
		job.CurrentStage = *u.CurrentStage
	}
	if u.CurrentPage != nil {
		job.CurrentPage = *u.CurrentPage
	}
	if u.TotalPages != nil {
		job.TotalPages = *u.TotalPages
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = *u.ErrorMessage
	}
	if u.SourceKey != nil {
		job.SourceKey = *u.SourceKey
	}
	if u.FileSize != nil {
		job.FileSize = *u.FileSize
	}
	if u.OutputKey != nil {
		job.OutputKey = *u.OutputKey
	}
	if u.QASummary != nil {
		job.QASummary = copySummary(u.QASummary)
	}
	if u.ProcessingTime != nil {
		job.ProcessingTime = *u.ProcessingTime
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		job.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		job.CompletedAt = &t
	}
}

// checkTransition rejects state changes the lifecycle does not allow.
// Writing the current state again is a no-op and allowed.
func (u JobUpdate) checkTransition(job *layout.Job) error {
	if u.State == nil || *u.State == job.State {
		return nil
	}
	if !layout.CanTransition(job.State, *u.State) {
		return types.NewAppError(types.ErrConflict, "state change rejected",
			&layout.TransitionError{JobID: job.ID, From: job.State, To: *u.State})
	}
	return nil
}

// JobStore persists jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *layout.Job) error
	GetJob(ctx context.Context, id string) (*layout.Job, error)
	// UpdateJob applies u atomically and returns the updated job. A state
	// change not allowed from the stored state fails with ErrConflict.
	UpdateJob(ctx context.Context, id string, u JobUpdate) (*layout.Job, error)
	// ListJobs returns one page of matching jobs, newest first, and the
	// total number of matches.
	ListJobs(ctx context.Context, filter JobFilter, page Pagination) ([]layout.Job, int, error)
	// DeleteJob removes the job with its pages and segments.
	DeleteJob(ctx context.Context, id string) error
}

// SegmentStore persists extracted pages and their segments.
type SegmentStore interface {
	// SavePage stores page and replaces its segments.
	SavePage(ctx context.Context, page layout.Page, segs []layout.Segment) error
	ListPages(ctx context.Context, jobID string) ([]layout.Page, error)
	// ListSegments returns the job's segments ordered by page then index.
	ListSegments(ctx context.Context, jobID string) ([]layout.Segment, error)
	// UpdateSegment writes the translation, post-edit and flags of seg.
	UpdateSegment(ctx context.Context, seg layout.Segment) error
}

// MemoryStore is the translation memory with management operations.
type MemoryStore interface {
	translator.TranslationMemory
	AddEntry(ctx context.Context, entry *translator.TMEntry) error
	ListEntries(ctx context.Context) ([]translator.TMEntry, error)
}

// GlossaryStore is the glossary with management operations.
type GlossaryStore interface {
	translator.GlossaryLookup
	translator.GlossaryUsageRecorder
	AddGlossaryEntry(ctx context.Context, entry *translator.GlossaryEntry) error
	ListGlossary(ctx context.Context) ([]translator.GlossaryEntry, error)
}

// Store bundles every persistence concern.
type Store interface {
	JobStore
	SegmentStore
	MemoryStore
	GlossaryStore
	Close() error
}

// prepareEntry fills an entry's identity and defaults before insertion.
func prepareEntry(e *translator.TMEntry, now time.Time) error {
	if strings.TrimSpace(e.SourceText) == "" || e.TargetLanguage == "" {
		return types.NewAppError(types.ErrInvalidInput, "TM entry needs source text and target language", nil)
	}
	if e.ID == "" {
		e.ID = newID()
	}
	e.SourceHash = translator.HashSource(e.SourceText)
	e.SourceLanguage = normalizeLang(e.SourceLanguage)
	e.TargetLanguage = normalizeLang(e.TargetLanguage)
	if e.QualityScore <= 0 {
		e.QualityScore = 1.0
	}
	if e.QualityScore > 1 {
		return types.NewAppErrorWithDetails(types.ErrInvalidInput, "quality score out of range",
			fmt.Sprintf("%v", e.QualityScore), nil)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return nil
}

func prepareGlossaryEntry(e *translator.GlossaryEntry, now time.Time) error {
	if e.SourceTerm == "" || e.TargetLanguage == "" {
		return types.NewAppError(types.ErrInvalidInput, "glossary entry needs a source term and target language", nil)
	}
	if e.ID == "" {
		e.ID = newID()
	}
	e.SourceLanguage = normalizeLang(e.SourceLanguage)
	e.TargetLanguage = normalizeLang(e.TargetLanguage)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return nil
}

func prepareJob(job *layout.Job, now time.Time) error {
	if job.TargetLanguage == "" {
		return types.NewAppError(types.ErrInvalidInput, "target language is required", nil)
	}
	if job.ID == "" {
		job.ID = newID()
	}
	if job.State == "" {
		job.State = layout.StatePending
	}
	if job.SourceLanguage == "" {
		job.SourceLanguage = layout.AutoLanguage
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	return nil
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

func matchesFilter(job layout.Job, f JobFilter) bool {
	if f.Filename != "" && job.Filename != f.Filename {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if job.State == s {
			return true
		}
	}
	return false
}

func copySummary(m map[layout.Flag]int) map[layout.Flag]int {
	if m == nil {
		return nil
	}
	out := make(map[layout.Flag]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
