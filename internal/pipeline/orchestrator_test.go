package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledger "doc-translator/internal/errors"
	"doc-translator/internal/layout"
	"doc-translator/internal/results"
	"doc-translator/internal/store"
	"doc-translator/internal/testutil"
	"doc-translator/internal/translator"
)

// failingProvider rejects every request with the same error.
type failingProvider struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *failingProvider) Name() string { return "failing" }

func (p *failingProvider) Translate(context.Context, string, string, string) (string, *float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return "", nil, p.err
}

// fixedProvider answers every request with the same text.
type fixedProvider struct{ out string }

func (p fixedProvider) Name() string { return "fixed" }

func (p fixedProvider) Translate(context.Context, string, string, string) (string, *float64, error) {
	return p.out, nil, nil
}

type harness struct {
	store    *store.InMemory
	blobs    *results.BlobStore
	failures *ledger.ErrorManager
	orch     *Orchestrator
}

func newHarness(t *testing.T, provider translator.Provider) *harness {
	t.Helper()
	st := store.NewInMemory()
	blobs, err := results.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	failures, err := ledger.NewErrorManager(t.TempDir())
	require.NoError(t, err)

	resolver := translator.NewResolver(st, st, provider, translator.ResolverConfig{TMThreshold: 0.75})
	orch := NewOrchestrator(Dependencies{
		Jobs:     st,
		Segments: st,
		Blobs:    blobs,
		Resolver: resolver,
		Failures: failures,
	}, 4)
	return &harness{store: st, blobs: blobs, failures: failures, orch: orch}
}

// uploadedJob stores doc as the source of a new uploaded job.
func (h *harness) uploadedJob(t *testing.T, doc []byte, src, tgt string) *layout.Job {
	t.Helper()
	ctx := context.Background()
	job := &layout.Job{Filename: "doc.pdf", SourceLanguage: src, TargetLanguage: tgt}
	require.NoError(t, h.store.CreateJob(ctx, job))
	key, err := h.blobs.Write(results.Key(job.ID, results.SourceName), doc)
	require.NoError(t, err)
	to := layout.StateUploaded
	job, err = h.store.UpdateJob(ctx, job.ID, store.JobUpdate{State: &to, SourceKey: &key})
	require.NoError(t, err)
	return job
}

// recorder collects status notifications.
type recorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *recorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) states() []layout.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []layout.State
	for _, s := range r.statuses {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func texts(segs []layout.Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Translation.Text
	}
	return out
}

func TestRunGlossaryThenMachineTranslation(t *testing.T) {
	h := newHarness(t, translator.NewMockProvider())
	ctx := context.Background()
	require.NoError(t, h.store.AddGlossaryEntry(ctx, &translator.GlossaryEntry{
		SourceTerm: "Hello", TargetTerm: "Bonjour",
		SourceLanguage: "en", TargetLanguage: "fr",
		ExactMatchOnly: true, Priority: 1,
	}))
	job := h.uploadedJob(t, testutil.BuildPDF(testutil.TextPage("Hello", "World")), "en", "fr")

	rec := &recorder{}
	h.orch.SetStatusCallback(rec.record)
	require.NoError(t, h.orch.Run(ctx, job.ID))

	segs, err := h.store.ListSegments(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, []string{"Bonjour", "[FR] World"}, texts(segs))
	assert.Equal(t, layout.KindGlossary, segs[0].Translation.Method.Kind())
	assert.Equal(t, layout.KindMachine, segs[1].Translation.Method.Kind())
	for _, seg := range segs {
		assert.False(t, seg.QAFlags.Has(layout.FlagLengthExplosion), "segment %d", seg.Index)
	}

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.StateCompleted, got.State)
	assert.Equal(t, 100.0, got.Progress)
	assert.Equal(t, 1, got.TotalPages)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	require.NotEmpty(t, got.OutputKey)

	out, err := h.blobs.Read(got.OutputKey)
	require.NoError(t, err)
	assert.True(t, len(out) > 0)

	assert.Equal(t, []layout.State{
		layout.StateExtracting, layout.StateTranslating, layout.StateShaping,
		layout.StateBuilding, layout.StateQACheck, layout.StateCompleted,
	}, rec.states())
}

func TestRunOverflowIsNotALengthFlag(t *testing.T) {
	// Both translations overflow their box even wrapped at the minimum size,
	// but neither is more than three times as long as its source.
	tests := []struct {
		source, translation string
	}{
		{"Hi", "Salut!"},
		{"Hello world", "Bonjour tout le monde entier"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			h := newHarness(t, fixedProvider{out: tt.translation})
			ctx := context.Background()
			job := h.uploadedJob(t, testutil.BuildPDF(testutil.TextPage(tt.source)), "en", "fr")

			require.NoError(t, h.orch.Run(ctx, job.ID))

			got, err := h.store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, layout.StateCompleted, got.State)
			assert.Zero(t, got.QASummary[layout.FlagLengthExplosion])

			segs, err := h.store.ListSegments(ctx, job.ID)
			require.NoError(t, err)
			require.Len(t, segs, 1)
			assert.Equal(t, tt.translation, segs[0].Translation.Text)
			assert.False(t, segs[0].QAFlags.Has(layout.FlagLengthExplosion))
		})
	}
}

func TestRunMalformedMatrixFallsBackToOverlay(t *testing.T) {
	h := newHarness(t, translator.NewMockProvider())
	ctx := context.Background()
	page := testutil.TextPage("Hello")
	page.Content = "q 1 0 0 cm Q\n" + page.Content
	job := h.uploadedJob(t, testutil.BuildPDF(page), "en", "fr")

	require.NoError(t, h.orch.Run(ctx, job.ID))

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.StateCompleted, got.State)

	pages, err := h.store.ListPages(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.True(t, pages[0].IsolationFailed)
	assert.Empty(t, pages[0].Background)

	segs, err := h.store.ListSegments(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "[FR] Hello", segs[0].Translation.Text)
	assert.True(t, segs[0].QAFlags.Has(layout.FlagBackgroundIsolationFailed))
}

func TestRunTranslationMemoryMatch(t *testing.T) {
	h := newHarness(t, translator.NewMockProvider())
	ctx := context.Background()
	require.NoError(t, h.store.AddEntry(ctx, &translator.TMEntry{
		SourceText: "thank you", TargetText: "merci",
		SourceLanguage: "en", TargetLanguage: "fr", QualityScore: 0.9,
	}))
	job := h.uploadedJob(t, testutil.BuildPDF(testutil.TextPage("Thank  you")), "en", "fr")

	require.NoError(t, h.orch.Run(ctx, job.ID))

	segs, err := h.store.ListSegments(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "merci", segs[0].Translation.Text)
	score, ok := segs[0].Translation.TMMatchScore()
	require.True(t, ok)
	assert.InDelta(t, 0.9, score, 1e-9)

	entries, err := h.store.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].MatchCount)
}

func TestRunMachineTranslationFallback(t *testing.T) {
	provider := &failingProvider{err: translator.NewTransientError("failing", "timeout", nil)}
	h := newHarness(t, provider)
	ctx := context.Background()
	job := h.uploadedJob(t, testutil.BuildPDF(testutil.TextPage("Good morning")), "en", "de")

	require.NoError(t, h.orch.Run(ctx, job.ID))
	assert.Equal(t, 2, provider.calls)

	segs, err := h.store.ListSegments(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, segs[0].SourceText, segs[0].Translation.Text)
	assert.True(t, segs[0].QAFlags.Has(layout.FlagUntranslatedPlaceholder))
	assert.True(t, segs[0].QAFlags.Has(layout.FlagTranslationFailed))

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.StateCompleted, got.State)
	assert.Equal(t, 1, got.QASummary[layout.FlagUntranslatedPlaceholder])
}

func TestRunCancelAfterFirstPage(t *testing.T) {
	h := newHarness(t, translator.NewMockProvider())
	doc := testutil.BuildPDF(
		testutil.TextPage("Page one"),
		testutil.TextPage("Page two"),
		testutil.TextPage("Page three"),
	)
	job := h.uploadedJob(t, doc, "en", "fr")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.orch.SetStatusCallback(func(s Status) {
		if s.State == layout.StateExtracting && s.CurrentPage == 1 {
			cancel()
		}
	})

	err := h.orch.Run(ctx, job.ID)
	require.ErrorIs(t, err, ErrCancelled)

	bg := context.Background()
	got, err := h.store.GetJob(bg, job.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.StateCancelled, got.State)
	assert.Equal(t, 3, got.TotalPages)

	segs, err := h.store.ListSegments(bg, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	for _, s := range segs {
		assert.Equal(t, 0, s.PageNumber)
	}
	pages, err := h.store.ListPages(bg, job.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	_, recorded := h.failures.GetError(job.ID)
	assert.False(t, recorded)
}

func TestRunPermanentRejectionFailsJob(t *testing.T) {
	provider := &failingProvider{err: translator.NewPermanentError("failing", "unsupported language", "", nil)}
	h := newHarness(t, provider)
	ctx := context.Background()
	job := h.uploadedJob(t, testutil.BuildPDF(testutil.TextPage("Hello", "World")), "en", "xx")

	err := h.orch.Run(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, translator.IsPermanent(err))

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.StateFailed, got.State)
	assert.NotEmpty(t, got.ErrorMessage)

	// extraction output is kept
	segs, err := h.store.ListSegments(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, segs, 2)

	rec, ok := h.failures.GetError(job.ID)
	require.True(t, ok)
	assert.Equal(t, ledger.StageTranslation, rec.Stage)
	assert.Equal(t, string(translator.ErrResolvePermanent), rec.Code)
	assert.False(t, rec.CanRetry)
}

func TestRunInvalidDocumentFailsExtraction(t *testing.T) {
	h := newHarness(t, translator.NewMockProvider())
	job := h.uploadedJob(t, []byte("%PDF-1.4\nnot really a pdf"), "en", "fr")

	require.Error(t, h.orch.Run(context.Background(), job.ID))

	got, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.StateFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "extracting")

	rec, ok := h.failures.GetError(job.ID)
	require.True(t, ok)
	assert.Equal(t, ledger.StageExtraction, rec.Stage)
}

func TestRunRequiresUploadedJob(t *testing.T) {
	h := newHarness(t, translator.NewMockProvider())
	ctx := context.Background()
	job := &layout.Job{Filename: "doc.pdf", TargetLanguage: "fr"}
	require.NoError(t, h.store.CreateJob(ctx, job))

	err := h.orch.Run(ctx, job.ID)
	require.Error(t, err)
	var te *layout.TransitionError
	assert.ErrorAs(t, err, &te)

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.StatePending, got.State)
}

func TestRunProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, translator.NewMockProvider())
	doc := testutil.BuildPDF(
		testutil.TextPage("one", "two", "three", "four"),
		testutil.TextPage("five", "six", "seven", "eight", "nine"),
	)
	job := h.uploadedJob(t, doc, "en", "fr")
	rec := &recorder{}
	h.orch.SetStatusCallback(rec.record)

	require.NoError(t, h.orch.Run(context.Background(), job.ID))

	last := -1.0
	for _, s := range rec.statuses {
		assert.GreaterOrEqual(t, s.Progress, last, "progress went backwards at %s", s.State)
		last = s.Progress
	}
	assert.Equal(t, 100.0, last)
}
