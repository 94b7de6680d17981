package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/config"
	"doc-translator/internal/importer"
	"doc-translator/internal/layout"
	"doc-translator/internal/pipeline"
	"doc-translator/internal/testutil"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Driver = "memory"
	cfg.Storage.DataDir = t.TempDir()
	cfg.Translation.Provider = "mock"
	cfg.Translation.RetryBackoffMS = 1

	a := NewApp()
	require.NoError(t, a.start(context.Background(), cfg, false))
	t.Cleanup(a.shutdown)
	return a
}

func writePDF(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, testutil.BuildPDF(testutil.TextPage(lines...)), 0644))
	return path
}

func TestNewApp(t *testing.T) {
	assert.NotNil(t, NewApp())
}

func TestNewAppWithConfig(t *testing.T) {
	a, err := NewAppWithConfig(filepath.Join(t.TempDir(), "doc-translator.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, a.config)
}

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, "docs/paper.fr.pdf", defaultOutputPath("docs/paper.pdf", "FR"))
	assert.Equal(t, "paper.de.pdf", defaultOutputPath("paper", "de"))
}

func TestAppTranslateFile(t *testing.T) {
	a := newTestApp(t)
	var mu sync.Mutex
	var updates []pipeline.Status
	a.SetStatusCallback(func(s pipeline.Status) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, s)
	})

	job, err := a.TranslateFile(context.Background(), writePDF(t, "Hello World"), "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, layout.StateCompleted, job.State)
	assert.Equal(t, 100.0, job.Progress)
	mu.Lock()
	assert.NotEmpty(t, updates)
	mu.Unlock()
	assert.Equal(t, layout.StateCompleted, a.GetStatus().State)

	out := filepath.Join(t.TempDir(), "out", "paper.fr.pdf")
	require.NoError(t, a.SaveOutput(context.Background(), job.ID, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, len(data) > 0)

	segs, err := a.Service().Segments(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "[FR] Hello World", segs[0].Translation.Text)
}

func TestAppTranslateFileTwiceCreatesNewJob(t *testing.T) {
	a := newTestApp(t)
	path := writePDF(t, "Hello")

	first, err := a.TranslateFile(context.Background(), path, "en", "fr")
	require.NoError(t, err)
	require.Equal(t, layout.StateCompleted, first.State)

	// A completed job is not reused; the same file gets a new job.
	second, err := a.TranslateFile(context.Background(), path, "en", "fr")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, layout.StateCompleted, second.State)
}

func TestAppTranslateFileIgnoresStaleUpload(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	svc := a.Service()

	// An earlier run uploaded a different paper.pdf and never started it.
	stale, err := svc.CreateJob(ctx, "paper.pdf", "en", "fr")
	require.NoError(t, err)
	_, err = svc.Upload(ctx, stale.ID, testutil.BuildPDF(testutil.TextPage("Old text")))
	require.NoError(t, err)

	job, err := a.TranslateFile(ctx, writePDF(t, "New text"), "en", "fr")
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, job.ID)
	assert.Equal(t, layout.StateCompleted, job.State)

	segs, err := svc.Segments(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "[FR] New text", segs[0].Translation.Text)

	left, err := svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.StateUploaded, left.State)
}

func TestAppTranslateFileReusesMatchingUpload(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	svc := a.Service()
	path := writePDF(t, "Same text")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pending, err := svc.CreateJob(ctx, "paper.pdf", "en", "fr")
	require.NoError(t, err)
	_, err = svc.Upload(ctx, pending.ID, data)
	require.NoError(t, err)

	job, err := a.TranslateFile(ctx, path, "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, pending.ID, job.ID)
	assert.Equal(t, layout.StateCompleted, job.State)
}

func TestAppImportGlossary(t *testing.T) {
	a := newTestApp(t)
	file := filepath.Join(t.TempDir(), "glossary.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
- term: World
  translation: Monde
`), 0644))

	n, err := a.ImportGlossary(context.Background(), file, importer.Defaults{SourceLanguage: "en", TargetLanguage: "fr"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := a.TranslateFile(context.Background(), writePDF(t, "Hello World"), "en", "fr")
	require.NoError(t, err)
	segs, err := a.Service().Segments(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, layout.KindGlossary, segs[0].Translation.Method.Kind())
	assert.Equal(t, "Hello Monde", segs[0].Translation.Text)
}

func TestAppImportTM(t *testing.T) {
	a := newTestApp(t)
	file := filepath.Join(t.TempDir(), "tm.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"source": "Good morning", "target": "Bonjour", "quality": 0.9}]`), 0644))

	n, err := a.ImportTM(context.Background(), file, importer.Defaults{SourceLanguage: "en", TargetLanguage: "fr"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := a.TranslateFile(context.Background(), writePDF(t, "Good morning"), "en", "fr")
	require.NoError(t, err)
	segs, err := a.Service().Segments(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "Bonjour", segs[0].Translation.Text)
	assert.Equal(t, layout.KindMemory, segs[0].Translation.Method.Kind())
}

func TestAppImportMissingFile(t *testing.T) {
	a := newTestApp(t)
	_, err := a.ImportTM(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), importer.Defaults{})
	assert.Error(t, err)
}
