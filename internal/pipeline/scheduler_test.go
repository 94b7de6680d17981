package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/layout"
	"doc-translator/internal/store"
	"doc-translator/internal/types"
)

// blockingRunner runs until its context is cancelled or it is released.
type blockingRunner struct {
	started chan string
	release chan struct{}

	mu   sync.Mutex
	runs []string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 16), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, jobID string) error {
	r.mu.Lock()
	r.runs = append(r.runs, jobID)
	r.mu.Unlock()
	r.started <- jobID
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-r.release:
		return nil
	}
}

func uploaded(t *testing.T, st *store.InMemory) string {
	t.Helper()
	ctx := context.Background()
	job := &layout.Job{Filename: "x.pdf", TargetLanguage: "fr"}
	require.NoError(t, st.CreateJob(ctx, job))
	to := layout.StateUploaded
	_, err := st.UpdateJob(ctx, job.ID, store.JobUpdate{State: &to})
	require.NoError(t, err)
	return job.ID
}

func waitStarted(t *testing.T, r *blockingRunner) string {
	t.Helper()
	select {
	case id := <-r.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
		return ""
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	st := store.NewInMemory()
	runner := newBlockingRunner()
	s := NewScheduler(runner, st, 1, 4)
	s.Start(context.Background())
	defer s.Shutdown(context.Background())

	a, b := uploaded(t, st), uploaded(t, st)
	require.NoError(t, s.Submit(a))
	require.NoError(t, s.Submit(b))
	assert.True(t, types.IsCode(s.Submit(a), types.ErrConflict))

	assert.Equal(t, a, waitStarted(t, runner))
	doneA, doneB := s.Done(a), s.Done(b)
	runner.release <- struct{}{}
	waitDone(t, doneA)

	assert.Equal(t, b, waitStarted(t, runner))
	runner.release <- struct{}{}
	waitDone(t, doneB)
	assert.Nil(t, s.Done(a))
}

func TestSchedulerQueueFull(t *testing.T) {
	st := store.NewInMemory()
	s := NewScheduler(newBlockingRunner(), st, 1, 1)

	require.NoError(t, s.Submit(uploaded(t, st)))
	err := s.Submit(uploaded(t, st))
	assert.True(t, types.IsCode(err, types.ErrConflict))
}

func TestSchedulerCancel(t *testing.T) {
	st := store.NewInMemory()
	runner := newBlockingRunner()
	s := NewScheduler(runner, st, 1, 4)
	s.Start(context.Background())
	defer s.Shutdown(context.Background())
	ctx := context.Background()

	running, queued := uploaded(t, st), uploaded(t, st)
	require.NoError(t, s.Submit(running))
	require.Equal(t, running, waitStarted(t, runner))
	require.NoError(t, s.Submit(queued))

	// queued jobs are cancelled at once
	doneQueued := s.Done(queued)
	require.NoError(t, s.Cancel(ctx, queued))
	waitDone(t, doneQueued)
	job, err := st.GetJob(ctx, queued)
	require.NoError(t, err)
	assert.Equal(t, layout.StateCancelled, job.State)

	// running jobs see their context cancelled
	doneRunning := s.Done(running)
	require.NoError(t, s.Cancel(ctx, running))
	waitDone(t, doneRunning)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{running}, runner.runs)
}

func TestSchedulerShutdown(t *testing.T) {
	st := store.NewInMemory()
	runner := newBlockingRunner()
	s := NewScheduler(runner, st, 1, 4)
	s.Start(context.Background())

	running, queued := uploaded(t, st), uploaded(t, st)
	require.NoError(t, s.Submit(running))
	waitStarted(t, runner)
	require.NoError(t, s.Submit(queued))
	doneQueued := s.Done(queued)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	waitDone(t, doneQueued)

	job, err := st.GetJob(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, layout.StateUploaded, job.State)
	assert.True(t, types.IsCode(s.Submit(queued), types.ErrConflict))
}
