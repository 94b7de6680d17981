package pipeline

import (
	"context"
	"sync"

	"doc-translator/internal/layout"
	"doc-translator/internal/logger"
	"doc-translator/internal/store"
	"doc-translator/internal/types"
)

const (
	// DefaultWorkers is the number of jobs processed at once.
	DefaultWorkers = 2
	// DefaultQueueSize is the number of started jobs that may wait for a worker.
	DefaultQueueSize = 64
)

// Runner processes one job.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

type entry struct {
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Scheduler feeds started jobs from a bounded queue to a fixed pool of
// workers. Each worker runs one job at a time; jobs never share state.
type Scheduler struct {
	runner  Runner
	jobs    store.JobStore
	workers int
	queue   chan string

	mu      sync.Mutex
	entries map[string]*entry
	started bool
	stopped bool
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Non-positive sizes use the defaults.
func NewScheduler(runner Runner, jobs store.JobStore, workers, queueSize int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Scheduler{
		runner:  runner,
		jobs:    jobs,
		workers: workers,
		queue:   make(chan string, queueSize),
		entries: make(map[string]*entry),
	}
}

// Start launches the workers. Jobs run under contexts derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.stop = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Info("scheduler started", logger.Int("workers", s.workers), logger.Int("queue_size", cap(s.queue)))
}

// Submit queues a job. It fails when the job is already queued or running,
// when the queue is full, or after Shutdown.
func (s *Scheduler) Submit(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return types.NewAppError(types.ErrConflict, "scheduler is shut down", nil)
	}
	if _, ok := s.entries[jobID]; ok {
		return types.NewAppError(types.ErrConflict, "job is already scheduled: "+jobID, nil)
	}
	select {
	case s.queue <- jobID:
	default:
		return types.NewAppError(types.ErrConflict, "job queue is full", nil)
	}
	s.entries[jobID] = &entry{done: make(chan struct{})}
	return nil
}

// Done returns a channel closed when the job leaves the scheduler. It is nil
// for jobs the scheduler does not know.
func (s *Scheduler) Done(jobID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[jobID]; ok {
		return e.done
	}
	return nil
}

// Cancel requests cancellation. A running job observes it at its next page
// boundary; a queued job is removed and marked cancelled at once; a job the
// scheduler does not hold is marked cancelled directly. Terminal jobs are
// rejected with ErrConflict.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if e, ok := s.entries[jobID]; ok {
		if e.running {
			e.cancel()
			s.mu.Unlock()
			return nil
		}
		delete(s.entries, jobID)
		close(e.done)
	}
	s.mu.Unlock()

	to := layout.StateCancelled
	stage := string(to)
	_, err := s.jobs.UpdateJob(ctx, jobID, store.JobUpdate{State: &to, CurrentStage: &stage})
	if err != nil {
		return err
	}
	logger.Info("job cancelled before running", logger.String("job_id", jobID))
	return nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for the
// workers, or for ctx. Queued jobs stay uploaded and can be started again.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		close(e.done)
		delete(s.entries, id)
	}
	logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) worker(n int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case jobID := <-s.queue:
			s.runOne(n, jobID)
		}
	}
}

func (s *Scheduler) runOne(worker int, jobID string) {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	if !ok || s.stopped {
		// Cancelled while queued, or left for Shutdown to release.
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	e.running = true
	e.cancel = cancel
	s.mu.Unlock()

	log := logger.With(logger.String("job_id", jobID), logger.Int("worker", worker))
	log.Debug("job picked up")
	err := s.runner.Run(ctx, jobID)
	cancel()

	switch {
	case err == nil:
	case err == ErrCancelled:
		log.Debug("job run ended by cancellation")
	default:
		log.Warn("job run ended with error", logger.Err(err))
	}

	s.mu.Lock()
	if s.entries[jobID] == e {
		delete(s.entries, jobID)
	}
	s.mu.Unlock()
	close(e.done)
}
