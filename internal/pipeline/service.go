package pipeline

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"

	ledger "doc-translator/internal/errors"
	"doc-translator/internal/layout"
	"doc-translator/internal/logger"
	"doc-translator/internal/pdf"
	"doc-translator/internal/results"
	"doc-translator/internal/store"
	"doc-translator/internal/types"
)

// DefaultMaxFileSize is the upload limit when none is configured.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

var pdfMagic = []byte("%PDF-")

// JobBlobs is the blob storage a Service needs.
type JobBlobs interface {
	BlobStore
	DeleteJob(jobID string) error
}

// ServiceDeps are the collaborators of a Service. Resolver is required;
// Failures may be nil.
type ServiceDeps struct {
	Jobs      store.JobStore
	Segments  store.SegmentStore
	Blobs     JobBlobs
	Resolver  SegmentResolver
	QA        QAChecker
	Assembler *pdf.Assembler
	Failures  *ledger.ErrorManager
}

// Service is the job API: it creates and uploads jobs, hands started jobs
// to the scheduler and exposes their results.
type Service struct {
	jobs        store.JobStore
	segments    store.SegmentStore
	blobs       JobBlobs
	failures    *ledger.ErrorManager
	assembler   *pdf.Assembler
	orch        *Orchestrator
	sched       *Scheduler
	maxFileSize int64
}

// NewService wires an orchestrator and a scheduler around deps.
func NewService(deps ServiceDeps, cfg types.PipelineConfig) *Service {
	if deps.Assembler == nil {
		deps.Assembler = pdf.NewAssembler(nil)
	}
	od := Dependencies{
		Jobs:      deps.Jobs,
		Segments:  deps.Segments,
		Blobs:     deps.Blobs,
		Resolver:  deps.Resolver,
		QA:        deps.QA,
		Assembler: deps.Assembler,
	}
	if deps.Failures != nil {
		od.Failures = deps.Failures
	}
	orch := NewOrchestrator(od, cfg.SegmentConcurrency)

	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Service{
		jobs:        deps.Jobs,
		segments:    deps.Segments,
		blobs:       deps.Blobs,
		failures:    deps.Failures,
		assembler:   deps.Assembler,
		orch:        orch,
		sched:       NewScheduler(orch, deps.Jobs, cfg.Workers, cfg.QueueSize),
		maxFileSize: maxSize,
	}
}

// Run starts the worker pool.
func (s *Service) Run(ctx context.Context) {
	s.sched.Start(ctx)
}

// Shutdown stops the worker pool; see Scheduler.Shutdown.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.sched.Shutdown(ctx)
}

// SetStatusCallback forwards progress notifications to cb.
func (s *Service) SetStatusCallback(cb StatusCallback) {
	s.orch.SetStatusCallback(cb)
}

// CreateJob creates a pending job. While a job for the same file and
// language pair is still pending or uploaded, that job is returned instead.
func (s *Service) CreateJob(ctx context.Context, filename, srcLang, tgtLang string) (*layout.Job, error) {
	return s.createJob(ctx, filename, srcLang, tgtLang, nil)
}

// CreateJobForSource is CreateJob for a caller that already holds the
// document. An uploaded job is only reused when its stored source has the
// same checksum as data; a pending job is always reusable.
func (s *Service) CreateJobForSource(ctx context.Context, filename, srcLang, tgtLang string, data []byte) (*layout.Job, error) {
	sum := results.Checksum(data)
	return s.createJob(ctx, filename, srcLang, tgtLang, func(j layout.Job) bool {
		if j.State != layout.StateUploaded {
			return true
		}
		stored, err := s.blobs.Read(j.SourceKey)
		if err != nil {
			logger.Warn("cannot read stored source", logger.String("job_id", j.ID), logger.Err(err))
			return false
		}
		return results.Checksum(stored) == sum
	})
}

func (s *Service) createJob(ctx context.Context, filename, srcLang, tgtLang string, reusable func(layout.Job) bool) (*layout.Job, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, types.NewAppError(types.ErrInvalidInput, "filename is required", nil)
	}
	srcLang, tgtLang = normalizeLanguage(srcLang), normalizeLanguage(tgtLang)
	if tgtLang == "" || tgtLang == layout.AutoLanguage {
		return nil, types.NewAppError(types.ErrInvalidInput, "target language is required", nil)
	}
	if srcLang == "" {
		srcLang = layout.AutoLanguage
	}

	existing, _, err := s.jobs.ListJobs(ctx, store.JobFilter{
		States:   []layout.State{layout.StatePending, layout.StateUploaded},
		Filename: filename,
	}, store.Pagination{})
	if err != nil {
		return nil, err
	}
	for i := range existing {
		j := existing[i]
		if j.SourceLang() != srcLang || j.TargetLanguage != tgtLang {
			continue
		}
		if reusable == nil || reusable(j) {
			logger.Debug("reusing job", logger.String("job_id", j.ID), logger.String("filename", filename))
			return &j, nil
		}
	}

	job := &layout.Job{Filename: filename, SourceLanguage: srcLang, TargetLanguage: tgtLang}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	logger.Info("job created",
		logger.String("job_id", job.ID),
		logger.String("filename", filename),
		logger.String("source_language", srcLang),
		logger.String("target_language", tgtLang))
	return job, nil
}

// Upload stores the job's source document and moves it to uploaded.
func (s *Service) Upload(ctx context.Context, jobID string, data []byte) (*layout.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != layout.StatePending {
		return nil, types.NewAppError(types.ErrConflict, "job does not accept uploads",
			&layout.TransitionError{JobID: jobID, From: job.State, To: layout.StateUploaded})
	}
	switch {
	case len(data) == 0:
		return nil, types.NewAppError(types.ErrInvalidInput, "file is empty", nil)
	case int64(len(data)) > s.maxFileSize:
		return nil, types.NewAppError(types.ErrInvalidInput, "file is too large", nil)
	case !bytes.HasPrefix(data, pdfMagic):
		return nil, types.NewAppError(types.ErrInvalidInput, "file is not a PDF document", nil)
	}

	key, err := s.blobs.Write(results.Key(jobID, results.SourceName), data)
	if err != nil {
		return nil, err
	}
	to := layout.StateUploaded
	stage := string(to)
	size := int64(len(data))
	job, err = s.jobs.UpdateJob(ctx, jobID, store.JobUpdate{State: &to, CurrentStage: &stage, SourceKey: &key, FileSize: &size})
	if err != nil {
		return nil, err
	}
	logger.Info("source uploaded",
		logger.String("job_id", jobID),
		logger.Int64("file_size", size),
		logger.String("md5", results.Checksum(data)))
	return job, nil
}

// Start queues an uploaded job for processing.
func (s *Service) Start(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != layout.StateUploaded {
		return types.NewAppError(types.ErrConflict, "job cannot be started",
			&layout.TransitionError{JobID: jobID, From: job.State, To: layout.StateExtracting})
	}
	if err := s.sched.Submit(jobID); err != nil {
		return err
	}
	logger.Info("job queued", logger.String("job_id", jobID))
	return nil
}

// Cancel cancels a job and waits until it has stopped. A running job that
// finishes before reaching a cancellation point is reported as a conflict.
func (s *Service) Cancel(ctx context.Context, jobID string) (*layout.Job, error) {
	done := s.sched.Done(jobID)
	if err := s.sched.Cancel(ctx, jobID); err != nil {
		return nil, err
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != layout.StateCancelled {
		return job, types.NewAppError(types.ErrConflict, "job finished before it could be cancelled",
			&layout.TransitionError{JobID: jobID, From: job.State, To: layout.StateCancelled})
	}
	return job, nil
}

// Delete removes a job with its pages, segments, documents and failure
// record. An active job is cancelled first.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.State.IsTerminal() {
		if _, err := s.Cancel(ctx, jobID); err != nil && !types.IsCode(err, types.ErrConflict) {
			return err
		}
	}
	if err := s.jobs.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.blobs.DeleteJob(jobID); err != nil {
		return err
	}
	if s.failures != nil {
		if err := s.failures.RemoveError(jobID); err != nil {
			logger.Warn("failed to remove failure record", logger.String("job_id", jobID), logger.Err(err))
		}
	}
	logger.Info("job deleted", logger.String("job_id", jobID))
	return nil
}

// Get returns a job.
func (s *Service) Get(ctx context.Context, jobID string) (*layout.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// List returns one page of jobs and the total number of matches.
func (s *Service) List(ctx context.Context, filter store.JobFilter, page store.Pagination) ([]layout.Job, int, error) {
	return s.jobs.ListJobs(ctx, filter, page)
}

// Segments returns a job's segments ordered by page and index.
func (s *Service) Segments(ctx context.Context, jobID string) ([]layout.Segment, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.segments.ListSegments(ctx, jobID)
}

// Wait blocks until the job leaves the scheduler and returns its final row.
func (s *Service) Wait(ctx context.Context, jobID string) (*layout.Job, error) {
	if done := s.sched.Done(jobID); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.jobs.GetJob(ctx, jobID)
}

// PostEdit stores a human override for one segment; an empty text clears
// it. Segments of a job that is being processed cannot be edited.
func (s *Service) PostEdit(ctx context.Context, jobID string, page, index int, text string) (*layout.Segment, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if active(job.State) {
		return nil, types.NewAppError(types.ErrConflict, "job is being processed", nil)
	}
	seg, err := s.findSegment(ctx, jobID, page, index)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		seg.PostEditedText = nil
	} else {
		seg.PostEditedText = &text
	}
	if err := s.segments.UpdateSegment(ctx, *seg); err != nil {
		return nil, err
	}
	logger.Info("segment post-edited", logger.String("job_id", jobID), logger.Int("page", page), logger.Int("segment", index),
		logger.Bool("cleared", seg.PostEditedText == nil))
	return seg, nil
}

func (s *Service) findSegment(ctx context.Context, jobID string, page, index int) (*layout.Segment, error) {
	segs, err := s.segments.ListSegments(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for i := range segs {
		if segs[i].PageNumber == page && segs[i].Index == index {
			return &segs[i], nil
		}
	}
	key := layout.SegmentKey{JobID: jobID, PageNumber: page, Index: index}
	return nil, types.NewAppError(types.ErrNotFound, "segment not found: "+key.String(), store.ErrNotFound)
}

// Rebuild renders a completed job's output again from its stored pages and
// segments, picking up post-edits. The job row is left as it is.
func (s *Service) Rebuild(ctx context.Context, jobID string) (string, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.State != layout.StateCompleted {
		return "", types.NewAppError(types.ErrConflict, "only completed jobs can be rebuilt", nil)
	}
	source, err := s.blobs.Read(job.SourceKey)
	if err != nil {
		return "", err
	}
	snapshots, err := s.snapshots(ctx, jobID)
	if err != nil {
		return "", err
	}

	result, err := s.assembler.Assemble(ctx, jobID, source, s.assembler.PlanPages(snapshots))
	if err != nil {
		return "", err
	}
	key, err := s.blobs.Write(results.Key(jobID, results.OutputName), result.Data)
	if err != nil {
		return "", err
	}
	logger.Info("job output rebuilt", logger.String("job_id", jobID), logger.Int("overflowed", len(result.Overflowed)))
	return key, nil
}

// snapshots loads a job's pages with their segments.
func (s *Service) snapshots(ctx context.Context, jobID string) ([]layout.PageSnapshot, error) {
	pages, err := s.segments.ListPages(ctx, jobID)
	if err != nil {
		return nil, err
	}
	segs, err := s.segments.ListSegments(ctx, jobID)
	if err != nil {
		return nil, err
	}
	byPage := make(map[int][]layout.Segment, len(pages))
	for _, seg := range segs {
		byPage[seg.PageNumber] = append(byPage[seg.PageNumber], seg)
	}
	out := make([]layout.PageSnapshot, 0, len(pages))
	for _, p := range pages {
		out = append(out, layout.NewPageSnapshot(p, byPage[p.Number]))
	}
	return out, nil
}

// Output returns a completed job's translated document.
func (s *Service) Output(ctx context.Context, jobID string) ([]byte, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != layout.StateCompleted || job.OutputKey == "" {
		return nil, types.NewAppError(types.ErrConflict, "job has no output yet", nil)
	}
	return s.blobs.Read(job.OutputKey)
}

// Failures lists recorded job failures, newest first. A non-empty stage
// keeps only failures of that stage.
func (s *Service) Failures(stage ledger.ErrorStage) []*ledger.ErrorRecord {
	if s.failures == nil {
		return nil
	}
	if stage != "" {
		return s.failures.ListByStage(stage)
	}
	return s.failures.ListErrors()
}

// ExportFailures writes the IDs of failed jobs to path, one per line.
func (s *Service) ExportFailures(path string) error {
	if s.failures == nil {
		return types.NewAppError(types.ErrConfig, "no failure ledger configured", nil)
	}
	return s.failures.ExportErrorIDs(path)
}

// ClearFailures forgets every recorded failure.
func (s *Service) ClearFailures() error {
	if s.failures == nil {
		return nil
	}
	return s.failures.ClearAll()
}

// IsCancelled reports whether err is the result of a cancelled run.
func IsCancelled(err error) bool {
	return stderrors.Is(err, ErrCancelled)
}

func active(state layout.State) bool {
	switch state {
	case layout.StateExtracting, layout.StateTranslating, layout.StateShaping, layout.StateBuilding, layout.StateQACheck:
		return true
	}
	return false
}

func normalizeLanguage(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
