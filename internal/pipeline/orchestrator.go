// Package pipeline runs translation jobs: the orchestrator drives one job
// through its stages, the scheduler feeds jobs from a queue to a fixed pool
// of workers, and Service is the entry point used by the CLI.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ledger "doc-translator/internal/errors"
	"doc-translator/internal/layout"
	"doc-translator/internal/logger"
	"doc-translator/internal/pdf"
	"doc-translator/internal/results"
	"doc-translator/internal/store"
	"doc-translator/internal/translator"
	"doc-translator/internal/types"
	"doc-translator/internal/validator"
)

// DefaultSegmentConcurrency bounds concurrent segment resolutions per page.
const DefaultSegmentConcurrency = 8

// ErrCancelled is returned by Run when the job was cancelled.
var ErrCancelled = stderrors.New("job cancelled")

// BlobStore reads and writes job documents.
type BlobStore interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) (string, error)
}

// SegmentResolver translates one segment.
type SegmentResolver interface {
	Resolve(ctx context.Context, seg layout.Segment, srcLang, tgtLang string) (layout.Translation, error)
}

// QAChecker annotates a resolved segment.
type QAChecker interface {
	Validate(seg layout.Segment) layout.Flags
}

// FailureLedger records failed jobs.
type FailureLedger interface {
	RecordError(jobID, filename string, stage ledger.ErrorStage, code, errorMsg string, canRetry bool) error
}

// Status is a progress notification.
type Status struct {
	JobID       string       `json:"job_id"`
	State       layout.State `json:"state"`
	Progress    float64      `json:"progress"`
	CurrentPage int          `json:"current_page"`
	TotalPages  int          `json:"total_pages"`
	Message     string       `json:"message,omitempty"`
}

// StatusCallback receives progress notifications. It is called from the
// goroutine running the job and must not block for long.
type StatusCallback func(Status)

// Dependencies are the collaborators of an Orchestrator. Failures may be nil.
type Dependencies struct {
	Jobs      store.JobStore
	Segments  store.SegmentStore
	Blobs     BlobStore
	Resolver  SegmentResolver
	QA        QAChecker
	Assembler *pdf.Assembler
	Failures  FailureLedger
}

// Orchestrator runs jobs through extraction, translation, shaping,
// building and QA. It is the only component that writes job state.
type Orchestrator struct {
	deps        Dependencies
	extractor   *pdf.Extractor
	isolator    *pdf.Isolator
	concurrency int
	now         func() time.Time

	mu       sync.RWMutex
	callback StatusCallback
}

// NewOrchestrator creates an orchestrator. concurrency is clamped to
// 1..DefaultSegmentConcurrency.
func NewOrchestrator(deps Dependencies, concurrency int) *Orchestrator {
	if concurrency <= 0 || concurrency > DefaultSegmentConcurrency {
		concurrency = DefaultSegmentConcurrency
	}
	if deps.Assembler == nil {
		deps.Assembler = pdf.NewAssembler(nil)
	}
	if deps.QA == nil {
		deps.QA = validator.NewQAValidator(validator.Config{})
	}
	return &Orchestrator{
		deps:        deps,
		extractor:   pdf.NewExtractor(),
		isolator:    pdf.NewIsolator(),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// SetStatusCallback sets the callback for progress notifications.
func (o *Orchestrator) SetStatusCallback(cb StatusCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callback = cb
}

func (o *Orchestrator) notify(s Status) {
	o.mu.RLock()
	cb := o.callback
	o.mu.RUnlock()
	if cb != nil {
		cb(s)
	}
}

// Run processes an uploaded job to completion. Cancelling ctx stops the
// job at the next page boundary; the job then ends cancelled and Run
// returns ErrCancelled. Any other failure leaves the job failed with its
// partial data kept.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.deps.Jobs.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return err
	}
	if job.State != layout.StateUploaded {
		return types.NewAppError(types.ErrConflict, "job cannot be started",
			&layout.TransitionError{JobID: job.ID, From: job.State, To: layout.StateExtracting})
	}

	r := &run{
		o:       o,
		ctx:     ctx,
		store:   context.WithoutCancel(ctx),
		job:     job,
		started: o.now(),
		log:     logger.With(logger.String("job_id", job.ID)),
	}
	r.progress = newProgressTracker(job.Progress, r.publish)
	return r.execute()
}

// run is the state of one job execution.
type run struct {
	o     *Orchestrator
	ctx   context.Context
	store context.Context
	job   *layout.Job
	log   logger.Logger

	started     time.Time
	progress    *progressTracker
	currentPage int
	source      []byte
	pages       []layout.PageSnapshot
}

func (r *run) execute() error {
	r.log.Info("job started",
		logger.String("filename", r.job.Filename),
		logger.String("source_language", r.job.SourceLang()),
		logger.String("target_language", r.job.TargetLanguage))

	started := r.started
	if err := r.transition(layout.StateExtracting, store.JobUpdate{StartedAt: &started}); err != nil {
		return r.finish(err)
	}
	if err := r.extract(); err != nil {
		return r.finish(err)
	}
	if err := r.translate(); err != nil {
		return r.finish(err)
	}
	// Last cancellation point before rendering.
	if r.ctx.Err() != nil {
		return r.finish(ErrCancelled)
	}
	layouts, err := r.shape()
	if err != nil {
		return r.finish(err)
	}
	outputKey, err := r.build(layouts)
	if err != nil {
		return r.finish(err)
	}
	return r.finish(r.complete(outputKey))
}

// ---- stages ----

func (r *run) extract() error {
	data, err := r.o.deps.Blobs.Read(r.job.SourceKey)
	if err != nil {
		return err
	}
	doc, err := pdf.OpenDocument(data)
	if err != nil {
		return err
	}
	total := doc.NumPages()
	if total == 0 {
		return pdf.NewPDFError(pdf.ErrExtraction, "document has no pages", nil)
	}
	r.source = data
	r.job.TotalPages = total
	if err := r.update(store.JobUpdate{TotalPages: &total}); err != nil {
		return err
	}
	r.progress.begin(layout.StateExtracting, total)

	for n := 0; n < total; n++ {
		pc, err := doc.Page(n)
		if err != nil {
			return err
		}
		segs, err := r.o.extractor.Extract(r.job.ID, pc)
		if err != nil {
			return err
		}

		page := layout.Page{
			JobID:          r.job.ID,
			Number:         n,
			Width:          pc.Width,
			Height:         pc.Height,
			SegmentIndexes: make([]int, len(segs)),
		}
		for i := range segs {
			page.SegmentIndexes[i] = segs[i].Index
		}

		background, err := r.o.isolator.Isolate(n, pc.Content)
		switch {
		case err == nil:
			page.Background = background
		case pdf.IsIsolationError(err):
			r.log.Warn("background isolation failed, painting over original content",
				logger.Int("page", n), logger.Err(err))
			page.IsolationFailed = true
			for i := range segs {
				segs[i].QAFlags = segs[i].QAFlags.Add(layout.FlagBackgroundIsolationFailed)
			}
		default:
			return err
		}

		if err := r.o.deps.Segments.SavePage(r.store, page, segs); err != nil {
			return err
		}
		r.pages = append(r.pages, layout.NewPageSnapshot(page, segs))
		r.log.Debug("page extracted", logger.Int("page", n), logger.Int("segments", len(segs)))

		r.currentPage = n + 1
		r.progress.step(1)
		if r.ctx.Err() != nil {
			return ErrCancelled
		}
	}
	return nil
}

func (r *run) translate() error {
	if err := r.transition(layout.StateTranslating, store.JobUpdate{}); err != nil {
		return err
	}
	total := 0
	for _, p := range r.pages {
		total += len(p.Segments)
	}
	r.progress.begin(layout.StateTranslating, total)

	for i := range r.pages {
		r.currentPage = r.pages[i].Page.Number + 1
		if err := r.translatePage(&r.pages[i]); err != nil {
			return err
		}
		if r.ctx.Err() != nil {
			return ErrCancelled
		}
	}
	return nil
}

// translatePage resolves a page's segments on a bounded pool. In-flight
// resolutions are not interrupted by cancellation; the caller checks it
// once the batch is done.
func (r *run) translatePage(snap *layout.PageSnapshot) error {
	g, gctx := errgroup.WithContext(context.WithoutCancel(r.ctx))
	g.SetLimit(r.o.concurrency)

	srcLang, tgtLang := r.job.SourceLang(), r.job.TargetLanguage
	out := make([]layout.Segment, len(snap.Segments))
	for i := range snap.Segments {
		i, seg := i, snap.Segments[i].Clone()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tr, err := r.o.deps.Resolver.Resolve(gctx, seg, srcLang, tgtLang)
			if err != nil {
				return err
			}
			seg.Translation = &tr
			seg.QAFlags = seg.QAFlags.Merge(r.o.deps.QA.Validate(seg))
			out[i] = seg
			r.progress.step(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, seg := range out {
		if err := r.o.deps.Segments.UpdateSegment(r.store, seg); err != nil {
			return err
		}
	}
	snap.Segments = out
	r.log.Debug("page translated", logger.Int("page", snap.Page.Number), logger.Int("segments", len(out)))
	return nil
}

func (r *run) shape() ([]pdf.PageLayout, error) {
	if err := r.transition(layout.StateShaping, store.JobUpdate{}); err != nil {
		return nil, err
	}
	layouts := r.o.deps.Assembler.PlanPages(r.pages)
	r.progress.set(StageProgress(layout.StateShaping, 1, 1))
	return layouts, nil
}

func (r *run) build(layouts []pdf.PageLayout) (string, error) {
	if err := r.transition(layout.StateBuilding, store.JobUpdate{}); err != nil {
		return "", err
	}
	result, err := r.o.deps.Assembler.Assemble(r.ctx, r.job.ID, r.source, layouts)
	if err != nil {
		if r.ctx.Err() != nil {
			return "", ErrCancelled
		}
		return "", err
	}
	key, err := r.o.deps.Blobs.Write(results.Key(r.job.ID, results.OutputName), result.Data)
	if err != nil {
		return "", err
	}
	if len(result.Overflowed) > 0 {
		r.log.Warn("output has overflowing text", logger.Int("segments", len(result.Overflowed)))
	}
	r.progress.set(StageProgress(layout.StateBuilding, 1, 1))
	return key, nil
}

func (r *run) complete(outputKey string) error {
	if err := r.transition(layout.StateQACheck, store.JobUpdate{}); err != nil {
		return err
	}
	var segs []layout.Segment
	for _, p := range r.pages {
		segs = append(segs, p.Segments...)
	}
	summary := validator.Summarize(segs)
	flagged := 0
	for _, s := range segs {
		if len(s.QAFlags) > 0 {
			flagged++
		}
	}
	fields := []logger.Field{logger.Int("segments", len(segs)), logger.Int("flagged", flagged)}
	for flag, n := range summary {
		fields = append(fields, logger.Int(string(flag), n))
	}
	r.log.Info("qa summary", fields...)

	now := r.o.now()
	elapsed := now.Sub(r.started)
	progress := 100.0
	if err := r.transition(layout.StateCompleted, store.JobUpdate{
		Progress:       &progress,
		OutputKey:      &outputKey,
		QASummary:      summary,
		CompletedAt:    &now,
		ProcessingTime: &elapsed,
	}); err != nil {
		return err
	}
	r.progress.set(progress)
	r.log.Info("job completed", logger.String("output_key", outputKey), logger.Int64("duration_ms", elapsed.Milliseconds()))
	return nil
}

// ---- state writes ----

func (r *run) transition(to layout.State, u store.JobUpdate) error {
	from := r.job.State
	u.State = &to
	stage := string(to)
	u.CurrentStage = &stage
	job, err := r.o.deps.Jobs.UpdateJob(r.store, r.job.ID, u)
	if err != nil {
		return err
	}
	r.job = job
	r.log.Info("stage transition", logger.String("from", string(from)), logger.String("stage", string(to)))
	r.o.notify(r.status(""))
	return nil
}

func (r *run) update(u store.JobUpdate) error {
	job, err := r.o.deps.Jobs.UpdateJob(r.store, r.job.ID, u)
	if err != nil {
		return err
	}
	r.job = job
	return nil
}

// publish is the tracker's sink; it runs under the tracker's lock.
func (r *run) publish(progress float64) {
	page := r.currentPage
	if _, err := r.o.deps.Jobs.UpdateJob(r.store, r.job.ID, store.JobUpdate{Progress: &progress, CurrentPage: &page}); err != nil {
		r.log.Warn("failed to store progress", logger.Err(err))
	}
	r.o.notify(Status{
		JobID:       r.job.ID,
		State:       r.job.State,
		Progress:    progress,
		CurrentPage: page,
		TotalPages:  r.job.TotalPages,
	})
}

func (r *run) status(msg string) Status {
	return Status{
		JobID:       r.job.ID,
		State:       r.job.State,
		Progress:    r.progress.value(),
		CurrentPage: r.currentPage,
		TotalPages:  r.job.TotalPages,
		Message:     msg,
	}
}

// finish turns a stage error into the job's terminal state.
func (r *run) finish(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, ErrCancelled) || (r.ctx.Err() != nil && stderrors.Is(err, context.Canceled)) {
		r.cancelled()
		return ErrCancelled
	}
	// Another process cancelled the stored job.
	var te *layout.TransitionError
	if stderrors.As(err, &te) && te.From == layout.StateCancelled {
		r.log.Info("job was cancelled elsewhere", logger.String("stage", string(r.stageAtFailure())))
		r.job.State = layout.StateCancelled
		r.o.notify(r.status("cancelled"))
		return ErrCancelled
	}
	r.fail(err)
	return err
}

func (r *run) cancelled() {
	at := r.stageAtFailure()
	elapsed := r.o.now().Sub(r.started)
	to := layout.StateCancelled
	stage := string(to)
	_, err := r.o.deps.Jobs.UpdateJob(r.store, r.job.ID, store.JobUpdate{
		State: &to, CurrentStage: &stage, ProcessingTime: &elapsed,
	})
	if err != nil && !types.IsCode(err, types.ErrConflict) {
		r.log.Error("failed to mark job cancelled", err)
	}
	r.job.State = to
	r.log.Info("job cancelled", logger.String("stage", string(at)), logger.Int("page", r.currentPage))
	r.o.notify(r.status("cancelled"))
}

func (r *run) fail(cause error) {
	stage := r.stageAtFailure()
	msg := cause.Error()
	if msg == "" {
		msg = "unknown error"
	}
	msg = fmt.Sprintf("%s failed: %s", stage, msg)

	elapsed := r.o.now().Sub(r.started)
	to := layout.StateFailed
	label := string(to)
	if _, err := r.o.deps.Jobs.UpdateJob(r.store, r.job.ID, store.JobUpdate{
		State: &to, CurrentStage: &label, ErrorMessage: &msg, ProcessingTime: &elapsed,
	}); err != nil {
		r.log.Error("failed to mark job failed", err)
	}
	r.log.Error("job failed", cause, logger.String("stage", string(stage)))

	if r.o.deps.Failures != nil {
		code, canRetry := classify(cause)
		if err := r.o.deps.Failures.RecordError(r.job.ID, r.job.Filename, stage, code, msg, canRetry); err != nil {
			r.log.Warn("failed to record failure", logger.Err(err))
		}
	}
	r.job.State = to
	r.o.notify(r.status(msg))
}

func (r *run) stageAtFailure() ledger.ErrorStage {
	switch r.job.State {
	case layout.StateTranslating:
		return ledger.StageTranslation
	case layout.StateShaping:
		return ledger.StageShaping
	case layout.StateBuilding:
		return ledger.StageBuilding
	case layout.StateQACheck:
		return ledger.StageQA
	default:
		return ledger.StageExtraction
	}
}

// classify returns the error code for the failure ledger and whether
// re-running the job could succeed.
func classify(err error) (code string, canRetry bool) {
	var pe *pdf.PDFError
	if stderrors.As(err, &pe) {
		retry := !pdf.IsExtractionError(err) && pe.Code != pdf.ErrPDFInvalid && pe.Code != pdf.ErrPDFEncrypted
		return string(pe.Code), retry
	}
	var te *translator.TranslationError
	if stderrors.As(err, &te) {
		return string(te.Code), translator.IsTransient(err)
	}
	var ae *types.AppError
	if stderrors.As(err, &ae) {
		return string(ae.Code), true
	}
	return string(types.ErrPipeline), true
}
