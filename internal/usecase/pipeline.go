package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"LectureNotes/internal/caption"
	"LectureNotes/internal/config"
	"LectureNotes/internal/domain"
	"LectureNotes/internal/extract"
	"LectureNotes/internal/logging"
	"LectureNotes/internal/mapping"
	"LectureNotes/internal/ports"
	"LectureNotes/internal/summarize"
)

// Options tunes the orchestrator.
type Options struct {
	Bands              Bands
	Preamble           mapping.PreamblePolicy
	Segmenter          extract.Options
	CaptionConcurrency int
	SummaryConcurrency int
	SummarizeOnChunk   bool
	SessionIdleTimeout time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Bands:              DefaultBands(),
		Preamble:           mapping.PreambleFirst,
		Segmenter:          extract.Options{MinChars: 200, MaxChars: 2000, PauseGap: 1.5},
		CaptionConcurrency: 4,
		SummaryConcurrency: 4,
		SessionIdleTimeout: 30 * time.Minute,
	}
}

// OptionsFromConfig converts the pipeline configuration section.
func OptionsFromConfig(cfg config.PipelineConfig) (Options, error) {
	preamble, err := mapping.ParsePreamblePolicy(cfg.Preamble)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Bands:    BandsFromConfig(cfg.Bands),
		Preamble: preamble,
		Segmenter: extract.Options{
			MinChars: cfg.Segmenter.MinChars,
			MaxChars: cfg.Segmenter.MaxChars,
			PauseGap: cfg.Segmenter.PauseGap,
		},
		CaptionConcurrency: cfg.CaptionConcurrency,
		SummaryConcurrency: cfg.SummaryConcurrency,
		SummarizeOnChunk:   cfg.SummarizeOnChunk,
		SessionIdleTimeout: cfg.SessionIdleTimeout,
	}, nil
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Registry    ports.JobRegistry
	Transcriber ports.Transcriber
	Captioner   ports.Captioner
	Summarizer  ports.Summarizer
	Options     Options
	Logger      *slog.Logger
	Clock       func() time.Time
}

// StartRequest describes a new job. Batch jobs need Document, Audio and
// Timing; realtime jobs need only Document.
type StartRequest struct {
	Mode     domain.Mode
	Document domain.Document
	Audio    []byte
	Timing   []domain.Boundary
}

// Chunk is one piece of live audio. Offset is the chunk's start within the
// session in seconds.
type Chunk struct {
	Seq    int64
	Offset float64
	Audio  []byte
	Meta   domain.SlideSignal
}

// Status is the externally visible state of a job.
type Status struct {
	JobID         string           `json:"job_id"`
	Mode          domain.Mode      `json:"mode"`
	State         domain.JobState  `json:"state"`
	Progress      int              `json:"progress"`
	Message       string           `json:"message"`
	Error         *domain.JobError `json:"error,omitempty"`
	Chunks        int              `json:"chunks"`
	FailedChunks  int              `json:"failed_chunks"`
	SlidesCovered int              `json:"slides_covered"`
}

// Pipeline orchestrates batch runs and live sessions.
type Pipeline struct {
	registry   ports.JobRegistry
	extractor  *extract.Extractor
	captioner  *caption.Service
	summarizer *summarize.Service
	mapper     *mapping.Mapper
	opts       Options
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	jobs   map[string]*jobHandle
	closed bool
	wg     sync.WaitGroup
}

// jobHandle is the in-process execution context of a running job.
type jobHandle struct {
	id        string
	mode      domain.Mode
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	finish    sync.Once
	session   *session
	logger    *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	opts := deps.Options
	if opts.Bands == (Bands{}) {
		opts.Bands = DefaultBands()
	}

	return &Pipeline{
		registry:  deps.Registry,
		extractor: extract.New(deps.Transcriber, opts.Segmenter),
		captioner: caption.New(caption.Deps{
			Backend:     deps.Captioner,
			Concurrency: opts.CaptionConcurrency,
			Logger:      logger.With("component", "caption"),
		}),
		summarizer: summarize.New(summarize.Deps{
			Backend:     deps.Summarizer,
			Concurrency: opts.SummaryConcurrency,
			Logger:      logger.With("component", "summarize"),
		}),
		mapper: mapping.New(opts.Preamble),
		opts:   opts,
		logger: logger,
		now:    now,
		jobs:   map[string]*jobHandle{},
	}
}

// Start registers a job, moves it to processing and launches its work.
func (p *Pipeline) Start(ctx context.Context, req StartRequest) (string, error) {
	if err := validateStart(req); err != nil {
		return "", err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return "", domain.Errorf(domain.CodeInvalidState, "pipeline is shutting down")
	}

	now := p.now()
	id, err := NewJobID(now)
	if err != nil {
		return "", domain.NewError(domain.CodeInternal, "create job", err)
	}

	if err := p.registry.Create(ctx, domain.NewJob(id, req.Mode, now)); err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}
	if err := p.registry.Update(ctx, id, domain.JobUpdate{
		State:    domain.Ptr(domain.JobStateProcessing),
		Progress: domain.Ptr(0),
		Message:  domain.Ptr("job started"),
	}); err != nil {
		return "", fmt.Errorf("start job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &jobHandle{
		id:     id,
		mode:   req.Mode,
		ctx:    jobCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: p.logger.With("job_id", id, "mode", string(req.Mode)),
	}
	if req.Mode == domain.ModeRealtime {
		h.session = newSession(req.Document, p.extractor.Splitter(), now)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.fail(h, domain.Errorf(domain.CodeCancelled, "pipeline is shutting down"))
		return "", domain.Errorf(domain.CodeInvalidState, "pipeline is shutting down")
	}
	p.jobs[id] = h
	p.wg.Add(1)
	p.mu.Unlock()

	h.logger.Info("job started", "slides", len(req.Document.Pages), "audio_bytes", len(req.Audio))

	switch req.Mode {
	case domain.ModeBatch:
		go func() {
			defer p.wg.Done()
			p.runBatch(h, req)
		}()
	default:
		go func() {
			defer p.wg.Done()
			p.prepareSession(h)
		}()
	}

	return id, nil
}

func validateStart(req StartRequest) error {
	if !req.Mode.Valid() {
		return domain.Errorf(domain.CodeInvalidInput, "unknown mode %q", req.Mode)
	}
	if len(req.Document.Pages) == 0 {
		return domain.Errorf(domain.CodeInvalidInput, "document has no slides")
	}
	if req.Mode == domain.ModeBatch && len(req.Audio) == 0 {
		return domain.Errorf(domain.CodeInvalidInput, "batch job requires audio")
	}
	return nil
}

// Status reports a job's lifecycle state. A failed job's error is included.
func (p *Pipeline) Status(ctx context.Context, id string) (Status, error) {
	job, err := p.registry.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return statusOf(job), nil
}

func statusOf(job domain.Job) Status {
	return Status{
		JobID:         job.ID,
		Mode:          job.Mode,
		State:         job.State,
		Progress:      job.Progress,
		Message:       job.Message,
		Error:         job.Error,
		Chunks:        job.Chunks,
		FailedChunks:  job.FailedChunks,
		SlidesCovered: job.SlidesCovered,
	}
}

// Result returns slide notes keyed by slide ordinal. It is only available
// once the job has completed.
func (p *Pipeline) Result(ctx context.Context, id string) (map[int]string, error) {
	job, err := p.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.State {
	case domain.JobStateCompleted:
		out := maps.Clone(job.Result)
		if out == nil {
			out = map[int]string{}
		}
		return out, nil
	case domain.JobStateFailed:
		return nil, domain.NewError(domain.CodeInvalidState,
			fmt.Sprintf("job %s failed", id), job.Error.Err())
	default:
		return nil, domain.Errorf(domain.CodeInvalidState, "job %s is %s", id, job.State)
	}
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (p *Pipeline) Wait(ctx context.Context, id string) (Status, error) {
	if h := p.handle(id); h != nil {
		select {
		case <-h.done:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
	return p.Status(ctx, id)
}

// Cancel stops a running job. In-flight backend calls are abandoned; the job
// completes with the notes produced so far, falling back to the raw
// transcript for slides without a note, or fails when no slide has data.
func (p *Pipeline) Cancel(ctx context.Context, id string) error {
	h := p.handle(id)
	if h == nil {
		return p.notRunning(ctx, id)
	}

	h.logger.Info("cancel requested")
	h.cancelled.Store(true)
	h.cancel()

	if h.mode == domain.ModeRealtime {
		return p.cancelSession(h)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every running job and waits for their goroutines.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	handles := make([]*jobHandle, 0, len(p.jobs))
	for _, h := range p.jobs {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		if err := p.Cancel(ctx, h.id); err != nil && !domain.IsCode(err, domain.CodeInvalidState) {
			h.logger.Warn("cancel on close failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) handle(id string) *jobHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs[id]
}

// notRunning explains why id has no live execution context.
func (p *Pipeline) notRunning(ctx context.Context, id string) error {
	job, err := p.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	return domain.Errorf(domain.CodeInvalidState, "job %s is %s", id, job.State)
}

// release drops the handle once the job is terminal.
func (p *Pipeline) release(h *jobHandle) {
	h.finish.Do(func() {
		p.mu.Lock()
		delete(p.jobs, h.id)
		p.mu.Unlock()
		h.cancel()
		close(h.done)
	})
}

// update writes to the registry on a context detached from job cancellation.
func (p *Pipeline) update(h *jobHandle, u domain.JobUpdate) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 30*time.Second)
	defer cancel()

	if err := p.registry.Update(ctx, h.id, u); err != nil {
		h.logger.Error("registry update failed", "error", err)
		return err
	}
	return nil
}

func (p *Pipeline) complete(h *jobHandle, result map[int]string, message string) {
	if result == nil {
		result = map[int]string{}
	}
	_ = p.update(h, domain.JobUpdate{
		State:         domain.Ptr(domain.JobStateCompleted),
		Progress:      domain.Ptr(p.opts.Bands.Done),
		Message:       domain.Ptr(message),
		Result:        result,
		SlidesCovered: domain.Ptr(len(result)),
	})
	h.logger.Info("job completed", "slides", len(result))
	p.release(h)
}

func (p *Pipeline) fail(h *jobHandle, err error) {
	jobErr := domain.JobErrorFrom(err)
	_ = p.update(h, domain.JobUpdate{
		State:   domain.Ptr(domain.JobStateFailed),
		Message: domain.Ptr("job failed: " + string(jobErr.Code)),
		Error:   jobErr,
	})
	h.logger.Error("job failed", "code", string(jobErr.Code), "error", err)
	p.release(h)
}

// finishCancelled completes a cancelled job from its partial state.
func (p *Pipeline) finishCancelled(h *jobHandle, slides map[int][]domain.Segment, notes map[int]string) {
	result := partialResult(slides, notes)
	if len(result) == 0 {
		p.fail(h, domain.Errorf(domain.CodeCancelled, "job cancelled before any slide had data"))
		return
	}
	p.complete(h, result, "cancelled; partial notes")
}

// partialResult keeps produced notes and falls back to the raw transcript
// for slides that have segments but no note yet.
func partialResult(slides map[int][]domain.Segment, notes map[int]string) map[int]string {
	out := make(map[int]string, len(slides))
	for ord, segs := range slides {
		if len(segs) == 0 {
			continue
		}
		if note, ok := notes[ord]; ok {
			out[ord] = note
			continue
		}
		out[ord] = domain.JoinSegments(segs)
	}
	return out
}
