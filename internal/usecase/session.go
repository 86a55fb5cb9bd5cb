package usecase

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/extract"
	"LectureNotes/internal/mapping"
	"LectureNotes/internal/tracing"
)

// session is the mutable state of one live job. Chunks are handled one at a
// time under mu, so arrival order is processing order.
type session struct {
	mu       sync.Mutex
	ready    chan struct{}
	readyErr error

	doc      domain.Document
	captions []domain.Caption
	stream   *extract.Stream
	buffers  map[int][]domain.Segment
	notes    map[int]string

	hasSeq     bool
	lastSeq    int64
	lastOffset float64

	hasSlide   bool
	lastSlide  int
	unassigned []domain.Segment

	chunks       int
	failed       int
	lastActivity time.Time
	closed       bool
}

func newSession(doc domain.Document, splitter *extract.Splitter, now time.Time) *session {
	return &session{
		ready:        make(chan struct{}),
		doc:          doc,
		stream:       extract.NewStream(splitter),
		buffers:      map[int][]domain.Segment{},
		notes:        map[int]string{},
		lastActivity: now,
	}
}

// prepareSession captions every slide before the session accepts audio.
func (p *Pipeline) prepareSession(h *jobHandle) {
	s := h.session
	_ = p.update(h, domain.JobUpdate{Message: domain.Ptr("captioning slides")})

	ctx, span := tracing.StartStage(h.ctx, StageCaption.String(), h.id)
	captions, report, err := p.captioner.CaptionAll(ctx, s.doc, nil)
	tracing.End(span, err)
	if len(report.Failed) > 0 {
		h.logger.Warn("slides captioned with empty caption", "slides", report.Failed)
	}

	s.mu.Lock()
	s.captions = captions
	s.readyErr = err
	closed := s.closed
	close(s.ready)
	s.mu.Unlock()

	if err != nil || closed {
		return
	}
	_ = p.update(h, domain.JobUpdate{Message: domain.Ptr("ready for audio")})
	h.logger.Info("live session ready", "slides", len(s.doc.Pages))
}

// liveHandle resolves a running realtime job and waits until its captions
// are ready.
func (p *Pipeline) liveHandle(ctx context.Context, id string) (*jobHandle, error) {
	h := p.handle(id)
	if h == nil {
		return nil, p.notRunning(ctx, id)
	}
	if h.mode != domain.ModeRealtime {
		return nil, domain.Errorf(domain.CodeInvalidState, "job %s is not a realtime job", id)
	}

	select {
	case <-h.session.ready:
	case <-h.done:
		return nil, domain.Errorf(domain.CodeInvalidState, "job %s is no longer running", id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h.session.readyErr != nil {
		return nil, domain.NewError(domain.CodeInvalidState, "live session did not start", h.session.readyErr)
	}
	return h, nil
}

// jobContext is ctx additionally cancelled when the job is cancelled.
func jobContext(ctx context.Context, h *jobHandle) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(h.ctx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}

// SubmitChunk transcribes one live chunk, assigns its finalized segments to
// the signalled slide and returns them. Chunks must arrive with strictly
// increasing seq and offset; a rejected or failed chunk leaves the session
// unchanged and may be resent.
func (p *Pipeline) SubmitChunk(ctx context.Context, id string, chunk Chunk) ([]domain.Segment, error) {
	if len(chunk.Audio) == 0 {
		return nil, domain.Errorf(domain.CodeInvalidInput, "chunk %d has no audio", chunk.Seq)
	}
	if chunk.Offset < 0 {
		return nil, domain.Errorf(domain.CodeInvalidInput, "chunk %d has negative offset", chunk.Seq)
	}

	h, err := p.liveHandle(ctx, id)
	if err != nil {
		return nil, err
	}
	s := h.session

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domain.Errorf(domain.CodeInvalidState, "job %s is no longer accepting chunks", id)
	}
	if s.hasSeq {
		if chunk.Seq <= s.lastSeq {
			return nil, domain.Errorf(domain.CodeSequence, "chunk %d is not after accepted chunk %d", chunk.Seq, s.lastSeq)
		}
		if chunk.Offset <= s.lastOffset {
			return nil, domain.Errorf(domain.CodeSequence, "chunk %d offset %.3fs is not after %.3fs", chunk.Seq, chunk.Offset, s.lastOffset)
		}
	}
	if mark, ok := s.stream.Watermark(); ok && chunk.Offset < mark {
		return nil, domain.Errorf(domain.CodeSequence, "chunk %d offset %.3fs is before transcribed speech at %.3fs", chunk.Seq, chunk.Offset, mark)
	}
	slide, signalled, err := mapping.Resolve(chunk.Meta, len(s.doc.Pages))
	if err != nil {
		return nil, err
	}

	cctx, cancel := jobContext(ctx, h)
	defer cancel()
	cctx, span := tracing.StartStage(cctx, "chunk", h.id)
	raw, err := p.extractor.Transcribe(cctx, chunk.Audio)
	tracing.End(span, err)
	if err != nil {
		if h.cancelled.Load() {
			return nil, domain.NewError(domain.CodeCancelled, "job cancelled", err)
		}
		s.failed++
		h.logger.Warn("chunk transcription failed", "seq", chunk.Seq, "failed_chunks", s.failed, "error", err)
		_ = p.update(h, domain.JobUpdate{
			FailedChunks: domain.Ptr(s.failed),
			Message:      domain.Ptr(fmt.Sprintf("chunk %d failed", chunk.Seq)),
		})
		return nil, err
	}

	if s.stream.Precedes(chunk.Offset, raw) {
		mark, _ := s.stream.Watermark()
		return nil, domain.Errorf(domain.CodeSequence, "chunk %d starts at or before transcribed speech at %.3fs", chunk.Seq, mark)
	}

	segs := s.stream.Push(chunk.Offset, raw)
	target := s.assign(segs, slide, signalled)

	s.hasSeq = true
	s.lastSeq = chunk.Seq
	s.lastOffset = chunk.Offset
	s.chunks++
	s.lastActivity = p.now()

	if p.opts.SummarizeOnChunk && len(segs) > 0 && target != nil {
		p.refreshSlides(cctx, h, []int{*target})
	}

	_ = p.update(h, domain.JobUpdate{
		Chunks:        domain.Ptr(s.chunks),
		SlidesCovered: domain.Ptr(len(s.buffers)),
		Message:       domain.Ptr(fmt.Sprintf("chunk %d accepted", chunk.Seq)),
	})
	h.logger.Debug("chunk accepted", "seq", chunk.Seq, "segments", len(segs), "pending", len(s.stream.Pending()))
	return segs, nil
}

// assign places finalized segments on the signalled slide, the last known
// slide, or the unassigned buffer until a slide is first signalled. It
// returns the slide that received segments, if any.
func (s *session) assign(segs []domain.Segment, slide int, signalled bool) *int {
	if signalled {
		if len(s.unassigned) > 0 {
			s.buffers[slide] = append(s.buffers[slide], s.unassigned...)
			s.unassigned = nil
		}
		s.hasSlide = true
		s.lastSlide = slide
	}

	if len(segs) == 0 {
		return nil
	}
	if !s.hasSlide {
		s.unassigned = append(s.unassigned, segs...)
		return nil
	}
	s.buffers[s.lastSlide] = append(s.buffers[s.lastSlide], segs...)
	return &s.lastSlide
}

// settled returns the buffers as they stand once held-back speech is
// flushed and unassigned segments are placed by the preamble policy. The
// session itself is left untouched.
func (s *session) settled(policy mapping.PreamblePolicy) map[int][]domain.Segment {
	out := make(map[int][]domain.Segment, len(s.buffers)+1)
	for ord, segs := range s.buffers {
		out[ord] = slices.Clone(segs)
	}

	unassigned := slices.Clone(s.unassigned)
	if tail := s.stream.Peek(); len(tail) > 0 {
		if s.hasSlide {
			out[s.lastSlide] = append(out[s.lastSlide], tail...)
		} else {
			unassigned = append(unassigned, tail...)
		}
	}
	if len(unassigned) == 0 {
		return out
	}
	switch policy {
	case mapping.PreambleDrop:
	case mapping.PreambleSentinel:
		out[domain.PreambleSlide] = append(out[domain.PreambleSlide], unassigned...)
	default:
		out[0] = append(out[0], unassigned...)
	}
	return out
}

func (s *session) slide(buffers map[int][]domain.Segment, ord int) domain.Slide {
	out := domain.Slide{Ordinal: ord, Segments: slices.Clone(buffers[ord])}
	if ord >= 0 && ord < len(s.captions) {
		out.Caption = s.captions[ord]
	}
	out.Note, out.HasNote = s.notes[ord]
	return out
}

// refreshSlides re-summarizes the given slides. Must be called with s.mu held.
func (p *Pipeline) refreshSlides(ctx context.Context, h *jobHandle, ordinals []int) {
	slides := h.session.slides(h.session.buffers, ordinals)
	if len(slides) == 0 {
		return
	}

	notes, failed := p.summarizer.Refresh(ctx, slides)
	if len(failed) > 0 {
		h.logger.Warn("live summarization degraded", "slides", failed)
	}
	maps.Copy(h.session.notes, notes)
}

// Finalize runs the closing summarization pass over every slide and
// completes the live job. If ctx ends before every slide is summarized the
// session stays open and ctx's error is returned, so Finalize may be retried.
func (p *Pipeline) Finalize(ctx context.Context, id string) error {
	h, err := p.liveHandle(ctx, id)
	if err != nil {
		return err
	}
	s := h.session

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Errorf(domain.CodeInvalidState, "job %s is already finishing", id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_ = p.update(h, domain.JobUpdate{Message: domain.Ptr("summarizing slides")})
	buffers := s.settled(p.opts.Preamble)

	cctx, cancel := jobContext(ctx, h)
	defer cancel()
	cctx, span := tracing.StartStage(cctx, "finalize", h.id)
	ordinals := slices.Sorted(maps.Keys(buffers))
	notes, failed := p.summarizer.Refresh(cctx, s.slides(buffers, ordinals))
	tracing.End(span, nil)

	if h.cancelled.Load() {
		maps.Copy(s.notes, notes)
		s.commit(buffers)
		p.finishCancelled(h, s.buffers, s.notes)
		return nil
	}
	if err := ctx.Err(); err != nil && len(failed) > 0 {
		h.logger.Info("finalize interrupted, session left open", "unsummarized", failed)
		return err
	}
	if len(failed) > 0 {
		h.logger.Warn("final summarization degraded", "slides", failed)
	}
	s.commit(buffers)
	p.complete(h, notes, "session finalized")
	return nil
}

// commit adopts settled buffers and closes the session to further input.
func (s *session) commit(buffers map[int][]domain.Segment) {
	s.buffers = buffers
	s.unassigned = nil
	s.stream.Flush()
	s.closed = true
}

func (s *session) slides(buffers map[int][]domain.Segment, ordinals []int) []domain.Slide {
	out := make([]domain.Slide, 0, len(ordinals))
	for _, ord := range ordinals {
		if len(buffers[ord]) > 0 {
			out = append(out, s.slide(buffers, ord))
		}
	}
	return out
}

// Reset drops a live job's buffers, notes and held-back speech. Captions
// and the chunk cursor are kept.
func (p *Pipeline) Reset(ctx context.Context, id string) error {
	h, err := p.liveHandle(ctx, id)
	if err != nil {
		return err
	}
	s := h.session

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Errorf(domain.CodeInvalidState, "job %s is no longer running", id)
	}

	s.buffers = map[int][]domain.Segment{}
	s.notes = map[int]string{}
	s.unassigned = nil
	s.stream.Reset()
	s.lastActivity = p.now()

	h.logger.Info("live session reset")
	return p.update(h, domain.JobUpdate{
		SlidesCovered: domain.Ptr(0),
		Message:       domain.Ptr("session reset"),
	})
}

// cancelSession completes a cancelled live job from its buffers. The job
// context is already cancelled, so a chunk in flight releases the lock
// promptly.
func (p *Pipeline) cancelSession(h *jobHandle) error {
	s := h.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.commit(s.settled(p.opts.Preamble))
	p.finishCancelled(h, s.buffers, s.notes)
	return nil
}

// ReapIdle finalizes live sessions that received no chunk within the idle
// timeout and returns how many were finalized.
func (p *Pipeline) ReapIdle(ctx context.Context, now time.Time) int {
	timeout := p.opts.SessionIdleTimeout
	if timeout <= 0 {
		return 0
	}

	p.mu.Lock()
	var idle []*jobHandle
	for _, h := range p.jobs {
		if h.mode == domain.ModeRealtime {
			idle = append(idle, h)
		}
	}
	p.mu.Unlock()

	reaped := 0
	for _, h := range idle {
		s := h.session
		select {
		case <-s.ready:
		default:
			continue
		}

		s.mu.Lock()
		idleFor := now.Sub(s.lastActivity)
		expired := !s.closed && idleFor > timeout
		s.mu.Unlock()
		if !expired {
			continue
		}

		h.logger.Info("finalizing idle live session", "idle_for", idleFor.String())
		if err := p.Finalize(ctx, h.id); err != nil {
			h.logger.Warn("idle finalize failed", "error", err)
			continue
		}
		reaped++
	}
	return reaped
}
