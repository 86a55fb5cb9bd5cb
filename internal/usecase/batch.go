package usecase

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/mapping"
	"LectureNotes/internal/tracing"
)

// batchRun holds the intermediate state of one batch job.
type batchRun struct {
	segments   []domain.Segment
	captions   []domain.Caption
	assignment *mapping.Assignment
	notes      map[int]string
}

// runBatch drives extract ∥ caption → map → summarize for one job.
func (p *Pipeline) runBatch(h *jobHandle, req StartRequest) {
	ctx := h.ctx
	run := &batchRun{}

	tracker := newProgressTracker(p.opts.Bands, func(progress int, message string) {
		_ = p.update(h, domain.JobUpdate{Progress: domain.Ptr(progress), Message: domain.Ptr(message)})
	})

	err := p.batchStages(ctx, h, req, run, tracker)
	switch {
	case h.cancelled.Load():
		p.finishBatchCancelled(h, req, run)
	case err != nil:
		p.fail(h, err)
	default:
		p.complete(h, run.notes, "notes ready")
	}
}

func (p *Pipeline) batchStages(ctx context.Context, h *jobHandle, req StartRequest, run *batchRun, tracker *progressTracker) error {
	index, err := mapping.NewIndex(req.Timing, len(req.Document.Pages))
	if err != nil {
		return err
	}

	tracker.stage(StageExtract, "transcribing audio")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sctx, span := tracing.StartStage(gctx, StageExtract.String(), h.id)
		segs, err := p.extractor.Extract(sctx, req.Audio)
		tracing.End(span, err)
		if err != nil {
			return err
		}
		run.segments = segs
		h.logger.Info("transcript extracted", "segments", len(segs))
		tracker.extractionDone()
		return nil
	})
	g.Go(func() error {
		sctx, span := tracing.StartStage(gctx, StageCaption.String(), h.id)
		captions, report, err := p.captioner.CaptionAll(sctx, req.Document, tracker.caption)
		tracing.End(span, err)
		if err != nil {
			return err
		}
		run.captions = captions
		if len(report.Failed) > 0 {
			h.logger.Warn("slides captioned with empty caption", "slides", report.Failed)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return stageError(ctx, err)
	}

	tracker.stage(StageMap, "mapping segments to slides")
	_, span := tracing.StartStage(ctx, StageMap.String(), h.id)
	assignment, err := p.mapper.Map(run.segments, index)
	tracing.End(span, err)
	if err != nil {
		return err
	}
	run.assignment = &assignment
	h.logger.Debug("segments mapped", "segments", assignment.Count(), "slides", len(assignment.Slides))
	if assignment.Dropped > 0 {
		h.logger.Info("dropped preamble segments", "segments", assignment.Dropped)
	}

	tracker.stage(StageSummarize, "summarizing slides")
	slides := buildSlides(assignment, run.captions)
	sctx, span := tracing.StartStage(ctx, StageSummarize.String(), h.id)
	notes, err := p.summarizer.SummarizeAll(sctx, slides, tracker.summarize)
	tracing.End(span, err)
	run.notes = notes
	if err != nil {
		return stageError(ctx, err)
	}
	return nil
}

// stageError prefers the stage's own classified error over a bare
// cancellation caused by a sibling's failure.
func stageError(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return domain.NewError(domain.CodeCancelled, "job cancelled", err)
	}
	return err
}

func buildSlides(a mapping.Assignment, captions []domain.Caption) []domain.Slide {
	ordinals := a.Ordinals()
	slides := make([]domain.Slide, 0, len(ordinals))
	for _, ord := range ordinals {
		s := domain.Slide{Ordinal: ord, Segments: a.Slides[ord]}
		if ord >= 0 && ord < len(captions) {
			s.Caption = captions[ord]
		}
		slides = append(slides, s)
	}
	return slides
}

// finishBatchCancelled salvages whatever the run produced before Cancel.
func (p *Pipeline) finishBatchCancelled(h *jobHandle, req StartRequest, run *batchRun) {
	if run.assignment == nil && run.segments != nil {
		if index, err := mapping.NewIndex(req.Timing, len(req.Document.Pages)); err == nil {
			if a, err := p.mapper.Map(run.segments, index); err == nil {
				run.assignment = &a
			}
		}
	}

	var slides map[int][]domain.Segment
	if run.assignment != nil {
		slides = run.assignment.Slides
	}
	p.finishCancelled(h, slides, run.notes)
}
