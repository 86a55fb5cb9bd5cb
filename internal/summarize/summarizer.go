package summarize

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/logging"
	"LectureNotes/internal/ports"
)

// Progress receives the number of summarized slides out of total.
type Progress func(done, total int)

// Deps configures the summarization stage.
type Deps struct {
	Backend     ports.Summarizer
	Concurrency int
	Logger      *slog.Logger
}

// Service turns a slide's caption and segments into a note.
type Service struct {
	backend     ports.Summarizer
	concurrency int
	logger      *slog.Logger
}

// New builds the summarization stage.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{backend: deps.Backend, concurrency: concurrency, logger: logger}
}

// Note summarizes one slide.
func (s *Service) Note(ctx context.Context, slide domain.Slide) (string, error) {
	if len(slide.Segments) == 0 {
		return "", domain.Errorf(domain.CodeSummarization, "slide %d has no segments", slide.Ordinal)
	}
	if s.backend == nil {
		return slide.Transcript(), nil
	}
	note, err := s.backend.Summarize(ctx, slide.Caption, slide.Segments)
	if err != nil {
		return "", domain.Classify(domain.CodeSummarization, "summarize slide", err)
	}
	return strings.TrimSpace(note), nil
}

// SummarizeAll produces one note per slide. Any slide failing fails the
// call; the notes finished before the failure are still returned.
func (s *Service) SummarizeAll(ctx context.Context, slides []domain.Slide, progress Progress) (map[int]string, error) {
	notes := make(map[int]string, len(slides))
	total := len(slides)

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, slide := range slides {
		g.Go(func() error {
			note, err := s.Note(gctx, slide)
			if err != nil {
				return domain.Classify(domain.CodeSummarization, "summarize slide", err)
			}

			mu.Lock()
			defer mu.Unlock()
			notes[slide.Ordinal] = note
			done++
			if progress != nil {
				progress(done, total)
			}
			return nil
		})
	}

	err := g.Wait()
	return notes, err
}

// Refresh re-summarizes slides for a live session. A slide whose
// summarization fails keeps its previous note, or is omitted when it has
// none. failed lists the affected ordinals.
func (s *Service) Refresh(ctx context.Context, slides []domain.Slide) (notes map[int]string, failed []int) {
	notes = make(map[int]string, len(slides))

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, slide := range slides {
		g.Go(func() error {
			note, err := s.Note(ctx, slide)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("live summarization failed, keeping previous note",
					"slide", slide.Ordinal, "had_note", slide.HasNote, "error", err)
				failed = append(failed, slide.Ordinal)
				if slide.HasNote {
					notes[slide.Ordinal] = slide.Note
				}
				return nil
			}
			notes[slide.Ordinal] = note
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(failed)
	return notes, failed
}
