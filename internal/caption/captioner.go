package caption

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/logging"
	"LectureNotes/internal/ports"
)

// Progress receives the number of captioned pages out of total.
type Progress func(done, total int)

// Deps configures the captioning stage.
type Deps struct {
	Backend     ports.Captioner
	Concurrency int
	Logger      *slog.Logger
}

// Service captions every page of a deck. A failed page degrades to an empty
// caption instead of failing the job.
type Service struct {
	backend     ports.Captioner
	concurrency int
	logger      *slog.Logger
}

// Report lists the pages whose caption fell back to empty.
type Report struct {
	Failed []int
}

// New builds the captioning stage.
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

// CaptionAll returns one caption per page, indexed by slide ordinal. It
// only fails when ctx is done.
func (s *Service) CaptionAll(ctx context.Context, doc domain.Document, progress Progress) ([]domain.Caption, Report, error) {
	captions := make([]domain.Caption, len(doc.Pages))
	total := len(doc.Pages)

	var (
		mu     sync.Mutex
		done   int
		report Report
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, page := range doc.Pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			c, err := s.caption(gctx, page)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Warn("caption failed, using empty caption", "slide", i, "error", err)
			}
			captions[i] = c

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, i)
			}
			done++
			if progress != nil {
				progress(done, total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, Report{}, err
	}
	slices.Sort(report.Failed)
	return captions, report, nil
}

func (s *Service) caption(ctx context.Context, page domain.Page) (domain.Caption, error) {
	if s.backend == nil {
		return domain.Caption{}, nil
	}
	if len(page.Image) == 0 && page.Text == "" {
		return domain.Caption{}, nil
	}
	c, err := s.backend.Caption(ctx, page)
	if err != nil {
		return domain.Caption{}, domain.Classify(domain.CodeCaptioning, "caption slide", err)
	}
	return c, nil
}
