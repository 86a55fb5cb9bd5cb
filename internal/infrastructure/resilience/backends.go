package resilience

import (
	"context"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/ports"
)

// Transcriber guards an STT backend and classifies its failures.
type Transcriber struct {
	next  ports.Transcriber
	guard *Guard
}

// Captioner guards an image-understanding backend.
type Captioner struct {
	next  ports.Captioner
	guard *Guard
}

// Summarizer guards a summarization backend.
type Summarizer struct {
	next  ports.Summarizer
	guard *Guard
}

var (
	_ ports.Transcriber = (*Transcriber)(nil)
	_ ports.Captioner   = (*Captioner)(nil)
	_ ports.Summarizer  = (*Summarizer)(nil)
)

// NewTranscriber wraps next with guard.
func NewTranscriber(next ports.Transcriber, guard *Guard) *Transcriber {
	return &Transcriber{next: next, guard: guard}
}

// NewCaptioner wraps next with guard.
func NewCaptioner(next ports.Captioner, guard *Guard) *Captioner {
	return &Captioner{next: next, guard: guard}
}

// NewSummarizer wraps next with guard.
func NewSummarizer(next ports.Summarizer, guard *Guard) *Summarizer {
	return &Summarizer{next: next, guard: guard}
}

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) ([]domain.Segment, error) {
	segs, err := Do(ctx, t.guard, func(ctx context.Context) ([]domain.Segment, error) {
		return t.next.Transcribe(ctx, audio)
	})
	if err != nil {
		return nil, domain.Classify(domain.CodeTranscription, t.guard.Name(), err)
	}
	return segs, nil
}

func (c *Captioner) Caption(ctx context.Context, page domain.Page) (domain.Caption, error) {
	out, err := Do(ctx, c.guard, func(ctx context.Context) (domain.Caption, error) {
		return c.next.Caption(ctx, page)
	})
	if err != nil {
		return domain.Caption{}, domain.Classify(domain.CodeCaptioning, c.guard.Name(), err)
	}
	return out, nil
}

func (s *Summarizer) Summarize(ctx context.Context, caption domain.Caption, segments []domain.Segment) (string, error) {
	note, err := Do(ctx, s.guard, func(ctx context.Context) (string, error) {
		return s.next.Summarize(ctx, caption, segments)
	})
	if err != nil {
		return "", domain.Classify(domain.CodeSummarization, s.guard.Name(), err)
	}
	return note, nil
}
