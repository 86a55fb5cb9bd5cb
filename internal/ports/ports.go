package ports

import (
	"context"
	"time"

	"LectureNotes/internal/domain"
)

// Transcriber turns audio into ordered, time-stamped segments (STT backend).
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) ([]domain.Segment, error)
}

// Captioner describes a rendered slide via an image-understanding backend.
type Captioner interface {
	Caption(ctx context.Context, page domain.Page) (domain.Caption, error)
}

// Summarizer condenses a slide's caption and segments into one note.
type Summarizer interface {
	Summarize(ctx context.Context, caption domain.Caption, segments []domain.Segment) (string, error)
}

// JobRegistry tracks job identity, lifecycle and results. Every call is atomic.
type JobRegistry interface {
	Create(ctx context.Context, job domain.Job) error
	Update(ctx context.Context, id string, update domain.JobUpdate) error
	Get(ctx context.Context, id string) (domain.Job, error)
}

// DocumentLoader ingests a slide deck from a path.
type DocumentLoader interface {
	Name() string
	Load(ctx context.Context, path string) (domain.Document, error)
}

// Scheduler controls when periodic maintenance executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
