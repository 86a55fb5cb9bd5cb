package extract

import (
	"context"
	"iter"
	"slices"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/ports"
)

// Extractor turns a complete recording into sized, ordered segments.
type Extractor struct {
	stt      ports.Transcriber
	splitter *Splitter
}

// New wires the STT backend with a splitter.
func New(stt ports.Transcriber, opts Options) *Extractor {
	return &Extractor{stt: stt, splitter: NewSplitter(opts)}
}

// Extract transcribes audio and returns sentence-aligned segments ordered by start time.
func (e *Extractor) Extract(ctx context.Context, audio []byte) ([]domain.Segment, error) {
	if len(audio) == 0 {
		return nil, domain.Errorf(domain.CodeTranscription, "audio payload is empty")
	}

	raw, err := e.stt.Transcribe(ctx, audio)
	if err != nil {
		return nil, domain.Classify(domain.CodeTranscription, "transcribe audio", err)
	}

	return e.splitter.Split(ordered(raw)), nil
}

// Segments yields the extracted segments lazily; a failure is yielded once as the final element.
func (e *Extractor) Segments(ctx context.Context, audio []byte) iter.Seq2[domain.Segment, error] {
	return func(yield func(domain.Segment, error) bool) {
		segs, err := e.Extract(ctx, audio)
		if err != nil {
			yield(domain.Segment{}, err)
			return
		}
		for _, seg := range segs {
			if !yield(seg, nil) {
				return
			}
		}
	}
}

// Transcribe runs the backend for one live chunk without splitting.
func (e *Extractor) Transcribe(ctx context.Context, audio []byte) ([]domain.Segment, error) {
	if len(audio) == 0 {
		return nil, domain.Errorf(domain.CodeTranscription, "audio chunk is empty")
	}
	raw, err := e.stt.Transcribe(ctx, audio)
	if err != nil {
		return nil, domain.Classify(domain.CodeTranscription, "transcribe chunk", err)
	}
	return ordered(raw), nil
}

// Splitter exposes the configured splitter for incremental streams.
func (e *Extractor) Splitter() *Splitter {
	return e.splitter
}

func ordered(raw []domain.Segment) []domain.Segment {
	out := slices.Clone(raw)
	slices.SortStableFunc(out, func(a, b domain.Segment) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return out
}
