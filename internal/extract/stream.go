package extract

import (
	"slices"

	"LectureNotes/internal/domain"
)

// Stream extends a running transcript one chunk at a time. It emits only
// finalized segments and holds back trailing speech that does not yet end a
// sentence, so a chunk boundary that splits a sentence is joined on the next
// push. Stream is not safe for concurrent use.
type Stream struct {
	splitter *Splitter
	pending  []domain.Segment

	// mark is the latest segment start accepted so far, emitted or held.
	mark   float64
	marked bool
}

// NewStream starts an empty incremental transcript.
func NewStream(splitter *Splitter) *Stream {
	if splitter == nil {
		splitter = NewSplitter(Options{})
	}
	return &Stream{splitter: splitter}
}

// Push shifts chunk-relative segments by offset and returns segments that
// became final. Previously returned segments are never returned again.
func (s *Stream) Push(offset float64, raw []domain.Segment) []domain.Segment {
	combined := slices.Clone(s.pending)
	for _, seg := range raw {
		seg = clean(seg)
		if seg.Text == "" {
			continue
		}
		seg.Start += offset
		seg.End += offset
		combined = append(combined, seg)
		if !s.marked || seg.Start > s.mark {
			s.mark, s.marked = seg.Start, true
		}
	}

	cut := -1
	for i, seg := range combined {
		if endsSentence(seg.Text) {
			cut = i
		}
	}

	final := combined[:cut+1]
	held := combined[cut+1:]
	if pendingChars(held) > s.splitter.opts.MaxChars {
		final, held = combined, nil
	}

	s.pending = slices.Clone(held)
	if len(final) == 0 {
		return nil
	}
	return s.splitter.Split(final)
}

// Precedes reports whether raw, shifted by offset, would start at or before
// speech the stream has already accepted. Such a push would break timestamp
// order and must be rejected by the caller.
func (s *Stream) Precedes(offset float64, raw []domain.Segment) bool {
	if !s.marked {
		return false
	}
	if offset < s.mark {
		return true
	}
	for _, seg := range raw {
		if clean(seg).Text == "" {
			continue
		}
		if seg.Start+offset <= s.mark {
			return true
		}
	}
	return false
}

// Watermark returns the latest accepted segment start.
func (s *Stream) Watermark() (float64, bool) {
	return s.mark, s.marked
}

// Flush finalizes whatever trailing speech is held back.
func (s *Stream) Flush() []domain.Segment {
	if len(s.pending) == 0 {
		return nil
	}
	held := s.pending
	s.pending = nil
	return s.splitter.Split(held)
}

// Peek returns what Flush would emit without releasing the held speech.
func (s *Stream) Peek() []domain.Segment {
	if len(s.pending) == 0 {
		return nil
	}
	return s.splitter.Split(s.pending)
}

// Pending returns the held-back text.
func (s *Stream) Pending() string {
	return domain.JoinSegments(s.pending)
}

// Reset drops held-back speech. The watermark survives so timestamps stay
// ordered across a reset.
func (s *Stream) Reset() {
	s.pending = nil
}

func pendingChars(segs []domain.Segment) int {
	n := 0
	for _, seg := range segs {
		n += len(seg.Text) + 1
	}
	return n
}
