package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"LectureNotes/internal/domain"
)

type fakeSTT struct {
	segs []domain.Segment
	err  error
}

func (f fakeSTT) Transcribe(context.Context, []byte) ([]domain.Segment, error) {
	return f.segs, f.err
}

func TestSplitMergesFragmentsIntoSentences(t *testing.T) {
	t.Parallel()

	s := NewSplitter(Options{MinChars: 20, MaxChars: 200, PauseGap: 1.5})
	got := s.Split([]domain.Segment{
		{Start: 0, End: 1, Text: "Today we"},
		{Start: 1, End: 2, Text: " talk about  queues."},
		{Start: 2, End: 3, Text: "Next."},
		{Start: 3.1, End: 4, Text: "Short bit."},
	})

	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(got), got)
	}
	if got[0].Text != "Today we talk about queues." || got[0].Start != 0 || got[0].End != 2 {
		t.Fatalf("unexpected first segment: %+v", got[0])
	}
	if got[1].Text != "Next. Short bit." || got[1].Start != 2 || got[1].End != 4 {
		t.Fatalf("unexpected second segment: %+v", got[1])
	}
}

func TestSplitClosesOnPause(t *testing.T) {
	t.Parallel()

	s := NewSplitter(Options{MinChars: 100, MaxChars: 200, PauseGap: 1.5})
	got := s.Split([]domain.Segment{
		{Start: 0, End: 1, Text: "first part"},
		{Start: 5, End: 6, Text: "second part"},
	})
	if len(got) != 2 {
		t.Fatalf("expected pause to split, got %+v", got)
	}
}

func TestSplitCutsOversizedSegments(t *testing.T) {
	t.Parallel()

	s := NewSplitter(Options{MaxChars: 20})
	got := s.Split([]domain.Segment{
		{Start: 0, End: 10, Text: "Alpha beta gamma. Delta epsilon zeta eta theta."},
	})

	if len(got) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(got), got)
	}
	if got[0].Start != 0 || got[len(got)-1].End != 10 {
		t.Fatalf("time span not preserved: %+v", got)
	}
	for i, seg := range got {
		if len(seg.Text) > 20 {
			t.Fatalf("segment %d exceeds cap: %q", i, seg.Text)
		}
		if i > 0 && seg.Start < got[i-1].Start {
			t.Fatalf("segments out of order: %+v", got)
		}
	}
	if got[0].Text != "Alpha beta gamma." {
		t.Fatalf("unexpected first sentence: %q", got[0].Text)
	}
}

func TestExtractOrdersAndClassifies(t *testing.T) {
	t.Parallel()

	e := New(fakeSTT{segs: []domain.Segment{
		{Start: 4, End: 5, Text: "Second."},
		{Start: 0, End: 1, Text: "First."},
	}}, Options{MaxChars: 200})

	segs, err := e.Extract(context.Background(), []byte("wav"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(segs) != 2 || segs[0].Text != "First." {
		t.Fatalf("unexpected segments: %+v", segs)
	}

	failing := New(fakeSTT{err: errors.New("connection reset")}, Options{})
	if _, err := failing.Extract(context.Background(), []byte("wav")); !errors.Is(err, domain.ErrTranscription) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
	if _, err := failing.Extract(context.Background(), nil); !errors.Is(err, domain.ErrTranscription) {
		t.Fatalf("expected TranscriptionError for empty audio, got %v", err)
	}
}

func TestSegmentsIteratorStopsOnError(t *testing.T) {
	t.Parallel()

	e := New(fakeSTT{err: errors.New("boom")}, Options{})
	var errs int
	for _, err := range e.Segments(context.Background(), []byte("wav")) {
		if err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("expected a single error element, got %d", errs)
	}
}

func TestStreamHoldsUnfinishedSentence(t *testing.T) {
	t.Parallel()

	st := NewStream(NewSplitter(Options{MaxChars: 500, PauseGap: 1.5}))

	if got := st.Push(0, []domain.Segment{{Start: 8, End: 10, Text: "The scheduler picks"}}); len(got) != 0 {
		t.Fatalf("expected nothing final yet, got %+v", got)
	}
	if st.Pending() != "The scheduler picks" {
		t.Fatalf("unexpected pending text: %q", st.Pending())
	}

	got := st.Push(10, []domain.Segment{
		{Start: 0, End: 1, Text: "the next task."},
		{Start: 1, End: 2, Text: "Then it"},
	})
	if len(got) != 1 {
		t.Fatalf("expected one finalized segment, got %+v", got)
	}
	if got[0].Text != "The scheduler picks the next task." || got[0].Start != 8 || got[0].End != 11 {
		t.Fatalf("unexpected joined segment: %+v", got[0])
	}

	tail := st.Flush()
	if len(tail) != 1 || tail[0].Text != "Then it" || tail[0].Start != 11 {
		t.Fatalf("unexpected flushed tail: %+v", tail)
	}
	if again := st.Flush(); again != nil {
		t.Fatalf("flush re-emitted segments: %+v", again)
	}
}

func TestStreamNeverReemits(t *testing.T) {
	t.Parallel()

	st := NewStream(NewSplitter(Options{MaxChars: 500}))
	var all []string
	chunks := [][]domain.Segment{
		{{Start: 0, End: 2, Text: "One."}, {Start: 2, End: 4, Text: "Two"}},
		{{Start: 0, End: 2, Text: "three."}},
		{{Start: 0, End: 2, Text: "Four."}},
	}
	for i, c := range chunks {
		for _, seg := range st.Push(float64(i*5), c) {
			all = append(all, seg.Text)
		}
	}
	for _, seg := range st.Flush() {
		all = append(all, seg.Text)
	}

	if got := strings.Join(all, " "); got != "One. Two three. Four." {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestStreamForcesOutOversizedPending(t *testing.T) {
	t.Parallel()

	st := NewStream(NewSplitter(Options{MaxChars: 10}))
	got := st.Push(0, []domain.Segment{{Start: 0, End: 3, Text: "no terminator here at all"}})
	if len(got) == 0 || st.Pending() != "" {
		t.Fatalf("expected pending to be forced out, got %+v pending %q", got, st.Pending())
	}
}

func TestStreamPrecedesAcceptedSpeech(t *testing.T) {
	t.Parallel()

	st := NewStream(NewSplitter(Options{MaxChars: 500}))
	if st.Precedes(0, []domain.Segment{{Start: 0, End: 1, Text: "hello"}}) {
		t.Fatalf("empty stream must accept anything")
	}

	st.Push(0, []domain.Segment{{Start: 6, End: 9, Text: "Late start."}})
	if mark, ok := st.Watermark(); !ok || mark != 6 {
		t.Fatalf("watermark = %v, %v; want 6, true", mark, ok)
	}

	cases := []struct {
		name   string
		offset float64
		raw    []domain.Segment
		want   bool
	}{
		{"offset before mark", 5, []domain.Segment{{Start: 2, End: 3, Text: "x"}}, true},
		{"shifted start before mark", 5, []domain.Segment{{Start: 0, End: 1, Text: "x"}}, true},
		{"shifted start equals mark", 6, []domain.Segment{{Start: 0, End: 1, Text: "x"}}, true},
		{"blank segment ignored", 6, []domain.Segment{{Start: 0, End: 1, Text: "  "}, {Start: 1, End: 2, Text: "x"}}, false},
		{"after mark", 9, []domain.Segment{{Start: 0, End: 1, Text: "x"}}, false},
	}
	for _, tc := range cases {
		if got := st.Precedes(tc.offset, tc.raw); got != tc.want {
			t.Fatalf("%s: Precedes = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStreamWatermarkSurvivesReset(t *testing.T) {
	t.Parallel()

	st := NewStream(NewSplitter(Options{MaxChars: 500}))
	st.Push(10, []domain.Segment{{Start: 0, End: 2, Text: "held back"}})
	st.Reset()

	if st.Pending() != "" {
		t.Fatalf("pending survived reset: %q", st.Pending())
	}
	if !st.Precedes(10, []domain.Segment{{Start: 0, End: 1, Text: "again"}}) {
		t.Fatalf("reset must keep the watermark")
	}
}
