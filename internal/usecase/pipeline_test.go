package usecase

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/extract"
	"LectureNotes/internal/registry"
)

type sttFunc func(ctx context.Context, audio []byte) ([]domain.Segment, error)

func (f sttFunc) Transcribe(ctx context.Context, audio []byte) ([]domain.Segment, error) {
	return f(ctx, audio)
}

type captionFunc func(ctx context.Context, page domain.Page) (domain.Caption, error)

func (f captionFunc) Caption(ctx context.Context, page domain.Page) (domain.Caption, error) {
	return f(ctx, page)
}

type summaryFunc func(ctx context.Context, c domain.Caption, segs []domain.Segment) (string, error)

func (f summaryFunc) Summarize(ctx context.Context, c domain.Caption, segs []domain.Segment) (string, error) {
	return f(ctx, c, segs)
}

func keywordCaption(_ context.Context, page domain.Page) (domain.Caption, error) {
	return domain.Caption{Kind: domain.SlideKindContent, TitleKeywords: []string{page.Text}}, nil
}

func prefixSummary(ctx context.Context, _ domain.Caption, segs []domain.Segment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "note:" + domain.JoinSegments(segs), nil
}

// recordingRegistry remembers every progress value written per job.
type recordingRegistry struct {
	*registry.Memory

	mu       sync.Mutex
	progress map[string][]int
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{Memory: registry.NewMemory(), progress: map[string][]int{}}
}

func (r *recordingRegistry) Update(ctx context.Context, id string, u domain.JobUpdate) error {
	if u.Progress != nil {
		r.mu.Lock()
		r.progress[id] = append(r.progress[id], *u.Progress)
		r.mu.Unlock()
	}
	return r.Memory.Update(ctx, id, u)
}

func (r *recordingRegistry) progressOf(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.progress[id])
}

type testBackends struct {
	stt     sttFunc
	caption captionFunc
	summary summaryFunc
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Segmenter = extract.Options{MaxChars: 2000}
	return opts
}

func newTestPipeline(t *testing.T, b testBackends, opts Options) (*Pipeline, *recordingRegistry) {
	t.Helper()

	if b.caption == nil {
		b.caption = keywordCaption
	}
	if b.summary == nil {
		b.summary = prefixSummary
	}
	reg := newRecordingRegistry()
	p := NewPipeline(PipelineDeps{
		Registry:    reg,
		Transcriber: b.stt,
		Captioner:   b.caption,
		Summarizer:  b.summary,
		Options:     opts,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p, reg
}

func slideDeck(n int) domain.Document {
	doc := domain.Document{Name: "lecture"}
	for i := range n {
		doc.Pages = append(doc.Pages, domain.Page{Number: i, Image: []byte{0x89}, Text: "topic"})
	}
	return doc
}

func lectureSTT(_ context.Context, _ []byte) ([]domain.Segment, error) {
	return []domain.Segment{
		{Start: 0, End: 4, Text: "Welcome to the course."},
		{Start: 12, End: 15, Text: "Here is the second idea."},
		{Start: 26, End: 30, Text: "Finally the third idea."},
	}, nil
}

func lectureTiming() []domain.Boundary {
	return []domain.Boundary{{At: 0, Slide: 0}, {At: 10, Slide: 1}, {At: 25, Slide: 2}}
}

func waitDone(t *testing.T, p *Pipeline, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := p.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return st
}

func TestBatchProducesNotesPerSlide(t *testing.T) {
	t.Parallel()

	p, reg := newTestPipeline(t, testBackends{stt: lectureSTT}, testOptions())
	ctx := context.Background()

	id, err := p.Start(ctx, StartRequest{
		Mode:     domain.ModeBatch,
		Document: slideDeck(3),
		Audio:    []byte("wav"),
		Timing:   lectureTiming(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitDone(t, p, id)
	if st.State != domain.JobStateCompleted || st.Progress != 100 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.SlidesCovered != 3 {
		t.Fatalf("slides covered = %d, want 3", st.SlidesCovered)
	}

	result, err := p.Result(ctx, id)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	want := map[int]string{
		0: "note:Welcome to the course.",
		1: "note:Here is the second idea.",
		2: "note:Finally the third idea.",
	}
	if !reflect.DeepEqual(result, want) {
		t.Fatalf("result = %#v, want %#v", result, want)
	}

	progress := reg.progressOf(id)
	if !slices.IsSorted(progress) {
		t.Fatalf("progress must not decrease: %v", progress)
	}
	for _, mark := range []int{0, 30, 60, 70, 100} {
		if !slices.Contains(progress, mark) {
			t.Fatalf("progress %v misses band start %d", progress, mark)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Fatalf("last progress = %d", progress[len(progress)-1])
	}
}

func TestBatchOmitsSlidesWithoutSpeech(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, testBackends{stt: lectureSTT}, testOptions())
	ctx := context.Background()

	id, err := p.Start(ctx, StartRequest{
		Mode:     domain.ModeBatch,
		Document: slideDeck(5),
		Audio:    []byte("wav"),
		Timing:   []domain.Boundary{{At: 0, Slide: 0}, {At: 10, Slide: 3}},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, p, id)

	result, err := p.Result(ctx, id)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected slides 0 and 3 only, got %#v", result)
	}
	if result[3] != "note:Here is the second idea. Finally the third idea." {
		t.Fatalf("slide 3 note = %q", result[3])
	}
}

func TestBatchSurvivesCaptionFailure(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var captions []domain.Caption
	p, _ := newTestPipeline(t, testBackends{
		stt: lectureSTT,
		caption: func(ctx context.Context, page domain.Page) (domain.Caption, error) {
			if page.Number == 1 {
				return domain.Caption{}, errors.New("vision backend down")
			}
			return keywordCaption(ctx, page)
		},
		summary: func(ctx context.Context, c domain.Caption, segs []domain.Segment) (string, error) {
			mu.Lock()
			captions = append(captions, c)
			mu.Unlock()
			return prefixSummary(ctx, c, segs)
		},
	}, testOptions())

	id, err := p.Start(context.Background(), StartRequest{
		Mode:     domain.ModeBatch,
		Document: slideDeck(3),
		Audio:    []byte("wav"),
		Timing:   lectureTiming(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitDone(t, p, id)
	if st.State != domain.JobStateCompleted || st.Error != nil {
		t.Fatalf("caption failure must not fail the job: %+v", st)
	}

	mu.Lock()
	defer mu.Unlock()
	empty := 0
	for _, c := range captions {
		if c.Empty() {
			empty++
		}
	}
	if len(captions) != 3 || empty != 1 {
		t.Fatalf("expected one empty caption among 3, got %d of %d", empty, len(captions))
	}
}

func TestBatchTranscriptionFailureFailsJob(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, testBackends{
		stt: func(context.Context, []byte) ([]domain.Segment, error) {
			return nil, errors.New("stt unavailable")
		},
	}, testOptions())
	ctx := context.Background()

	id, err := p.Start(ctx, StartRequest{
		Mode:     domain.ModeBatch,
		Document: slideDeck(3),
		Audio:    []byte("wav"),
		Timing:   lectureTiming(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitDone(t, p, id)
	if st.State != domain.JobStateFailed {
		t.Fatalf("state = %s, want failed", st.State)
	}
	if st.Error == nil || st.Error.Code != domain.CodeTranscription {
		t.Fatalf("error = %+v, want TranscriptionError", st.Error)
	}

	if _, err := p.Result(ctx, id); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Result on failed job: %v", err)
	}
	if err := p.Cancel(ctx, id); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Cancel on failed job: %v", err)
	}
}

func TestBatchRejectsBadTiming(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, testBackends{stt: lectureSTT}, testOptions())

	id, err := p.Start(context.Background(), StartRequest{
		Mode:     domain.ModeBatch,
		Document: slideDeck(2),
		Audio:    []byte("wav"),
		Timing:   []domain.Boundary{{At: 0, Slide: 0}, {At: 5, Slide: 7}},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitDone(t, p, id)
	if st.Error == nil || st.Error.Code != domain.CodeMapping {
		t.Fatalf("expected MappingError, got %+v", st)
	}
}

func TestBatchSummarizationFailureFailsJob(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, testBackends{
		stt: lectureSTT,
		summary: func(ctx context.Context, c domain.Caption, segs []domain.Segment) (string, error) {
			if strings.Contains(domain.JoinSegments(segs), "second") {
				return "", errors.New("llm quota exceeded")
			}
			return prefixSummary(ctx, c, segs)
		},
	}, testOptions())

	id, err := p.Start(context.Background(), StartRequest{
		Mode:     domain.ModeBatch,
		Document: slideDeck(3),
		Audio:    []byte("wav"),
		Timing:   lectureTiming(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitDone(t, p, id)
	if st.Error == nil || st.Error.Code != domain.CodeSummarization {
		t.Fatalf("expected SummarizationError, got %+v", st)
	}
}

func TestCancelBatchWithoutDataFails(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	p, _ := newTestPipeline(t, testBackends{
		stt: func(ctx context.Context, _ []byte) ([]domain.Segment, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}, testOptions())
	ctx := context.Background()

	id, err := p.Start(ctx, StartRequest{
		Mode:     domain.ModeBatch,
		Document: slideDeck(3),
		Audio:    []byte("wav"),
		Timing:   lectureTiming(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	if err := p.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	st, err := p.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != domain.JobStateFailed || st.Error == nil || st.Error.Code != domain.CodeCancelled {
		t.Fatalf("expected CancelledError failure, got %+v", st)
	}
}

func TestCancelBatchKeepsPartialNotes(t *testing.T) {
	t.Parallel()

	slow := make(chan struct{})
	opts := testOptions()
	opts.SummaryConcurrency = 1
	p, _ := newTestPipeline(t, testBackends{
		stt: lectureSTT,
		summary: func(ctx context.Context, c domain.Caption, segs []domain.Segment) (string, error) {
			if strings.Contains(domain.JoinSegments(segs), "second") {
				close(slow)
				<-ctx.Done()
				return "", ctx.Err()
			}
			return prefixSummary(ctx, c, segs)
		},
	}, opts)
	ctx := context.Background()

	id, err := p.Start(ctx, StartRequest{
		Mode:     domain.ModeBatch,
		Document: slideDeck(3),
		Audio:    []byte("wav"),
		Timing:   lectureTiming(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-slow

	if err := p.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	result, err := p.Result(ctx, id)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	want := map[int]string{
		0: "note:Welcome to the course.",
		1: "Here is the second idea.",
		2: "Finally the third idea.",
	}
	if !reflect.DeepEqual(result, want) {
		t.Fatalf("result = %#v, want %#v", result, want)
	}
}

func TestStartValidatesRequest(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, testBackends{stt: lectureSTT}, testOptions())
	ctx := context.Background()

	cases := []StartRequest{
		{Mode: "stream", Document: slideDeck(1)},
		{Mode: domain.ModeBatch, Document: slideDeck(1)},
		{Mode: domain.ModeRealtime},
	}
	for _, req := range cases {
		if _, err := p.Start(ctx, req); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("Start(%+v) = %v, want InvalidInputError", req.Mode, err)
		}
	}
}

func TestUnknownJob(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, testBackends{stt: lectureSTT}, testOptions())
	ctx := context.Background()

	if _, err := p.Status(ctx, "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("Status: %v", err)
	}
	if _, err := p.Result(ctx, "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("Result: %v", err)
	}
	if err := p.Cancel(ctx, "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := p.SubmitChunk(ctx, "missing", Chunk{Seq: 1, Audio: []byte("x")}); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("SubmitChunk: %v", err)
	}
}

func TestCloseRejectsNewJobs(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, testBackends{stt: lectureSTT}, testOptions())
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := p.Start(context.Background(), StartRequest{Mode: domain.ModeRealtime, Document: slideDeck(1)})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Start after Close: %v", err)
	}
}
