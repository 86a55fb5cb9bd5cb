package caption

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"LectureNotes/internal/domain"
)

type pageCaptioner struct {
	fail map[int]bool
}

func (p pageCaptioner) Caption(_ context.Context, page domain.Page) (domain.Caption, error) {
	if p.fail[page.Number] {
		return domain.Caption{}, errors.New("vision backend unavailable")
	}
	return domain.Caption{Kind: domain.SlideKindContent, TitleKeywords: []string{page.Text}}, nil
}

func deck(n int) domain.Document {
	doc := domain.Document{Name: "lecture"}
	for i := range n {
		doc.Pages = append(doc.Pages, domain.Page{Number: i, Image: []byte{0x89}, Text: "slide"})
	}
	return doc
}

func TestCaptionAllDegradesFailedPages(t *testing.T) {
	t.Parallel()

	svc := New(Deps{Backend: pageCaptioner{fail: map[int]bool{3: true}}, Concurrency: 2})

	var mu sync.Mutex
	var seen []int
	captions, report, err := svc.CaptionAll(context.Background(), deck(5), func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 5 {
			t.Errorf("total = %d", total)
		}
		seen = append(seen, done)
	})
	if err != nil {
		t.Fatalf("CaptionAll: %v", err)
	}

	if len(captions) != 5 {
		t.Fatalf("expected 5 captions, got %d", len(captions))
	}
	if !captions[3].Empty() {
		t.Fatalf("slide 3 should have an empty caption, got %+v", captions[3])
	}
	if captions[0].Empty() {
		t.Fatalf("slide 0 caption should be populated")
	}
	if !reflect.DeepEqual(report.Failed, []int{3}) {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !reflect.DeepEqual(seen, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("unexpected progress calls: %v", seen)
	}
}

func TestCaptionAllStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := New(Deps{Backend: pageCaptioner{}, Concurrency: 1})
	if _, _, err := svc.CaptionAll(ctx, deck(3), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCaptionAllWithoutBackend(t *testing.T) {
	t.Parallel()

	captions, report, err := New(Deps{}).CaptionAll(context.Background(), deck(2), nil)
	if err != nil || len(captions) != 2 || len(report.Failed) != 0 {
		t.Fatalf("unexpected result: %v %+v %v", captions, report, err)
	}
}
