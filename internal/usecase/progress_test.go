package usecase

import (
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestBandsProgress(t *testing.T) {
	t.Parallel()

	b := DefaultBands()
	cases := []struct {
		stage       Stage
		done, total int
		want        int
	}{
		{StageExtract, 0, 0, 0},
		{StageCaption, 0, 10, 30},
		{StageCaption, 5, 10, 45},
		{StageCaption, 10, 10, 60},
		{StageMap, 1, 1, 70},
		{StageSummarize, 1, 3, 80},
		{StageSummarize, 3, 3, 100},
		{StageSummarize, 7, 3, 100},
	}
	for _, tc := range cases {
		if got := b.Progress(tc.stage, tc.done, tc.total); got != tc.want {
			t.Fatalf("Progress(%s, %d, %d) = %d, want %d", tc.stage, tc.done, tc.total, got, tc.want)
		}
	}
}

func TestProgressTrackerHoldsCaptionsUntilExtractionDone(t *testing.T) {
	t.Parallel()

	var got []int
	tr := newProgressTracker(DefaultBands(), func(p int, _ string) { got = append(got, p) })

	tr.stage(StageExtract, "transcribing audio")
	tr.caption(1, 2)
	tr.caption(2, 2)
	tr.extractionDone()
	tr.stage(StageMap, "mapping")
	tr.stage(StageSummarize, "summarizing")
	tr.summarize(1, 2)
	tr.summarize(2, 2)

	want := []int{0, 30, 60, 60, 70, 85, 99}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
}

func TestProgressTrackerInterleavedCaptions(t *testing.T) {
	t.Parallel()

	var got []int
	tr := newProgressTracker(DefaultBands(), func(p int, _ string) { got = append(got, p) })

	tr.stage(StageExtract, "transcribing audio")
	tr.caption(1, 4)
	tr.extractionDone()
	tr.caption(2, 4)
	tr.caption(4, 4)

	want := []int{0, 30, 37, 45, 60}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
}

func TestProgressTrackerAnnouncesStageAtSameValue(t *testing.T) {
	t.Parallel()

	var messages []string
	tr := newProgressTracker(DefaultBands(), func(_ int, m string) { messages = append(messages, m) })

	tr.stage(StageExtract, "transcribing audio")
	tr.caption(1, 1)
	tr.extractionDone()
	tr.stage(StageMap, "mapping segments to slides")
	tr.stage(StageMap, "mapping segments to slides")

	want := []string{"transcribing audio", "captioning slides", "captioning slides", "mapping segments to slides"}
	if !reflect.DeepEqual(messages, want) {
		t.Fatalf("messages = %q, want %q", messages, want)
	}
}

func TestNewJobID(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := NewJobID(now)
	if err != nil {
		t.Fatalf("NewJobID: %v", err)
	}
	b, err := NewJobID(now.Add(time.Second))
	if err != nil {
		t.Fatalf("NewJobID: %v", err)
	}

	if !regexp.MustCompile(`^20250102_030405_[0-9a-z]{8}$`).MatchString(a) {
		t.Fatalf("unexpected job id %q", a)
	}
	if strings.Compare(a, b) >= 0 {
		t.Fatalf("ids must sort by creation time: %q vs %q", a, b)
	}
}
