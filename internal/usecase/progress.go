package usecase

import (
	"sync"

	"LectureNotes/internal/config"
)

// Stage is one step of a batch run.
type Stage int

const (
	StageExtract Stage = iota
	StageCaption
	StageMap
	StageSummarize
)

func (s Stage) String() string {
	switch s {
	case StageExtract:
		return "extract"
	case StageCaption:
		return "caption"
	case StageMap:
		return "map"
	case StageSummarize:
		return "summarize"
	default:
		return "unknown"
	}
}

// Bands holds the progress value at which each batch stage starts.
type Bands struct {
	Extract   int
	Caption   int
	Map       int
	Summarize int
	Done      int
}

// DefaultBands returns the 0/30/60/70/100 banding.
func DefaultBands() Bands {
	return Bands{Extract: 0, Caption: 30, Map: 60, Summarize: 70, Done: 100}
}

// BandsFromConfig converts configured bands.
func BandsFromConfig(cfg config.BandsConfig) Bands {
	return Bands{Extract: cfg.Extract, Caption: cfg.Caption, Map: cfg.Map, Summarize: cfg.Summarize, Done: cfg.Done}
}

func (b Bands) bounds(stage Stage) (start, end int) {
	switch stage {
	case StageExtract:
		return b.Extract, b.Caption
	case StageCaption:
		return b.Caption, b.Map
	case StageMap:
		return b.Map, b.Summarize
	default:
		return b.Summarize, b.Done
	}
}

// Progress maps done/total units of stage onto the overall percentage.
func (b Bands) Progress(stage Stage, done, total int) int {
	start, end := b.bounds(stage)
	if total <= 0 || done <= 0 {
		return start
	}
	if done >= total {
		return end
	}
	return start + (end-start)*done/total
}

// progressTracker serializes progress reports for one batch job and keeps
// them non-decreasing while extraction and captioning run concurrently.
// Caption progress is held back until extraction has finished.
type progressTracker struct {
	mu        sync.Mutex
	bands     Bands
	last      int
	message   string
	extracted bool
	held      int
	report    func(progress int, message string)
}

func newProgressTracker(bands Bands, report func(int, string)) *progressTracker {
	return &progressTracker{bands: bands, last: -1, report: report}
}

// set reports v unless it would move progress backwards. An unchanged value
// is still reported when the message changes, so a stage that starts where
// the previous one ended is announced.
func (t *progressTracker) set(v int, message string) {
	if v < t.last || (v == t.last && message == t.message) {
		return
	}
	t.last, t.message = v, message
	t.report(v, message)
}

func (t *progressTracker) stage(stage Stage, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, _ := t.bands.bounds(stage)
	t.set(start, message)
}

func (t *progressTracker) extractionDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.extracted = true
	t.set(t.bands.Caption, "captioning slides")
	if t.held > 0 {
		t.set(t.held, "captioning slides")
	}
}

func (t *progressTracker) caption(done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.bands.Progress(StageCaption, done, total)
	if !t.extracted {
		t.held = max(t.held, v)
		return
	}
	t.set(v, "captioning slides")
}

// summarize reports summarization progress, stopping short of Done so that
// the final value coincides with completion.
func (t *progressTracker) summarize(done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := min(t.bands.Progress(StageSummarize, done, total), t.bands.Done-1)
	t.set(max(v, t.bands.Summarize), "summarizing slides")
}
