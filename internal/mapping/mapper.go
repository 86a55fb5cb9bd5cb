package mapping

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"LectureNotes/internal/domain"
)

// PreamblePolicy decides where speech before the first slide boundary goes.
type PreamblePolicy string

const (
	// PreambleFirst attaches early speech to slide 0.
	PreambleFirst PreamblePolicy = "first"
	// PreambleDrop discards early speech.
	PreambleDrop PreamblePolicy = "drop"
	// PreambleSentinel attaches early speech to domain.PreambleSlide.
	PreambleSentinel PreamblePolicy = "sentinel"
)

// ParsePreamblePolicy validates a configured policy name.
func ParsePreamblePolicy(v string) (PreamblePolicy, error) {
	switch p := PreamblePolicy(v); p {
	case PreambleFirst, PreambleDrop, PreambleSentinel:
		return p, nil
	case "":
		return PreambleFirst, nil
	default:
		return "", fmt.Errorf("unknown preamble policy %q", v)
	}
}

// Index is a validated slide-activation timeline sorted by time.
type Index struct {
	bounds []domain.Boundary
}

// NewIndex validates boundaries against the document's slide count.
// Boundaries must be in non-decreasing time order; on equal timestamps the
// later entry wins.
func NewIndex(bounds []domain.Boundary, slideCount int) (*Index, error) {
	if len(bounds) == 0 {
		return nil, domain.Errorf(domain.CodeMapping, "slide timing index is empty")
	}

	for i, b := range bounds {
		if math.IsNaN(b.At) || math.IsInf(b.At, 0) || b.At < 0 {
			return nil, domain.Errorf(domain.CodeMapping, "boundary %d has invalid timestamp %v", i, b.At)
		}
		if b.Slide < 0 || b.Slide >= slideCount {
			return nil, domain.Errorf(domain.CodeMapping, "boundary %d references slide %d outside [0,%d)", i, b.Slide, slideCount)
		}
		if i > 0 && b.At < bounds[i-1].At {
			return nil, domain.Errorf(domain.CodeMapping, "boundary %d at %.3fs precedes boundary %d at %.3fs", i, b.At, i-1, bounds[i-1].At)
		}
	}

	return &Index{bounds: slices.Clone(bounds)}, nil
}

// SlideAt returns the slide active at t. A timestamp equal to a boundary
// resolves to the slide being transitioned into. ok is false before the
// first boundary.
func (ix *Index) SlideAt(t float64) (slide int, ok bool) {
	i := sort.Search(len(ix.bounds), func(i int) bool {
		return ix.bounds[i].At > t
	})
	if i == 0 {
		return 0, false
	}
	return ix.bounds[i-1].Slide, true
}

// Assignment groups segments by slide ordinal, preserving segment order.
type Assignment struct {
	Slides  map[int][]domain.Segment
	Dropped int
}

// Ordinals returns the slide ordinals that received segments, ascending.
func (a Assignment) Ordinals() []int {
	out := make([]int, 0, len(a.Slides))
	for ord := range a.Slides {
		out = append(out, ord)
	}
	slices.Sort(out)
	return out
}

// Count returns the number of mapped segments.
func (a Assignment) Count() int {
	n := 0
	for _, segs := range a.Slides {
		n += len(segs)
	}
	return n
}

// Mapper assigns transcript segments to slides.
type Mapper struct {
	preamble PreamblePolicy
}

// New builds a mapper with the given preamble policy.
func New(preamble PreamblePolicy) *Mapper {
	if preamble == "" {
		preamble = PreambleFirst
	}
	return &Mapper{preamble: preamble}
}

// Map assigns each segment by binary-searching its start time in ix.
// The result depends only on its inputs.
func (m *Mapper) Map(segs []domain.Segment, ix *Index) (Assignment, error) {
	if ix == nil {
		return Assignment{}, domain.Errorf(domain.CodeMapping, "slide timing index is missing")
	}

	out := Assignment{Slides: make(map[int][]domain.Segment)}
	for i, seg := range segs {
		if i > 0 && seg.Start < segs[i-1].Start {
			return Assignment{}, domain.Errorf(domain.CodeMapping, "segment %d starts at %.3fs before segment %d at %.3fs", i, seg.Start, i-1, segs[i-1].Start)
		}

		slide, ok := ix.SlideAt(seg.Start)
		if !ok {
			switch m.preamble {
			case PreambleDrop:
				out.Dropped++
				continue
			case PreambleSentinel:
				slide = domain.PreambleSlide
			default:
				slide = 0
			}
		}
		out.Slides[slide] = append(out.Slides[slide], seg)
	}
	return out, nil
}

// Resolve picks the slide named by a live chunk's signal. An explicit active
// slide wins; otherwise the longest visit is used, the earliest on ties.
// ok is false when the signal names no slide.
func Resolve(sig domain.SlideSignal, slideCount int) (slide int, ok bool, err error) {
	check := func(s int) error {
		if s < 0 || s >= slideCount {
			return domain.Errorf(domain.CodeInvalidInput, "slide %d outside [0,%d)", s, slideCount)
		}
		return nil
	}

	if !sig.Present() {
		return 0, false, nil
	}
	if sig.Active != nil {
		if err := check(*sig.Active); err != nil {
			return 0, false, err
		}
		return *sig.Active, true, nil
	}

	best, bestDur := 0, -1.0
	for _, v := range sig.Visits {
		if err := check(v.Slide); err != nil {
			return 0, false, err
		}
		if v.End < v.Start {
			return 0, false, domain.Errorf(domain.CodeInvalidInput, "visit of slide %d ends before it starts", v.Slide)
		}
		if d := v.End - v.Start; d > bestDur {
			best, bestDur = v.Slide, d
		}
	}
	return best, true, nil
}
