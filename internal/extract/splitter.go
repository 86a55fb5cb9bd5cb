package extract

import (
	"strings"
	"unicode"

	"LectureNotes/internal/domain"
)

// Options sizes the segments handed to mapping and summarization.
type Options struct {
	// MinChars is the length below which a sentence is merged with the next.
	MinChars int
	// MaxChars caps a single segment; longer speech is cut at sentence or word boundaries.
	MaxChars int
	// PauseGap (seconds) of silence always closes the current segment.
	PauseGap float64
}

func (o Options) normalized() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = 2000
	}
	if o.MinChars < 0 {
		o.MinChars = 0
	}
	if o.MinChars > o.MaxChars {
		o.MinChars = o.MaxChars
	}
	return o
}

// Splitter reshapes raw STT output into sentence-aligned segments.
type Splitter struct {
	opts Options
}

// NewSplitter builds a splitter; zero options fall back to sane bounds.
func NewSplitter(opts Options) *Splitter {
	return &Splitter{opts: opts.normalized()}
}

// Split cuts oversized segments and merges fragments until each output
// segment ends on a sentence terminator, a pause, or the size cap.
func (s *Splitter) Split(raw []domain.Segment) []domain.Segment {
	pieces := make([]domain.Segment, 0, len(raw))
	for _, seg := range raw {
		pieces = append(pieces, s.cut(clean(seg))...)
	}

	out := make([]domain.Segment, 0, len(pieces))
	var cur *domain.Segment
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for _, p := range pieces {
		if p.Text == "" {
			continue
		}
		if cur != nil {
			gap := p.Start - cur.End
			if (s.opts.PauseGap > 0 && gap >= s.opts.PauseGap) || len(cur.Text)+1+len(p.Text) > s.opts.MaxChars {
				flush()
			}
		}
		if cur == nil {
			c := p
			cur = &c
		} else {
			cur.Text += " " + p.Text
			cur.End = max(cur.End, p.End)
		}
		if endsSentence(cur.Text) && len(cur.Text) >= s.opts.MinChars {
			flush()
		}
	}
	flush()
	return out
}

// cut splits one segment at sentence boundaries when it exceeds the cap,
// distributing its time span by character position.
func (s *Splitter) cut(seg domain.Segment) []domain.Segment {
	if len(seg.Text) <= s.opts.MaxChars {
		return []domain.Segment{seg}
	}

	var parts []string
	for _, sentence := range sentences(seg.Text) {
		for len(sentence) > s.opts.MaxChars {
			head, tail := cutWords(sentence, s.opts.MaxChars)
			parts = append(parts, head)
			sentence = tail
		}
		if sentence != "" {
			parts = append(parts, sentence)
		}
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	span := seg.End - seg.Start
	out := make([]domain.Segment, 0, len(parts))
	pos := 0
	for _, p := range parts {
		start := seg.Start + span*float64(pos)/float64(total)
		pos += len(p)
		end := seg.Start + span*float64(pos)/float64(total)
		out = append(out, domain.Segment{Start: start, End: end, Text: p})
	}
	return out
}

func clean(seg domain.Segment) domain.Segment {
	seg.Text = strings.Join(strings.Fields(seg.Text), " ")
	if seg.End < seg.Start {
		seg.End = seg.Start
	}
	return seg
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func endsSentence(text string) bool {
	text = strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '\'' || r == ')' || r == '”'
	})
	if text == "" {
		return false
	}
	r := []rune(text)
	return isTerminator(r[len(r)-1])
}

// sentences splits text after each run of terminators followed by a space.
func sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && isTerminator(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
			if s := strings.TrimSpace(string(runes[start : j+1])); s != "" {
				out = append(out, s)
			}
			start = j + 1
		}
		i = j
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// cutWords returns at most limit bytes of text ending on a word boundary.
func cutWords(text string, limit int) (head, tail string) {
	if len(text) <= limit {
		return text, ""
	}
	i := strings.LastIndexByte(text[:limit], ' ')
	if i <= 0 {
		i = limit
		for i > 0 && !isRuneStart(text[i]) {
			i--
		}
		if i == 0 {
			i = limit
		}
	}
	return strings.TrimSpace(text[:i]), strings.TrimSpace(text[i:])
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
