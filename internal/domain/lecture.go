package domain

import "strings"

// PreambleSlide is the sentinel ordinal for speech before the first slide.
const PreambleSlide = -1

// Segment is a time-bounded span of transcribed speech, times in seconds.
type Segment struct {
	Start float64 `json:"start_time" yaml:"start"`
	End   float64 `json:"end_time" yaml:"end"`
	Text  string  `json:"text" yaml:"text"`
}

// Boundary marks the moment a slide became active.
type Boundary struct {
	At    float64 `json:"at" yaml:"at"`
	Slide int     `json:"slide" yaml:"slide"`
}

// Page is one rendered unit of the slide document.
type Page struct {
	Number   int
	Image    []byte
	MIMEType string
	Text     string
}

// Document is an ingested slide deck; its page count is fixed once loaded.
type Document struct {
	Name  string
	Pages []Page
}

// SlideKind classifies a slide by its dominant content.
type SlideKind string

const (
	SlideKindMeta    SlideKind = "meta"
	SlideKindCode    SlideKind = "code"
	SlideKindImage   SlideKind = "image"
	SlideKindContent SlideKind = "content"
)

// Caption describes the visual content of one slide.
type Caption struct {
	Kind              SlideKind `json:"type"`
	TitleKeywords     []string  `json:"title_keywords"`
	SecondaryKeywords []string  `json:"secondary_keywords"`
	Detail            string    `json:"detail"`
}

// Empty reports whether the caption carries no information.
func (c Caption) Empty() bool {
	return c.Kind == "" && len(c.TitleKeywords) == 0 && len(c.SecondaryKeywords) == 0 && strings.TrimSpace(c.Detail) == ""
}

// Text renders the caption as the short string handed to summarizers.
func (c Caption) Text() string {
	if c.Empty() {
		return ""
	}
	var b strings.Builder
	if c.Kind != "" {
		b.WriteString("Type: ")
		b.WriteString(string(c.Kind))
		b.WriteString("\n")
	}
	if len(c.TitleKeywords) > 0 {
		b.WriteString("Title keywords: ")
		b.WriteString(strings.Join(c.TitleKeywords, ", "))
		b.WriteString("\n")
	}
	if len(c.SecondaryKeywords) > 0 {
		b.WriteString("Secondary keywords: ")
		b.WriteString(strings.Join(c.SecondaryKeywords, ", "))
		b.WriteString("\n")
	}
	if d := strings.TrimSpace(c.Detail); d != "" {
		b.WriteString("Detail: ")
		b.WriteString(d)
	}
	return strings.TrimSpace(b.String())
}

// Slide accumulates the per-slide state of a job.
type Slide struct {
	Ordinal  int
	Caption  Caption
	Segments []Segment
	Note     string
	HasNote  bool
}

// Transcript joins the slide's segment texts in order.
func (s Slide) Transcript() string {
	return JoinSegments(s.Segments)
}

// JoinSegments concatenates trimmed segment texts with single spaces.
func JoinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// SlideVisit records how long a slide was on screen within a live chunk.
type SlideVisit struct {
	Slide int     `json:"slide" yaml:"slide"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// SlideSignal is the caller-supplied slide activity attached to a live chunk.
// Active wins over Visits when both are set.
type SlideSignal struct {
	Active *int         `json:"active,omitempty" yaml:"active,omitempty"`
	Visits []SlideVisit `json:"visits,omitempty" yaml:"visits,omitempty"`
}

// Present reports whether the signal names any slide.
func (s SlideSignal) Present() bool {
	return s.Active != nil || len(s.Visits) > 0
}
