package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"LectureNotes/internal/config"
	"LectureNotes/internal/domain"
	"LectureNotes/internal/ports"
)

const summaryPrompt = `You write study notes for one lecture slide.

Slide analysis:
%s

Transcript spoken while the slide was shown:
%s

Write the notes in %s and return a JSON object with these string fields:
- "concise_summary": 3-5 sentences; bold each core keyword once with **.
- "bullet_points": key points, one per line, each starting with "∙ ".
- "keywords": important terms with a short explanation, one per line.
- "chart_summary": a table or step list when it helps; otherwise "Omitted".
Use "Omitted" for any part that cannot be written from the material.`

const omitted = "omitted"

// Summarizer produces structured slide notes with a chat model.
type Summarizer struct {
	cli      *openai.Client
	model    string
	language string
}

var _ ports.Summarizer = (*Summarizer)(nil)

// NewSummarizer wires a summarization backend.
func NewSummarizer(cli *openai.Client, cfg config.OpenAIConfig) *Summarizer {
	language := cfg.NoteLanguage
	if language == "" {
		language = "English"
	}
	return &Summarizer{cli: cli, model: cfg.SummaryModel, language: language}
}

type notePayload struct {
	ConciseSummary string `json:"concise_summary"`
	BulletPoints   string `json:"bullet_points"`
	Keywords       string `json:"keywords"`
	ChartSummary   string `json:"chart_summary"`
}

// Summarize asks for the four note parts and renders them into one note.
func (s *Summarizer) Summarize(ctx context.Context, caption domain.Caption, segments []domain.Segment) (string, error) {
	analysis := caption.Text()
	if analysis == "" {
		analysis = "(no slide analysis available)"
	}
	prompt := fmt.Sprintf(summaryPrompt, analysis, domain.JoinSegments(segments), s.language)

	resp, err := s.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.3,
	})
	if err != nil {
		return "", fmt.Errorf("create summary completion: %w", classify(err))
	}

	content, err := firstContent(resp)
	if err != nil {
		return "", err
	}

	var payload notePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return "", fmt.Errorf("decode note: %w", err)
	}

	note := payload.render()
	if note == "" {
		return "", errors.New("model returned an empty note")
	}
	return note, nil
}

func (p notePayload) render() string {
	sections := []struct{ title, body string }{
		{"Concise Summary", p.ConciseSummary},
		{"Bullet Points", p.BulletPoints},
		{"Keywords", p.Keywords},
		{"Chart Summary", p.ChartSummary},
	}

	var parts []string
	for _, sec := range sections {
		body := strings.TrimSpace(sec.body)
		if body == "" || strings.EqualFold(strings.Trim(body, ". "), omitted) {
			continue
		}
		parts = append(parts, sec.title+"\n"+body)
	}
	return strings.Join(parts, "\n\n")
}
