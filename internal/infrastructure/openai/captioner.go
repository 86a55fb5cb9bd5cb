package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"LectureNotes/internal/config"
	"LectureNotes/internal/domain"
	"LectureNotes/internal/ports"
)

const captionSystemPrompt = "You analyze lecture slides. Extract short English keywords and classify each slide into one type so spoken audio can be matched to it."

const captionInstructions = `Return a JSON object with exactly these fields:
{
  "type": "meta" | "code" | "image" | "content",
  "title_keywords": ["1-2 core keywords"],
  "secondary_keywords": ["up to 5 concrete terms shown on the slide"],
  "detail": "description of the slide content"
}
Types:
- meta: title, agenda, outline, or closing slides.
- code: slides dominated by source code; explain its purpose and key functions in detail.
- image: slides dominated by a picture, diagram, or chart; describe what it shows.
- content: regular explanatory slides; summarize the points made.
Keep keywords at most 3 words. For meta slides both keyword lists must be empty.`

// Captioner describes slides with a vision-capable chat model.
type Captioner struct {
	cli   *openai.Client
	model string
}

var _ ports.Captioner = (*Captioner)(nil)

// NewCaptioner wires a captioning backend.
func NewCaptioner(cli *openai.Client, cfg config.OpenAIConfig) *Captioner {
	return &Captioner{cli: cli, model: cfg.VisionModel}
}

type captionPayload struct {
	Type              string   `json:"type"`
	TitleKeywords     []string `json:"title_keywords"`
	SecondaryKeywords []string `json:"secondary_keywords"`
	Detail            string   `json:"detail"`
}

// Caption sends the rendered page (and any extracted text) to the model.
func (c *Captioner) Caption(ctx context.Context, page domain.Page) (domain.Caption, error) {
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: captionInstructions}}
	if text := strings.TrimSpace(page.Text); text != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: "Text extracted from the slide:\n" + text,
		})
	}
	if len(page.Image) > 0 {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURI(page.MIMEType, page.Image),
				Detail: openai.ImageURLDetailLow,
			},
		})
	}

	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: captionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.2,
	})
	if err != nil {
		return domain.Caption{}, fmt.Errorf("create caption completion: %w", classify(err))
	}

	content, err := firstContent(resp)
	if err != nil {
		return domain.Caption{}, err
	}

	var payload captionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return domain.Caption{}, fmt.Errorf("decode caption: %w", err)
	}
	return payload.caption(), nil
}

func (p captionPayload) caption() domain.Caption {
	kind := domain.SlideKind(strings.ToLower(strings.TrimSpace(p.Type)))
	switch kind {
	case domain.SlideKindMeta, domain.SlideKindCode, domain.SlideKindImage, domain.SlideKindContent:
	default:
		kind = domain.SlideKindContent
	}

	c := domain.Caption{
		Kind:   kind,
		Detail: strings.TrimSpace(p.Detail),
	}
	if kind != domain.SlideKindMeta {
		c.TitleKeywords = trimAll(p.TitleKeywords)
		c.SecondaryKeywords = trimAll(p.SecondaryKeywords)
	}
	return c
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
