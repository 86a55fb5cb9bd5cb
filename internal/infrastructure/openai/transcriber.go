package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"LectureNotes/internal/config"
	"LectureNotes/internal/domain"
	"LectureNotes/internal/infrastructure/resilience"
	"LectureNotes/internal/ports"
)

// Transcriber calls the Whisper transcription endpoint.
type Transcriber struct {
	cli      *openai.Client
	model    string
	language string
	maxBytes int64
}

var _ ports.Transcriber = (*Transcriber)(nil)

// NewTranscriber wires an STT backend.
func NewTranscriber(cli *openai.Client, cfg config.OpenAIConfig) *Transcriber {
	return &Transcriber{
		cli:      cli,
		model:    cfg.STTModel,
		language: cfg.Language,
		maxBytes: cfg.MaxUploadBytes,
	}
}

// Transcribe uploads audio and returns Whisper's timestamped segments.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) ([]domain.Segment, error) {
	if t.maxBytes > 0 && int64(len(audio)) > t.maxBytes {
		return nil, resilience.Permanent(domain.Errorf(domain.CodeTranscription,
			"audio is %d bytes, upload limit is %d", len(audio), t.maxBytes))
	}

	resp, err := t.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(audio),
		Language: t.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create transcription: %w", classify(err))
	}

	segs := make([]domain.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segs = append(segs, domain.Segment{Start: s.Start, End: s.End, Text: text})
	}

	if len(segs) == 0 {
		if text := strings.TrimSpace(resp.Text); text != "" {
			segs = append(segs, domain.Segment{Start: 0, End: resp.Duration, Text: text})
		}
	}
	return segs, nil
}
