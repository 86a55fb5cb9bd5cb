package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"LectureNotes/internal/config"
	"LectureNotes/internal/domain"
	"LectureNotes/internal/infrastructure/resilience"
	"LectureNotes/internal/ports"
)

// Client talks to a self-hosted inference service exposing STT, captioning
// and summarization over JSON.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var (
	_ ports.Transcriber = (*Client)(nil)
	_ ports.Captioner   = (*Client)(nil)
	_ ports.Summarizer  = (*Client)(nil)
)

// NewClient creates a reusable HTTP client. Per-call deadlines come from ctx.
func NewClient(cfg config.MLConfig) *Client {
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: 10 * time.Minute},
	}
}

// Transcribe posts the audio payload and returns timestamped segments.
func (c *Client) Transcribe(ctx context.Context, audio []byte) ([]domain.Segment, error) {
	payload := map[string]any{
		"audio": audio,
	}

	var resp struct {
		Segments []domain.Segment `json:"segments"`
	}
	if err := c.post(ctx, "/transcribe", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Segments, nil
}

// Caption posts a rendered slide and returns its structured description.
func (c *Client) Caption(ctx context.Context, page domain.Page) (domain.Caption, error) {
	payload := map[string]any{
		"slide":     page.Number,
		"image":     page.Image,
		"mime_type": page.MIMEType,
		"text":      page.Text,
	}

	var caption domain.Caption
	if err := c.post(ctx, "/caption", payload, &caption); err != nil {
		return domain.Caption{}, err
	}
	return caption, nil
}

// Summarize requests a note for one slide's caption and transcript.
func (c *Client) Summarize(ctx context.Context, caption domain.Caption, segments []domain.Segment) (string, error) {
	payload := map[string]any{
		"caption":  caption,
		"segments": segments,
	}

	var resp struct {
		Summary string `json:"summary"`
	}
	if err := c.post(ctx, "/summarize", payload, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s returned %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
