package openai

import (
	"errors"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"LectureNotes/internal/config"
	"LectureNotes/internal/infrastructure/resilience"
)

// NewAPIClient builds a go-openai client honouring a custom base URL.
func NewAPIClient(cfg config.OpenAIConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

// classify marks client errors that a retry cannot fix as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return resilience.Permanent(err)
	}
	return err
}

func firstContent(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
