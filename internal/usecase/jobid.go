package usecase

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	jobIDTimeLayout = "20060102_150405"
	jobIDAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	jobIDSuffixLen  = 8
)

// NewJobID returns a creation-time prefix plus a random suffix, so ids sort
// roughly by creation time.
func NewJobID(now time.Time) (string, error) {
	suffix, err := gonanoid.Generate(jobIDAlphabet, jobIDSuffixLen)
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return now.UTC().Format(jobIDTimeLayout) + "_" + suffix, nil
}
