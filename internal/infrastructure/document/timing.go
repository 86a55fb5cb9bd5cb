package document

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"LectureNotes/internal/domain"
)

type timingFile struct {
	Boundaries []domain.Boundary `yaml:"boundaries"`
}

// LoadTiming reads a slide-timing index from YAML:
//
//	boundaries:
//	  - {at: 0, slide: 0}
//	  - {at: 42.5, slide: 1}
func LoadTiming(path string) ([]domain.Boundary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timing: %w", err)
	}

	var f timingFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, domain.NewError(domain.CodeMapping, "parse timing index", err)
	}
	return f.Boundaries, nil
}

// ManifestChunk is one recorded audio chunk of a live session.
type ManifestChunk struct {
	Seq    int64              `yaml:"seq"`
	Offset float64            `yaml:"offset"`
	Audio  string             `yaml:"audio"`
	Slide  domain.SlideSignal `yaml:",inline"`
}

// Manifest describes a recorded live session for replay.
type Manifest struct {
	Chunks []ManifestChunk `yaml:"chunks"`
}

// LoadManifest reads a session manifest. Relative audio paths resolve
// against the manifest's directory.
//
//	chunks:
//	  - {seq: 1, offset: 0, audio: chunk-001.wav, active: 0}
//	  - {seq: 2, offset: 10, audio: chunk-002.wav, visits: [{slide: 0, start: 0, end: 2}, {slide: 1, start: 2, end: 10}]}
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}

	base := filepath.Dir(path)
	for i := range m.Chunks {
		if m.Chunks[i].Audio != "" && !filepath.IsAbs(m.Chunks[i].Audio) {
			m.Chunks[i].Audio = filepath.Join(base, m.Chunks[i].Audio)
		}
	}
	return m, nil
}
