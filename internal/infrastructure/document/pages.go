package document

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/ports"
)

var imageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// PagesLoader reads a directory of pre-rendered slide images, one file per
// page, ordered by file name. A sibling .txt file with the same base name
// supplies the page's extracted text.
type PagesLoader struct{}

var _ ports.DocumentLoader = (*PagesLoader)(nil)

// NewPagesLoader builds a loader for rendered page directories.
func NewPagesLoader() *PagesLoader {
	return &PagesLoader{}
}

// Name identifies the loader inside the registry.
func (p *PagesLoader) Name() string {
	return "pages"
}

// Load reads every image in dir.
func (p *PagesLoader) Load(ctx context.Context, dir string) (domain.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read pages dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := mimeFor(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	doc := domain.Document{Name: filepath.Base(dir)}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return domain.Document{}, err
		}

		image, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return domain.Document{}, fmt.Errorf("read page %s: %w", name, err)
		}
		mimeType, _ := mimeFor(name)

		var text string
		sidecar := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name))+".txt")
		if raw, err := os.ReadFile(sidecar); err == nil {
			text = strings.TrimSpace(string(raw))
		}

		doc.Pages = append(doc.Pages, domain.Page{Number: i, Image: image, MIMEType: mimeType, Text: text})
	}
	return doc, nil
}

func mimeFor(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := imageExts[ext]; ok {
		return t, true
	}
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "image/") {
		return t, true
	}
	return "", false
}
