package document

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/logging"
	"LectureNotes/internal/ports"
)

// Registry keeps a mapping from deck format names to their loaders.
type Registry struct {
	loaders map[string]ports.DocumentLoader
	logger  *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{loaders: map[string]ports.DocumentLoader{}, logger: logger}
}

// NewDefaultRegistry registers the built-in page-directory and HTML loaders.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewPagesLoader())
	r.Register(NewHTMLDeckLoader(nil))
	return r
}

// Register adds or replaces a loader implementation.
func (r *Registry) Register(loader ports.DocumentLoader) {
	if r.loaders == nil {
		r.loaders = map[string]ports.DocumentLoader{}
	}
	r.loaders[loader.Name()] = loader
}

// Resolve returns a loader by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.DocumentLoader, error) {
	if loader, ok := r.loaders[name]; ok {
		return loader, nil
	}
	return nil, fmt.Errorf("document format %s is not registered (known: %v)", name, r.Names())
}

// Names lists registered formats in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load resolves format and ingests the deck at path. A deck without pages is
// rejected as invalid input.
func (r *Registry) Load(ctx context.Context, format, path string) (domain.Document, error) {
	loader, err := r.Resolve(format)
	if err != nil {
		return domain.Document{}, domain.NewError(domain.CodeInvalidInput, "resolve document loader", err)
	}

	r.logger.Debug("load document", "format", format, "path", path)
	doc, err := loader.Load(ctx, path)
	if err != nil {
		return domain.Document{}, domain.Classify(domain.CodeInvalidInput, "load document", err)
	}
	if len(doc.Pages) == 0 {
		return domain.Document{}, domain.Errorf(domain.CodeInvalidInput, "document %s has no pages", path)
	}
	for i := range doc.Pages {
		doc.Pages[i].Number = i
	}

	r.logger.Debug("document loaded", "format", format, "pages", len(doc.Pages))
	return doc, nil
}
