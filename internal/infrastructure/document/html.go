package document

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/ports"
)

// HTMLDeckLoader reads an HTML slide export where each innermost <section>
// (or element with class "slide") is one page. Page text is the section's
// visible text; the first embedded data-URI <img> becomes the page image.
type HTMLDeckLoader struct {
	client *http.Client
}

var _ ports.DocumentLoader = (*HTMLDeckLoader)(nil)

// NewHTMLDeckLoader wires an HTTP client for remote decks.
func NewHTMLDeckLoader(client *http.Client) *HTMLDeckLoader {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTMLDeckLoader{client: client}
}

// Name identifies the loader inside the registry.
func (h *HTMLDeckLoader) Name() string {
	return "html"
}

// Load parses a local file or an http(s) URL.
func (h *HTMLDeckLoader) Load(ctx context.Context, path string) (domain.Document, error) {
	var (
		doc *goquery.Document
		err error
	)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		doc, err = h.fetchDocument(ctx, path)
	} else {
		doc, err = readDocument(path)
	}
	if err != nil {
		return domain.Document{}, err
	}

	name := strings.TrimSpace(doc.Find("title").First().Text())
	if name == "" {
		name = filepath.Base(path)
	}
	return domain.Document{Name: name, Pages: extractPages(doc)}, nil
}

func (h *HTMLDeckLoader) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "LectureNotes/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deck host returned %s", resp.Status)
	}
	return parseDocument(resp.Body)
}

func readDocument(path string) (*goquery.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deck: %w", err)
	}
	defer f.Close()
	return parseDocument(f)
}

func parseDocument(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func extractPages(doc *goquery.Document) []domain.Page {
	slides := doc.Find("section").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find("section").Length() == 0
	})
	if slides.Length() == 0 {
		slides = doc.Find(".slide")
	}

	var pages []domain.Page
	slides.Each(func(i int, s *goquery.Selection) {
		page := domain.Page{Number: i, Text: collapse(s.Text())}
		s.Find("img[src^=\"data:\"]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
			src, _ := img.Attr("src")
			data, mimeType, err := decodeDataURI(src)
			if err != nil {
				return true
			}
			page.Image, page.MIMEType = data, mimeType
			return false
		})
		pages = append(pages, page)
	})
	return pages
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// decodeDataURI handles base64 data URIs of the form data:<mime>;base64,<payload>.
func decodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data uri")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("data uri has no payload")
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", fmt.Errorf("data uri is not base64")
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("data uri is %q, not an image", mimeType)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, "", fmt.Errorf("decode data uri: %w", err)
	}
	return data, mimeType, nil
}
