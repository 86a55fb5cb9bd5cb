package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"LectureNotes/internal/config"
	"LectureNotes/internal/domain"
	"LectureNotes/internal/infrastructure/resilience"
)

func TestClientEndpoints(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/transcribe":
			if _, ok := body["audio"]; !ok {
				t.Errorf("audio not sent")
			}
			_, _ = w.Write([]byte(`{"segments":[{"start_time":0,"end_time":1.5,"text":"Hello."}]}`))
		case "/caption":
			_, _ = w.Write([]byte(`{"type":"image","title_keywords":["diagram"],"detail":"A flow chart."}`))
		case "/summarize":
			if _, ok := body["segments"]; !ok {
				t.Errorf("segments not sent")
			}
			_, _ = w.Write([]byte(`{"summary":"A short note."}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(config.MLConfig{Endpoint: srv.URL + "/", APIKey: "secret"})
	ctx := context.Background()

	segs, err := c.Transcribe(ctx, []byte("wav"))
	if err != nil || len(segs) != 1 || segs[0].End != 1.5 || segs[0].Text != "Hello." {
		t.Fatalf("Transcribe = %+v, %v", segs, err)
	}

	caption, err := c.Caption(ctx, domain.Page{Number: 2, Image: []byte{1}})
	if err != nil || caption.Kind != domain.SlideKindImage || caption.Detail != "A flow chart." {
		t.Fatalf("Caption = %+v, %v", caption, err)
	}

	note, err := c.Summarize(ctx, caption, segs)
	if err != nil || note != "A short note." {
		t.Fatalf("Summarize = %q, %v", note, err)
	}
}

func TestClientMarksClientErrorsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/caption":
			http.Error(w, "unsupported image", http.StatusUnprocessableEntity)
		default:
			http.Error(w, "busy", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewClient(config.MLConfig{Endpoint: srv.URL})
	if _, err := c.Caption(context.Background(), domain.Page{}); !resilience.IsPermanent(err) {
		t.Fatalf("422 should be permanent, got %v", err)
	}
	if _, err := c.Summarize(context.Background(), domain.Caption{}, nil); err == nil || resilience.IsPermanent(err) {
		t.Fatalf("502 should be retryable, got %v", err)
	}
}
