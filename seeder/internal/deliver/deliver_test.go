package deliver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
	"github.com/hazyhaar/seeder/seeder/internal/extract"
	"github.com/hazyhaar/seeder/seeder/internal/quality"
	"github.com/hazyhaar/seeder/seeder/internal/retry"
)

func TestIngestPostsPayload(t *testing.T) {
	// WHAT: Ingest posts JSON to /api/v1/ingest/document and reads id and chunk count.
	// WHY: Both values are persisted on the source row.
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/ingest/document" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"external_document_id":"doc-42","chunk_count":9}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"})
	res, err := c.Ingest(context.Background(), Payload{Content: "body", Title: "T", Namespace: "ns"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.DocumentID != "doc-42" || res.ChunkCount != 9 {
		t.Errorf("result: %+v", res)
	}
	if got.Content != "body" || got.Namespace != "ns" {
		t.Errorf("payload: %+v", got)
	}
}

func TestIngestLegacyResponse(t *testing.T) {
	// WHAT: {success, content_id, chunks_created} is accepted; duplicate refusals count as delivered.
	// WHY: Older store versions answer with this shape.
	cases := []struct {
		body      string
		wantID    string
		wantDup   bool
		wantChunk int
	}{
		{`{"success":true,"content_id":"c-1","chunks_created":4}`, "c-1", false, 4},
		{`{"success":false,"message":"Duplicate content detected"}`, "", true, 0},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(tc.body))
		}))
		res, err := New(Config{BaseURL: srv.URL}).Ingest(context.Background(), Payload{})
		srv.Close()
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if res.DocumentID != tc.wantID || res.Duplicate != tc.wantDup || res.ChunkCount != tc.wantChunk {
			t.Errorf("%s: %+v", tc.body, res)
		}
	}
}

func TestIngestRejectedIsFatal(t *testing.T) {
	// WHAT: success:false without duplicate is a fatal rejection.
	// WHY: The store refused the document; retrying sends the same bytes.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"content timeout while chunking"}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Ingest(context.Background(), Payload{})
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("got %v, want RejectedError", err)
	}
	if retry.Classify(err) != retry.Fatal {
		t.Error("rejection must classify as fatal")
	}
}

func TestHTTPErrorClassification(t *testing.T) {
	// WHAT: 503 is transient, 422 is fatal.
	// WHY: The retry engine reads HTTPStatus from the error.
	for code, want := range map[int]retry.Class{503: retry.Transient, 429: retry.Transient, 422: retry.Fatal} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", code)
		}))
		_, err := New(Config{BaseURL: srv.URL}).Ingest(context.Background(), Payload{})
		srv.Close()
		var he *HTTPError
		if !errors.As(err, &he) || he.StatusCode != code {
			t.Fatalf("%d: got %v", code, err)
		}
		if got := retry.Classify(err); got != want {
			t.Errorf("%d: class %s, want %s", code, got, want)
		}
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/health":
			w.Write([]byte(`{"status":"healthy","stats":{"total_content":120}}`))
		case "/api/v1/stats":
			w.Write([]byte(`{"total_content":120,"total_chunks":3400}`))
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !h.Healthy() || h.TotalContent != 120 {
		t.Errorf("health: %+v", h)
	}
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats["total_chunks"] != float64(3400) {
		t.Errorf("stats: %v", stats)
	}
}

func TestBuildPayload(t *testing.T) {
	// WHAT: Payload carries the contract fields and seeder bookkeeping.
	src := catalog.Source{
		Namespace: "frameworks", Name: "fastapi-docs", URL: "https://fastapi.tiangolo.com/",
		Type: catalog.TypeWeb, Priority: "P1", Tags: []string{"python"},
	}
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	res := &extract.Result{
		Content: "# FastAPI\n\n- fast\n- typed", Title: "FastAPI", SourceType: catalog.TypeWeb,
		Metadata: map[string]string{"language": "en-US", "author": "tiangolo"}, ExtractedAt: at,
	}
	p := BuildPayload(src, res, quality.Score{Overall: 72.5, Grade: "B"}, "0123456789abcdef")

	if p.DocumentType != DocMarkdown || p.Namespace != "frameworks" || p.Title != "FastAPI" {
		t.Errorf("payload: %+v", p)
	}
	m := p.Metadata
	if m.SourceURL != src.URL || m.Language != "en" || m.Author != "tiangolo" || len(m.Tags) != 1 {
		t.Errorf("metadata: %+v", m)
	}
	c := m.Custom
	if c.SourceID != "frameworks:fastapi-docs" || c.SourceType != "web" || c.QualityScore != 72.5 ||
		c.QualityGrade != "B" || c.ContentHash != "0123456789abcdef" || c.ExtractedAt != "2025-02-03T04:05:06Z" {
		t.Errorf("custom: %+v", c)
	}
}

func TestDocumentType(t *testing.T) {
	cases := []struct {
		t       catalog.SourceType
		content string
		want    string
	}{
		{catalog.TypeVideo, "[00:00]\nhello", DocTranscript},
		{catalog.TypeRepository, "plain", DocMarkdown},
		{catalog.TypePaper, "# Title", DocText},
		{catalog.TypeWeb, "Just prose here.", DocText},
		{catalog.TypeWeb, "Intro\n\n## Section", DocMarkdown},
		{catalog.TypeFile, "| a | b |\n|---|---|", DocMarkdown},
		{catalog.TypeFile, "```go\nx\n```", DocMarkdown},
	}
	for _, tc := range cases {
		if got := DocumentType(tc.t, tc.content); got != tc.want {
			t.Errorf("%s %q: got %s, want %s", tc.t, tc.content, got, tc.want)
		}
	}
}
