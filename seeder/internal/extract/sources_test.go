package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

func TestRepositoryFallsBackToMaster(t *testing.T) {
	// WHAT: README is found on the master branch after main misses.
	// WHY: Older repositories still use master as default branch.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/psf/requests/master/README.md" {
			w.Write([]byte("# Requests\n\nHTTP for Humans."))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RawBaseURL = srv.URL
	src := catalog.Source{Namespace: "libs", Name: "requests", URL: "https://github.com/psf/requests.git", Type: catalog.TypeRepository}
	res, err := NewRepository(cfg).Extract(context.Background(), src)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Content != "# Requests\n\nHTTP for Humans." {
		t.Errorf("content: %q", res.Content)
	}
	if res.Title != "psf/requests" {
		t.Errorf("title: %q", res.Title)
	}
	if res.Metadata["branch"] != "master" || res.Metadata["path"] != "README.md" {
		t.Errorf("metadata: %v", res.Metadata)
	}
	if res.Metadata["github_url"] != "https://github.com/psf/requests" {
		t.Errorf("github_url: %q", res.Metadata["github_url"])
	}
}

func TestRepositoryNoReadmeIsPermanent(t *testing.T) {
	// WHAT: Every candidate 404 means a permanent not-found.
	// WHY: A repository without README will not grow one on retry.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RawBaseURL = srv.URL
	src := catalog.Source{Name: "empty", URL: "https://github.com/acme/empty"}
	_, err := NewRepository(cfg).Extract(context.Background(), src)
	if !IsPermanent(err) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want permanent not found", err)
	}
	if want := int32(len(readmeBranches) * len(readmeCandidates)); hits.Load() != want {
		t.Errorf("requests: got %d, want %d", hits.Load(), want)
	}
}

func TestRepositoryServerErrorIsTransient(t *testing.T) {
	// WHAT: A 5xx on any candidate makes the whole miss transient.
	// WHY: The README may exist behind the failing request.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/main/README.md") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RawBaseURL = srv.URL
	_, err := NewRepository(cfg).Extract(context.Background(), catalog.Source{Name: "x", URL: "https://github.com/acme/flaky"})
	var e *Error
	if !errors.As(err, &e) || !e.Transient() {
		t.Fatalf("got %v, want transient", err)
	}
}

const atomEntryFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models are based on
      recurrent or convolutional networks.</summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <arxiv:primary_category term="cs.CL" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.CL" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
</feed>`

func TestPaperContent(t *testing.T) {
	// WHAT: Atom metadata is rendered as a markdown abstract page.
	// WHY: Version suffix is dropped from the queried id.
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("id_list")
		w.Write([]byte(atomEntryFeed))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.PaperAPIURL = srv.URL + "/api/query"
	src := catalog.Source{Namespace: "ml", Name: "attention", URL: "https://arxiv.org/abs/1706.03762v7", Type: catalog.TypePaper}
	res, err := NewPaper(cfg).Extract(context.Background(), src)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if query != "1706.03762" {
		t.Errorf("id_list = %q", query)
	}
	want := "# Attention Is All You Need\n\n" +
		"**arXiv:** 1706.03762\n" +
		"**Authors:** Ashish Vaswani, Noam Shazeer\n" +
		"**Categories:** cs.CL, cs.LG\n" +
		"**Published:** 2017-06-12\n\n" +
		"## Abstract\n\n" +
		"The dominant sequence transduction models are based on recurrent or convolutional networks.\n\n" +
		"---\n\n" +
		"Full paper: https://arxiv.org/pdf/1706.03762.pdf\n"
	if res.Content != want {
		t.Errorf("content:\n%s\nwant:\n%s", res.Content, want)
	}
	if res.Metadata["primary_category"] != "cs.CL" || res.Metadata["published"] != "2017-06-12" {
		t.Errorf("metadata: %v", res.Metadata)
	}
}

func TestPaperUnknownIsPermanent(t *testing.T) {
	// WHAT: An empty feed or an error entry fails permanently.
	// WHY: The archive answers 200 even for unknown identifiers.
	for name, body := range map[string]string{
		"empty": `<feed xmlns="http://www.w3.org/2005/Atom"></feed>`,
		"error": `<feed xmlns="http://www.w3.org/2005/Atom"><entry><id>http://arxiv.org/api/errors#incorrect_id</id><title>Error</title></entry></feed>`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		cfg := testConfig()
		cfg.PaperAPIURL = srv.URL
		_, err := NewPaper(cfg).Extract(context.Background(), catalog.Source{Name: "x", URL: "https://arxiv.org/abs/9999.99999"})
		srv.Close()
		if !IsPermanent(err) || !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: got %v, want permanent not found", name, err)
		}
	}
}
