package extract

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

// Paper composes a document from paper metadata returned by the Atom query API.
type Paper struct {
	get *getter
	api string
	max int
}

// NewPaper creates the paper-abstract extractor.
func NewPaper(cfg Config) *Paper {
	cfg.defaults()
	api := cfg.PaperAPIURL
	if api == "" {
		api = "http://export.arxiv.org/api/query"
	}
	return &Paper{get: newGetter("paper", cfg.HTTP), api: api, max: cfg.MaxContentLength}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) CanHandle(src catalog.Source) bool {
	return handles(src, catalog.TypePaper) && catalog.PaperID(src.URL) != ""
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Primary    atomTerm   `xml:"primary_category"`
	Categories []atomTerm `xml:"category"`
}

type atomTerm struct {
	Term string `xml:"term,attr"`
}

func (p *Paper) Extract(ctx context.Context, src catalog.Source) (*Result, error) {
	id := catalog.PaperID(src.URL)
	if id == "" {
		return nil, permanentErr(p.Name(), src.URL, ErrInvalidURL)
	}

	resp, err := p.get.get(ctx, p.api+"?id_list="+url.QueryEscape(id))
	if err != nil {
		return nil, err
	}
	var feed atomFeed
	if err := xml.Unmarshal(resp.Body, &feed); err != nil {
		return nil, transientErr(p.Name(), src.URL, fmt.Errorf("atom: %w", err))
	}
	if len(feed.Entries) == 0 {
		return nil, permanentErr(p.Name(), src.URL, fmt.Errorf("%w: paper %s", ErrNotFound, id))
	}
	e := feed.Entries[0]
	title := oneLine(e.Title)
	if title == "" || strings.Contains(title, "Error") || strings.Contains(e.ID, "/api/errors") {
		return nil, permanentErr(p.Name(), src.URL, fmt.Errorf("%w: paper %s", ErrNotFound, id))
	}

	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		if n := strings.TrimSpace(a.Name); n != "" {
			authors = append(authors, n)
		}
	}
	var categories []string
	seen := map[string]bool{}
	for _, term := range append([]string{e.Primary.Term}, terms(e.Categories)...) {
		if term != "" && !seen[term] {
			seen[term] = true
			categories = append(categories, term)
		}
	}
	published := e.Published
	if len(published) >= 10 {
		published = published[:10]
	}
	pdfURL := "https://arxiv.org/pdf/" + id + ".pdf"

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**arXiv:** %s\n", id)
	if len(authors) > 0 {
		fmt.Fprintf(&b, "**Authors:** %s\n", strings.Join(authors, ", "))
	}
	if len(categories) > 0 {
		fmt.Fprintf(&b, "**Categories:** %s\n", strings.Join(categories, ", "))
	}
	if published != "" {
		fmt.Fprintf(&b, "**Published:** %s\n", published)
	}
	fmt.Fprintf(&b, "\n## Abstract\n\n%s\n\n---\n\nFull paper: %s\n", oneLine(e.Summary), pdfURL)

	return &Result{
		Content:    truncate(b.String(), p.max),
		Title:      title,
		SourceURL:  src.URL,
		SourceType: catalog.TypePaper,
		Metadata: map[string]string{
			"arxiv_id":         id,
			"authors":          strings.Join(authors, ", "),
			"categories":       strings.Join(categories, ", "),
			"primary_category": e.Primary.Term,
			"published":        published,
			"pdf_url":          pdfURL,
		},
	}, nil
}

func terms(cats []atomTerm) []string {
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		out = append(out, c.Term)
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
