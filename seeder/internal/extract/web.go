// CLAUDE:SUMMARY Web page extractor: charset-aware fetch, landmark/density content selection, sanitize, HTML to markdown, goquery metadata.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

const minContentText = 50

// Web extracts the main article of an HTML page as markdown.
type Web struct {
	get    *getter
	max    int
	conv   *converter.Converter
	policy *bluemonday.Policy
}

// NewWeb creates the web extractor.
func NewWeb(cfg Config) *Web {
	cfg.defaults()
	return &Web{
		get: newGetter("web", cfg.HTTP),
		max: cfg.MaxContentLength,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

func (w *Web) Name() string { return "web" }

func (w *Web) CanHandle(src catalog.Source) bool { return handles(src, catalog.TypeWeb) }

func (w *Web) Extract(ctx context.Context, src catalog.Source) (*Result, error) {
	resp, err := w.get.get(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	raw := decodeHTML(resp.Body, resp.ContentType)
	pageURL := resp.FinalURL
	if pageURL == "" {
		pageURL = src.URL
	}

	meta := pageMetadata(raw, pageURL)

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, permanentErr(w.Name(), src.URL, fmt.Errorf("parse html: %w", err))
	}
	node := selectContent(doc, minContentText)
	if node == nil {
		return nil, permanentErr(w.Name(), src.URL, ErrEmpty)
	}
	prune(node)

	clean := w.policy.Sanitize(renderNode(node))
	md, err := w.conv.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		return nil, permanentErr(w.Name(), src.URL, fmt.Errorf("markdown: %w", err))
	}
	md = normalize(md)
	if md == "" {
		return nil, permanentErr(w.Name(), src.URL, ErrEmpty)
	}

	content := truncate(md, w.max)
	if content != md {
		meta["truncated"] = "true"
	}
	title := meta["title"]
	delete(meta, "title")
	if title == "" {
		title = src.Name
	}

	return &Result{
		Content:    content,
		Title:      title,
		SourceURL:  src.URL,
		SourceType: catalog.TypeWeb,
		Metadata:   meta,
	}, nil
}

// decodeHTML converts body to UTF-8 using the Content-Type header and
// <meta charset> sniffing. Undecodable input is returned unchanged.
func decodeHTML(body []byte, contentType string) []byte {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return out
}

// pageMetadata reads title, author, date, description and site name from
// meta tags. Empty values are omitted.
func pageMetadata(raw []byte, pageURL string) map[string]string {
	meta := map[string]string{}
	if u, err := url.Parse(pageURL); err == nil {
		meta["domain"] = u.Hostname()
		if u.Path != "" && u.Path != "/" {
			meta["path"] = u.Path
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return meta
	}

	first := func(selectors ...string) string {
		for _, sel := range selectors {
			s := doc.Find(sel).First()
			if s.Length() == 0 {
				continue
			}
			v := s.AttrOr("content", "")
			if v == "" {
				v = s.AttrOr("datetime", "")
			}
			if v == "" {
				v = s.Text()
			}
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
		return ""
	}

	set := func(key, val string) {
		if val != "" {
			meta[key] = val
		}
	}
	set("title", first(`meta[property="og:title"]`, "title", "h1"))
	set("author", first(`meta[name="author"]`, `meta[property="article:author"]`, `[rel="author"]`))
	set("date", first(`meta[property="article:published_time"]`, `meta[name="date"]`, `meta[itemprop="datePublished"]`, "time[datetime]"))
	set("description", first(`meta[name="description"]`, `meta[property="og:description"]`))
	set("sitename", first(`meta[property="og:site_name"]`, `meta[name="application-name"]`))
	set("language", strings.TrimSpace(doc.Find("html").AttrOr("lang", "")))
	return meta
}
