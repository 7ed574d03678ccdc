// CLAUDE:SUMMARY Extractor interface, Result, truncation and the closed Registry of five source-type extractors.
// CLAUDE:DEPENDS extract/web.go, extract/video.go, extract/repository.go, extract/paper.go, extract/file.go
// CLAUDE:EXPORTS Extractor, Result, Registry, Config, NewRegistry, ContentHash
//
// Package extract turns a catalog.Source into normalized text. Each source
// type has one extractor; every error it returns is an *Error tagged
// Transient or Permanent.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

// TruncationMarker is appended to content cut at the maximum length.
const TruncationMarker = "\n\n[Content truncated]"

// Extractor converts one kind of source into text.
type Extractor interface {
	Name() string
	CanHandle(src catalog.Source) bool
	Extract(ctx context.Context, src catalog.Source) (*Result, error)
}

// Result is the normalized output of an extractor.
type Result struct {
	Content     string
	Title       string
	SourceURL   string
	SourceType  catalog.SourceType
	Metadata    map[string]string
	ExtractedAt time.Time
}

// Len returns the content length in characters.
func (r *Result) Len() int {
	return utf8.RuneCountInString(r.Content)
}

// Config configures every extractor built by NewRegistry.
type Config struct {
	HTTP HTTPConfig
	// MaxContentLength truncates content (characters). Default: 500000.
	MaxContentLength int
	// VideoBaseURL is the video host serving watch pages. Default: https://www.youtube.com.
	VideoBaseURL string
	// RawBaseURL serves repository files. Default: https://raw.githubusercontent.com.
	RawBaseURL string
	// PaperAPIURL is the paper metadata endpoint. Default: http://export.arxiv.org/api/query.
	PaperAPIURL string
	// FileRoot, when set, confines local files to this directory.
	FileRoot string
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 500_000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.HTTP.defaults()
}

// Registry dispatches a source to the first extractor that accepts it.
type Registry struct {
	extractors []Extractor
	logger     *slog.Logger
}

// NewRegistry builds the five extractors in dispatch order.
func NewRegistry(cfg Config) *Registry {
	cfg.defaults()
	return &Registry{
		extractors: []Extractor{
			NewVideo(cfg),
			NewRepository(cfg),
			NewPaper(cfg),
			NewFile(cfg),
			NewWeb(cfg),
		},
		logger: cfg.Logger,
	}
}

// NewRegistryWith builds a Registry from explicit extractors (tests, custom stacks).
func NewRegistryWith(logger *slog.Logger, extractors ...Extractor) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{extractors: extractors, logger: logger}
}

// For returns the extractor for src, or nil.
func (r *Registry) For(src catalog.Source) Extractor {
	for _, e := range r.extractors {
		if e.CanHandle(src) {
			return e
		}
	}
	return nil
}

// Extract runs the matching extractor and stamps the result.
func (r *Registry) Extract(ctx context.Context, src catalog.Source) (*Result, error) {
	e := r.For(src)
	if e == nil {
		return nil, permanentErr("registry", src.URL, fmt.Errorf("%w: type %q", ErrNoExtractor, src.Type))
	}
	start := time.Now()
	res, err := e.Extract(ctx, src)
	if err != nil {
		r.logger.Debug("extract: failed", "source_id", src.ID(), "extractor", e.Name(), "error", err)
		return nil, err
	}
	if strings.TrimSpace(res.Content) == "" {
		return nil, permanentErr(e.Name(), src.URL, ErrEmpty)
	}
	if res.SourceURL == "" {
		res.SourceURL = src.URL
	}
	if res.SourceType == "" {
		res.SourceType = src.Type
	}
	if res.ExtractedAt.IsZero() {
		res.ExtractedAt = time.Now().UTC()
	}
	r.logger.Debug("extract: done", "source_id", src.ID(), "extractor", e.Name(),
		"chars", res.Len(), "duration", time.Since(start))
	return res, nil
}

// handles is the CanHandle shared by typed extractors: a declared type wins,
// an empty type falls back to URL detection.
func handles(src catalog.Source, t catalog.SourceType) bool {
	if src.Type != "" {
		return src.Type == t
	}
	return catalog.DetectType(src.URL) == t
}

// truncate cuts content at limit characters and appends TruncationMarker.
func truncate(content string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(content) <= limit {
		return content
	}
	runes := []rune(content)
	return string(runes[:limit]) + TruncationMarker
}

var (
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	trailingWSRe = regexp.MustCompile(`[ \t]+\n`)
)

// normalize trims zero-width characters and collapses runs of blank lines.
func normalize(text string) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = trailingWSRe.ReplaceAllString(text, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ContentHash is the digest stored to detect unchanged content: the first 16
// hex characters of SHA-256 over the normalized text.
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(normalize(content)))
	return hex.EncodeToString(h[:])[:16]
}
