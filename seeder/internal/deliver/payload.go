package deliver

import (
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
	"github.com/hazyhaar/seeder/seeder/internal/extract"
	"github.com/hazyhaar/seeder/seeder/internal/quality"
)

// Document types understood by the knowledge store.
const (
	DocTranscript = "transcript"
	DocMarkdown   = "markdown"
	DocText       = "text"
)

// Payload is the ingest request body.
type Payload struct {
	Content      string   `json:"content"`
	Title        string   `json:"title"`
	DocumentType string   `json:"document_type"`
	Namespace    string   `json:"namespace"`
	Metadata     Metadata `json:"metadata"`
}

// Metadata travels with the document.
type Metadata struct {
	SourceURL string   `json:"source_url"`
	Author    string   `json:"author,omitempty"`
	Tags      []string `json:"tags"`
	Language  string   `json:"language"`
	Custom    Custom   `json:"custom"`
}

// Custom holds the seeder's own bookkeeping fields.
type Custom struct {
	SourceID     string            `json:"source_id"`
	SourceType   string            `json:"source_type"`
	Priority     string            `json:"priority,omitempty"`
	QualityScore float64           `json:"quality_score"`
	QualityGrade string            `json:"quality_grade"`
	ContentHash  string            `json:"content_hash"`
	ExtractedAt  string            `json:"extracted_at"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// BuildPayload assembles the ingest request for an extracted source.
func BuildPayload(src catalog.Source, res *extract.Result, score quality.Score, hash string) Payload {
	title := res.Title
	if title == "" {
		title = src.Name
	}
	tags := src.Tags
	if tags == nil {
		tags = []string{}
	}
	language := "en"
	if l := res.Metadata["language"]; l != "" {
		language = strings.ToLower(strings.SplitN(strings.SplitN(l, "-", 2)[0], "_", 2)[0])
	}
	extractedAt := res.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now().UTC()
	}
	srcType := res.SourceType
	if srcType == "" {
		srcType = src.Type
	}

	return Payload{
		Content:      res.Content,
		Title:        title,
		DocumentType: DocumentType(srcType, res.Content),
		Namespace:    src.Namespace,
		Metadata: Metadata{
			SourceURL: src.URL,
			Author:    res.Metadata["author"],
			Tags:      tags,
			Language:  language,
			Custom: Custom{
				SourceID:     src.ID(),
				SourceType:   string(srcType),
				Priority:     string(src.Priority),
				QualityScore: score.Overall,
				QualityGrade: score.Grade,
				ContentHash:  hash,
				ExtractedAt:  extractedAt.UTC().Format(time.RFC3339),
				Extra:        src.Metadata,
			},
		},
	}
}

var structureRe = regexp.MustCompile(`(?m)^(#{1,6} |[-*+] |\d+\. |\|.*\|)`)

// DocumentType maps a source type to the store's document type. Web pages
// and files are markdown when they carry headings, lists or tables.
func DocumentType(t catalog.SourceType, content string) string {
	switch t {
	case catalog.TypeVideo:
		return DocTranscript
	case catalog.TypeRepository:
		return DocMarkdown
	case catalog.TypePaper:
		return DocText
	}
	if structureRe.MatchString(content) || strings.Contains(content, "```") {
		return DocMarkdown
	}
	return DocText
}
