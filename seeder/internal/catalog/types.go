// CLAUDE:SUMMARY Source record, type/priority/lifecycle enums and ValidationError for the source catalog.
package catalog

import (
	"fmt"
	"strings"
)

// SourceType identifies which extractor handles a source.
type SourceType string

const (
	TypeWeb        SourceType = "web"
	TypeVideo      SourceType = "video"
	TypeRepository SourceType = "repository"
	TypePaper      SourceType = "paper"
	TypeFile       SourceType = "file"
)

// typeAliases maps the legacy type names still found in older source files.
var typeAliases = map[string]SourceType{
	"web":        TypeWeb,
	"url":        TypeWeb,
	"video":      TypeVideo,
	"youtube":    TypeVideo,
	"repository": TypeRepository,
	"github":     TypeRepository,
	"paper":      TypePaper,
	"arxiv":      TypePaper,
	"file":       TypeFile,
}

// ParseType resolves a declared type name, accepting legacy aliases.
func ParseType(s string) (SourceType, bool) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// Priority is P0 (most urgent) through P4.
type Priority string

const DefaultPriority Priority = "P2"

var validPriorities = map[Priority]bool{"P0": true, "P1": true, "P2": true, "P3": true, "P4": true}

// Lifecycle is the authoring status of an entry. Only active entries sync.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "active"
	LifecycleDeprecated Lifecycle = "deprecated"
	LifecycleDisabled   Lifecycle = "disabled"
)

// DefaultNamespace is used when a file declares none.
const DefaultNamespace = "default"

// Source is one validated entry of a source file.
type Source struct {
	Namespace      string
	Name           string
	URL            string
	Type           SourceType
	Priority       Priority
	Tags           []string
	CrawlDepth     int
	Lifecycle      Lifecycle
	Placeholder    bool
	DeprecatedDate string
	Replacement    string
	Note           string
	Metadata       map[string]string
	File           string
}

// ID returns the globally unique namespace:name identifier.
func (s Source) ID() string {
	return SourceID(s.Namespace, s.Name)
}

// IsActive reports whether the source takes part in a sync.
func (s Source) IsActive() bool {
	return !s.Placeholder && (s.Lifecycle == "" || s.Lifecycle == LifecycleActive)
}

// SourceID joins a namespace and a name.
func SourceID(namespace, name string) string {
	return namespace + ":" + name
}

// ValidationError describes one rejected entry (or an unreadable file when Index is -1).
type ValidationError struct {
	File     string
	Index    int
	SourceID string
	Field    string
	Message  string
}

func (e ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.File)
	if e.Index >= 0 {
		fmt.Fprintf(&b, "[%d]", e.Index)
	}
	if e.SourceID != "" {
		fmt.Fprintf(&b, " %s", e.SourceID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " %s", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}
