// CLAUDE:SUMMARY YAML source-file parser: collects every validation error, infers types, rejects duplicate ids across files.
// CLAUDE:DEPENDS catalog/types.go, catalog/detect.go
// CLAUDE:EXPORTS Parse, ParseBytes, Active, Normalize, Summarize
package catalog

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxCrawlDepth = 5

var (
	namePattern      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9/_-]*$`)
)

// fileDoc is the on-disk layout of a source file.
type fileDoc struct {
	Namespace       string      `yaml:"namespace"`
	RefreshInterval string      `yaml:"refresh_interval"`
	Priority        string      `yaml:"priority"`
	Project         string      `yaml:"project"`
	Dependencies    []string    `yaml:"dependencies"`
	Sources         []yaml.Node `yaml:"sources"`
}

type entryDoc struct {
	Name           string         `yaml:"name"`
	URL            string         `yaml:"url"`
	Type           string         `yaml:"type"`
	Priority       string         `yaml:"priority"`
	Tags           []string       `yaml:"tags"`
	CrawlDepth     int            `yaml:"crawl_depth"`
	Status         string         `yaml:"status"`
	Placeholder    bool           `yaml:"placeholder"`
	DeprecatedDate string         `yaml:"deprecated_date"`
	Replacement    string         `yaml:"replacement"`
	Note           string         `yaml:"note"`
	Metadata       map[string]any `yaml:"metadata"`
}

// Parse reads every file and returns the runnable sources together with all
// validation errors found. A bad entry never prevents the others from loading.
// Entries sharing a namespace:name id are all rejected.
func Parse(paths []string) ([]Source, []ValidationError) {
	var (
		candidates []Source
		errs       []ValidationError
	)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, ValidationError{File: p, Index: -1, Message: fmt.Sprintf("read: %v", err)})
			continue
		}
		srcs, ferrs := ParseBytes(p, data)
		candidates = append(candidates, srcs...)
		errs = append(errs, ferrs...)
	}
	sources, dupErrs := rejectDuplicates(candidates)
	return sources, append(errs, dupErrs...)
}

// ParseBytes parses a single source document. Duplicate detection across
// documents is left to Parse.
func ParseBytes(file string, data []byte) ([]Source, []ValidationError) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, []ValidationError{{File: file, Index: -1, Message: fmt.Sprintf("yaml: %v", err)}}
	}

	ns := strings.TrimSpace(doc.Namespace)
	if ns == "" {
		ns = DefaultNamespace
	}
	if !namespacePattern.MatchString(ns) {
		return nil, []ValidationError{{File: file, Index: -1, Field: "namespace",
			Message: fmt.Sprintf("invalid namespace %q", ns)}}
	}

	filePriority := DefaultPriority
	if doc.Priority != "" {
		p := Priority(strings.ToUpper(doc.Priority))
		if !validPriorities[p] {
			return nil, []ValidationError{{File: file, Index: -1, Field: "priority",
				Message: fmt.Sprintf("invalid priority %q", doc.Priority)}}
		}
		filePriority = p
	}

	var (
		out  []Source
		errs []ValidationError
	)
	for i := range doc.Sources {
		var e entryDoc
		if err := doc.Sources[i].Decode(&e); err != nil {
			errs = append(errs, ValidationError{File: file, Index: i, Message: fmt.Sprintf("decode: %v", err)})
			continue
		}
		src, entryErrs := buildSource(file, i, ns, filePriority, e)
		if len(entryErrs) > 0 {
			errs = append(errs, entryErrs...)
			continue
		}
		out = append(out, src)
	}
	return out, errs
}

func buildSource(file string, idx int, ns string, defPriority Priority, e entryDoc) (Source, []ValidationError) {
	name := strings.TrimSpace(e.Name)
	rawURL := strings.TrimSpace(e.URL)
	id := ""
	if name != "" {
		id = SourceID(ns, name)
	}

	var errs []ValidationError
	fail := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{File: file, Index: idx, SourceID: id, Field: field,
			Message: fmt.Sprintf(format, args...)})
	}

	switch {
	case name == "":
		fail("name", "name is required")
	case !namePattern.MatchString(name):
		fail("name", "invalid name %q", name)
	}

	if rawURL == "" {
		fail("url", "url is required")
	} else if !IsLocalPath(rawURL) {
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			fail("url", "url must be http(s) or a local path: %q", rawURL)
		}
	}

	typ := DetectType(rawURL)
	if e.Type != "" {
		t, ok := ParseType(e.Type)
		if !ok {
			fail("type", "unknown type %q", e.Type)
		} else {
			typ = t
		}
	}

	prio := defPriority
	if e.Priority != "" {
		p := Priority(strings.ToUpper(e.Priority))
		if !validPriorities[p] {
			fail("priority", "invalid priority %q", e.Priority)
		} else {
			prio = p
		}
	}

	if e.CrawlDepth < 0 || e.CrawlDepth > maxCrawlDepth {
		fail("crawl_depth", "crawl_depth must be between 0 and %d", maxCrawlDepth)
	}

	life := LifecycleActive
	if e.Status != "" {
		switch Lifecycle(strings.ToLower(e.Status)) {
		case LifecycleActive, LifecycleDeprecated, LifecycleDisabled:
			life = Lifecycle(strings.ToLower(e.Status))
		default:
			fail("status", "unknown status %q", e.Status)
		}
	}

	if len(errs) > 0 {
		return Source{}, errs
	}

	var meta map[string]string
	if len(e.Metadata) > 0 {
		meta = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = fmt.Sprint(v)
		}
	}

	return Source{
		Namespace:      ns,
		Name:           name,
		URL:            rawURL,
		Type:           typ,
		Priority:       prio,
		Tags:           normalizeTags(e.Tags),
		CrawlDepth:     e.CrawlDepth,
		Lifecycle:      life,
		Placeholder:    e.Placeholder,
		DeprecatedDate: e.DeprecatedDate,
		Replacement:    e.Replacement,
		Note:           e.Note,
		Metadata:       meta,
		File:           file,
	}, nil
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// rejectDuplicates drops every source whose id appears more than once and
// reports one ValidationError per colliding entry.
func rejectDuplicates(srcs []Source) ([]Source, []ValidationError) {
	count := make(map[string]int, len(srcs))
	for _, s := range srcs {
		count[s.ID()]++
	}
	var (
		out  []Source
		errs []ValidationError
	)
	for _, s := range srcs {
		if n := count[s.ID()]; n > 1 {
			errs = append(errs, ValidationError{
				File: s.File, Index: -1, SourceID: s.ID(), Field: "name",
				Message: fmt.Sprintf("duplicate source id (%d definitions)", n),
			})
			continue
		}
		out = append(out, s)
	}
	return out, errs
}

// Active keeps sources that take part in a sync.
func Active(srcs []Source) []Source {
	out := make([]Source, 0, len(srcs))
	for _, s := range srcs {
		if s.IsActive() {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeOptions rewrites namespaces before sources reach the state store.
type NormalizeOptions struct {
	// Namespace, when set, replaces every source's namespace.
	Namespace string
	// Flatten turns hierarchical namespaces (projects/voice-ai) into
	// projects-voice-ai.
	Flatten bool
}

// Normalize applies opts in place. Rewritten namespaces can make two
// sources share an id; those are dropped and reported like any other
// duplicate.
func Normalize(srcs []Source, opts NormalizeOptions) ([]Source, []ValidationError) {
	for i := range srcs {
		if opts.Namespace != "" {
			srcs[i].Namespace = opts.Namespace
		}
		if opts.Flatten {
			srcs[i].Namespace = FlattenNamespace(srcs[i].Namespace)
		}
	}
	return rejectDuplicates(srcs)
}

// FlattenNamespace replaces path separators with dashes.
func FlattenNamespace(ns string) string {
	return strings.ReplaceAll(strings.Trim(ns, "/"), "/", "-")
}

// Summary counts sources for reporting.
type Summary struct {
	Total        int
	ByNamespace  map[string]int
	ByType       map[SourceType]int
	Placeholders int
	Inactive     int
}

// Summarize counts srcs by namespace and type.
func Summarize(srcs []Source) Summary {
	s := Summary{ByNamespace: map[string]int{}, ByType: map[SourceType]int{}}
	for _, src := range srcs {
		s.Total++
		s.ByNamespace[src.Namespace]++
		s.ByType[src.Type]++
		if src.Placeholder {
			s.Placeholders++
		}
		if !src.IsActive() {
			s.Inactive++
		}
	}
	return s
}

// Namespaces returns the sorted namespaces present in a summary.
func (s Summary) Namespaces() []string {
	out := make([]string, 0, len(s.ByNamespace))
	for ns := range s.ByNamespace {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}
