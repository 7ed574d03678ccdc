package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

var (
	readmeCandidates = []string{"README.md", "README.rst", "README.txt", "README", "readme.md", "Readme.md"}
	readmeBranches   = []string{"main", "master"}
)

// Repository fetches a repository README from the raw file host.
type Repository struct {
	get        *getter
	base       string
	max        int
	branches   []string
	candidates []string
}

// NewRepository creates the repository README extractor.
func NewRepository(cfg Config) *Repository {
	cfg.defaults()
	base := strings.TrimRight(cfg.RawBaseURL, "/")
	if base == "" {
		base = "https://raw.githubusercontent.com"
	}
	return &Repository{
		get:        newGetter("repository", cfg.HTTP),
		base:       base,
		max:        cfg.MaxContentLength,
		branches:   readmeBranches,
		candidates: readmeCandidates,
	}
}

func (r *Repository) Name() string { return "repository" }

func (r *Repository) CanHandle(src catalog.Source) bool {
	if !handles(src, catalog.TypeRepository) {
		return false
	}
	owner, _ := catalog.RepositoryParts(src.URL)
	return owner != ""
}

// Extract tries every candidate file on every branch; the first hit wins.
// If every miss was a 404 the failure is permanent; if any attempt failed
// transiently the whole extraction is transient.
func (r *Repository) Extract(ctx context.Context, src catalog.Source) (*Result, error) {
	owner, repo := catalog.RepositoryParts(src.URL)
	if owner == "" {
		return nil, permanentErr(r.Name(), src.URL, ErrInvalidURL)
	}

	var transient error
	for _, branch := range r.branches {
		for _, path := range r.candidates {
			rawURL := fmt.Sprintf("%s/%s/%s/%s/%s", r.base, owner, repo, branch, path)
			resp, err := r.get.get(ctx, rawURL)
			if err != nil {
				var e *Error
				if errors.As(err, &e) && e.Kind == Transient {
					transient = err
				}
				if ctx.Err() != nil {
					return nil, permanentErr(r.Name(), src.URL, ctx.Err())
				}
				continue
			}
			body := resp.Body
			if !utf8.Valid(body) {
				body = []byte(strings.ToValidUTF8(string(body), "\uFFFD"))
			}
			return &Result{
				Content:    truncate(normalize(string(body)), r.max),
				Title:      owner + "/" + repo,
				SourceURL:  src.URL,
				SourceType: catalog.TypeRepository,
				Metadata: map[string]string{
					"owner":      owner,
					"repo":       repo,
					"branch":     branch,
					"path":       path,
					"github_url": fmt.Sprintf("https://github.com/%s/%s", owner, repo),
				},
			}, nil
		}
	}
	if transient != nil {
		return nil, transientErr(r.Name(), src.URL, transient)
	}
	return nil, permanentErr(r.Name(), src.URL,
		fmt.Errorf("%w: no README on branches %s", ErrNotFound, strings.Join(r.branches, ", ")))
}
