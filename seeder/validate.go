package seeder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/seeder/horosafe"
	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

// ValidationReport is the outcome of Validate.
type ValidationReport struct {
	Sources []catalog.Source
	Errors  []catalog.ValidationError
	// Unreachable maps source ids to the reason their URL could not be
	// reached. Only filled when URLs are checked.
	Unreachable map[string]string
	Checked     int
}

// OK reports whether every entry parsed and every checked URL answered.
func (r *ValidationReport) OK() bool {
	return len(r.Errors) == 0 && len(r.Unreachable) == 0
}

// CheckOptions configures URL reachability checks.
type CheckOptions struct {
	Concurrency int           // default 8
	Timeout     time.Duration // per URL, default 10s
	UserAgent   string
	// URLValidator guards every request. Default horosafe.ValidateURL.
	URLValidator func(string) error
	Client       *http.Client
}

// Validate parses paths. With check set, every active source URL is probed.
func Validate(ctx context.Context, paths []string, check *CheckOptions) *ValidationReport {
	sources, errs := catalog.Parse(paths)
	rep := &ValidationReport{Sources: sources, Errors: errs}
	if check != nil {
		rep.Unreachable = CheckURLs(ctx, catalog.Active(sources), *check)
		rep.Checked = len(catalog.Active(sources))
	}
	return rep
}

// Count summarises the sources of paths.
func Count(paths []string) (catalog.Summary, []catalog.ValidationError) {
	sources, errs := catalog.Parse(paths)
	return catalog.Summarize(sources), errs
}

// CheckURLs probes sources concurrently: HEAD, then GET when HEAD is refused.
// Local files are checked with stat. The result maps failing source ids to
// a reason.
func CheckURLs(ctx context.Context, sources []catalog.Source, opts CheckOptions) map[string]string {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.URLValidator == nil {
		opts.URLValidator = horosafe.ValidateURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "KnowledgeSeeder/0.1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	reasons := make([]string, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			if err := checkOne(ctx, client, opts, src); err != nil {
				reasons[i] = err.Error()
			}
			return nil
		})
	}
	g.Wait()

	out := map[string]string{}
	for i, r := range reasons {
		if r != "" {
			out[sources[i].ID()] = r
		}
	}
	return out
}

func checkOne(ctx context.Context, client *http.Client, opts CheckOptions, src catalog.Source) error {
	if catalog.IsLocalPath(src.URL) {
		path, err := horosafe.ExpandPath(src.URL)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("file: %w", err)
		}
		return nil
	}
	if err := opts.URLValidator(src.URL); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	code, err := probe(ctx, client, http.MethodHead, src.URL, opts.UserAgent)
	if err == nil && (code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented || code == http.StatusForbidden) {
		code, err = probe(ctx, client, http.MethodGet, src.URL, opts.UserAgent)
	}
	if err != nil {
		return err
	}
	if code >= 400 {
		return fmt.Errorf("http %d", code)
	}
	return nil
}

func probe(ctx context.Context, client *http.Client, method, url, ua string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", ua)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
	return resp.StatusCode, nil
}
