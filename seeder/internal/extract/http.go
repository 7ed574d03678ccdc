package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazyhaar/seeder/horosafe"
)

// HTTPConfig is shared by the network extractors.
type HTTPConfig struct {
	Timeout   time.Duration // per request. Default: 30s.
	MaxBytes  int64         // response body cap. Default: 10MB.
	UserAgent string
	// URLValidator runs before every request and redirect.
	// Default: horosafe.ValidateURL.
	URLValidator func(string) error
	Client       *http.Client
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "KnowledgeSeeder/0.1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
}

// getter performs GETs and maps failures onto Kind.
type getter struct {
	op     string
	client *http.Client
	cfg    HTTPConfig
}

func newGetter(op string, cfg HTTPConfig) *getter {
	cfg.defaults()
	client := cfg.Client
	if client == nil {
		validate := cfg.URLValidator
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		}
	}
	return &getter{op: op, client: client, cfg: cfg}
}

type response struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// get fetches url. 404/410 and other 4xx are permanent; 408, 429, 5xx and
// transport failures are transient.
func (g *getter) get(ctx context.Context, url string) (*response, error) {
	if err := g.cfg.URLValidator(url); err != nil {
		return nil, permanentErr(g.op, url, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanentErr(g.op, url, err)
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, permanentErr(g.op, url, err)
		}
		return nil, transientErr(g.op, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		e := &Error{Kind: statusKind(resp.StatusCode), Op: g.op, URL: url, Status: resp.StatusCode,
			Err: errors.New(http.StatusText(resp.StatusCode))}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			e.Err = ErrNotFound
		}
		return nil, e
	}

	body, err := horosafe.LimitedReadAll(resp.Body, g.cfg.MaxBytes)
	if err != nil && !errors.Is(err, horosafe.ErrTooLarge) {
		return nil, transientErr(g.op, url, fmt.Errorf("read body: %w", err))
	}
	return &response{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

func statusKind(code int) Kind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return Transient
	default:
		return Permanent
	}
}
