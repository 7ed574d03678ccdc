// CLAUDE:SUMMARY Batch sync driver: claim -> extract (ants pool) -> score -> rate-limited delivery, with retry, metrics and run history.
// CLAUDE:DEPENDS state, extract, quality, retry, deliver, catalog, idgen
// CLAUDE:EXPORTS Orchestrator, Config, Options, Summary, Failure, Extractor, Deliverer
//
// Package orchestrator runs one sync over the state store. Extraction fans
// out over a bounded worker pool; delivery is a single stage so the shared
// rate limit holds regardless of worker count.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/seeder/idgen"
	"github.com/hazyhaar/seeder/seeder/internal/catalog"
	"github.com/hazyhaar/seeder/seeder/internal/deliver"
	"github.com/hazyhaar/seeder/seeder/internal/extract"
	"github.com/hazyhaar/seeder/seeder/internal/quality"
	"github.com/hazyhaar/seeder/seeder/internal/retry"
	"github.com/hazyhaar/seeder/seeder/internal/state"
)

// Extractor produces content for a source. *extract.Registry implements it.
type Extractor interface {
	Extract(ctx context.Context, src catalog.Source) (*extract.Result, error)
}

// Deliverer sends a document downstream. *deliver.Client implements it.
type Deliverer interface {
	Ingest(ctx context.Context, p deliver.Payload) (*deliver.IngestResult, error)
}

// Options tune a run.
type Options struct {
	Workers          int           // concurrent extractions, default 4
	RateLimit        time.Duration // wait between deliveries
	QualityThreshold float64       // default quality.DefaultThreshold
	MinContentLength int           // characters; shorter content always scores below threshold
	DryRun           bool
	ExtractOnly      bool
	Namespace        string
	StaleAfter       time.Duration // reconcile window, default 30m
	RetryFailed      bool
	MaxFailedRetries int  // with RetryFailed: skip rows whose retry_count reached this; 0 = no cap
	Refresh          bool // re-extract completed and skipped sources
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = quality.DefaultThreshold
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Minute
	}
}

// Config wires an Orchestrator.
type Config struct {
	Store     *state.Store
	Extractor Extractor
	Deliverer Deliverer
	Policy    retry.Policy
	Options   Options
	Metrics   *Metrics // optional
	Logger    *slog.Logger
	// IDs generates run ids. Default: "run_" + UUIDv7.
	IDs idgen.Generator
	// Sleep waits between deliveries. Default: context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator drives sync runs. One Run at a time.
type Orchestrator struct {
	store     *state.Store
	extractor Extractor
	deliverer Deliverer
	policy    retry.Policy
	opts      Options
	scorer    quality.Scorer
	metrics   *Metrics
	logger    *slog.Logger
	ids       idgen.Generator
	sleep     func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	stop     chan struct{}
	progress *tracker
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Extractor == nil {
		return nil, errors.New("orchestrator: store and extractor are required")
	}
	if cfg.Deliverer == nil && !cfg.Options.ExtractOnly && !cfg.Options.DryRun {
		return nil, errors.New("orchestrator: deliverer is required unless extract-only or dry-run")
	}
	cfg.Options.defaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.Prefixed("run_", idgen.UUIDv7())
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.Policy.Logger == nil {
		cfg.Policy.Logger = cfg.Logger
	}
	return &Orchestrator{
		store:     cfg.Store,
		extractor: cfg.Extractor,
		deliverer: cfg.Deliverer,
		policy:    cfg.Policy,
		opts:      cfg.Options,
		scorer:    quality.Scorer{MinChars: cfg.Options.MinContentLength},
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		ids:       cfg.IDs,
		sleep:     cfg.Sleep,
	}, nil
}

// Stop asks the running sync to claim no new sources. Claimed sources finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop != nil {
		select {
		case <-o.stop:
		default:
			close(o.stop)
		}
	}
}

// Progress returns a copy of the running (or last) summary.
func (o *Orchestrator) Progress() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress == nil {
		return Summary{}
	}
	return o.progress.snapshot()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
