// CLAUDE:SUMMARY Service facade: wires catalog, state store, extractors, scorer, delivery client and orchestrator behind the CLI operations.
// CLAUDE:DEPENDS seeder/internal/{catalog,extract,quality,state,retry,deliver,orchestrator}
// CLAUDE:EXPORTS Service, New, Option, SyncOptions, SyncResult, StatusReport, FetchResult
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/seeder/dbopen"
	"github.com/hazyhaar/seeder/horosafe"
	"github.com/hazyhaar/seeder/seeder/internal/catalog"
	"github.com/hazyhaar/seeder/seeder/internal/deliver"
	"github.com/hazyhaar/seeder/seeder/internal/extract"
	"github.com/hazyhaar/seeder/seeder/internal/orchestrator"
	"github.com/hazyhaar/seeder/seeder/internal/quality"
	"github.com/hazyhaar/seeder/seeder/internal/retry"
	"github.com/hazyhaar/seeder/seeder/internal/state"
	"github.com/hazyhaar/seeder/trace"
)

// Service is the seeder entry point used by the CLI.
type Service struct {
	cfg       *Config
	logger    *slog.Logger
	store     *state.Store
	ownsStore bool
	extractor orchestrator.Extractor
	client    *deliver.Client
	scorer    quality.Scorer
	policy    retry.Policy

	mu   sync.Mutex
	orch *orchestrator.Orchestrator
}

// Option configures a Service.
type Option func(*Service)

// WithStore uses an already-opened state store instead of opening StateDBPath.
func WithStore(s *state.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithExtractor replaces the extractor registry.
func WithExtractor(e orchestrator.Extractor) Option {
	return func(svc *Service) { svc.extractor = e }
}

// WithRetrySleep replaces the backoff wait (tests).
func WithRetrySleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(svc *Service) { svc.policy.Sleep = fn }
}

// New builds a Service. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		cfg:    cfg,
		logger: logger,
		client: deliver.New(deliver.Config{
			BaseURL:   cfg.APIBaseURL,
			Timeout:   cfg.APITimeout.D(),
			UserAgent: cfg.UserAgent,
		}),
		scorer: quality.Scorer{MinChars: cfg.MinContentLength},
		policy: retry.Policy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay.D(),
			Multiplier: cfg.RetryMultiplier,
			MaxDelay:   cfg.RetryMaxDelay.D(),
			Jitter:     true,
			Logger:     logger,
		},
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.extractor == nil {
		validator := horosafe.ValidateURL
		if cfg.AllowPrivateURLs {
			validator = horosafe.AllowAll
		}
		svc.extractor = extract.NewRegistry(extract.Config{
			HTTP: extract.HTTPConfig{
				Timeout:      cfg.ExtractionTimeout.D(),
				UserAgent:    cfg.UserAgent,
				URLValidator: validator,
			},
			MaxContentLength: cfg.MaxContentLength,
			FileRoot:         cfg.FileRoot,
			Logger:           logger,
		})
	}
	if svc.store == nil {
		var opts []dbopen.Option
		if cfg.TraceSQL {
			opts = append(opts, dbopen.WithDriver(trace.DriverName))
		}
		st, err := state.Open(cfg.StateDBPath, opts...)
		if err != nil {
			return nil, fmt.Errorf("seeder: open state %s: %w", cfg.StateDBPath, err)
		}
		svc.store = st
		svc.ownsStore = true
	}
	return svc, nil
}

// Close releases the state store when the Service opened it.
func (s *Service) Close() error {
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}

// Config returns the active configuration.
func (s *Service) Config() *Config { return s.cfg }

// SyncOptions selects what a sync does.
type SyncOptions struct {
	Namespace        string
	DryRun           bool
	ExtractOnly      bool
	RetryFailed      bool
	Refresh          bool
	Workers          int    // overrides Config.Workers when > 0
	MetricsAddr      string // overrides Config.MetricsAddr when set
	SkipHealthCheck  bool
	MaxFailedRetries int
}

// SyncResult is the outcome of Sync.
type SyncResult struct {
	Summary *orchestrator.Summary
	// Invalid lists the rejected entries; valid sources were still synced.
	Invalid []catalog.ValidationError
	// Loaded is the number of active sources after normalisation.
	Loaded int
}

// Sync parses paths, then runs the pipeline over the active sources.
// Invalid entries are reported in the result and never stop the run.
func (s *Service) Sync(ctx context.Context, paths []string, opts SyncOptions) (*SyncResult, error) {
	sources, invalid := catalog.Parse(paths)
	sources, collisions := catalog.Normalize(catalog.Active(sources), catalog.NormalizeOptions{Flatten: s.cfg.FlattenNamespaces})
	invalid = append(invalid, collisions...)
	res := &SyncResult{Invalid: invalid, Loaded: len(sources)}
	for _, e := range invalid {
		s.logger.Warn("seeder: invalid source", "file", e.File, "index", e.Index, "source_id", e.SourceID, "error", e.Message)
	}

	if !opts.DryRun && !opts.ExtractOnly && !opts.SkipHealthCheck {
		if _, err := s.Health(ctx); err != nil {
			return res, err
		}
	}

	workers := s.cfg.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	namespace := opts.Namespace
	if s.cfg.FlattenNamespaces {
		namespace = catalog.FlattenNamespace(namespace)
	}
	var metrics *orchestrator.Metrics
	addr := s.cfg.MetricsAddr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if addr != "" {
		metrics = orchestrator.NewMetrics()
	}

	cfg := orchestrator.Config{
		Store:     s.store,
		Extractor: s.extractor,
		Policy:    s.policy,
		Metrics:   metrics,
		Logger:    s.logger,
		Options: orchestrator.Options{
			Workers:          workers,
			RateLimit:        s.cfg.RateLimitDelay.D(),
			QualityThreshold: s.cfg.QualityThreshold,
			MinContentLength: s.cfg.MinContentLength,
			DryRun:           opts.DryRun,
			ExtractOnly:      opts.ExtractOnly,
			Namespace:        namespace,
			StaleAfter:       s.cfg.StaleAfter.D(),
			RetryFailed:      opts.RetryFailed,
			MaxFailedRetries: opts.MaxFailedRetries,
			Refresh:          opts.Refresh,
		},
	}
	if !opts.ExtractOnly && !opts.DryRun {
		cfg.Deliverer = s.client
	}
	o, err := orchestrator.New(cfg)
	if err != nil {
		return res, err
	}
	s.mu.Lock()
	s.orch = o
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.orch = nil
		s.mu.Unlock()
	}()

	if addr != "" && !opts.DryRun {
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := o.Serve(srvCtx, addr); err != nil {
				s.logger.Error("seeder: status server", "addr", addr, "error", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	sum, err := o.Run(ctx, sources)
	res.Summary = sum
	return res, err
}

// Stop asks a running Sync to stop claiming sources.
func (s *Service) Stop() {
	s.mu.Lock()
	o := s.orch
	s.mu.Unlock()
	if o != nil {
		o.Stop()
	}
}

// Health checks the knowledge store.
func (s *Service) Health(ctx context.Context) (*deliver.Health, error) {
	h, err := s.client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnhealthy, s.client.BaseURL(), err)
	}
	if !h.Healthy() {
		return h, fmt.Errorf("%w: status %q", ErrUnhealthy, h.Status)
	}
	return h, nil
}

// StoreStats returns the knowledge store statistics.
func (s *Service) StoreStats(ctx context.Context) (map[string]any, error) {
	return s.client.Stats(ctx)
}

// StatusReport summarises the state store.
type StatusReport struct {
	Namespace  string
	Counts     map[state.Status]int
	Total      int
	Namespaces []string
	Runs       []state.Run
}

// Status counts sources per status and lists the latest runs.
func (s *Service) Status(ctx context.Context, namespace string) (*StatusReport, error) {
	counts, err := s.store.Counts(ctx, namespace)
	if err != nil {
		return nil, err
	}
	nss, err := s.store.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.History(ctx, 5)
	if err != nil {
		return nil, err
	}
	rep := &StatusReport{Namespace: namespace, Counts: counts, Namespaces: nss, Runs: runs}
	for _, n := range counts {
		rep.Total += n
	}
	return rep, nil
}

// List returns source rows matching f.
func (s *Service) List(ctx context.Context, f state.ListFilter) ([]*state.SourceState, error) {
	return s.store.ListByStatus(ctx, f)
}

// Failed lists failed sources.
func (s *Service) Failed(ctx context.Context, namespace string) ([]*state.SourceState, error) {
	return s.store.ListByStatus(ctx, state.ListFilter{Namespace: namespace, Status: state.StatusFailed})
}

// RequeueFailed returns every failed source (optionally in a namespace) to pending.
func (s *Service) RequeueFailed(ctx context.Context, namespace string) (int, error) {
	return s.store.RequeueFailed(ctx, namespace)
}

// Requeue returns one failed, completed or skipped source to pending.
func (s *Service) Requeue(ctx context.Context, sourceID string) error {
	st, err := s.store.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	return s.store.Requeue(ctx, sourceID)
}

// FetchResult is an ad-hoc extraction, scored but not stored.
type FetchResult struct {
	Source       catalog.Source
	Result       *extract.Result
	Score        quality.Score
	Hash         string
	DocumentType string
	Passes       bool
}

// Fetch extracts one URL outside of any sync and scores it. Nothing is
// written to the state store or delivered.
func (s *Service) Fetch(ctx context.Context, rawURL string, t catalog.SourceType) (*FetchResult, error) {
	if t == "" {
		t = catalog.DetectType(rawURL)
	}
	src := catalog.Source{
		Namespace: catalog.DefaultNamespace,
		Name:      "fetch",
		URL:       rawURL,
		Type:      t,
		Priority:  catalog.DefaultPriority,
	}
	ctx, cancel := context.WithTimeout(ctx, s.policy.Budget(s.cfg.ExtractionTimeout.D()))
	defer cancel()

	var res *extract.Result
	_, err := s.policy.Do(ctx, nil, func(ctx context.Context, _ int) error {
		var err error
		res, err = s.extractor.Extract(ctx, src)
		return err
	})
	if err != nil {
		return nil, err
	}
	score := s.scorer.Score(res.Content, res.SourceType)
	return &FetchResult{
		Source:       src,
		Result:       res,
		Score:        score,
		Hash:         extract.ContentHash(res.Content),
		DocumentType: deliver.DocumentType(res.SourceType, res.Content),
		Passes:       score.Passes(s.cfg.QualityThreshold),
	}, nil
}
