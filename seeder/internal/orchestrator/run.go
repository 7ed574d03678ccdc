package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
	"github.com/hazyhaar/seeder/seeder/internal/deliver"
	"github.com/hazyhaar/seeder/seeder/internal/extract"
	"github.com/hazyhaar/seeder/seeder/internal/quality"
	"github.com/hazyhaar/seeder/seeder/internal/retry"
	"github.com/hazyhaar/seeder/seeder/internal/state"
	"github.com/hazyhaar/seeder/trace"
)

// item is a scored source waiting for delivery.
type item struct {
	st    *state.SourceState
	src   catalog.Source
	res   *extract.Result
	hash  string
	score quality.Score
}

// run holds the state of one Run call.
type run struct {
	o       *Orchestrator
	sum     *tracker
	stats   *retry.RunStats
	filter  state.Filter
	sources map[string]catalog.Source
	items   chan *item
	stop    <-chan struct{}
	logger  *slog.Logger

	extractPolicy retry.Policy
	deliverPolicy retry.Policy

	errMu sync.Mutex
	err   error
}

// Run registers sources, recovers stale rows, then processes every eligible
// source once. Per-source failures are recorded and never abort the run; the
// returned error is reserved for state store failures.
func (o *Orchestrator) Run(ctx context.Context, sources []catalog.Source) (*Summary, error) {
	start := time.Now()
	sum := &tracker{s: Summary{RunID: o.ids(), StartedAt: start.UTC(), Namespace: o.opts.Namespace, DryRun: o.opts.DryRun}}

	stop := make(chan struct{})
	o.mu.Lock()
	o.stop = stop
	o.progress = sum
	o.mu.Unlock()

	ctx = trace.WithRunID(ctx, sum.s.RunID)
	logger := o.logger.With("run_id", sum.s.RunID)
	if o.opts.DryRun {
		err := o.plan(ctx, sum, sources)
		sum.add(func(s *Summary) { s.Duration = time.Since(start) })
		out := sum.snapshot()
		return &out, err
	}

	recovered, err := o.store.Reconcile(ctx, o.opts.StaleAfter)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reconcile: %w", err)
	}
	if recovered > 0 {
		logger.Warn("orchestrator: stale sources requeued", "count", recovered)
	}
	sum.add(func(s *Summary) { s.Recovered = recovered })
	if len(sources) > 0 {
		reg, err := o.store.Register(ctx, sources)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: register: %w", err)
		}
		logger.Info("orchestrator: sources registered", "new", reg.New, "existing", reg.Existing)
	}

	r := &run{
		o:     o,
		sum:   sum,
		stats: &retry.RunStats{},
		filter: state.Filter{
			Namespace:     o.opts.Namespace,
			IncludeFailed: o.opts.RetryFailed,
			MaxRetries:    o.opts.MaxFailedRetries,
			Refresh:       o.opts.Refresh,
			RunID:         sum.s.RunID,
		},
		sources: make(map[string]catalog.Source, len(sources)),
		items:   make(chan *item, o.opts.Workers),
		stop:    stop,
		logger:  logger,
	}
	for _, s := range sources {
		r.sources[s.ID()] = s
	}
	r.extractPolicy = o.stagePolicy("extract")
	r.deliverPolicy = o.stagePolicy("deliver")

	logger.Info("orchestrator: run started",
		"workers", o.opts.Workers,
		"namespace", o.opts.Namespace,
		"extract_only", o.opts.ExtractOnly,
		"retry_failed", o.opts.RetryFailed,
		"refresh", o.opts.Refresh)

	runErr := r.execute(ctx)

	stats := r.stats.Snapshot()
	sum.add(func(s *Summary) {
		s.Duration = time.Since(start)
		s.Retry = stats
		if ctx.Err() != nil {
			s.Stopped = true
		}
	})
	out := sum.snapshot()

	hist := state.Run{
		RunID:      out.RunID,
		StartedAt:  out.StartedAt,
		FinishedAt: time.Now().UTC(),
		Namespace:  out.Namespace,
		Attempted:  out.Attempted,
		Succeeded:  out.Succeeded,
		Skipped:    out.Skipped,
		Failed:     out.Failed,
		Unchanged:  out.Unchanged,
		Duration:   out.Duration,
		Stopped:    out.Stopped,
	}
	if err := o.store.RecordRun(context.WithoutCancel(ctx), hist); err != nil {
		logger.Error("orchestrator: record run", "error", err)
	}
	o.metrics.observeRun(out)

	logger.Info("orchestrator: run finished",
		"attempted", out.Attempted,
		"succeeded", out.Succeeded,
		"skipped", out.Skipped,
		"failed", out.Failed,
		"unchanged", out.Unchanged,
		"extracted", out.Extracted,
		"stopped", out.Stopped,
		"duration", out.Duration)
	return &out, runErr
}

// stagePolicy copies the base policy and counts retries for one stage.
func (o *Orchestrator) stagePolicy(stage string) retry.Policy {
	p := o.policy
	base := p.OnRetry
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		o.metrics.retried(stage)
		if base != nil {
			base(attempt, wait, err)
		}
	}
	return p
}

func (r *run) execute(ctx context.Context) error {
	pool, err := ants.NewPool(r.o.opts.Workers)
	if err != nil {
		return fmt.Errorf("orchestrator: worker pool: %w", err)
	}
	defer pool.Release()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.dispatch(gctx, pool)
	})
	g.Go(func() error {
		r.deliverAll(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return r.firstErr()
}

// dispatch claims sources until none is eligible, a stop is requested or
// the context ends. Each claim is handed to the pool; Submit blocks while
// every worker is busy.
func (r *run) dispatch(ctx context.Context, pool *ants.Pool) error {
	var wg sync.WaitGroup
	defer close(r.items)
	defer wg.Wait()

	for {
		if r.stopped() {
			r.sum.add(func(s *Summary) { s.Stopped = true })
			r.logger.Info("orchestrator: stop requested, no further claims")
			return nil
		}
		if ctx.Err() != nil || r.firstErr() != nil {
			return nil
		}

		st, err := r.o.store.ClaimNext(ctx, r.filter)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("orchestrator: claim: %w", err)
		}
		if st == nil {
			return nil
		}
		r.sum.add(func(s *Summary) { s.Attempted++ })

		wg.Add(1)
		err = pool.Submit(func() {
			defer wg.Done()
			r.extract(ctx, st)
		})
		if err != nil {
			wg.Done()
			r.release(ctx, st)
			return fmt.Errorf("orchestrator: submit: %w", err)
		}
	}
}

func (r *run) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// extract runs extraction, the unchanged-content check and the quality gate
// for one claimed source.
func (r *run) extract(ctx context.Context, st *state.SourceState) {
	src := r.source(st)
	logger := r.logger.With("source_id", st.SourceID)
	wctx := context.WithoutCancel(ctx)

	var res *extract.Result
	start := time.Now()
	attempts, err := r.extractPolicy.Do(ctx, r.stats, func(ctx context.Context, _ int) error {
		var err error
		res, err = r.o.extractor.Extract(ctx, src)
		return err
	})
	r.o.metrics.observeExtraction(src.Type, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			r.release(wctx, st)
			return
		}
		r.fail(wctx, st, "extract", err, attempts-1)
		return
	}

	hash := extract.ContentHash(res.Content)
	if st.DeliveredHash != "" && hash == st.DeliveredHash {
		if err := r.o.store.RecordUnchanged(wctx, st.SourceID); err != nil {
			r.storeErr(err)
			return
		}
		logger.Debug("orchestrator: content unchanged", "hash", hash)
		r.outcome("unchanged", func(s *Summary) { s.Unchanged++ })
		return
	}

	if err := r.o.store.RecordExtracted(wctx, st.SourceID, hash, res.Len()); err != nil {
		r.storeErr(err)
		return
	}
	if r.o.opts.ExtractOnly {
		logger.Info("orchestrator: extracted", "chars", res.Len(), "hash", hash)
		r.outcome("extracted", func(s *Summary) { s.Extracted++ })
		return
	}

	if err := r.o.store.MarkStatus(wctx, st.SourceID, state.StatusScoring); err != nil {
		r.storeErr(err)
		return
	}
	score := r.o.scorer.Score(res.Content, res.SourceType)
	r.o.metrics.observeQuality(score.Overall)
	if !score.Passes(r.o.opts.QualityThreshold) {
		reason := fmt.Sprintf("quality %.1f below threshold %.1f", score.Overall, r.o.opts.QualityThreshold)
		if len(score.Issues) > 0 {
			reason += ": " + strings.Join(score.Issues, "; ")
		}
		if err := r.o.store.RecordSkipped(wctx, st.SourceID, reason); err != nil {
			r.storeErr(err)
			return
		}
		logger.Info("orchestrator: skipped", "score", score.Overall, "grade", score.Grade)
		r.outcome("skipped", func(s *Summary) { s.Skipped++ })
		return
	}

	it := &item{st: st, src: src, res: res, hash: hash, score: score}
	select {
	case r.items <- it:
	case <-ctx.Done():
		r.release(wctx, st)
	}
}

// deliverAll is the single delivery stage. The rate limit is a fixed wait
// between two consecutive deliveries, whatever the extraction concurrency.
func (r *run) deliverAll(ctx context.Context) {
	delivered := 0
	for it := range r.items {
		wctx := context.WithoutCancel(ctx)
		if ctx.Err() != nil {
			r.release(wctx, it.st)
			continue
		}
		if delivered > 0 && r.o.opts.RateLimit > 0 {
			if err := r.o.sleep(ctx, r.o.opts.RateLimit); err != nil {
				r.release(wctx, it.st)
				continue
			}
		}
		delivered++
		r.deliver(ctx, it)
	}
}

func (r *run) deliver(ctx context.Context, it *item) {
	wctx := context.WithoutCancel(ctx)
	id := it.st.SourceID
	if err := r.o.store.MarkStatus(wctx, id, state.StatusIngesting); err != nil {
		r.storeErr(err)
		return
	}

	payload := deliver.BuildPayload(it.src, it.res, it.score, it.hash)
	var out *deliver.IngestResult
	start := time.Now()
	attempts, err := r.deliverPolicy.Do(ctx, r.stats, func(ctx context.Context, _ int) error {
		var err error
		out, err = r.o.deliverer.Ingest(ctx, payload)
		return err
	})
	r.o.metrics.observeDelivery(time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			r.release(wctx, it.st)
			return
		}
		r.fail(wctx, it.st, "deliver", err, attempts-1)
		return
	}

	if err := r.o.store.RecordCompleted(wctx, id, out.DocumentID, out.ChunkCount); err != nil {
		r.storeErr(err)
		return
	}
	r.logger.Info("orchestrator: delivered",
		"source_id", id,
		"document_id", out.DocumentID,
		"chunks", out.ChunkCount,
		"duplicate", out.Duplicate,
		"score", it.score.Overall)
	r.outcome("succeeded", func(s *Summary) { s.Succeeded++ })
}

func (r *run) fail(ctx context.Context, st *state.SourceState, stage string, err error, retries int) {
	if retries < 0 {
		retries = 0
	}
	msg := err.Error()
	if serr := r.o.store.RecordFailed(ctx, st.SourceID, msg, retries); serr != nil {
		r.storeErr(serr)
		return
	}
	r.logger.Warn("orchestrator: source failed",
		"source_id", st.SourceID,
		"stage", stage,
		"retries", retries,
		"error", err)
	r.outcome("failed", func(s *Summary) {
		s.Failed++
		s.Failures = append(s.Failures, Failure{
			SourceID:   st.SourceID,
			URL:        st.URL,
			Stage:      stage,
			Error:      msg,
			RetryCount: st.RetryCount + retries,
		})
	})
}

// release hands a claimed source back to pending after cancellation.
func (r *run) release(ctx context.Context, st *state.SourceState) {
	if err := r.o.store.MarkStatus(context.WithoutCancel(ctx), st.SourceID, state.StatusPending); err != nil {
		r.logger.Error("orchestrator: release", "source_id", st.SourceID, "error", err)
		return
	}
	r.sum.add(func(s *Summary) { s.Released++ })
}

func (r *run) outcome(name string, fn func(*Summary)) {
	r.sum.add(fn)
	r.o.metrics.processed(name)
}

func (r *run) storeErr(err error) {
	r.logger.Error("orchestrator: state store", "error", err)
	r.errMu.Lock()
	if r.err == nil {
		r.err = fmt.Errorf("orchestrator: state: %w", err)
	}
	r.errMu.Unlock()
}

func (r *run) firstErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// source returns the catalog entry for a row, or rebuilds one from the
// stored fields when the row is no longer in the loaded catalog.
func (r *run) source(st *state.SourceState) catalog.Source {
	if s, ok := r.sources[st.SourceID]; ok {
		return s
	}
	return SourceFromState(st)
}

// SourceFromState rebuilds the fields of a Source that the state row keeps.
func SourceFromState(st *state.SourceState) catalog.Source {
	return catalog.Source{
		Namespace: st.Namespace,
		Name:      st.Name,
		URL:       st.URL,
		Type:      catalog.SourceType(st.SourceType),
		Priority:  catalog.Priority(st.Priority),
	}
}

// plan counts, without writing, the sources a run would claim.
func (o *Orchestrator) plan(ctx context.Context, sum *tracker, sources []catalog.Source) error {
	planned := map[string]int{}
	for _, src := range sources {
		if !inNamespace(src.Namespace, o.opts.Namespace) {
			continue
		}
		st, err := o.store.Get(ctx, src.ID())
		if err != nil {
			return fmt.Errorf("orchestrator: plan: %w", err)
		}
		if st == nil || o.eligible(st) {
			planned[src.Namespace]++
		}
	}
	total := 0
	for _, n := range planned {
		total += n
	}
	sum.add(func(s *Summary) {
		s.Planned = planned
		s.Attempted = total
	})
	o.logger.Info("orchestrator: dry run", "would_process", total, "namespaces", len(planned))
	return nil
}

func (o *Orchestrator) eligible(st *state.SourceState) bool {
	switch st.Status {
	case state.StatusPending, state.StatusExtracted:
		return true
	case state.StatusFailed:
		return o.opts.RetryFailed && (o.opts.MaxFailedRetries <= 0 || st.RetryCount < o.opts.MaxFailedRetries)
	case state.StatusCompleted, state.StatusSkipped:
		return o.opts.Refresh
	}
	return false
}

func inNamespace(ns, filter string) bool {
	return filter == "" || ns == filter || strings.HasPrefix(ns, filter+"/")
}
