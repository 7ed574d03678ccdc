package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/seeder/dbopen"
	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db)
}

func src(ns, name string) catalog.Source {
	return catalog.Source{
		Namespace: ns, Name: name,
		URL:  "https://example.com/" + ns + "/" + name,
		Type: catalog.TypeWeb, Priority: catalog.DefaultPriority,
	}
}

func register(t *testing.T, s *Store, sources ...catalog.Source) {
	t.Helper()
	if _, err := s.Register(context.Background(), sources); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestRegisterCreatesPending(t *testing.T) {
	// WHAT: New sources start pending; re-registration counts as existing.
	// WHY: State is created lazily from the catalog on every sync.
	s := setupTestStore(t)
	ctx := context.Background()

	res, err := s.Register(ctx, []catalog.Source{src("docs", "a"), src("docs", "b")})
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 2 || res.Existing != 0 {
		t.Fatalf("first register: %+v", res)
	}
	res, err = s.Register(ctx, []catalog.Source{src("docs", "a"), src("docs", "c")})
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 1 || res.Existing != 1 {
		t.Fatalf("second register: %+v", res)
	}

	st, err := s.Get(ctx, "docs:a")
	if err != nil || st == nil {
		t.Fatalf("get: %v %v", st, err)
	}
	if st.Status != StatusPending || st.SourceType != "web" || st.Priority != "P2" {
		t.Errorf("state: %+v", st)
	}
	if missing, _ := s.Get(ctx, "docs:zzz"); missing != nil {
		t.Error("unknown id must return nil")
	}
}

func TestRegisterURLChangeResetsStatus(t *testing.T) {
	// WHAT: A completed source whose URL changed goes back to pending.
	// WHY: New URL means new content to ingest.
	s := setupTestStore(t)
	ctx := context.Background()
	a := src("docs", "a")
	register(t, s, a)
	completeSource(t, s, a.ID())

	register(t, s, a)
	if st, _ := s.Get(ctx, a.ID()); st.Status != StatusCompleted {
		t.Fatalf("same url: status %s", st.Status)
	}
	a.URL = "https://example.com/moved"
	register(t, s, a)
	st, _ := s.Get(ctx, a.ID())
	if st.Status != StatusPending || st.URL != a.URL {
		t.Fatalf("moved: %+v", st)
	}
}

func completeSource(t *testing.T, s *Store, id string) {
	t.Helper()
	ctx := context.Background()
	st, err := s.ClaimNext(ctx, Filter{})
	if err != nil || st == nil || st.SourceID != id {
		t.Fatalf("claim %s: %v %v", id, st, err)
	}
	steps := []func() error{
		func() error { return s.RecordExtracted(ctx, id, "abc123", 1200) },
		func() error { return s.MarkStatus(ctx, id, StatusScoring) },
		func() error { return s.MarkStatus(ctx, id, StatusIngesting) },
		func() error { return s.RecordCompleted(ctx, id, "doc-1", 7) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func TestHappyPath(t *testing.T) {
	// WHAT: A source walks the full status machine to completed.
	// WHY: Each step persists the fields reported by status and list.
	s := setupTestStore(t)
	ctx := context.Background()
	register(t, s, src("docs", "a"))
	completeSource(t, s, "docs:a")

	st, _ := s.Get(ctx, "docs:a")
	if st.Status != StatusCompleted {
		t.Fatalf("status = %s", st.Status)
	}
	if st.ContentHash != "abc123" || st.DeliveredHash != "abc123" || st.ContentLength != 1200 {
		t.Errorf("hashes: %+v", st)
	}
	if st.DocumentID != "doc-1" || st.ChunkCount != 7 || st.IngestedAt.IsZero() || st.ExtractedAt.IsZero() {
		t.Errorf("delivery fields: %+v", st)
	}
	if st.LastAttempt.IsZero() {
		t.Error("last_attempt not set by claim")
	}
}

func TestInvalidTransition(t *testing.T) {
	// WHAT: Jumping from pending to completed is refused.
	// WHY: A row must never be marked delivered without passing ingestion.
	s := setupTestStore(t)
	ctx := context.Background()
	register(t, s, src("docs", "a"))

	err := s.RecordCompleted(ctx, "docs:a", "doc", 1)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
	if err := s.MarkStatus(ctx, "docs:nope", StatusScoring); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if st, _ := s.Get(ctx, "docs:a"); st.Status != StatusPending {
		t.Errorf("status changed to %s", st.Status)
	}
}

func TestRecordFailedAddsRetries(t *testing.T) {
	// WHAT: retry_count grows by the retries spent; a permanent failure adds zero.
	s := setupTestStore(t)
	ctx := context.Background()
	register(t, s, src("docs", "a"), src("docs", "b"))

	a, _ := s.ClaimNext(ctx, Filter{})
	if err := s.RecordFailed(ctx, a.SourceID, "no transcript", 0); err != nil {
		t.Fatal(err)
	}
	b, _ := s.ClaimNext(ctx, Filter{})
	if err := s.RecordFailed(ctx, b.SourceID, "503 after 4 attempts", 3); err != nil {
		t.Fatal(err)
	}
	sa, _ := s.Get(ctx, a.SourceID)
	sb, _ := s.Get(ctx, b.SourceID)
	if sa.RetryCount != 0 || sa.ErrorMessage != "no transcript" || sa.Status != StatusFailed {
		t.Errorf("a: %+v", sa)
	}
	if sb.RetryCount != 3 {
		t.Errorf("b retry_count = %d, want 3", sb.RetryCount)
	}
}

func TestClaimOrdering(t *testing.T) {
	// WHAT: Pending rows are claimed before failed ones, fewest retries first.
	// WHY: Fresh sources should not starve behind repeatedly failing ones.
	s := setupTestStore(t)
	ctx := context.Background()
	register(t, s, src("docs", "f1"), src("docs", "f2"))
	for _, retries := range []int{2, 1} {
		st, _ := s.ClaimNext(ctx, Filter{})
		s.RecordFailed(ctx, st.SourceID, "boom", retries)
	}
	register(t, s, src("docs", "p1"))

	var got []string
	for {
		st, err := s.ClaimNext(ctx, Filter{IncludeFailed: true, RunID: "run-1"})
		if err != nil {
			t.Fatal(err)
		}
		if st == nil {
			break
		}
		got = append(got, st.SourceID)
	}
	want := []string{"docs:p1", "docs:f2", "docs:f1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("claim order %v, want %v", got, want)
	}
}

func TestClaimSkipsFailedByDefault(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	register(t, s, src("docs", "a"))
	st, _ := s.ClaimNext(ctx, Filter{})
	s.RecordFailed(ctx, st.SourceID, "boom", 3)

	if st, _ := s.ClaimNext(ctx, Filter{}); st != nil {
		t.Fatalf("failed row claimed without IncludeFailed: %+v", st)
	}
	if st, _ := s.ClaimNext(ctx, Filter{IncludeFailed: true, MaxRetries: 3}); st != nil {
		t.Fatal("failed row over MaxRetries claimed")
	}
	if st, _ := s.ClaimNext(ctx, Filter{IncludeFailed: true}); st == nil {
		t.Fatal("failed row not claimed with IncludeFailed")
	}
}

func TestClaimNamespaceFilter(t *testing.T) {
	// WHAT: Namespace filter matches the namespace and its children only.
	s := setupTestStore(t)
	ctx := context.Background()
	register(t, s, src("ai", "a"), src("ai/llm", "b"), src("aim", "c"))

	var got []string
	for {
		st, _ := s.ClaimNext(ctx, Filter{Namespace: "ai"})
		if st == nil {
			break
		}
		got = append(got, st.SourceID)
	}
	if fmt.Sprint(got) != fmt.Sprint([]string{"ai/llm:b", "ai:a"}) && fmt.Sprint(got) != fmt.Sprint([]string{"ai:a", "ai/llm:b"}) {
		t.Fatalf("claimed %v", got)
	}
}

func TestClaimRefreshOncePerRun(t *testing.T) {
	// WHAT: Refresh re-claims completed rows, each at most once per run.
	// WHY: Without the run tag a completed row would be re-claimed forever.
	s := setupTestStore(t)
	ctx := context.Background()
	register(t, s, src("docs", "a"))
	completeSource(t, s, "docs:a")

	if st, _ := s.ClaimNext(ctx, Filter{RunID: "r2"}); st != nil {
		t.Fatal("completed row claimed without Refresh")
	}
	st, _ := s.ClaimNext(ctx, Filter{Refresh: true, RunID: "r2"})
	if st == nil || st.RunID != "r2" {
		t.Fatalf("refresh claim: %+v", st)
	}
	if err := s.RecordUnchanged(ctx, st.SourceID); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.ClaimNext(ctx, Filter{Refresh: true, RunID: "r2"}); st != nil {
		t.Fatal("row claimed twice in one run")
	}
	if st, _ := s.Get(ctx, "docs:a"); st.Status != StatusCompleted {
		t.Errorf("status = %s", st.Status)
	}
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	// WHAT: Parallel workers never claim the same source twice.
	// WHY: ClaimNext is the only mutual exclusion between workers.
	s := setupTestStore(t)
	ctx := context.Background()
	var sources []catalog.Source
	for i := range 40 {
		sources = append(sources, src("docs", fmt.Sprintf("s%02d", i)))
	}
	register(t, s, sources...)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				st, err := s.ClaimNext(ctx, Filter{RunID: "r"})
				if err != nil {
					t.Error(err)
					return
				}
				if st == nil {
					return
				}
				mu.Lock()
				seen[st.SourceID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 40 {
		t.Fatalf("claimed %d distinct sources, want 40", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("%s claimed %d times", id, n)
		}
	}
}

func TestReconcileRecoversStaleRows(t *testing.T) {
	// WHAT: A row stuck in ingesting past the window returns to pending with retry_count+1.
	// WHY: A crash mid-delivery must not strand the source.
	s := setupTestStore(t)
	ctx := context.Background()
	register(t, s, src("docs", "stuck"), src("docs", "fresh"))

	stuck, _ := s.ClaimNext(ctx, Filter{})
	s.RecordExtracted(ctx, stuck.SourceID, "h", 10)
	s.MarkStatus(ctx, stuck.SourceID, StatusScoring)
	s.MarkStatus(ctx, stuck.SourceID, StatusIngesting)
	fresh, _ := s.ClaimNext(ctx, Filter{})

	old := time.Now().Add(-time.Hour).UnixMilli()
	if _, err := s.DB.Exec(`UPDATE sources SET updated_at = ? WHERE source_id = ?`, old, stuck.SourceID); err != nil {
		t.Fatal(err)
	}

	n, err := s.Reconcile(ctx, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("recovered %d rows, want 1", n)
	}
	st, _ := s.Get(ctx, stuck.SourceID)
	if st.Status != StatusPending || st.RetryCount != 1 {
		t.Errorf("stuck row: status=%s retry_count=%d", st.Status, st.RetryCount)
	}
	if f, _ := s.Get(ctx, fresh.SourceID); f.Status != StatusExtracting {
		t.Errorf("fresh row touched: %s", f.Status)
	}
	again, _ := s.ClaimNext(ctx, Filter{})
	if again == nil || again.SourceID != stuck.SourceID {
		t.Fatalf("recovered row not claimable: %+v", again)
	}
}

func TestRegisterKeepsInProgressAge(t *testing.T) {
	// WHAT: Re-registering an unchanged catalog leaves updated_at alone, so a stale in-progress row is still recovered.
	// WHY: Every sync registers before work starts; refreshing the timestamp would hide crashed rows forever.
	s := setupTestStore(t)
	ctx := context.Background()
	a, b := src("docs", "a"), src("docs", "b")
	register(t, s, a, b)
	old := time.Now().Add(-time.Hour).UnixMilli()
	if _, err := s.DB.Exec(`UPDATE sources SET status = 'ingesting', updated_at = ?`, old); err != nil {
		t.Fatal(err)
	}

	b.Priority = "P0"
	register(t, s, a, b)
	for _, id := range []string{a.ID(), b.ID()} {
		var updated int64
		if err := s.DB.QueryRow(`SELECT updated_at FROM sources WHERE source_id = ?`, id).Scan(&updated); err != nil {
			t.Fatal(err)
		}
		if updated != old {
			t.Errorf("%s: updated_at moved from %d to %d", id, old, updated)
		}
	}

	n, err := s.Reconcile(ctx, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("recovered %d rows, want 2", n)
	}
	if st, _ := s.Get(ctx, b.ID()); st.Priority != "P0" {
		t.Errorf("priority not refreshed: %s", st.Priority)
	}
}

func TestListCountsAndNamespaces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	register(t, s, src("ai", "a"), src("ai", "b"), src("web", "c"))
	st, _ := s.ClaimNext(ctx, Filter{Namespace: "web"})
	s.RecordFailed(ctx, st.SourceID, "boom", 1)

	counts, err := s.Counts(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if counts[StatusPending] != 2 || counts[StatusFailed] != 1 || counts[StatusCompleted] != 0 {
		t.Errorf("counts: %v", counts)
	}
	if len(counts) != len(Statuses) {
		t.Errorf("counts must list every status, got %d", len(counts))
	}

	failed, err := s.ListByStatus(ctx, ListFilter{Status: StatusFailed})
	if err != nil || len(failed) != 1 || failed[0].SourceID != "web:c" {
		t.Fatalf("failed list: %v %v", failed, err)
	}
	ai, _ := s.ListByStatus(ctx, ListFilter{Namespace: "ai", Limit: 1})
	if len(ai) != 1 || ai[0].SourceID != "ai:a" {
		t.Fatalf("ai list: %v", ai)
	}
	ns, _ := s.Namespaces(ctx)
	if fmt.Sprint(ns) != "[ai web]" {
		t.Errorf("namespaces: %v", ns)
	}

	n, err := s.RequeueFailed(ctx, "")
	if err != nil || n != 1 {
		t.Fatalf("requeue: %d %v", n, err)
	}
	if st, _ := s.Get(ctx, "web:c"); st.Status != StatusPending {
		t.Errorf("requeued status %s", st.Status)
	}
}

func TestRunHistory(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		err := s.RecordRun(ctx, Run{
			RunID: id, StartedAt: base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Attempted:  3, Succeeded: 2, Failed: 1, Duration: time.Minute, Stopped: i == 1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-b" || !runs[0].Stopped || runs[1].Stopped {
		t.Fatalf("history: %+v", runs)
	}
	if runs[1].Duration != time.Minute || runs[1].Succeeded != 2 || !runs[1].StartedAt.Equal(base) {
		t.Errorf("run-a: %+v", runs[1])
	}
}
