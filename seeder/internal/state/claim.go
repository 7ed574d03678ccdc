// CLAUDE:SUMMARY Atomic ClaimNext (single UPDATE..RETURNING) and the stale in-progress Reconcile sweep.
package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hazyhaar/seeder/dbopen"
)

// Filter selects which rows ClaimNext may hand out.
type Filter struct {
	Namespace string // also matches child namespaces ("a" matches "a/b")
	// IncludeFailed makes failed rows eligible after pending ones.
	IncludeFailed bool
	// MaxRetries caps retry_count for failed rows. 0 means no cap.
	MaxRetries int
	// Refresh makes completed and skipped rows eligible so their content
	// is re-extracted and compared.
	Refresh bool
	// RunID tags claimed rows; a row already claimed by this run is not
	// handed out again.
	RunID string
}

// ClaimNext atomically picks one eligible row and moves it to extracting.
// Pending rows come first, then extracted, failed and refreshed ones; ties
// go to the fewest retries, then priority. Returns nil when nothing is left.
func (s *Store) ClaimNext(ctx context.Context, f Filter) (*SourceState, error) {
	eligible := sq.Or{sq.Eq{"status": []string{string(StatusPending), string(StatusExtracted)}}}
	if f.IncludeFailed {
		failed := sq.And{sq.Eq{"status": string(StatusFailed)}}
		if f.MaxRetries > 0 {
			failed = append(failed, sq.Lt{"retry_count": f.MaxRetries})
		}
		eligible = append(eligible, failed)
	}
	if f.Refresh {
		eligible = append(eligible, sq.Eq{"status": []string{string(StatusCompleted), string(StatusSkipped)}})
	}

	sub := sq.Select("source_id").From("sources").Where(eligible)
	if f.Namespace != "" {
		sub = sub.Where(namespaceCond(f.Namespace))
	}
	if f.RunID != "" {
		sub = sub.Where(sq.Or{sq.Eq{"run_id": nil}, sq.NotEq{"run_id": f.RunID}})
	}
	subSQL, subArgs, err := sub.
		OrderBy(
			"CASE status WHEN 'pending' THEN 0 WHEN 'extracted' THEN 1 WHEN 'failed' THEN 2 ELSE 3 END",
			"retry_count", "priority", "COALESCE(last_attempt, 0)", "source_id",
		).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	args := append([]any{string(StatusExtracting), now, now, nullString(f.RunID)}, subArgs...)
	row := s.DB.QueryRowContext(ctx,
		`UPDATE sources SET status = ?, last_attempt = ?, updated_at = ?, run_id = ?
		WHERE source_id = (`+subSQL+`)
		RETURNING `+sourceColumns, args...)
	st, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// Reconcile returns rows stuck in an in-progress status for longer than
// staleAfter to pending, incrementing retry_count. It returns the number of
// rows recovered.
func (s *Store) Reconcile(ctx context.Context, staleAfter time.Duration) (int, error) {
	now := s.now()
	query, args, err := sq.Update("sources").
		Set("status", string(StatusPending)).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("updated_at", now.UnixMilli()).
		Where(sq.Eq{"status": []string{string(StatusExtracting), string(StatusScoring), string(StatusIngesting)}}).
		Where(sq.LtOrEq{"updated_at": now.Add(-staleAfter).UnixMilli()}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := dbopen.Exec(ctx, s.DB, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
