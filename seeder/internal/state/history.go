package state

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hazyhaar/seeder/dbopen"
)

// Run is one row of sync_history.
type Run struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Namespace  string
	Attempted  int
	Succeeded  int
	Skipped    int
	Failed     int
	Unchanged  int
	Duration   time.Duration
	Stopped    bool
}

// RecordRun appends a finished sync run to the history.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO sync_history (run_id, started_at, finished_at, namespace, attempted,
		succeeded, skipped, failed, unchanged, duration_ms, stopped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.Namespace, r.Attempted,
		r.Succeeded, r.Skipped, r.Failed, r.Unchanged, r.Duration.Milliseconds(), r.Stopped)
	return err
}

// History returns the most recent runs, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]Run, error) {
	q := sq.Select("run_id", "started_at", "finished_at", "namespace", "attempted", "succeeded",
		"skipped", "failed", "unchanged", "duration_ms", "stopped").
		From("sync_history").
		OrderBy("started_at DESC", "run_id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
			durationMS        int64
		)
		if err := rows.Scan(&r.RunID, &started, &finished, &r.Namespace, &r.Attempted, &r.Succeeded,
			&r.Skipped, &r.Failed, &r.Unchanged, &durationMS, &r.Stopped); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
