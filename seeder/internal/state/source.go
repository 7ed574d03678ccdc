// CLAUDE:SUMMARY Source registration, lookup and the guarded status transitions (RecordExtracted/Skipped/Completed/Failed).
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/hazyhaar/seeder/dbopen"
	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

const sourceColumns = `source_id, name, url, namespace, source_type, priority, status,
	content_hash, delivered_hash, content_length, extracted_at, document_id, chunk_count,
	ingested_at, error_message, retry_count, last_attempt, run_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*SourceState, error) {
	var (
		st                                    SourceState
		status                                string
		hash, delivered, docID, errMsg, runID sql.NullString
		extractedAt, ingestedAt, lastAttempt  sql.NullInt64
		createdAt, updatedAt                  int64
	)
	err := row.Scan(&st.SourceID, &st.Name, &st.URL, &st.Namespace, &st.SourceType, &st.Priority,
		&status, &hash, &delivered, &st.ContentLength, &extractedAt, &docID, &st.ChunkCount,
		&ingestedAt, &errMsg, &st.RetryCount, &lastAttempt, &runID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	st.Status = Status(status)
	st.ContentHash = hash.String
	st.DeliveredHash = delivered.String
	st.DocumentID = docID.String
	st.ErrorMessage = errMsg.String
	st.RunID = runID.String
	st.ExtractedAt = fromMillis(extractedAt)
	st.IngestedAt = fromMillis(ingestedAt)
	st.LastAttempt = fromMillis(lastAttempt)
	st.CreatedAt = fromMillis(sql.NullInt64{Int64: createdAt, Valid: true})
	st.UpdatedAt = fromMillis(sql.NullInt64{Int64: updatedAt, Valid: true})
	return &st, nil
}

// RegisterResult counts rows created and refreshed by Register.
type RegisterResult struct {
	New      int
	Existing int
}

// Register creates a pending row for every source not yet tracked and
// refreshes name, url, type and priority on existing rows. A row whose URL
// changed goes back to pending. updated_at moves only when an idle row
// actually changed, so in-progress rows keep the age Reconcile reads.
func (s *Store) Register(ctx context.Context, sources []catalog.Source) (RegisterResult, error) {
	var res RegisterResult
	now := s.now().UnixMilli()
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res = RegisterResult{}
		for _, src := range sources {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources WHERE source_id = ?`, src.ID()).Scan(&exists)
			if err != nil {
				return err
			}
			priority := string(src.Priority)
			if priority == "" {
				priority = string(catalog.DefaultPriority)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sources (source_id, name, url, namespace, source_type, priority, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)
				ON CONFLICT(source_id) DO UPDATE SET
					updated_at = CASE WHEN sources.status NOT IN ('extracting', 'scoring', 'ingesting')
						AND (sources.name != excluded.name OR sources.url != excluded.url
							OR sources.source_type != excluded.source_type OR sources.priority != excluded.priority)
						THEN excluded.updated_at ELSE sources.updated_at END,
					status = CASE WHEN sources.url != excluded.url AND sources.status NOT IN ('extracting', 'scoring', 'ingesting')
						THEN 'pending' ELSE sources.status END,
					name = excluded.name,
					source_type = excluded.source_type,
					priority = excluded.priority,
					url = excluded.url`,
				src.ID(), src.Name, src.URL, src.Namespace, string(src.Type), priority, now, now)
			if err != nil {
				return fmt.Errorf("register %s: %w", src.ID(), err)
			}
			if exists > 0 {
				res.Existing++
			} else {
				res.New++
			}
		}
		return nil
	})
	return res, err
}

// Get returns the state of one source, or nil when it is not tracked.
func (s *Store) Get(ctx context.Context, sourceID string) (*SourceState, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE source_id = ?`, sourceID)
	st, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// MarkStatus moves a row to status through the transition guard.
func (s *Store) MarkStatus(ctx context.Context, sourceID string, status Status) error {
	return s.transition(ctx, sourceID, status, nil)
}

// RecordExtracted stores the content hash and length of a fresh extraction.
func (s *Store) RecordExtracted(ctx context.Context, sourceID, hash string, length int) error {
	return s.transition(ctx, sourceID, StatusExtracted, map[string]any{
		"content_hash":   hash,
		"content_length": length,
		"extracted_at":   s.now().UnixMilli(),
	})
}

// RecordUnchanged returns a row to completed when the re-extracted content
// matches what was last delivered.
func (s *Store) RecordUnchanged(ctx context.Context, sourceID string) error {
	return s.transition(ctx, sourceID, StatusCompleted, map[string]any{"error_message": nil})
}

// RecordSkipped marks a source rejected by the quality gate.
func (s *Store) RecordSkipped(ctx context.Context, sourceID, reason string) error {
	return s.transition(ctx, sourceID, StatusSkipped, map[string]any{"error_message": reason})
}

// RecordCompleted stores the downstream document id and chunk count.
func (s *Store) RecordCompleted(ctx context.Context, sourceID, documentID string, chunkCount int) error {
	return s.transition(ctx, sourceID, StatusCompleted, map[string]any{
		"document_id":    documentID,
		"chunk_count":    chunkCount,
		"ingested_at":    s.now().UnixMilli(),
		"delivered_hash": sq.Expr("content_hash"),
		"error_message":  nil,
	})
}

// RecordFailed marks a source failed and adds the retries spent on it.
func (s *Store) RecordFailed(ctx context.Context, sourceID, message string, retries int) error {
	return s.transition(ctx, sourceID, StatusFailed, map[string]any{
		"error_message": message,
		"retry_count":   sq.Expr("retry_count + ?", retries),
	})
}

// Requeue puts a failed, completed or skipped source back to pending.
func (s *Store) Requeue(ctx context.Context, sourceID string) error {
	return s.transitionFrom(ctx, sourceID, StatusPending,
		[]Status{StatusFailed, StatusCompleted, StatusSkipped}, map[string]any{"error_message": nil})
}

// RequeueFailed moves every failed row (optionally within a namespace) to pending.
func (s *Store) RequeueFailed(ctx context.Context, namespace string) (int, error) {
	q := sq.Update("sources").
		Set("status", string(StatusPending)).
		Set("updated_at", s.now().UnixMilli()).
		Where(sq.Eq{"status": string(StatusFailed)})
	if namespace != "" {
		q = q.Where(namespaceCond(namespace))
	}
	query, args, err := q.ToSql()
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

// transition updates one row to status with extra column values, only when
// its current status is an allowed predecessor.
func (s *Store) transition(ctx context.Context, sourceID string, to Status, set map[string]any) error {
	return s.transitionFrom(ctx, sourceID, to, allowedFrom[to], set)
}

func (s *Store) transitionFrom(ctx context.Context, sourceID string, to Status, from []Status, set map[string]any) error {
	if len(from) == 0 {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	prev := make([]string, len(from))
	for i, st := range from {
		prev[i] = string(st)
	}

	q := sq.Update("sources").
		Set("status", string(to)).
		Set("updated_at", s.now().UnixMilli()).
		Where(sq.Eq{"source_id": sourceID, "status": prev})
	for col, val := range set {
		q = q.Set(col, val)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	res, err := dbopen.Exec(ctx, s.DB, query, args...)
	if err != nil {
		return fmt.Errorf("state: %s -> %s: %w", sourceID, to, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	cur, err := s.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, sourceID)
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, sourceID, cur.Status, to)
}

// namespaceCond matches a namespace and its hierarchical children.
func namespaceCond(ns string) sq.Sqlizer {
	return sq.Or{sq.Eq{"namespace": ns}, sq.Like{"namespace": ns + "/%"}}
}
