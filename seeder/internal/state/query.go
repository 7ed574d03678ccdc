package state

import (
	"context"

	sq "github.com/Masterminds/squirrel"
)

// ListFilter narrows ListByStatus. Zero values match everything.
type ListFilter struct {
	Namespace string
	Status    Status
	Limit     int
}

// ListByStatus returns rows ordered by namespace then name.
func (s *Store) ListByStatus(ctx context.Context, f ListFilter) ([]*SourceState, error) {
	q := sq.Select(sourceColumns).From("sources").OrderBy("namespace", "name")
	if f.Namespace != "" {
		q = q.Where(namespaceCond(f.Namespace))
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
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

	var out []*SourceState
	for rows.Next() {
		st, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Counts returns the number of rows per status. Every status is present.
func (s *Store) Counts(ctx context.Context, namespace string) (map[Status]int, error) {
	q := sq.Select("status", "COUNT(*)").From("sources").GroupBy("status")
	if namespace != "" {
		q = q.Where(namespaceCond(namespace))
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

	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// Namespaces returns the distinct namespaces tracked, sorted.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT namespace FROM sources ORDER BY namespace`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}
