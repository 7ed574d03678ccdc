// CLAUDE:SUMMARY Durable per-source pipeline state in SQLite: status machine, atomic claim, crash reconciliation, run history.
// CLAUDE:DEPENDS dbopen, catalog
// CLAUDE:EXPORTS Store, SourceState, Status, Filter, ListFilter, Run, ErrInvalidTransition
//
// Package state records where every catalog source stands in the ingestion
// pipeline. Each row is keyed by source_id (namespace:name) and moves through
//
//	pending -> extracting -> extracted -> scoring -> ingesting -> completed
//
// with failed and skipped as the other outcomes. Every status change is a
// single guarded UPDATE so concurrent workers never clobber each other.
package state

import (
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/seeder/dbopen"
)

// Status is the pipeline position of a source.
type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusExtracted  Status = "extracted"
	StatusScoring    Status = "scoring"
	StatusIngesting  Status = "ingesting"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in pipeline order.
var Statuses = []Status{
	StatusPending, StatusExtracting, StatusExtracted, StatusScoring,
	StatusIngesting, StatusCompleted, StatusSkipped, StatusFailed,
}

// InProgress reports whether a worker owns the row.
func (s Status) InProgress() bool {
	return s == StatusExtracting || s == StatusScoring || s == StatusIngesting
}

// Terminal reports whether the row is done for its current content version.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusFailed
}

// ParseStatus validates a status name.
func ParseStatus(v string) (Status, bool) {
	for _, s := range Statuses {
		if string(s) == v {
			return s, true
		}
	}
	return "", false
}

// allowedFrom lists, per target status, the statuses a row may leave to reach it.
var allowedFrom = map[Status][]Status{
	StatusExtracting: {StatusPending, StatusExtracted, StatusFailed, StatusCompleted, StatusSkipped},
	StatusExtracted:  {StatusExtracting},
	StatusScoring:    {StatusExtracting, StatusExtracted},
	StatusIngesting:  {StatusScoring},
	StatusCompleted:  {StatusIngesting, StatusExtracting},
	StatusSkipped:    {StatusExtracted, StatusScoring},
	StatusFailed:     {StatusPending, StatusExtracting, StatusExtracted, StatusScoring, StatusIngesting},
	StatusPending:    {StatusFailed, StatusCompleted, StatusSkipped, StatusExtracting, StatusScoring, StatusIngesting},
}

var (
	ErrInvalidTransition = errors.New("state: invalid status transition")
	ErrNotFound          = errors.New("state: source not found")
)

// SourceState is one row of the sources table.
type SourceState struct {
	SourceID      string
	Name          string
	URL           string
	Namespace     string
	SourceType    string
	Priority      string
	Status        Status
	ContentHash   string
	DeliveredHash string // content hash of the last successful delivery
	ContentLength int
	ExtractedAt   time.Time
	DocumentID    string
	ChunkCount    int
	IngestedAt    time.Time
	ErrorMessage  string
	RetryCount    int
	LastAttempt   time.Time
	RunID         string // run that last claimed the row
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store wraps the state database.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// New wraps an opened database. The schema must already be applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Open opens (creating if needed) the state database at path. Extra options
// are applied after the defaults, e.g. dbopen.WithDriver for query tracing.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	opts = append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
