// Package trace logs every statement run against the state database.
//
// It registers a "sqlite-trace" driver that wraps modernc.org/sqlite at the
// database/sql/driver level. Open the database with that driver name to
// turn tracing on:
//
//	db, _ := dbopen.Open(path, dbopen.WithDriver(trace.DriverName))
//
// Statements log at Debug, at Warn when slower than the slow threshold and
// at Error on failure. A run id stored with WithRunID is attached to every
// entry so queries can be matched to the sync that issued them.
package trace

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	sqlite "modernc.org/sqlite"
)

// DriverName is the database/sql name of the tracing driver.
const DriverName = "sqlite-trace"

// DefaultSlowThreshold is the duration above which a statement logs at Warn.
const DefaultSlowThreshold = 100 * time.Millisecond

var slowThreshold atomic.Int64

// SetSlowThreshold changes the Warn threshold. Zero restores the default.
func SetSlowThreshold(d time.Duration) {
	if d <= 0 {
		d = DefaultSlowThreshold
	}
	slowThreshold.Store(int64(d))
}

func slow() time.Duration { return time.Duration(slowThreshold.Load()) }

type runKey struct{}

// WithRunID returns a context whose statements are logged with runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID returns the run id stored in ctx, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}

func init() {
	slowThreshold.Store(int64(DefaultSlowThreshold))
	sql.Register(DriverName, &Driver{Driver: &sqlite.Driver{}})
}
