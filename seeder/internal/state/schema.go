package state

import "database/sql"

// Schema creates the state tables. Times are unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS sources (
	source_id      TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	url            TEXT NOT NULL,
	namespace      TEXT NOT NULL,
	source_type    TEXT NOT NULL,
	priority       TEXT NOT NULL DEFAULT 'P2',
	status         TEXT NOT NULL DEFAULT 'pending',
	content_hash   TEXT,
	delivered_hash TEXT,
	content_length INTEGER NOT NULL DEFAULT 0,
	extracted_at   INTEGER,
	document_id    TEXT,
	chunk_count    INTEGER NOT NULL DEFAULT 0,
	ingested_at    INTEGER,
	error_message  TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	last_attempt   INTEGER,
	run_id         TEXT,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sources_namespace ON sources(namespace);
CREATE INDEX IF NOT EXISTS idx_sources_status ON sources(status);
CREATE INDEX IF NOT EXISTS idx_sources_url ON sources(url);

CREATE TABLE IF NOT EXISTS sync_history (
	run_id      TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	namespace   TEXT NOT NULL DEFAULT '',
	attempted   INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	unchanged   INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	stopped     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_history_started ON sync_history(started_at);
`

// ApplySchema creates the tables on an already-opened database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
