package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/seeder/dbopen"
)

func TestOpenPragmas(t *testing.T) {
	// WHAT: Foreign keys, busy timeout and synchronous are applied.
	// WHY: The state store assumes them for concurrent workers.
	db := dbopen.OpenMemory(t)

	var fk, sync, busy int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if fk != 1 || sync != 1 || busy != 10_000 {
		t.Fatalf("foreign_keys=%d synchronous=%d busy_timeout=%d", fk, sync, busy)
	}
}

func TestWithBusyTimeout(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(2500))
	var bt int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 2500 {
		t.Fatalf("busy_timeout = %d, want 2500", bt)
	}
}

func TestOpenFileWithSchema(t *testing.T) {
	// WHAT: Parent directories are created and schema applied; WAL is active on disk.
	// WHY: First run creates ~/.knowledge-seeder/state.db from nothing.
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file: %v", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
	if _, err := db.Exec("INSERT INTO t (id) VALUES (1)"); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}
}

func TestOpenBadSchema(t *testing.T) {
	_, err := dbopen.Open(filepath.Join(t.TempDir(), "x.db"), dbopen.WithSchema("NOT SQL"))
	if err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestRunTxRollback(t *testing.T) {
	// WHAT: An error from fn rolls the transaction back.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))
	boom := errors.New("boom")
	err := dbopen.RunTx(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO kv VALUES ('a', '1')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n)
	if n != 0 {
		t.Fatalf("rows = %d, want 0", n)
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))
	res, err := dbopen.Exec(context.Background(), db, `INSERT INTO kv VALUES (?, ?)`, "a", "1")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("rows affected = %d", n)
	}
}

func TestIsBusy(t *testing.T) {
	cases := map[string]bool{
		"database is locked (5) (SQLITE_BUSY)": true,
		"database table is locked":             true,
		"no such table: x":                     false,
	}
	for msg, want := range cases {
		if got := dbopen.IsBusy(errors.New(msg)); got != want {
			t.Errorf("IsBusy(%q) = %v", msg, got)
		}
	}
	if dbopen.IsBusy(nil) {
		t.Error("nil is not busy")
	}
}
