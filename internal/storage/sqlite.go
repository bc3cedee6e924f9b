package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

var sqliteStatements = statements{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			view_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			refreshed_at TEXT NOT NULL,
			total INTEGER NOT NULL,
			visible INTEGER NOT NULL,
			summary_json TEXT NOT NULL,
			stored_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_view_ts ON updates(view_id, refreshed_at)`,
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			view_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			record_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			category TEXT NOT NULL,
			value REAL NOT NULL,
			band TEXT NOT NULL,
			rank INTEGER NOT NULL,
			labels_json TEXT,
			measures_json TEXT,
			flags_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_view_seq ON records(view_id, seq)`,
	},
	insertUpdate: `INSERT INTO updates (view_id, seq, refreshed_at, total, visible, summary_json, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
	insertRecord: `INSERT INTO records (view_id, seq, record_id, ts, category, value, band, rank, labels_json, measures_json, flags_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:secdash.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, stmts: sqliteStatements}}, nil
}

func (s *sqliteStore) Name() string {
	return "sqlite"
}
