package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

var postgresStatements = statements{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS updates (
			id BIGSERIAL PRIMARY KEY,
			view_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			refreshed_at TIMESTAMPTZ NOT NULL,
			total INTEGER NOT NULL,
			visible INTEGER NOT NULL,
			summary_json JSONB NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_view_ts ON updates(view_id, refreshed_at)`,
		`CREATE TABLE IF NOT EXISTS records (
			id BIGSERIAL PRIMARY KEY,
			view_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			record_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			category TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			band TEXT NOT NULL,
			rank INTEGER NOT NULL,
			labels_json JSONB,
			measures_json JSONB,
			flags_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_view_seq ON records(view_id, seq)`,
	},
	insertUpdate: `INSERT INTO updates (view_id, seq, refreshed_at, total, visible, summary_json, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	insertRecord: `INSERT INTO records (view_id, seq, record_id, ts, category, value, band, rank, labels_json, measures_json, flags_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/secdash?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, stmts: postgresStatements}}, nil
}

func (s *postgresStore) Name() string {
	return "postgres"
}
