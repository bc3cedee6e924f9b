package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"secdash/internal/config"
	"secdash/internal/model"
)

// Store archives refresh updates. It is write-only: nothing in the
// pipeline reads the archive back.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveUpdate(ctx context.Context, u model.Update) error
	Name() string
}

// NewStore returns nil, nil when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql", "pgx":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type statements struct {
	schema       []string
	insertUpdate string
	insertRecord string
}

type baseStore struct {
	db    *sql.DB
	stmts statements
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.stmts.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SaveUpdate writes the update header and its visible records in one
// transaction.
func (b *baseStore) SaveUpdate(ctx context.Context, u model.Update) error {
	if b.db == nil || u.ViewID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.stmts.insertUpdate,
		u.ViewID,
		int64(u.Sequence),
		u.RefreshedAt.UTC(),
		u.Total,
		len(u.Records),
		encodeJSON(u.Summary),
		nowUTC(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert update: %w", err)
	}
	if len(u.Records) == 0 {
		return tx.Commit()
	}
	stmt, err := tx.PrepareContext(ctx, b.stmts.insertRecord)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, rec := range u.Records {
		if _, err := stmt.ExecContext(ctx,
			u.ViewID,
			int64(u.Sequence),
			rec.ID,
			rec.Timestamp.UTC(),
			rec.Category,
			rec.Value,
			string(rec.Band),
			rec.Rank,
			encodeJSON(rec.Labels),
			encodeJSON(rec.Measures),
			encodeJSON(rec.Flags),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
