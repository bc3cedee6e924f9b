package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secdash/internal/config"
	"secdash/internal/model"
)

func newTestSQLite(t *testing.T) *sqliteStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "archive.db") + "?_pragma=busy_timeout(5000)"
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s.(*sqliteStore)
}

func sampleUpdate(seq uint64) model.Update {
	ts := time.Date(2025, 11, 7, 12, 0, 0, 0, time.UTC)
	return model.Update{
		ViewID:      "security-overview.threat-feed",
		Sequence:    seq,
		RefreshedAt: ts,
		Total:       3,
		Records: []model.Classified{
			{
				Record: model.Record{
					ID: "t1", Timestamp: ts.Add(-time.Minute), Category: "malware", Value: 90,
					Labels:   map[string]string{"severity": "critical"},
					Measures: map[string]float64{"affected_systems": 4},
					Flags:    map[string]bool{"active": true},
				},
				Band: model.BandCritical, Rank: 3,
			},
			{
				Record: model.Record{ID: "t2", Timestamp: ts, Category: "phishing", Value: 50},
				Band:   model.BandMedium, Rank: 1,
			},
		},
		Summary: model.Summary{Count: 2, Total: 140, Mean: 70},
	}
}

func TestNewStoreDisabled(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Enabled: false, Driver: "sqlite"})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewStoreUnknownDriver(t *testing.T) {
	_, err := NewStore(config.StorageConfig{Enabled: true, Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestNewStorePicksDriver(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Enabled: true, Driver: "postgresql", DSN: "postgres://localhost/none"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", s.Name())
	require.NoError(t, s.Close())
}

func TestSQLiteSaveUpdate(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUpdate(ctx, sampleUpdate(1)))
	require.NoError(t, s.SaveUpdate(ctx, sampleUpdate(2)))

	var updates int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM updates`).Scan(&updates))
	assert.Equal(t, 2, updates)

	var records int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE seq = 2`).Scan(&records))
	assert.Equal(t, 2, records)

	var band, labels string
	var rank int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT band, rank, labels_json FROM records WHERE record_id = 't1' AND seq = 1`).Scan(&band, &rank, &labels))
	assert.Equal(t, "critical", band)
	assert.Equal(t, 3, rank)
	assert.JSONEq(t, `{"severity":"critical"}`, labels)

	var total, visible int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT total, visible FROM updates WHERE seq = 1`).Scan(&total, &visible))
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, visible)
}

func TestSQLiteSaveEmptyUpdate(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	u := sampleUpdate(1)
	u.Records = nil
	require.NoError(t, s.SaveUpdate(ctx, u))

	var records int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&records))
	assert.Zero(t, records)
}

func TestSQLiteInitIsRepeatable(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Init(context.Background()))
}
