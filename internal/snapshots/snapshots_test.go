package snapshots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secdash/internal/model"
)

var t0 = time.Date(2025, 11, 7, 9, 0, 0, 0, time.UTC)

func update(view string, seq uint64) model.Update {
	return model.Update{ViewID: view, Sequence: seq, RefreshedAt: t0.Add(time.Duration(seq) * time.Second), Total: int(seq)}
}

func TestLatestKeepsNewestPerView(t *testing.T) {
	l := NewLatest(2)
	l.Update(update("kpis", 1))
	l.Update(update("kpis", 2))
	l.Update(update("events", 1))
	l.Update(model.Update{})

	u, ok := l.Get("kpis")
	require.True(t, ok)
	assert.Equal(t, uint64(2), u.Sequence)
	assert.Equal(t, []string{"events", "kpis"}, l.Views())

	l.Get("kpis")
	l.Update(update("threat-feed", 1))
	_, ok = l.Get("events")
	assert.False(t, ok, "least recently used view is evicted")
	assert.Len(t, l.GetAll(), 2)

	l.Clear()
	assert.Empty(t, l.Views())
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3)
	for seq := uint64(1); seq <= 4; seq++ {
		h.Add(EntryOf(update("kpis", seq)))
	}
	h.Add(EntryOf(update("events", 9)))
	assert.Equal(t, 3, h.Len())

	all := h.List("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(3), all[0].Sequence)
	assert.Equal(t, "events", all[2].ViewID)

	kpis := h.List("kpis", 1)
	require.Len(t, kpis, 1)
	assert.Equal(t, uint64(4), kpis[0].Sequence)

	since := h.Since("kpis", t0.Add(4*time.Second))
	require.Len(t, since, 1)
	assert.Equal(t, uint64(4), since[0].Sequence)

	h.Clear()
	assert.Zero(t, h.Len())
}
