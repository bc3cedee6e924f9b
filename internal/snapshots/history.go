package snapshots

import (
	"sync"
	"time"

	"secdash/internal/model"
)

// Entry is the compact trace an update leaves in the history.
type Entry struct {
	ViewID      string        `json:"view_id"`
	Sequence    uint64        `json:"sequence"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	Visible     int           `json:"visible"`
	Total       int           `json:"total"`
	Summary     model.Summary `json:"summary"`
}

func EntryOf(u model.Update) Entry {
	return Entry{
		ViewID:      u.ViewID,
		Sequence:    u.Sequence,
		RefreshedAt: u.RefreshedAt,
		Visible:     len(u.Records),
		Total:       u.Total,
		Summary:     u.Summary,
	}
}

// History is a bounded ring of entries across all views, oldest first.
type History struct {
	mu    sync.RWMutex
	buf   []Entry
	limit int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 1000
	}
	return &History{limit: limit}
}

func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) < h.limit {
		h.buf = append(h.buf, e)
		return
	}
	copy(h.buf, h.buf[1:])
	h.buf[len(h.buf)-1] = e
}

// List returns the newest limit entries for viewID, or for every view when
// viewID is empty.
func (h *History) List(viewID string, limit int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	matched := make([]Entry, 0, len(h.buf))
	for _, e := range h.buf {
		if viewID == "" || e.ViewID == viewID {
			matched = append(matched, e)
		}
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

func (h *History) Since(viewID string, ts time.Time) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range h.buf {
		if viewID != "" && e.ViewID != viewID {
			continue
		}
		if !e.RefreshedAt.Before(ts) {
			out = append(out, e)
		}
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buf)
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = nil
}
