package snapshots

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"secdash/internal/model"
)

// Latest keeps the most recent update per view, evicting the least
// recently touched view once the limit is reached.
type Latest struct {
	cache *lru.Cache[string, model.Update]
}

func NewLatest(limit int) *Latest {
	if limit <= 0 {
		limit = 256
	}
	cache, err := lru.New[string, model.Update](limit)
	if err != nil {
		panic(err)
	}
	return &Latest{cache: cache}
}

func (l *Latest) Update(u model.Update) {
	if u.ViewID == "" {
		return
	}
	l.cache.Add(u.ViewID, u)
}

func (l *Latest) Get(viewID string) (model.Update, bool) {
	return l.cache.Get(viewID)
}

func (l *Latest) GetAll() map[string]model.Update {
	out := make(map[string]model.Update, l.cache.Len())
	for _, id := range l.cache.Keys() {
		if u, ok := l.cache.Peek(id); ok {
			out[id] = u
		}
	}
	return out
}

func (l *Latest) Views() []string {
	ids := l.cache.Keys()
	sort.Strings(ids)
	return ids
}

func (l *Latest) Clear() {
	l.cache.Purge()
}
