package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"secdash/internal/bookmark"
	"secdash/internal/model"
)

// Page groups the views rendered together and owns their bookmark store.
// It replaces the ambient "refresh everything" broadcast with explicit
// calls over its views.
type Page struct {
	id        string
	title     string
	mu        sync.Mutex
	interval  time.Duration
	views     []*View
	byID      map[string]*View
	bookmarks *bookmark.Store
}

func NewPage(id, title string, interval time.Duration, store *bookmark.Store, views ...*View) (*Page, error) {
	if id == "" {
		return nil, fmt.Errorf("page id is blank: %w", model.ErrInvalidParameter)
	}
	if store == nil {
		store = bookmark.NewStore()
	}
	p := &Page{id: id, title: title, interval: interval, byID: make(map[string]*View), bookmarks: store}
	for _, v := range views {
		if _, dup := p.byID[v.ID()]; dup {
			return nil, fmt.Errorf("page %s: view %s registered twice: %w", id, v.ID(), model.ErrInvalidParameter)
		}
		p.views = append(p.views, v)
		p.byID[v.ID()] = v
	}
	return p, nil
}

func (p *Page) ID() string                 { return p.id }
func (p *Page) Title() string              { return p.title }
func (p *Page) Bookmarks() *bookmark.Store { return p.bookmarks }

func (p *Page) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Page) Views() []*View {
	out := make([]*View, len(p.views))
	copy(out, p.views)
	return out
}

// View accepts either the full view id or the part after the page prefix.
func (p *Page) View(id string) (*View, bool) {
	if v, ok := p.byID[id]; ok {
		return v, true
	}
	v, ok := p.byID[p.id+"."+strings.TrimPrefix(id, p.id+".")]
	return v, ok
}

func (p *Page) Start() error {
	var errs []error
	for _, v := range p.views {
		if err := v.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Page) Stop() {
	for _, v := range p.views {
		v.Stop()
	}
}

func (p *Page) PauseAll() error {
	var errs []error
	for _, v := range p.views {
		if err := v.Pause(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (p *Page) ResumeAll() error {
	var errs []error
	for _, v := range p.views {
		if err := v.Resume(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// RefreshAll regenerates every view once, outside their schedules.
func (p *Page) RefreshAll() error {
	var errs []error
	for _, v := range p.views {
		if err := v.Refresh(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetInterval changes the page's refresh rate on every view.
func (p *Page) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("refresh interval %v: %w", d, model.ErrInvalidParameter)
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	var errs []error
	for _, v := range p.views {
		if err := v.SetInterval(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveBookmark snapshots the active criteria of one of the page's views.
func (p *Page) SaveBookmark(name, viewID string) (bookmark.Bookmark, error) {
	v, ok := p.View(viewID)
	if !ok {
		return bookmark.Bookmark{}, fmt.Errorf("view %q on page %s: %w", viewID, p.id, model.ErrNotFound)
	}
	return p.bookmarks.SaveFor(name, v.ID(), v.Criteria())
}

// LoadBookmark copies a bookmark's criteria into a view. An empty viewID
// targets the view the bookmark was saved from.
func (p *Page) LoadBookmark(id, viewID string) (*View, error) {
	b, err := p.bookmarks.Get(id)
	if err != nil {
		return nil, err
	}
	if viewID == "" {
		viewID = b.ViewID
	}
	v, ok := p.View(viewID)
	if !ok {
		return nil, fmt.Errorf("view %q on page %s: %w", viewID, p.id, model.ErrNotFound)
	}
	if err := v.SetCriteria(b.Restore()); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *Page) DeleteBookmark(id string) error {
	return p.bookmarks.Delete(id)
}
