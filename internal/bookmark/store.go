package bookmark

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"secdash/internal/filter"
	"secdash/internal/model"
)

// Bookmark is a named, immutable snapshot of filter criteria.
type Bookmark struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
	ViewID    string          `json:"view_id,omitempty"`
	Criteria  filter.Criteria `json:"criteria"`
}

// Restore returns a private copy of the saved criteria.
func (b Bookmark) Restore() filter.Criteria {
	return b.Criteria.Clone()
}

func (b Bookmark) clone() Bookmark {
	b.Criteria = b.Criteria.Clone()
	return b
}

type Policy int

const (
	AllowDuplicates Policy = iota
	RejectDuplicates
)

type Option func(*Store)

func WithPolicy(p Policy) Option {
	return func(s *Store) { s.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDSource draws bookmark IDs from r instead of crypto/rand.
func WithIDSource(r io.Reader) Option {
	return func(s *Store) { s.ids = r }
}

// Store keeps bookmarks in memory, in insertion order.
type Store struct {
	mu        sync.Mutex
	policy    Policy
	now       func() time.Time
	ids       io.Reader
	items     []Bookmark
	observers []func([]Bookmark)
}

func NewStore(opts ...Option) *Store {
	s := &Store{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() (string, error) {
	if s.ids == nil {
		return uuid.NewString(), nil
	}
	id, err := uuid.NewRandomFromReader(s.ids)
	if err != nil {
		return "", fmt.Errorf("bookmark id: %w", err)
	}
	return id.String(), nil
}

func (s *Store) Save(name string, c filter.Criteria) (Bookmark, error) {
	return s.SaveFor(name, "", c)
}

// SaveFor records the view the criteria came from alongside the snapshot.
func (s *Store) SaveFor(name, viewID string, c filter.Criteria) (Bookmark, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Bookmark{}, fmt.Errorf("bookmark name is blank: %w", model.ErrInvalidParameter)
	}
	if err := c.Validate(); err != nil {
		return Bookmark{}, err
	}
	s.mu.Lock()
	if s.policy == RejectDuplicates && slices.ContainsFunc(s.items, func(b Bookmark) bool { return b.Name == name }) {
		s.mu.Unlock()
		return Bookmark{}, fmt.Errorf("bookmark %q: %w", name, model.ErrDuplicateName)
	}
	id, err := s.newID()
	if err != nil {
		s.mu.Unlock()
		return Bookmark{}, err
	}
	b := Bookmark{ID: id, Name: name, CreatedAt: s.now(), ViewID: viewID, Criteria: c.Clone()}
	s.items = append(s.items, b)
	snapshot, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
	return b.clone(), nil
}

// Load returns a copy of the bookmark's criteria.
func (s *Store) Load(id string) (filter.Criteria, error) {
	b, err := s.Get(id)
	if err != nil {
		return filter.Criteria{}, err
	}
	return b.Criteria, nil
}

func (s *Store) Get(id string) (Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.items {
		if b.ID == id {
			return b.clone(), nil
		}
	}
	return Bookmark{}, fmt.Errorf("bookmark %s: %w", id, model.ErrNotFound)
}

func (s *Store) List() []Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bookmark, len(s.items))
	for i, b := range s.items {
		out[i] = b.clone()
	}
	return out
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	i := slices.IndexFunc(s.items, func(b Bookmark) bool { return b.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("bookmark %s: %w", id, model.ErrNotFound)
	}
	s.items = slices.Delete(s.items, i, i+1)
	snapshot, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// OnChange registers fn to receive the full list after every change.
// Observers run on the caller's goroutine, outside the store lock.
func (s *Store) OnChange(fn func([]Bookmark)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() ([]Bookmark, []func([]Bookmark)) {
	if len(s.observers) == 0 {
		return nil, nil
	}
	out := make([]Bookmark, len(s.items))
	for i, b := range s.items {
		out[i] = b.clone()
	}
	return out, slices.Clone(s.observers)
}

func notify(observers []func([]Bookmark), list []Bookmark) {
	for _, fn := range observers {
		fn(list)
	}
}
