package filter

import (
	"slices"
	"strings"
	"time"

	"secdash/internal/model"
)

const FieldLabels = "labels"

// DefaultSearchFields searches the id, the category and every label.
var DefaultSearchFields = []string{KeyID, KeyCategory, FieldLabels}

// Engine filters and orders classified records. It never modifies its
// input. Now anchors preset time windows and defaults to time.Now.
type Engine struct {
	SearchFields []string
	Now          func() time.Time
}

type matcher struct {
	search     string
	fields     []string
	categories map[string]struct{}
	bands      map[model.Band]struct{}
	rng        *Range
	flags      []string
	labels     map[string]string
	window     *bounds
}

func (e Engine) compile(c Criteria) (*matcher, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m := &matcher{
		search: strings.ToLower(strings.TrimSpace(c.Search)),
		fields: e.SearchFields,
		rng:    c.Range,
		flags:  c.Flags,
		labels: c.Labels,
	}
	if len(m.fields) == 0 {
		m.fields = DefaultSearchFields
	}
	if len(c.Categories) > 0 {
		m.categories = make(map[string]struct{}, len(c.Categories))
		for _, cat := range c.Categories {
			m.categories[cat] = struct{}{}
		}
	}
	if len(c.Bands) > 0 {
		m.bands = make(map[model.Band]struct{}, len(c.Bands))
		for _, b := range c.Bands {
			m.bands[b] = struct{}{}
		}
	}
	if c.Window != nil {
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		b, err := c.Window.resolve(now())
		if err != nil {
			return nil, err
		}
		m.window = &b
	}
	return m, nil
}

func (m *matcher) match(rec *model.Classified) bool {
	if m.categories != nil {
		if _, ok := m.categories[rec.Category]; !ok {
			return false
		}
	}
	if m.bands != nil {
		if _, ok := m.bands[rec.Band]; !ok {
			return false
		}
	}
	if m.rng != nil && !m.rng.Contains(rec.Value) {
		return false
	}
	for _, f := range m.flags {
		if !rec.Flags[f] {
			return false
		}
	}
	for k, v := range m.labels {
		if rec.Labels[k] != v {
			return false
		}
	}
	if m.window != nil && !m.window.contains(rec.Timestamp) {
		return false
	}
	return m.search == "" || m.matchSearch(rec)
}

func (m *matcher) matchSearch(rec *model.Classified) bool {
	hit := func(s string) bool {
		return strings.Contains(strings.ToLower(s), m.search)
	}
	for _, field := range m.fields {
		switch field {
		case KeyID:
			if hit(rec.ID) {
				return true
			}
		case KeyCategory:
			if hit(rec.Category) {
				return true
			}
		case KeyBand:
			if hit(string(rec.Band)) {
				return true
			}
		case FieldLabels:
			for _, v := range rec.Labels {
				if hit(v) {
					return true
				}
			}
		default:
			if name, ok := strings.CutPrefix(field, labelPrefix); ok && hit(rec.Labels[name]) {
				return true
			}
		}
	}
	return false
}

// Filter keeps the records matching every active criterion, in input order.
func (e Engine) Filter(records []model.Classified, c Criteria) ([]model.Classified, error) {
	m, err := e.compile(c)
	if err != nil {
		return nil, err
	}
	out := make([]model.Classified, 0, len(records))
	for i := range records {
		if m.match(&records[i]) {
			out = append(out, records[i])
		}
	}
	return slices.Clip(out), nil
}

func (e Engine) Apply(records []model.Classified, c Criteria, spec SortSpec) ([]model.Classified, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	kept, err := e.Filter(records, c)
	if err != nil {
		return nil, err
	}
	return Sort(kept, spec)
}
