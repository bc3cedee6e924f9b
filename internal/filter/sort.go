package filter

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"secdash/internal/model"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

const (
	KeyID        = "id"
	KeyTimestamp = "timestamp"
	KeyCategory  = "category"
	KeyValue     = "value"
	KeyBand      = "band"

	labelPrefix   = "label:"
	measurePrefix = "measure:"
)

// SortSpec orders records by one key. An empty key keeps input order.
type SortSpec struct {
	Key       string    `json:"key,omitempty" yaml:"key,omitempty"`
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
}

func LabelKey(name string) string   { return labelPrefix + name }
func MeasureKey(name string) string { return measurePrefix + name }

// Toggle mirrors a table header click: the active key flips direction and
// a new key starts descending.
func (s SortSpec) Toggle(key string) SortSpec {
	if s.Key == key {
		if s.Direction == Desc {
			return SortSpec{Key: key, Direction: Asc}
		}
		return SortSpec{Key: key, Direction: Desc}
	}
	return SortSpec{Key: key, Direction: Desc}
}

func (s SortSpec) Validate() error {
	switch s.Direction {
	case "", Asc, Desc:
	default:
		return fmt.Errorf("sort direction %q: %w", s.Direction, model.ErrInvalidParameter)
	}
	if _, err := comparator(s.Key); err != nil {
		return err
	}
	return nil
}

func comparator(key string) (func(a, b *model.Classified) int, error) {
	switch key {
	case "":
		return nil, nil
	case KeyID:
		return func(a, b *model.Classified) int { return strings.Compare(a.ID, b.ID) }, nil
	case KeyTimestamp:
		return func(a, b *model.Classified) int { return a.Timestamp.Compare(b.Timestamp) }, nil
	case KeyCategory:
		return func(a, b *model.Classified) int { return strings.Compare(a.Category, b.Category) }, nil
	case KeyValue:
		return func(a, b *model.Classified) int { return cmp.Compare(a.Value, b.Value) }, nil
	case KeyBand:
		return func(a, b *model.Classified) int { return cmp.Compare(a.Rank, b.Rank) }, nil
	}
	if name, ok := strings.CutPrefix(key, labelPrefix); ok && name != "" {
		return func(a, b *model.Classified) int {
			return strings.Compare(a.Labels[name], b.Labels[name])
		}, nil
	}
	if name, ok := strings.CutPrefix(key, measurePrefix); ok && name != "" {
		return func(a, b *model.Classified) int {
			return cmp.Compare(measureOrLow(a, name), measureOrLow(b, name))
		}, nil
	}
	return nil, fmt.Errorf("sort key %q: %w", key, model.ErrInvalidParameter)
}

func measureOrLow(rec *model.Classified, name string) float64 {
	if v, ok := rec.Measures[name]; ok {
		return v
	}
	return math.Inf(-1)
}

// Sort returns a sorted copy. Ties on the key fall back to ID ascending
// whatever the direction.
func Sort(records []model.Classified, spec SortSpec) ([]model.Classified, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	out := slices.Clone(records)
	if out == nil {
		out = []model.Classified{}
	}
	byKey, _ := comparator(spec.Key)
	if byKey == nil {
		return out, nil
	}
	slices.SortStableFunc(out, func(a, b model.Classified) int {
		c := byKey(&a, &b)
		if spec.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}
