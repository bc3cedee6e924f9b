package filter

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"secdash/internal/model"
)

// Range is an inclusive bound on a record's value.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

const PresetCustom = "custom"

var windowPresets = map[string]time.Duration{
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// TimeWindow restricts records to a recent preset span, or to an explicit
// Start/End pair when Preset is "custom". Either end of a custom window may
// be left open.
type TimeWindow struct {
	Preset string `json:"preset" yaml:"preset"`
	Start  string `json:"start,omitempty" yaml:"start,omitempty"`
	End    string `json:"end,omitempty" yaml:"end,omitempty"`
}

type bounds struct {
	from, to time.Time
}

func (b bounds) contains(ts time.Time) bool {
	if !b.from.IsZero() && ts.Before(b.from) {
		return false
	}
	if !b.to.IsZero() && ts.After(b.to) {
		return false
	}
	return true
}

func (w TimeWindow) resolve(now time.Time) (bounds, error) {
	if w.Preset != PresetCustom {
		d, ok := windowPresets[w.Preset]
		if !ok {
			return bounds{}, fmt.Errorf("time window preset %q: %w", w.Preset, model.ErrInvalidParameter)
		}
		return bounds{from: now.Add(-d)}, nil
	}
	var b bounds
	var err error
	if w.Start != "" {
		if b.from, err = ParseTimestamp(w.Start, time.UTC); err != nil {
			return bounds{}, fmt.Errorf("window start: %v: %w", err, model.ErrInvalidParameter)
		}
	}
	if w.End != "" {
		if b.to, err = ParseTimestamp(w.End, time.UTC); err != nil {
			return bounds{}, fmt.Errorf("window end: %v: %w", err, model.ErrInvalidParameter)
		}
	}
	if !b.from.IsZero() && !b.to.IsZero() && b.to.Before(b.from) {
		return bounds{}, fmt.Errorf("window ends before it starts: %w", model.ErrInvalidParameter)
	}
	return b, nil
}

// Criteria narrows a record collection. Every populated dimension must
// match; the zero value matches everything.
type Criteria struct {
	Search     string            `json:"search,omitempty" yaml:"search,omitempty"`
	Categories []string          `json:"categories,omitempty" yaml:"categories,omitempty"`
	Bands      []model.Band      `json:"bands,omitempty" yaml:"bands,omitempty"`
	Range      *Range            `json:"range,omitempty" yaml:"range,omitempty"`
	Flags      []string          `json:"flags,omitempty" yaml:"flags,omitempty"`
	Labels     map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Window     *TimeWindow       `json:"window,omitempty" yaml:"window,omitempty"`
}

func (c Criteria) Clone() Criteria {
	out := Criteria{
		Search:     c.Search,
		Categories: slices.Clone(c.Categories),
		Bands:      slices.Clone(c.Bands),
		Flags:      slices.Clone(c.Flags),
		Labels:     maps.Clone(c.Labels),
	}
	if c.Range != nil {
		r := *c.Range
		out.Range = &r
	}
	if c.Window != nil {
		w := *c.Window
		out.Window = &w
	}
	return out
}

func (c Criteria) Validate() error {
	if c.Range != nil {
		if math.IsNaN(c.Range.Min) || math.IsNaN(c.Range.Max) {
			return fmt.Errorf("range bound is NaN: %w", model.ErrInvalidParameter)
		}
		if c.Range.Min > c.Range.Max {
			return fmt.Errorf("range min %v above max %v: %w", c.Range.Min, c.Range.Max, model.ErrInvalidParameter)
		}
	}
	if c.Window != nil {
		if _, err := c.Window.resolve(time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

func (c Criteria) IsZero() bool {
	return c.ActiveCount() == 0
}

// ActiveCount is the number of dimensions currently narrowing the result.
func (c Criteria) ActiveCount() int {
	n := 0
	if c.Search != "" {
		n++
	}
	if len(c.Categories) > 0 {
		n++
	}
	if len(c.Bands) > 0 {
		n++
	}
	if c.Range != nil {
		n++
	}
	if len(c.Flags) > 0 {
		n++
	}
	n += len(c.Labels)
	if c.Window != nil {
		n++
	}
	return n
}

// ToggleCategory flips one series of a legend. An empty category list means
// every category in universe is shown; turning all of them back on returns
// to that state.
func ToggleCategory(c Criteria, category string, universe []string) Criteria {
	out := c.Clone()
	current := out.Categories
	if len(current) == 0 {
		current = slices.Clone(universe)
	}
	if i := slices.Index(current, category); i >= 0 {
		current = slices.Delete(current, i, i+1)
	} else {
		current = append(current, category)
	}
	if len(current) == len(universe) && containsAll(current, universe) {
		current = nil
	}
	out.Categories = current
	return out
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
