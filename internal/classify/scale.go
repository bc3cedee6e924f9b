package classify

import (
	"fmt"
	"math"

	"secdash/internal/model"
)

type Level struct {
	Lower float64    `json:"lower" yaml:"lower"`
	Band  model.Band `json:"band" yaml:"band"`
}

// Scale maps a value onto an ordered list of bands. Lower bounds are
// inclusive, so a value sitting on a boundary belongs to the higher band.
type Scale struct {
	name   string
	levels []Level
}

func NewScale(name string, levels ...Level) (*Scale, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("scale %q: no levels: %w", name, model.ErrInvalidParameter)
	}
	for i, lvl := range levels {
		if lvl.Band == "" {
			return nil, fmt.Errorf("scale %q: level %d has no band: %w", name, i, model.ErrInvalidParameter)
		}
		if math.IsNaN(lvl.Lower) {
			return nil, fmt.Errorf("scale %q: level %d has NaN bound: %w", name, i, model.ErrInvalidParameter)
		}
		if i > 0 && lvl.Lower <= levels[i-1].Lower {
			return nil, fmt.Errorf("scale %q: thresholds not ascending at %v: %w", name, lvl.Lower, model.ErrInvalidParameter)
		}
	}
	return &Scale{name: name, levels: append([]Level(nil), levels...)}, nil
}

func MustScale(name string, levels ...Level) *Scale {
	s, err := NewScale(name, levels...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Scale) Name() string {
	return s.name
}

func (s *Scale) Levels() []Level {
	return append([]Level(nil), s.levels...)
}

// Classify returns the band of the highest level whose lower bound is <= v
// and its rank. Values under the first bound, and NaN, take the first band.
func (s *Scale) Classify(v float64) (model.Band, int) {
	rank := 0
	for i := 1; i < len(s.levels); i++ {
		if !(v >= s.levels[i].Lower) {
			break
		}
		rank = i
	}
	return s.levels[rank].Band, rank
}

func (s *Scale) Annotate(records []model.Record) []model.Classified {
	out := make([]model.Classified, 0, len(records))
	for _, rec := range records {
		band, rank := s.Classify(rec.Value)
		out = append(out, model.Classified{Record: rec, Band: band, Rank: rank})
	}
	return out
}
