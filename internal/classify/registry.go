package classify

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"secdash/internal/model"
)

const (
	ScaleRisk                 = "risk"
	ScaleIntensity            = "intensity"
	ScaleActiveThreats        = "active_threats"
	ScaleAuthSuccessRate      = "auth_success_rate"
	ScaleSystemCallsPerMinute = "system_calls_per_min"
	ScaleUnauthorizedAttempts = "unauthorized_attempts"
	ScaleCorrelation          = "correlation"
	ScaleConfidence           = "confidence"
	ScaleCallRate             = "call_rate"
	ScaleTotalCalls           = "total_calls"
	ScaleProcessCount         = "process_count"
	ScaleSuspiciousPatterns   = "suspicious_patterns"
	ScalePerformanceImpact    = "performance_impact"
	ScaleThreatLevel          = "threat_level"
)

func presets() []*Scale {
	return []*Scale{
		MustScale(ScaleRisk,
			Level{Lower: 0, Band: model.BandLow},
			Level{Lower: 40, Band: model.BandMedium},
			Level{Lower: 60, Band: model.BandHigh},
			Level{Lower: 80, Band: model.BandCritical},
		),
		MustScale(ScaleIntensity,
			Level{Lower: 0, Band: model.BandMinimal},
			Level{Lower: 20, Band: model.BandLow},
			Level{Lower: 40, Band: model.BandMedium},
			Level{Lower: 60, Band: model.BandHigh},
			Level{Lower: 80, Band: model.BandCritical},
		),
		MustScale(ScaleActiveThreats,
			Level{Lower: 0, Band: model.BandNormal},
			Level{Lower: 5, Band: model.BandWarning},
			Level{Lower: 10, Band: model.BandCritical},
		),
		// Higher is healthier here, so the bands run from critical upwards.
		MustScale(ScaleAuthSuccessRate,
			Level{Lower: 0, Band: model.BandCritical},
			Level{Lower: 90, Band: model.BandWarning},
			Level{Lower: 95, Band: model.BandSuccess},
		),
		// Warning starts strictly above 1200.
		MustScale(ScaleSystemCallsPerMinute,
			Level{Lower: 0, Band: model.BandNormal},
			Level{Lower: math.Nextafter(1200, math.Inf(1)), Band: model.BandWarning},
		),
		MustScale(ScaleUnauthorizedAttempts,
			Level{Lower: 0, Band: model.BandNormal},
			Level{Lower: 15, Band: model.BandWarning},
			Level{Lower: 30, Band: model.BandCritical},
		),
		MustScale(ScaleCorrelation,
			Level{Lower: 0, Band: model.BandWeak},
			Level{Lower: 0.4, Band: model.BandLow},
			Level{Lower: 0.6, Band: model.BandMedium},
			Level{Lower: 0.8, Band: model.BandHigh},
		),
		MustScale(ScaleConfidence,
			Level{Lower: 0, Band: model.BandLow},
			Level{Lower: 70, Band: model.BandMedium},
			Level{Lower: 90, Band: model.BandHigh},
		),
		MustScale(ScaleCallRate,
			Level{Lower: 0, Band: model.BandLow},
			Level{Lower: 120, Band: model.BandMedium},
			Level{Lower: math.Nextafter(200, math.Inf(1)), Band: model.BandHigh},
		),
		// The system call cards alert strictly above their limits.
		MustScale(ScaleTotalCalls,
			Level{Lower: 0, Band: model.BandNormal},
			Level{Lower: math.Nextafter(60000, math.Inf(1)), Band: model.BandWarning},
		),
		MustScale(ScaleProcessCount,
			Level{Lower: 0, Band: model.BandNormal},
		),
		MustScale(ScaleSuspiciousPatterns,
			Level{Lower: 0, Band: model.BandNormal},
			Level{Lower: math.Nextafter(15, math.Inf(1)), Band: model.BandCritical},
		),
		MustScale(ScalePerformanceImpact,
			Level{Lower: 0, Band: model.BandNormal},
			Level{Lower: math.Nextafter(70, math.Inf(1)), Band: model.BandWarning},
		),
		// Threat level records carry the level's index as their value.
		MustScale(ScaleThreatLevel,
			Level{Lower: 0, Band: model.BandLow},
			Level{Lower: 1, Band: model.BandMedium},
			Level{Lower: 2, Band: model.BandHigh},
			Level{Lower: 3, Band: model.BandCritical},
		),
	}
}

// Binding names the scale used for a view's records, optionally per category.
type Binding struct {
	Default    string            `json:"default" yaml:"default"`
	ByCategory map[string]string `json:"by_category,omitempty" yaml:"by_category,omitempty"`
}

func (b Binding) scaleFor(category string) string {
	if name, ok := b.ByCategory[category]; ok {
		return name
	}
	return b.Default
}

type Registry struct {
	mu     sync.RWMutex
	scales map[string]*Scale
}

func NewRegistry() *Registry {
	r := &Registry{scales: make(map[string]*Scale)}
	for _, s := range presets() {
		r.scales[s.Name()] = s
	}
	return r
}

func (r *Registry) Get(name string) (*Scale, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scales[name]
	return s, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.scales))
	for name := range r.scales {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Set(name string, levels []Level) error {
	s, err := NewScale(name, levels...)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.scales[name] = s
	r.mu.Unlock()
	return nil
}

// Apply replaces the registry contents with the presets plus overrides.
// Overrides are validated as a whole first, so a bad set changes nothing,
// and an override dropped from a later set falls back to its preset.
func (r *Registry) Apply(overrides map[string][]Level) error {
	base := presets()
	next := make(map[string]*Scale, len(overrides)+len(base))
	for _, s := range base {
		next[s.Name()] = s
	}
	for name, levels := range overrides {
		s, err := NewScale(name, levels...)
		if err != nil {
			return err
		}
		next[name] = s
	}
	r.mu.Lock()
	r.scales = next
	r.mu.Unlock()
	return nil
}

func (r *Registry) Validate(b Binding) error {
	names := []string{b.Default}
	for _, name := range b.ByCategory {
		names = append(names, name)
	}
	for _, name := range names {
		if _, ok := r.Get(name); !ok {
			return fmt.Errorf("unknown scale %q: %w", name, model.ErrInvalidParameter)
		}
	}
	return nil
}

func (r *Registry) Annotate(b Binding, records []model.Record) ([]model.Classified, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Classified, 0, len(records))
	for _, rec := range records {
		name := b.scaleFor(rec.Category)
		s, ok := r.scales[name]
		if !ok {
			return nil, fmt.Errorf("unknown scale %q: %w", name, model.ErrInvalidParameter)
		}
		band, rank := s.Classify(rec.Value)
		out = append(out, model.Classified{Record: rec, Band: band, Rank: rank})
	}
	return out, nil
}
