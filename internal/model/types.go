package model

import (
	"maps"
	"time"
)

type Band string

const (
	BandMinimal  Band = "minimal"
	BandWeak     Band = "weak"
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
	BandNormal   Band = "normal"
	BandWarning  Band = "warning"
	BandSuccess  Band = "success"
)

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Record is one time-stamped observation produced by a source. Metadata is
// split by scalar kind so downstream code never type-switches.
type Record struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Category  string             `json:"category"`
	Value     float64            `json:"value"`
	Labels    map[string]string  `json:"labels,omitempty"`
	Measures  map[string]float64 `json:"measures,omitempty"`
	Flags     map[string]bool    `json:"flags,omitempty"`
}

func (r Record) Label(key string) string {
	return r.Labels[key]
}

func (r Record) Measure(key string) (float64, bool) {
	v, ok := r.Measures[key]
	return v, ok
}

func (r Record) Flag(key string) bool {
	return r.Flags[key]
}

func (r Record) Clone() Record {
	out := r
	out.Labels = maps.Clone(r.Labels)
	out.Measures = maps.Clone(r.Measures)
	out.Flags = maps.Clone(r.Flags)
	return out
}

// Classified is a record annotated with the band it fell into. Rank is the
// band's position in the scale that produced it, lowest first.
type Classified struct {
	Record
	Band Band `json:"band"`
	Rank int  `json:"rank"`
}

type Summary struct {
	Count            int                `json:"count"`
	Total            float64            `json:"total"`
	Mean             float64            `json:"mean"`
	Variance         float64            `json:"variance"`
	Min              float64            `json:"min"`
	Max              float64            `json:"max"`
	RatePerMinute    float64            `json:"rate_per_minute"`
	IntervalVariance float64            `json:"interval_variance"`
	Bands            map[Band]int       `json:"bands"`
	Categories       map[string]float64 `json:"categories"`
	Trend            Trend              `json:"trend"`
	TrendPercent     float64            `json:"trend_percent"`
}

// Update is what a view hands to its observers after every
// refresh, classify, filter and sort cycle.
type Update struct {
	ViewID      string       `json:"view_id"`
	Sequence    uint64       `json:"sequence"`
	RefreshedAt time.Time    `json:"refreshed_at"`
	Total       int          `json:"total"`
	Records     []Classified `json:"records"`
	Summary     Summary      `json:"summary"`
}
