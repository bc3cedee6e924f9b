package aggregate

import (
	"math"
	"slices"
	"time"

	"secdash/internal/model"
)

// Accumulator folds classified records into a model.Summary. Mean and
// variance use Welford's update so a single pass is enough.
type Accumulator struct {
	count      int
	total      float64
	mean       float64
	m2         float64
	min        float64
	max        float64
	stamps     []time.Time
	bands      map[model.Band]int
	categories map[string]float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		stamps:     make([]time.Time, 0, 128),
		bands:      make(map[model.Band]int),
		categories: make(map[string]float64),
	}
}

func (a *Accumulator) Add(rec model.Classified) {
	v := rec.Value
	a.bands[rec.Band]++
	a.stamps = append(a.stamps, rec.Timestamp)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	a.count++
	a.total += v
	a.categories[rec.Category] += v
	diff := v - a.mean
	a.mean += diff / float64(a.count)
	a.m2 += diff * (v - a.mean)
	if a.count == 1 || v < a.min {
		a.min = v
	}
	if a.count == 1 || v > a.max {
		a.max = v
	}
}

func (a *Accumulator) Summary() model.Summary {
	s := model.Summary{
		Count:      len(a.stamps),
		Total:      a.total,
		Mean:       a.mean,
		Min:        a.min,
		Max:        a.max,
		Bands:      make(map[model.Band]int, len(a.bands)),
		Categories: make(map[string]float64, len(a.categories)),
		Trend:      model.TrendStable,
	}
	if a.count > 0 {
		s.Variance = a.m2 / float64(a.count)
	}
	for b, n := range a.bands {
		s.Bands[b] = n
	}
	for c, v := range a.categories {
		s.Categories[c] = v
	}
	stamps := slices.Clone(a.stamps)
	slices.SortFunc(stamps, func(x, y time.Time) int { return x.Compare(y) })
	if n := len(stamps); n > 1 {
		if span := stamps[n-1].Sub(stamps[0]).Minutes(); span > 0 {
			s.RatePerMinute = float64(n) / span
		}
	}
	s.IntervalVariance = varianceDelta(stamps)
	return s
}

func Summarize(records []model.Classified) model.Summary {
	acc := NewAccumulator()
	for _, rec := range records {
		acc.Add(rec)
	}
	return acc.Summary()
}

// varianceDelta is the population variance, in seconds, of the gaps
// between consecutive sorted timestamps.
func varianceDelta(stamps []time.Time) float64 {
	if len(stamps) <= 1 {
		return 0
	}
	var n int
	var mean float64
	var m2 float64
	prev := stamps[0]
	for _, ts := range stamps[1:] {
		delta := ts.Sub(prev).Seconds()
		n++
		diff := delta - mean
		mean += diff / float64(n)
		m2 += diff * (delta - mean)
		prev = ts
	}
	return m2 / float64(n)
}

const stableBand = 0.5

// Trend compares two consecutive summaries by total. Moves under half a
// percent count as stable.
func Trend(prev, cur model.Summary) (model.Trend, float64) {
	if prev.Count == 0 {
		return model.TrendStable, 0
	}
	if prev.Total == 0 {
		switch {
		case cur.Total > 0:
			return model.TrendUp, 100
		case cur.Total < 0:
			return model.TrendDown, -100
		}
		return model.TrendStable, 0
	}
	pct := (cur.Total - prev.Total) / math.Abs(prev.Total) * 100
	switch {
	case pct >= stableBand:
		return model.TrendUp, pct
	case pct <= -stableBand:
		return model.TrendDown, pct
	}
	return model.TrendStable, pct
}
