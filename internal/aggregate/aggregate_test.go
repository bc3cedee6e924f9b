package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"secdash/internal/model"
)

var t0 = time.Date(2025, 11, 7, 10, 0, 0, 0, time.UTC)

func rec(id string, offset time.Duration, cat string, v float64, band model.Band) model.Classified {
	return model.Classified{
		Record: model.Record{ID: id, Timestamp: t0.Add(offset), Category: cat, Value: v},
		Band:   band,
	}
}

func TestSummarize(t *testing.T) {
	records := []model.Classified{
		rec("a", 2*time.Minute, "auth", 2, model.BandLow),
		rec("b", 0, "auth", 4, model.BandLow),
		rec("c", 4*time.Minute, "threat", 6, model.BandHigh),
		rec("d", 6*time.Minute, "threat", 8, model.BandCritical),
	}
	s := Summarize(records)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 20.0, s.Total)
	assert.Equal(t, 5.0, s.Mean)
	assert.InDelta(t, 5.0, s.Variance, 1e-9)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 8.0, s.Max)
	assert.Equal(t, map[model.Band]int{model.BandLow: 2, model.BandHigh: 1, model.BandCritical: 1}, s.Bands)
	assert.Equal(t, map[string]float64{"auth": 6, "threat": 14}, s.Categories)
	assert.InDelta(t, 4.0/6.0, s.RatePerMinute, 1e-9)
	assert.Zero(t, s.IntervalVariance, "gaps are uniform once sorted")
}

func TestSummarizeEmptyAndNonFinite(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Count)
	assert.Equal(t, model.TrendStable, s.Trend)
	assert.NotNil(t, s.Bands)

	s = Summarize([]model.Classified{
		rec("a", 0, "x", math.NaN(), model.BandLow),
		rec("b", time.Minute, "x", 3, model.BandLow),
	})
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 3.0, s.Total)
	assert.Equal(t, 3.0, s.Min)
}

func TestIntervalVariance(t *testing.T) {
	stamps := []time.Time{t0, t0.Add(10 * time.Second), t0.Add(30 * time.Second)}
	assert.InDelta(t, 25.0, varianceDelta(stamps), 1e-9)
	assert.Zero(t, varianceDelta(stamps[:1]))
}

func TestTrend(t *testing.T) {
	prev := model.Summary{Count: 3, Total: 200}
	trend, pct := Trend(prev, model.Summary{Total: 220})
	assert.Equal(t, model.TrendUp, trend)
	assert.InDelta(t, 10, pct, 1e-9)

	trend, _ = Trend(prev, model.Summary{Total: 150})
	assert.Equal(t, model.TrendDown, trend)

	trend, _ = Trend(prev, model.Summary{Total: 200.5})
	assert.Equal(t, model.TrendStable, trend)

	trend, pct = Trend(model.Summary{}, model.Summary{Total: 10})
	assert.Equal(t, model.TrendStable, trend)
	assert.Zero(t, pct)

	trend, _ = Trend(model.Summary{Count: 1}, model.Summary{Total: 4})
	assert.Equal(t, model.TrendUp, trend)
}
