package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secdash/internal/classify"
	"secdash/internal/config"
	"secdash/internal/filter"
	"secdash/internal/metrics"
	"secdash/internal/model"
	"secdash/internal/refresh"
	"secdash/internal/source"
)

var epoch = time.Date(2025, 11, 7, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Refresh.Default = time.Second
	cfg.Refresh.ManualCooldown = 0
	return cfg
}

func scenarioSource(values ...float64) source.Source {
	return source.Func(func(seed source.SeedContext) ([]model.Record, error) {
		out := make([]model.Record, 0, len(values))
		for i, v := range values {
			out = append(out, model.Record{
				ID:        string(rune('a' + i)),
				Timestamp: seed.Now.Add(time.Duration(i) * time.Second),
				Category:  "event",
				Value:     v,
				Labels:    map[string]string{"host": "web-0" + string(rune('1'+i))},
			})
		}
		return out, nil
	})
}

func newViewForTest(t *testing.T, src source.Source, deps Deps) (*View, *refresh.FakeClock) {
	t.Helper()
	clock := refresh.NewFakeClock(epoch)
	deps.Clock = clock
	v, err := NewView(ViewSpec{
		ID:       "test.view",
		Source:   src,
		Binding:  classify.Binding{Default: classify.ScaleRisk},
		Interval: time.Second,
	}, deps)
	require.NoError(t, err)
	t.Cleanup(v.Stop)
	return v, clock
}

type updates struct {
	mu   sync.Mutex
	list []model.Update
}

func (u *updates) add(up model.Update) {
	u.mu.Lock()
	u.list = append(u.list, up)
	u.mu.Unlock()
}

func (u *updates) last() model.Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.list[len(u.list)-1]
}

func (u *updates) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.list)
}

func visibleValues(u model.Update) []float64 {
	out := make([]float64, 0, len(u.Records))
	for _, r := range u.Records {
		out = append(out, r.Value)
	}
	return out
}

func TestViewClassifyFilterSort(t *testing.T) {
	v, _ := newViewForTest(t, scenarioSource(10, 45, 65, 85, 92, 30), Deps{})
	got := &updates{}
	v.OnDataUpdated(got.add)

	require.NoError(t, v.Refresh())
	first := got.last()
	bands := make([]model.Band, 0, 6)
	for _, r := range first.Records {
		bands = append(bands, r.Band)
	}
	assert.Equal(t, []model.Band{
		model.BandLow, model.BandMedium, model.BandHigh, model.BandCritical, model.BandCritical, model.BandLow,
	}, bands)

	require.NoError(t, v.SetCriteria(filter.Criteria{Range: &filter.Range{Min: 60, Max: 100}}))
	assert.Equal(t, []float64{65, 85, 92}, visibleValues(got.last()))

	require.NoError(t, v.SetSort(filter.SortSpec{Key: filter.KeyValue, Direction: filter.Desc}))
	last := got.last()
	assert.Equal(t, []float64{92, 85, 65}, visibleValues(last))
	assert.Equal(t, 6, last.Total)
	assert.Equal(t, uint64(3), last.Sequence)
	assert.Equal(t, 2, last.Summary.Bands[model.BandCritical])
}

func TestCriteriaSurviveScheduledRefresh(t *testing.T) {
	v, clock := newViewForTest(t, scenarioSource(10, 45, 65, 85, 92, 30), Deps{})
	require.NoError(t, v.SetCriteria(filter.Criteria{Bands: []model.Band{model.BandCritical}}))
	require.NoError(t, v.Start())

	clock.Advance(3 * time.Second)
	latest, ok := v.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(4), latest.Sequence)
	assert.Equal(t, []float64{85, 92}, visibleValues(latest))
	assert.Equal(t, 1, v.Criteria().ActiveCount())
}

func TestViewPauseResumeScenario(t *testing.T) {
	var calls atomic.Int64
	src := source.Func(func(seed source.SeedContext) ([]model.Record, error) {
		calls.Add(1)
		return nil, nil
	})
	v, clock := newViewForTest(t, src, Deps{})
	require.NoError(t, v.Start())
	require.Equal(t, int64(1), calls.Load())

	clock.Advance(3500 * time.Millisecond)
	assert.Equal(t, int64(4), calls.Load())

	require.NoError(t, v.Pause())
	clock.Advance(5 * time.Second)
	assert.Equal(t, int64(4), calls.Load())
	assert.Equal(t, refresh.Paused, v.State())

	require.NoError(t, v.Resume())
	clock.Advance(2 * time.Second)
	assert.Equal(t, int64(6), calls.Load())

	v.Stop()
	clock.Advance(time.Minute)
	assert.Equal(t, int64(6), calls.Load())
	assert.Zero(t, clock.Pending())
}

func TestEmptySourceDeliversEmptyUpdate(t *testing.T) {
	v, _ := newViewForTest(t, scenarioSource(), Deps{})
	got := &updates{}
	v.OnDataUpdated(got.add)
	require.NoError(t, v.Refresh())
	require.Equal(t, 1, got.count())
	assert.Empty(t, got.last().Records)
	assert.Equal(t, model.TrendStable, got.last().Summary.Trend)
}

func TestSummaryTrendAcrossRefreshes(t *testing.T) {
	var round atomic.Int64
	src := source.Func(func(seed source.SeedContext) ([]model.Record, error) {
		n := round.Add(1)
		return []model.Record{{ID: "x", Timestamp: seed.Now, Category: "c", Value: float64(n * 10)}}, nil
	})
	v, _ := newViewForTest(t, src, Deps{})
	require.NoError(t, v.Refresh())
	require.NoError(t, v.Refresh())
	latest, _ := v.Latest()
	assert.Equal(t, model.TrendUp, latest.Summary.Trend)
	assert.InDelta(t, 100, latest.Summary.TrendPercent, 1e-9)
}

func TestTickErrorsAreReportedAndTickingContinues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	var calls atomic.Int64
	src := source.Func(func(seed source.SeedContext) ([]model.Record, error) {
		if calls.Add(1) == 2 {
			return nil, errors.New("generator exploded")
		}
		return nil, nil
	})
	v, clock := newViewForTest(t, src, Deps{Metrics: m})
	require.NoError(t, v.Start())

	clock.Advance(3 * time.Second)
	assert.Equal(t, int64(4), calls.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallbackErrors.WithLabelValues("test.view")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Refreshes.WithLabelValues("test.view", "error")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Refreshes.WithLabelValues("test.view", "ok")))
}

func TestRefreshNowIsThrottled(t *testing.T) {
	v, clock := newViewForTest(t, scenarioSource(1), Deps{ManualCooldown: 2 * time.Second})
	require.NoError(t, v.RefreshNow())
	err := v.RefreshNow()
	require.ErrorIs(t, err, ErrCoolingDown)
	assert.Equal(t, 2*time.Second, v.CooldownRemaining())

	clock.Advance(2 * time.Second)
	assert.NoError(t, v.RefreshNow())
}

func TestSetParamsRestoresOnRejection(t *testing.T) {
	v, _ := newViewForTest(t, source.ComponentHeatmap{}, Deps{})
	require.NoError(t, v.SetParams(source.Params{Mode: source.ModeThreats}))

	err := v.SetParams(source.Params{Mode: "bogus"})
	require.ErrorIs(t, err, model.ErrInvalidParameter)
	assert.Equal(t, source.ModeThreats, v.Params().Mode)
}

func TestSetParamsRejectsOversizedCount(t *testing.T) {
	v, clock := newViewForTest(t, source.AuthTimeline{}, Deps{})
	require.NoError(t, v.Start())

	err := v.SetParams(source.Params{Count: 1 << 60})
	require.ErrorIs(t, err, model.ErrInvalidParameter)
	assert.Zero(t, v.Params().Count)
	assert.Empty(t, v.Status().LastError)

	before, _ := v.Latest()
	clock.Advance(time.Second)
	after, _ := v.Latest()
	assert.Equal(t, before.Sequence+1, after.Sequence)
}

func TestSourcePanicBecomesErrorAndParamsRollBack(t *testing.T) {
	src := source.Func(func(seed source.SeedContext) ([]model.Record, error) {
		if seed.Count == 3 {
			panic("boom")
		}
		return nil, nil
	})
	v, clock := newViewForTest(t, src, Deps{})
	require.NoError(t, v.Start())

	err := v.SetParams(source.Params{Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source panic")
	assert.Zero(t, v.Params().Count)

	clock.Advance(time.Second)
	assert.Empty(t, v.Status().LastError)
	assert.Equal(t, refresh.Running, v.State())
}

func TestStartKeepsSchedulingAfterFailedFirstRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	var calls atomic.Int64
	src := source.Func(func(seed source.SeedContext) ([]model.Record, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("not ready")
		}
		return scenarioSource(10).Generate(seed)
	})
	v, clock := newViewForTest(t, src, Deps{Metrics: m})
	require.NoError(t, v.Start())
	assert.Equal(t, refresh.Running, v.State())
	assert.Contains(t, v.Status().LastError, "not ready")
	_, ok := v.Latest()
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallbackErrors.WithLabelValues("test.view")))

	clock.Advance(time.Second)
	latest, ok := v.Latest()
	require.True(t, ok)
	assert.Len(t, latest.Records, 1)
	assert.Empty(t, v.Status().LastError)
}

func TestNewViewRejectsBadSpecs(t *testing.T) {
	deps := Deps{Clock: refresh.NewFakeClock(epoch)}
	_, err := NewView(ViewSpec{ID: "x", Source: scenarioSource(), Binding: classify.Binding{Default: "nope"}}, deps)
	assert.ErrorIs(t, err, model.ErrInvalidParameter)

	_, err = NewView(ViewSpec{ID: "x", Binding: classify.Binding{Default: classify.ScaleRisk}}, deps)
	assert.ErrorIs(t, err, model.ErrInvalidParameter)

	_, err = NewView(ViewSpec{
		ID: "x", Source: scenarioSource(), Binding: classify.Binding{Default: classify.ScaleRisk},
		Sort: filter.SortSpec{Key: "nope"},
	}, deps)
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
}

func TestReclassifyUsesNewThresholds(t *testing.T) {
	scales := classify.NewRegistry()
	v, _ := newViewForTest(t, scenarioSource(50), Deps{Scales: scales})
	require.NoError(t, v.Refresh())
	latest, _ := v.Latest()
	assert.Equal(t, model.BandMedium, latest.Records[0].Band)

	require.NoError(t, scales.Set(classify.ScaleRisk, []classify.Level{
		{Lower: 0, Band: model.BandLow},
		{Lower: 50, Band: model.BandCritical},
	}))
	require.NoError(t, v.Reclassify())
	latest, _ = v.Latest()
	assert.Equal(t, model.BandCritical, latest.Records[0].Band)
	assert.Equal(t, uint64(2), latest.Sequence)
}

func TestPageBookmarks(t *testing.T) {
	clock := refresh.NewFakeClock(epoch)
	cfg := testConfig()
	p, err := NewAuthAnalytics(cfg, Deps{Clock: clock, Seed: 7})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)

	users, ok := p.View("user-access")
	require.True(t, ok)
	assert.Equal(t, "authentication-analytics.user-access", users.ID())

	c := filter.Criteria{Flags: []string{"suspicious"}, Search: "eng"}
	require.NoError(t, users.SetCriteria(c))
	saved, err := p.SaveBookmark("suspicious engineers", "user-access")
	require.NoError(t, err)
	assert.Equal(t, users.ID(), saved.ViewID)

	c.Search = "mutated"
	require.NoError(t, users.ClearCriteria())
	assert.True(t, users.Criteria().IsZero())

	target, err := p.LoadBookmark(saved.ID, "")
	require.NoError(t, err)
	assert.Same(t, users, target)
	assert.Equal(t, "eng", users.Criteria().Search)

	timeline, err := p.LoadBookmark(saved.ID, "auth-timeline")
	require.NoError(t, err)
	assert.Equal(t, []string{"suspicious"}, timeline.Criteria().Flags)

	_, err = p.SaveBookmark("x", "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, p.DeleteBookmark(saved.ID))
	_, err = p.LoadBookmark(saved.ID, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPageIntervalAppliesToEveryView(t *testing.T) {
	clock := refresh.NewFakeClock(epoch)
	p, err := NewSystemCallMonitor(testConfig(), Deps{Clock: clock})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, p.Interval())
	for _, v := range p.Views() {
		assert.Equal(t, 10*time.Second, v.Interval())
	}

	require.NoError(t, p.SetInterval(5*time.Second))
	for _, v := range p.Views() {
		assert.Equal(t, 5*time.Second, v.Interval())
	}
	assert.ErrorIs(t, p.SetInterval(0), model.ErrInvalidParameter)
}

func TestSelectProcess(t *testing.T) {
	clock := refresh.NewFakeClock(epoch)
	p, err := NewSystemCallMonitor(testConfig(), Deps{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)

	require.NoError(t, SelectProcess(p, "nginx"))
	heatmap, _ := p.View("syscall-heatmap")
	latest, ok := heatmap.Latest()
	require.True(t, ok)
	require.NotEmpty(t, latest.Records)
	for _, r := range latest.Records {
		assert.Equal(t, "nginx", r.Label("process"))
	}
	timeline, _ := p.View("syscall-timeline")
	assert.Equal(t, "nginx", timeline.Params().Focus)
	cards, _ := p.View("syscall-metrics")
	assert.Equal(t, "nginx", cards.Params().Focus)
	latest, ok = cards.Latest()
	require.True(t, ok)
	for _, r := range latest.Records {
		if r.Category == source.MetricUniqueProcesses {
			assert.Equal(t, 1.0, r.Value)
		}
	}

	require.NoError(t, SelectProcess(p, ""))
	assert.True(t, heatmap.Criteria().IsZero())
	assert.Empty(t, cards.Params().Focus)

	other, err := NewThreatDetection(testConfig(), Deps{Clock: clock})
	require.NoError(t, err)
	assert.ErrorIs(t, SelectProcess(other, "nginx"), model.ErrInvalidParameter)
}

func TestDashboardLifecycle(t *testing.T) {
	clock := refresh.NewFakeClock(epoch)
	cfg := testConfig()
	cfg.Refresh.Paused = []string{"threat-detection.intel-feed"}
	d, err := NewDashboard(cfg, Deps{Clock: clock})
	require.NoError(t, err)

	require.Len(t, d.Pages(), 4)
	assert.Len(t, d.Statuses(), 14)

	var seen atomic.Int64
	d.Subscribe(func(model.Update) { seen.Add(1) })
	require.NoError(t, d.Start())
	assert.Equal(t, int64(14), seen.Load())

	intel, ok := d.View("threat-detection.intel-feed")
	require.True(t, ok)
	assert.Equal(t, refresh.Paused, intel.State())
	owner, ok := d.PageOf(intel.ID())
	require.True(t, ok)
	assert.Equal(t, PageThreatDetection, owner.ID())

	// Every running view ticks once per second except the system call
	// page and the threat level, which keep their 10s default.
	clock.Advance(time.Second)
	assert.Equal(t, int64(14+8), seen.Load())

	next := testConfig()
	next.Refresh.Views = map[string]time.Duration{"security-overview.kpis": 5 * time.Second}
	next.Scales = map[string][]classify.Level{
		classify.ScaleRisk: {{Lower: 0, Band: model.BandLow}, {Lower: 1, Band: model.BandCritical}},
	}
	require.NoError(t, d.ApplyConfig(next))
	kpis, _ := d.View("security-overview.kpis")
	assert.Equal(t, 5*time.Second, kpis.Interval())
	feed, _ := d.View("security-overview.threat-feed")
	latest, _ := feed.Latest()
	for _, r := range latest.Records {
		assert.Equal(t, model.BandCritical, r.Band)
	}

	level, _ := d.View("threat-detection.threat-level")
	assert.Equal(t, 10*time.Second, level.Interval())
	procs, _ := d.View("system-call-monitor.processes")
	assert.Equal(t, 10*time.Second, procs.Interval())

	d.Stop()
	assert.Zero(t, clock.Pending())
}

func TestApplyConfigDropsRemovedScaleOverrides(t *testing.T) {
	clock := refresh.NewFakeClock(epoch)
	cfg := testConfig()
	cfg.Scales = map[string][]classify.Level{
		classify.ScaleRisk: {{Lower: 0, Band: model.BandLow}, {Lower: 10, Band: model.BandCritical}},
	}
	d, err := NewDashboard(cfg, Deps{Clock: clock})
	require.NoError(t, err)
	risk, _ := d.Scales().Get(classify.ScaleRisk)
	band, _ := risk.Classify(50)
	require.Equal(t, model.BandCritical, band)

	require.NoError(t, d.ApplyConfig(testConfig()))
	risk, _ = d.Scales().Get(classify.ScaleRisk)
	band, _ = risk.Classify(50)
	assert.Equal(t, model.BandMedium, band)
}

func TestThreatLevelView(t *testing.T) {
	clock := refresh.NewFakeClock(epoch)
	p, err := NewThreatDetection(testConfig(), Deps{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)

	level, ok := p.View("threat-level")
	require.True(t, ok)
	latest, ok := level.Latest()
	require.True(t, ok)
	require.Len(t, latest.Records, 1)
	assert.Equal(t, model.BandHigh, latest.Records[0].Band)

	clock.Advance(10 * time.Second)
	latest, _ = level.Latest()
	assert.Equal(t, uint64(2), latest.Sequence)
	r := latest.Records[0]
	assert.Equal(t, r.Label("level"), string(r.Band))
}

func TestResetSourcesRestartsStatefulFeeds(t *testing.T) {
	clock := refresh.NewFakeClock(epoch)
	d, err := NewDashboard(testConfig(), Deps{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)

	for i := 0; i < 30; i++ {
		clock.Advance(time.Second)
	}
	require.NoError(t, d.ResetSources())
	feed, _ := d.View("security-overview.threat-feed")
	latest, _ := feed.Latest()
	assert.Len(t, latest.Records, 8)
}

func TestDashboardRejectsBadScales(t *testing.T) {
	cfg := testConfig()
	cfg.Scales = map[string][]classify.Level{"risk": {{Lower: 10, Band: model.BandLow}, {Lower: 5, Band: model.BandHigh}}}
	_, err := NewDashboard(cfg, Deps{Clock: refresh.NewFakeClock(epoch)})
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
}
