package engine

import (
	"fmt"
	"time"

	"secdash/internal/bookmark"
	"secdash/internal/classify"
	"secdash/internal/config"
	"secdash/internal/filter"
	"secdash/internal/model"
	"secdash/internal/source"
)

const (
	PageSecurityOverview = "security-overview"
	PageAuthAnalytics    = "authentication-analytics"
	PageSystemCalls      = "system-call-monitor"
	PageThreatDetection  = "threat-detection"

	systemCallInterval  = 10 * time.Second
	threatLevelInterval = 10 * time.Second
)

type pageBuilder struct {
	cfg     *config.Config
	deps    Deps
	page    string
	pageDef time.Duration
	views   []*View
	err     error
}

func newPageBuilder(cfg *config.Config, deps Deps, page string, pageDefault time.Duration) *pageBuilder {
	return &pageBuilder{cfg: cfg, deps: deps, page: page, pageDef: pageDefault}
}

func (b *pageBuilder) add(spec ViewSpec) {
	if b.err != nil {
		return
	}
	spec.ID = b.page + "." + spec.ID
	// A view's own interval beats the page default; config beats both.
	base := b.pageDef
	if spec.Interval > 0 {
		base = spec.Interval
	}
	spec.Interval = b.cfg.Refresh.IntervalFor(spec.ID, base)
	if spec.Params.Environment == "" {
		spec.Params.Environment = b.cfg.Source.Environment
	}
	v, err := NewView(spec, b.deps)
	if err != nil {
		b.err = err
		return
	}
	v.baseInterval = base
	b.views = append(b.views, v)
}

func (b *pageBuilder) build(title string) (*Page, error) {
	if b.err != nil {
		return nil, b.err
	}
	opts := []bookmark.Option{}
	if b.deps.Clock != nil {
		opts = append(opts, bookmark.WithClock(b.deps.Clock.Now))
	}
	if b.cfg.Bookmarks.RejectDuplicates {
		opts = append(opts, bookmark.WithPolicy(bookmark.RejectDuplicates))
	}
	interval := b.pageDef
	if interval <= 0 {
		interval = b.cfg.Refresh.Default
	}
	return NewPage(b.page, title, interval, bookmark.NewStore(opts...), b.views...)
}

func NewSecurityOverview(cfg *config.Config, deps Deps) (*Page, error) {
	b := newPageBuilder(cfg, deps, PageSecurityOverview, 0)
	b.add(ViewSpec{
		ID:     "kpis",
		Title:  "Key indicators",
		Source: source.KPIs{},
		Binding: classify.Binding{
			Default: classify.ScaleRisk,
			ByCategory: map[string]string{
				source.KPIActiveThreats:        classify.ScaleActiveThreats,
				source.KPIAuthSuccessRate:      classify.ScaleAuthSuccessRate,
				source.KPISystemCallsPerMin:    classify.ScaleSystemCallsPerMinute,
				source.KPIUnauthorizedAttempts: classify.ScaleUnauthorizedAttempts,
			},
		},
	})
	b.add(ViewSpec{
		ID:      "events",
		Title:   "Security events",
		Source:  source.SecurityEvents{},
		Binding: classify.Binding{Default: classify.ScaleIntensity},
		Params:  source.Params{TimeRange: cfg.Source.TimeRange},
	})
	b.add(ViewSpec{
		ID:      "threat-feed",
		Title:   "Live threat feed",
		Source:  source.NewThreatFeed(cfg.Source.FeedLimit),
		Binding: classify.Binding{Default: classify.ScaleRisk},
		Sort:    filter.SortSpec{Key: filter.KeyTimestamp, Direction: filter.Desc},
		SearchFields: []string{
			filter.LabelKey("title"), filter.LabelKey("description"), filter.LabelKey("source"), filter.KeyCategory,
		},
	})
	b.add(ViewSpec{
		ID:      "component-heatmap",
		Title:   "System component heatmap",
		Source:  source.ComponentHeatmap{},
		Binding: classify.Binding{Default: classify.ScaleIntensity},
		Params:  source.Params{Mode: source.ModeActivity},
	})
	return b.build("Security overview")
}

func NewAuthAnalytics(cfg *config.Config, deps Deps) (*Page, error) {
	b := newPageBuilder(cfg, deps, PageAuthAnalytics, 0)
	b.add(ViewSpec{
		ID:      "user-access",
		Title:   "User access",
		Source:  source.UserAccess{},
		Binding: classify.Binding{Default: classify.ScaleRisk},
		Sort:    filter.SortSpec{Key: filter.KeyValue, Direction: filter.Desc},
		SearchFields: []string{
			filter.LabelKey("username"), filter.LabelKey("department"), filter.LabelKey("location"),
		},
	})
	b.add(ViewSpec{
		ID:      "auth-timeline",
		Title:   "Authentication timeline",
		Source:  source.AuthTimeline{},
		Binding: classify.Binding{Default: classify.ScaleRisk},
		Sort:    filter.SortSpec{Key: filter.KeyTimestamp, Direction: filter.Desc},
	})
	return b.build("Authentication analytics")
}

func NewSystemCallMonitor(cfg *config.Config, deps Deps) (*Page, error) {
	b := newPageBuilder(cfg, deps, PageSystemCalls, systemCallInterval)
	b.add(ViewSpec{
		ID:      "processes",
		Title:   "Process monitor",
		Source:  source.Processes{},
		Binding: classify.Binding{Default: classify.ScaleRisk},
		Sort:    filter.SortSpec{Key: filter.MeasureKey("cpu"), Direction: filter.Desc},
		SearchFields: []string{
			filter.LabelKey("name"), filter.KeyCategory, filter.KeyID,
		},
	})
	heatmap := ViewSpec{
		ID:      "syscall-heatmap",
		Title:   "System call heatmap",
		Source:  source.SyscallHeatmap{},
		Binding: classify.Binding{Default: classify.ScaleIntensity},
	}
	timeline := ViewSpec{
		ID:      "syscall-timeline",
		Title:   "System call timeline",
		Source:  source.SyscallTimeline{},
		Binding: classify.Binding{Default: classify.ScaleCallRate},
	}
	cards := ViewSpec{
		ID:     "syscall-metrics",
		Title:  "System call metrics",
		Source: &source.SyscallMetrics{},
		Binding: classify.Binding{
			Default: classify.ScaleProcessCount,
			ByCategory: map[string]string{
				source.MetricTotalCalls:         classify.ScaleTotalCalls,
				source.MetricSuspiciousPatterns: classify.ScaleSuspiciousPatterns,
				source.MetricPerformanceImpact:  classify.ScalePerformanceImpact,
			},
		},
	}
	if p := cfg.Source.Process; p != "" {
		heatmap.Criteria = processCriteria(p)
		timeline.Params.Focus = p
		cards.Params.Focus = p
	}
	b.add(heatmap)
	b.add(timeline)
	b.add(cards)
	return b.build("System call monitor")
}

func NewThreatDetection(cfg *config.Config, deps Deps) (*Page, error) {
	b := newPageBuilder(cfg, deps, PageThreatDetection, 0)
	b.add(ViewSpec{
		ID:       "threat-level",
		Title:    "Threat level",
		Source:   &source.ThreatLevel{},
		Binding:  classify.Binding{Default: classify.ScaleThreatLevel},
		Interval: threatLevelInterval,
	})
	b.add(ViewSpec{
		ID:      "incidents",
		Title:   "Incident response",
		Source:  source.Incidents{},
		Binding: classify.Binding{Default: classify.ScaleRisk},
		Sort:    filter.SortSpec{Key: filter.KeyTimestamp, Direction: filter.Desc},
	})
	b.add(ViewSpec{
		ID:      "correlations",
		Title:   "Threat correlations",
		Source:  source.Correlations{},
		Binding: classify.Binding{Default: classify.ScaleCorrelation},
		Sort:    filter.SortSpec{Key: filter.KeyValue, Direction: filter.Desc},
	})
	b.add(ViewSpec{
		ID:      "intel-feed",
		Title:   "Threat intelligence",
		Source:  source.IntelFeed{},
		Binding: classify.Binding{Default: classify.ScaleConfidence},
		Sort:    filter.SortSpec{Key: filter.KeyTimestamp, Direction: filter.Desc},
	})
	return b.build("Threat detection")
}

func processCriteria(name string) filter.Criteria {
	if name == "" {
		return filter.Criteria{}
	}
	return filter.Criteria{Labels: map[string]string{"process": name}}
}

// SelectProcess narrows the system call heatmap to one process and focuses
// the timeline and metric cards on it. An empty name clears the selection.
func SelectProcess(p *Page, name string) error {
	if p == nil || p.ID() != PageSystemCalls {
		return fmt.Errorf("process selection needs the %s page: %w", PageSystemCalls, model.ErrInvalidParameter)
	}
	heatmap, _ := p.View("syscall-heatmap")
	timeline, _ := p.View("syscall-timeline")
	cards, _ := p.View("syscall-metrics")

	c := heatmap.Criteria()
	if name == "" {
		delete(c.Labels, "process")
	} else {
		if c.Labels == nil {
			c.Labels = make(map[string]string)
		}
		c.Labels["process"] = name
	}
	if err := heatmap.SetCriteria(c); err != nil {
		return err
	}
	for _, v := range []*View{timeline, cards} {
		params := v.Params()
		params.Focus = name
		if err := v.SetParams(params); err != nil {
			return err
		}
	}
	return nil
}
