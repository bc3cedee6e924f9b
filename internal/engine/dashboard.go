package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"secdash/internal/classify"
	"secdash/internal/config"
	"secdash/internal/logging"
	"secdash/internal/model"
)

// Dashboard holds every page and fans each view's updates out to the
// subscribers (snapshot cache, history, archive, bus).
type Dashboard struct {
	pages  []*Page
	byID   map[string]*Page
	views  map[string]*View
	owner  map[string]*Page
	scales *classify.Registry
	logger *slog.Logger
	paused []string

	mu          sync.RWMutex
	subscribers []func(model.Update)
}

type pageFactory func(*config.Config, Deps) (*Page, error)

var pageFactories = []pageFactory{
	NewSecurityOverview,
	NewAuthAnalytics,
	NewSystemCallMonitor,
	NewThreatDetection,
}

func NewDashboard(cfg *config.Config, deps Deps) (*Dashboard, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if deps.Scales == nil {
		deps.Scales = classify.NewRegistry()
	}
	if err := deps.Scales.Apply(cfg.Scales); err != nil {
		return nil, fmt.Errorf("scales: %w", err)
	}
	if deps.Seed == 0 {
		deps.Seed = cfg.Source.Seed
	}
	if deps.ManualCooldown == 0 {
		deps.ManualCooldown = cfg.Refresh.ManualCooldown
	}
	d := &Dashboard{
		byID:   make(map[string]*Page),
		views:  make(map[string]*View),
		owner:  make(map[string]*Page),
		scales: deps.Scales,
		logger: logging.OrDiscard(deps.Logger),
		paused: slices.Clone(cfg.Refresh.Paused),
	}
	for _, build := range pageFactories {
		p, err := build(cfg, deps)
		if err != nil {
			return nil, err
		}
		d.pages = append(d.pages, p)
		d.byID[p.ID()] = p
		for _, v := range p.Views() {
			d.views[v.ID()] = v
			d.owner[v.ID()] = p
			v.OnDataUpdated(d.fanOut)
		}
	}
	return d, nil
}

func (d *Dashboard) Pages() []*Page {
	return slices.Clone(d.pages)
}

func (d *Dashboard) Page(id string) (*Page, bool) {
	p, ok := d.byID[id]
	return p, ok
}

func (d *Dashboard) View(id string) (*View, bool) {
	v, ok := d.views[id]
	return v, ok
}

// PageOf returns the page a view belongs to.
func (d *Dashboard) PageOf(viewID string) (*Page, bool) {
	p, ok := d.owner[viewID]
	return p, ok
}

func (d *Dashboard) Scales() *classify.Registry {
	return d.scales
}

// Subscribe registers fn for every update of every view.
func (d *Dashboard) Subscribe(fn func(model.Update)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.subscribers = append(d.subscribers, fn)
	d.mu.Unlock()
}

func (d *Dashboard) fanOut(u model.Update) {
	d.mu.RLock()
	subs := d.subscribers
	d.mu.RUnlock()
	for _, fn := range subs {
		fn(u)
	}
}

// Start starts every page, then pauses the views configured as paused.
func (d *Dashboard) Start() error {
	var errs []error
	for _, p := range d.pages {
		if err := p.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range d.paused {
		v, ok := d.views[id]
		if !ok {
			d.logger.Warn("paused view not found", "view", id)
			continue
		}
		if err := v.Pause(); err != nil {
			errs = append(errs, err)
		}
	}
	d.logger.Info("dashboard started", "pages", len(d.pages), "views", len(d.views))
	return errors.Join(errs...)
}

func (d *Dashboard) Stop() {
	for _, p := range d.pages {
		p.Stop()
	}
}

// ApplyConfig pushes reloadable settings into running views: scale
// thresholds, refresh intervals and the manual cooldown. Scales are
// validated as a whole before any view changes.
func (d *Dashboard) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	if err := d.scales.Apply(cfg.Scales); err != nil {
		return fmt.Errorf("scales: %w", err)
	}
	var errs []error
	for _, p := range d.pages {
		for _, v := range p.Views() {
			v.SetManualCooldown(cfg.Refresh.ManualCooldown)
			if err := v.SetInterval(cfg.Refresh.IntervalFor(v.ID(), v.baseInterval)); err != nil {
				errs = append(errs, err)
			}
			if err := v.Reclassify(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ResetSources restarts every stateful source, such as the threat feed and
// the threat level, from its initial state.
func (d *Dashboard) ResetSources() error {
	var errs []error
	for _, p := range d.pages {
		for _, v := range p.Views() {
			reset, err := v.ResetSource()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if reset {
				d.logger.Info("source reset", "view", v.ID())
			}
		}
	}
	return errors.Join(errs...)
}

// Statuses lists every view in page order.
func (d *Dashboard) Statuses() []Status {
	out := make([]Status, 0, len(d.views))
	for _, p := range d.pages {
		for _, v := range p.Views() {
			out = append(out, v.Status())
		}
	}
	return out
}
