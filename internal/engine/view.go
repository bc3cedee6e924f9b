package engine

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"secdash/internal/aggregate"
	"secdash/internal/classify"
	"secdash/internal/filter"
	"secdash/internal/logging"
	"secdash/internal/metrics"
	"secdash/internal/model"
	"secdash/internal/refresh"
	"secdash/internal/source"
)

const defaultInterval = 30 * time.Second

// ErrCoolingDown is returned by RefreshNow while a manual refresh is
// throttled.
var ErrCoolingDown = errors.New("manual refresh cooling down")

// ViewSpec describes one live panel: where its records come from, how they
// are banded and how they are presented by default.
type ViewSpec struct {
	ID           string
	Title        string
	Source       source.Source
	Binding      classify.Binding
	Params       source.Params
	Criteria     filter.Criteria
	Sort         filter.SortSpec
	SearchFields []string
	Interval     time.Duration
}

// Deps are shared by every view on a dashboard.
type Deps struct {
	Clock          refresh.Clock
	Scales         *classify.Registry
	Logger         *slog.Logger
	Metrics        *metrics.Collectors
	Seed           uint64
	ManualCooldown time.Duration
}

// View owns one source, its refresh session and the criteria the user has
// applied to it. Every cycle regenerates or reuses the raw records, bands
// them, filters and sorts them and hands the result to observers.
type View struct {
	id       string
	title    string
	src      source.Source
	binding  classify.Binding
	scales   *classify.Registry
	filter   filter.Engine
	clock    refresh.Clock
	session  *refresh.Session
	cooldown *refresh.Cooldown
	logger   *slog.Logger
	metrics  *metrics.Collectors

	// cycleMu serializes generate/publish cycles so observers see
	// sequence numbers in order.
	cycleMu sync.Mutex
	rng     source.RNG

	mu             sync.Mutex
	params         source.Params
	criteria       filter.Criteria
	sort           filter.SortSpec
	interval       time.Duration
	baseInterval   time.Duration
	manualCooldown time.Duration
	raw            []model.Record
	generated      bool
	latest         model.Update
	prev           *model.Summary
	seq            uint64
	lastErr        error
	observers      []func(model.Update)
}

func NewView(spec ViewSpec, deps Deps) (*View, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("view id is blank: %w", model.ErrInvalidParameter)
	}
	if spec.Source == nil {
		return nil, fmt.Errorf("view %s has no source: %w", spec.ID, model.ErrInvalidParameter)
	}
	if deps.Scales == nil {
		deps.Scales = classify.NewRegistry()
	}
	if err := deps.Scales.Validate(spec.Binding); err != nil {
		return nil, fmt.Errorf("view %s: %w", spec.ID, err)
	}
	if err := spec.Criteria.Validate(); err != nil {
		return nil, fmt.Errorf("view %s: %w", spec.ID, err)
	}
	if err := spec.Sort.Validate(); err != nil {
		return nil, fmt.Errorf("view %s: %w", spec.ID, err)
	}
	if deps.Clock == nil {
		deps.Clock = refresh.SystemClock{}
	}
	if spec.Interval <= 0 {
		spec.Interval = defaultInterval
	}
	fields := spec.SearchFields
	if len(fields) == 0 {
		fields = filter.DefaultSearchFields
	}
	v := &View{
		id:             spec.ID,
		title:          spec.Title,
		src:            spec.Source,
		binding:        spec.Binding,
		scales:         deps.Scales,
		filter:         filter.Engine{SearchFields: fields, Now: deps.Clock.Now},
		clock:          deps.Clock,
		cooldown:       refresh.NewCooldown(deps.Clock),
		logger:         logging.OrDiscard(deps.Logger).With("view", spec.ID),
		metrics:        deps.Metrics,
		rng:            source.NewRNG(viewSeed(deps.Seed, spec.ID)),
		params:         spec.Params,
		criteria:       spec.Criteria.Clone(),
		sort:           spec.Sort,
		interval:       spec.Interval,
		manualCooldown: deps.ManualCooldown,
	}
	v.session = refresh.NewSession(
		refresh.WithClock(deps.Clock),
		refresh.WithErrorHandler(v.onTickError),
	)
	return v, nil
}

// viewSeed gives every view its own stream while keeping a dashboard
// reproducible from a single seed.
func viewSeed(seed uint64, id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return seed ^ h.Sum64()
}

func (v *View) ID() string    { return v.id }
func (v *View) Title() string { return v.title }

// Start publishes an initial update and then refreshes on the view's
// interval. Starting a running view restarts its schedule. A failed first
// refresh is reported like a failed tick and the schedule still starts.
func (v *View) Start() error {
	if err := v.Refresh(); err != nil {
		v.onTickError(err)
	}
	return v.session.Start(v.Interval(), v.Refresh)
}

func (v *View) Pause() error  { return v.session.Pause() }
func (v *View) Resume() error { return v.session.Resume() }
func (v *View) Stop()         { v.session.Stop() }

func (v *View) State() refresh.State { return v.session.State() }

func (v *View) Interval() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.interval
}

func (v *View) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("refresh interval %v: %w", d, model.ErrInvalidParameter)
	}
	v.mu.Lock()
	v.interval = d
	v.mu.Unlock()
	return v.session.SetInterval(d)
}

func (v *View) SetManualCooldown(d time.Duration) {
	v.mu.Lock()
	v.manualCooldown = d
	v.mu.Unlock()
}

// Refresh regenerates the view's records and publishes a new update.
func (v *View) Refresh() error {
	v.cycleMu.Lock()
	defer v.cycleMu.Unlock()

	started := v.clock.Now()
	v.mu.Lock()
	params := v.params
	v.mu.Unlock()

	records, err := generate(v.src, source.SeedContext{Params: params, Now: started, RNG: v.rng})
	if err == nil {
		v.mu.Lock()
		v.raw = records
		v.generated = true
		v.mu.Unlock()
		err = v.publishLocked(started)
	}
	v.metrics.ObserveRefresh(v.id, v.clock.Now().Sub(started), err)
	if err != nil {
		err = fmt.Errorf("refresh %s: %w", v.id, err)
	}
	v.mu.Lock()
	v.lastErr = err
	v.mu.Unlock()
	return err
}

func generate(src source.Source, seed source.SeedContext) (records []model.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			records, err = nil, fmt.Errorf("source panic: %v", r)
		}
	}()
	return src.Generate(seed)
}

// RefreshNow is the user-triggered refresh. It is throttled per view by
// the manual cooldown.
func (v *View) RefreshNow() error {
	v.mu.Lock()
	cd := v.manualCooldown
	v.mu.Unlock()
	if !v.cooldown.Allow(v.id, cd) {
		return fmt.Errorf("%w: retry in %v", ErrCoolingDown, v.cooldown.Remaining(v.id, cd))
	}
	return v.Refresh()
}

// CooldownRemaining reports how long RefreshNow stays throttled.
func (v *View) CooldownRemaining() time.Duration {
	v.mu.Lock()
	cd := v.manualCooldown
	v.mu.Unlock()
	return v.cooldown.Remaining(v.id, cd)
}

// ResetSource drops the state a live source keeps between refreshes and
// regenerates. It reports false for sources without state.
func (v *View) ResetSource() (bool, error) {
	r, ok := v.src.(source.Resetter)
	if !ok {
		return false, nil
	}
	v.cycleMu.Lock()
	r.Reset()
	v.mu.Lock()
	v.prev = nil
	v.mu.Unlock()
	v.cycleMu.Unlock()
	return true, v.Refresh()
}

// Reclassify re-bands the current records, for example after scale
// thresholds change, without drawing new data.
func (v *View) Reclassify() error {
	return v.republish()
}

func (v *View) Criteria() filter.Criteria {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.criteria.Clone()
}

// SetCriteria replaces the active criteria and republishes the current
// records through them.
func (v *View) SetCriteria(c filter.Criteria) error {
	if err := c.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	v.criteria = c.Clone()
	v.mu.Unlock()
	return v.republish()
}

func (v *View) ClearCriteria() error {
	return v.SetCriteria(filter.Criteria{})
}

func (v *View) Sort() filter.SortSpec {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sort
}

func (v *View) SetSort(spec filter.SortSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	v.sort = spec
	v.mu.Unlock()
	return v.republish()
}

// ToggleSort mirrors a column header click.
func (v *View) ToggleSort(key string) (filter.SortSpec, error) {
	v.mu.Lock()
	next := v.sort.Toggle(key)
	v.mu.Unlock()
	if err := v.SetSort(next); err != nil {
		return filter.SortSpec{}, err
	}
	return next, nil
}

func (v *View) Params() source.Params {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.params
}

// SetParams changes what the source draws, so it regenerates immediately.
// The previous params are restored if the source rejects the new ones.
func (v *View) SetParams(p source.Params) error {
	v.mu.Lock()
	old, oldErr := v.params, v.lastErr
	v.params = p
	v.mu.Unlock()
	if err := v.Refresh(); err != nil {
		v.mu.Lock()
		v.params = old
		v.lastErr = oldErr
		v.mu.Unlock()
		return err
	}
	return nil
}

func (v *View) Latest() (model.Update, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seq == 0 {
		return model.Update{}, false
	}
	return v.latest, true
}

func (v *View) LastRefreshedAt() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest.RefreshedAt
}

// Categories lists the distinct categories of the current raw records.
func (v *View) Categories() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, rec := range v.raw {
		if _, ok := seen[rec.Category]; ok {
			continue
		}
		seen[rec.Category] = struct{}{}
		out = append(out, rec.Category)
	}
	slices.Sort(out)
	return out
}

// OnDataUpdated registers an observer. Observers run on the refresh path
// in sequence order and must not call back into the view's cycle.
func (v *View) OnDataUpdated(fn func(model.Update)) {
	if fn == nil {
		return
	}
	v.mu.Lock()
	v.observers = append(v.observers, fn)
	v.mu.Unlock()
}

func (v *View) republish() error {
	v.cycleMu.Lock()
	defer v.cycleMu.Unlock()
	v.mu.Lock()
	ready := v.generated
	v.mu.Unlock()
	if !ready {
		return nil
	}
	return v.publishLocked(v.clock.Now())
}

// publishLocked runs classify, filter, sort and aggregate over the raw
// records. Caller holds cycleMu.
func (v *View) publishLocked(at time.Time) error {
	v.mu.Lock()
	raw := v.raw
	criteria := v.criteria
	spec := v.sort
	v.mu.Unlock()

	banded, err := v.scales.Annotate(v.binding, raw)
	if err != nil {
		return err
	}
	visible, err := v.filter.Apply(banded, criteria, spec)
	if err != nil {
		return err
	}
	summary := aggregate.Summarize(visible)

	v.mu.Lock()
	if v.prev != nil {
		summary.Trend, summary.TrendPercent = aggregate.Trend(*v.prev, summary)
	} else {
		summary.Trend = model.TrendStable
	}
	v.prev = &summary
	v.seq++
	u := model.Update{
		ViewID:      v.id,
		Sequence:    v.seq,
		RefreshedAt: at,
		Total:       len(banded),
		Records:     visible,
		Summary:     summary,
	}
	v.latest = u
	observers := slices.Clone(v.observers)
	v.mu.Unlock()

	v.metrics.SetVisible(v.id, len(visible), summary.Bands)
	for _, fn := range observers {
		fn(u)
	}
	return nil
}

func (v *View) onTickError(err error) {
	v.logger.Warn("scheduled refresh failed", "err", err)
	v.metrics.CallbackError(v.id)
}

// Status is a point-in-time description of a view for the API.
type Status struct {
	ID          string          `json:"id"`
	Title       string          `json:"title,omitempty"`
	State       refresh.State   `json:"state"`
	IntervalMs  int64           `json:"interval_ms"`
	Sequence    uint64          `json:"sequence"`
	RefreshedAt time.Time       `json:"refreshed_at"`
	Total       int             `json:"total"`
	Visible     int             `json:"visible"`
	Filters     int             `json:"active_filters"`
	Params      source.Params   `json:"params"`
	Sort        filter.SortSpec `json:"sort"`
	LastError   string          `json:"last_error,omitempty"`
}

func (v *View) Status() Status {
	state := v.session.State()
	v.mu.Lock()
	defer v.mu.Unlock()
	var lastErr string
	if v.lastErr != nil {
		lastErr = v.lastErr.Error()
	}
	return Status{
		ID:          v.id,
		Title:       v.title,
		State:       state,
		IntervalMs:  v.interval.Milliseconds(),
		Sequence:    v.seq,
		RefreshedAt: v.latest.RefreshedAt,
		Total:       v.latest.Total,
		Visible:     len(v.latest.Records),
		Filters:     v.criteria.ActiveCount(),
		Params:      v.params,
		Sort:        v.sort,
		LastError:   lastErr,
	}
}
