package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"secdash/internal/model"
)

const (
	CategoryAuthentication = "authentication"
	CategorySystemCall     = "systemCall"
	CategoryThreat         = "threat"
	CategoryAccess         = "access"
)

// EventCategories lists the event chart series in legend order.
var EventCategories = []string{CategoryAuthentication, CategorySystemCall, CategoryThreat, CategoryAccess}

type eventRange struct {
	points int
	step   time.Duration
}

var eventRanges = map[string]eventRange{
	"15m": {points: 15, step: time.Minute},
	"1h":  {points: 60, step: time.Minute},
	"4h":  {points: 48, step: 5 * time.Minute},
	"24h": {points: 24, step: time.Hour},
}

// EventRangeSupported reports whether the event chart can draw a range.
func EventRangeSupported(name string) bool {
	_, ok := eventRanges[name]
	return ok
}

// SecurityEvents emits per-minute counts for the four event series.
type SecurityEvents struct{}

func (SecurityEvents) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	name := seed.TimeRange
	if name == "" {
		name = "1h"
	}
	rng, ok := eventRanges[name]
	if !ok {
		return nil, fmt.Errorf("event chart time range %q: %w", name, model.ErrInvalidParameter)
	}
	points := seed.limit(rng.points)
	out := make([]model.Record, 0, points*len(EventCategories))
	for i := points - 1; i >= 0; i-- {
		ts := seed.Now.Add(-time.Duration(i) * rng.step)
		fi := float64(i)
		values := [...]float64{
			floorN(seed.RNG, 150) + 50 + math.Sin(fi*0.1)*30,
			floorN(seed.RNG, 300) + 200 + math.Cos(fi*0.15)*50,
			floorN(seed.RNG, 20) + 5 + burst(seed.RNG),
			floorN(seed.RNG, 80) + 30 + math.Sin(fi*0.2)*20,
		}
		for c, cat := range EventCategories {
			out = append(out, model.Record{
				ID:        cat + "-" + strconv.FormatInt(ts.UnixMilli(), 10),
				Timestamp: ts,
				Category:  cat,
				Value:     values[c],
				Labels: map[string]string{
					"environment": seed.Environment,
					"time_range":  name,
				},
			})
		}
	}
	return out, nil
}

func burst(rng RNG) float64 {
	if rng.Float64() > 0.8 {
		return 15
	}
	return 0
}

const (
	KPIActiveThreats        = "activeThreats"
	KPIAuthSuccessRate      = "authSuccessRate"
	KPISystemCallsPerMin    = "systemCallsPerMin"
	KPIUnauthorizedAttempts = "unauthorizedAttempts"
)

type kpiShape struct {
	name      string
	value     func(RNG) float64
	upChance  float64
	swing     float64
	sparkBase float64
	sparkSpan float64
}

var kpiShapes = []kpiShape{
	{KPIActiveThreats, func(r RNG) float64 { return floorN(r, 15) + 3 }, 0.4, 10, 5, 20},
	{KPIAuthSuccessRate, func(r RNG) float64 { return round1(r.Float64()*5 + 95) }, 0.7, 3, 90, 10},
	{KPISystemCallsPerMin, func(r RNG) float64 { return floorN(r, 200) + 800 }, 0.6, 20, 700, 300},
	{KPIUnauthorizedAttempts, func(r RNG) float64 { return floorN(r, 50) + 10 }, 0.3, 15, 5, 30},
}

// KPIs emits one record per headline metric card, with a 12 point sparkline.
type KPIs struct{}

func (KPIs) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(kpiShapes))
	for _, k := range kpiShapes {
		value := k.value(seed.RNG)
		trend := model.TrendDown
		if seed.RNG.Float64() < k.upChance {
			trend = model.TrendUp
		}
		pct := round1(seed.RNG.Float64() * k.swing)
		if seed.RNG.Float64() <= 0.5 {
			pct = -pct
		}
		measures := map[string]float64{"trend_percent": pct}
		for i := 0; i < 12; i++ {
			measures["spark_"+strconv.Itoa(i)] = floorN(seed.RNG, k.sparkSpan) + k.sparkBase
		}
		out = append(out, model.Record{
			ID:        k.name,
			Timestamp: seed.Now,
			Category:  k.name,
			Value:     value,
			Labels: map[string]string{
				"trend":       string(trend),
				"environment": seed.Environment,
			},
			Measures: measures,
		})
	}
	return out, nil
}

type catalogThreat struct {
	class       string
	title       string
	description string
	severity    model.Band
	source      string
	systems     []string
	status      string
	age         time.Duration
}

var threatCatalog = []catalogThreat{
	{"auth", "Multiple Failed Authentication Attempts", "15 failed login attempts for admin@company.com from 192.168.1.100 in 5 minutes", model.BandCritical, "Authentication Service", []string{"Web Portal", "VPN Gateway"}, "active", 2 * time.Minute},
	{"syscall", "Suspicious System Call Pattern Detected", "Unusual file system call sequence on prod-web-01 suggesting privilege escalation", model.BandHigh, "System Call Monitor", []string{"Production Web Server"}, "investigating", 5 * time.Minute},
	{"api", "Unauthorized API Access Attempt", "/admin/users accessed without a valid token from an external address", model.BandMedium, "API Gateway", []string{"User Management API"}, "resolved", 8 * time.Minute},
	{"network", "Anomalous Network Traffic Pattern", "Unusual outbound volume from 10.0.1.0/24 to external destinations", model.BandHigh, "Network Monitor", []string{"Internal Network", "Firewall"}, "active", 10 * time.Minute},
	{"integrity", "File Integrity Violation", "/etc/passwd modified outside the maintenance window", model.BandCritical, "File Integrity Monitor", []string{"Database Server"}, "investigating", 12 * time.Minute},
	{"bruteforce", "Brute Force Attack Detected", "SSH brute force from multiple addresses against db-primary-01", model.BandHigh, "Intrusion Detection", []string{"Database Server", "SSH Service"}, "mitigated", 15 * time.Minute},
	{"privesc", "Privilege Escalation Attempt", "service_account ran elevated commands without authorization", model.BandMedium, "Access Control Monitor", []string{"Application Server"}, "resolved", 20 * time.Minute},
	{"malware", "Malware Signature Detected", "Known malware signature in uploaded file document.pdf", model.BandCritical, "Antivirus Scanner", []string{"Web Application", "File Storage"}, "quarantined", 25 * time.Minute},
}

var severityScore = map[model.Band]float64{
	model.BandCritical: 90,
	model.BandHigh:     70,
	model.BandMedium:   50,
	model.BandLow:      20,
}

// ThreatFeed keeps a bounded live feed. The first call seeds it from the
// catalog; later calls add a catalog copy with probability 0.3.
type ThreatFeed struct {
	mu      sync.Mutex
	limit   int
	entries []model.Record
}

const defaultFeedLimit = 20

func NewThreatFeed(limit int) *ThreatFeed {
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	return &ThreatFeed{limit: limit}
}

func (f *ThreatFeed) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		for i := len(threatCatalog) - 1; i >= 0; i-- {
			t := threatCatalog[i]
			f.entries = append(f.entries, threatRecord(t, newID(seed.RNG), seed.Now.Add(-t.age)))
		}
	} else if seed.RNG.Float64() > 0.7 {
		ts := seed.Now
		if last := f.entries[len(f.entries)-1].Timestamp; ts.Before(last) {
			ts = last
		}
		f.entries = append(f.entries, threatRecord(pick(seed.RNG, threatCatalog), newID(seed.RNG), ts))
	}
	if over := len(f.entries) - f.limit; over > 0 {
		f.entries = append([]model.Record(nil), f.entries[over:]...)
	}
	out := make([]model.Record, len(f.entries))
	for i, rec := range f.entries {
		out[i] = rec.Clone()
	}
	return out, nil
}

func (f *ThreatFeed) Reset() {
	f.mu.Lock()
	f.entries = nil
	f.mu.Unlock()
}

func threatRecord(t catalogThreat, id string, ts time.Time) model.Record {
	return model.Record{
		ID:        id,
		Timestamp: ts,
		Category:  t.class,
		Value:     severityScore[t.severity],
		Labels: map[string]string{
			"title":       t.title,
			"description": t.description,
			"severity":    string(t.severity),
			"source":      t.source,
			"status":      t.status,
			"systems":     strings.Join(t.systems, ", "),
		},
		Measures: map[string]float64{"affected_systems": float64(len(t.systems))},
		Flags:    map[string]bool{"active": t.status == "active"},
	}
}

const (
	ModeActivity    = "activity"
	ModeThreats     = "threats"
	ModePerformance = "performance"
)

type component struct {
	id, name, category string
}

var systemComponents = []component{
	{"web-servers", "Web Servers", "Infrastructure"},
	{"database", "Database Cluster", "Infrastructure"},
	{"api-gateway", "API Gateway", "Services"},
	{"auth-service", "Authentication", "Services"},
	{"file-storage", "File Storage", "Storage"},
	{"load-balancer", "Load Balancer", "Network"},
	{"firewall", "Firewall", "Security"},
	{"vpn-gateway", "VPN Gateway", "Network"},
	{"monitoring", "Monitoring", "Operations"},
	{"backup-system", "Backup System", "Storage"},
	{"cdn", "CDN", "Network"},
	{"cache-layer", "Cache Layer", "Performance"},
}

// ComponentHeatmap scores every component over twelve 2h slots of the
// current day. Mode picks what the intensity represents.
type ComponentHeatmap struct{}

func (ComponentHeatmap) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	mode := seed.Mode
	if mode == "" {
		mode = ModeActivity
	}
	var intensity func(c component) float64
	switch mode {
	case ModeActivity:
		intensity = func(component) float64 { return seed.RNG.Float64() * 100 }
	case ModeThreats:
		intensity = func(c component) float64 {
			v := seed.RNG.Float64() * 50
			if c.category == "Security" {
				v += 20
			}
			return v
		}
	case ModePerformance:
		intensity = func(component) float64 { return seed.RNG.Float64()*80 + 20 }
	default:
		return nil, fmt.Errorf("heatmap mode %q: %w", mode, model.ErrInvalidParameter)
	}
	day := startOfDay(seed.Now)
	components := systemComponents[:seed.limit(len(systemComponents))]
	out := make([]model.Record, 0, 12*len(components))
	for slot := 0; slot < 12; slot++ {
		ts := day.Add(time.Duration(slot*2) * time.Hour)
		label := fmt.Sprintf("%02d:00", slot*2)
		for _, c := range components {
			out = append(out, model.Record{
				ID:        c.id + "@" + label,
				Timestamp: ts,
				Category:  c.category,
				Value:     math.Floor(intensity(c)),
				Labels: map[string]string{
					"component":      c.id,
					"component_name": c.name,
					"slot":           label,
					"mode":           mode,
				},
				Measures: map[string]float64{
					"events":        floorN(seed.RNG, 500) + 50,
					"threats":       floorN(seed.RNG, 10),
					"response_time": floorN(seed.RNG, 200) + 50,
				},
			})
		}
	}
	return out, nil
}
