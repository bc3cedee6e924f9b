package source

import (
	"math"
	"strings"
	"sync"
	"time"

	"secdash/internal/model"
)

var incidentPhases = map[string][]string{
	"investigating": {"detection", "analysis"},
	"contained":     {"detection", "analysis", "containment"},
	"escalated":     {"detection", "analysis", "escalation"},
	"resolved":      {"detection", "analysis", "containment", "response", "resolution"},
}

type incident struct {
	id       string
	title    string
	severity model.Band
	status   string
	source   string
	assignee string
	assets   float64
	age      time.Duration
}

var incidentCatalog = []incident{
	{"INC-2024-001", "Suspicious Network Traffic from External IP", model.BandCritical, "investigating", "Network IDS", "Sarah Chen", 3, 2 * time.Hour},
	{"INC-2024-002", "Malware Detection on Endpoint", model.BandHigh, "contained", "Endpoint Protection", "Mike Rodriguez", 1, 45 * time.Minute},
	{"INC-2024-003", "Privilege Escalation Attempt", model.BandMedium, "investigating", "Identity Management", "", 1, time.Hour},
	{"INC-2024-004", "Phishing Email Campaign Detected", model.BandHigh, "escalated", "Email Security", "Lisa Wang", 47, 3 * time.Hour},
}

// Incidents emits the timeline of every active incident, one record per
// phase reached so far. Category is the phase.
type Incidents struct{}

func (Incidents) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	incidents := incidentCatalog[:seed.limit(len(incidentCatalog))]
	var out []model.Record
	for _, inc := range incidents {
		detected := seed.Now.Add(-inc.age)
		phases := incidentPhases[inc.status]
		step := inc.age / time.Duration(len(phases)+1)
		for i, phase := range phases {
			out = append(out, model.Record{
				ID:        inc.id + "/" + phase,
				Timestamp: detected.Add(time.Duration(i) * step),
				Category:  phase,
				Value:     severityScore[inc.severity],
				Labels: map[string]string{
					"incident": inc.id,
					"title":    inc.title,
					"severity": string(inc.severity),
					"status":   inc.status,
					"source":   inc.source,
					"assignee": inc.assignee,
				},
				Measures: map[string]float64{
					"evidence_count":  floorN(seed.RNG, 20) + 1,
					"affected_assets": inc.assets,
				},
				Flags: map[string]bool{"assigned": inc.assignee != ""},
			})
		}
	}
	sortByTime(out)
	return out, nil
}

type correlation struct {
	id, source, kind, description string
	strength                      float64
	events                        float64
	span                          time.Duration
	connections                   []string
}

var correlationCatalog = []correlation{
	{"CORR-001", "Network Traffic", "Anomalous Behavior", "Unusual outbound traffic patterns detected", 0.89, 156, 2 * time.Hour, []string{"CORR-002"}},
	{"CORR-002", "Authentication Logs", "Failed Logins", "Multiple failed authentication attempts", 0.76, 89, 90 * time.Minute, []string{"CORR-003"}},
	{"CORR-003", "Endpoint Detection", "Process Injection", "Suspicious process injection activities", 0.92, 23, 45 * time.Minute, nil},
}

// Correlations reports how strongly related signal groups move together.
// Value is the 0-1 strength.
type Correlations struct{}

func (Correlations) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	items := correlationCatalog[:seed.limit(len(correlationCatalog))]
	out := make([]model.Record, 0, len(items))
	for _, c := range items {
		strength := clamp(c.strength+(seed.RNG.Float64()-0.5)*0.1, 0, 1)
		out = append(out, model.Record{
			ID:        c.id,
			Timestamp: seed.Now,
			Category:  c.kind,
			Value:     math.Round(strength*100) / 100,
			Labels: map[string]string{
				"source":      c.source,
				"description": c.description,
				"connections": strings.Join(c.connections, ","),
			},
			Measures: map[string]float64{
				"event_count":  c.events + floorN(seed.RNG, 10),
				"span_minutes": c.span.Minutes(),
			},
		})
	}
	return out, nil
}

type intel struct {
	id, kind, title, source string
	confidence              float64
	age                     time.Duration
	indicators              []string
}

var intelCatalog = []intel{
	{"TI-005", "ioc", "Suspicious Domain Registration Pattern", "DomainTools", 78, 3 * time.Hour, []string{"microsooft.com", "googlle.com", "amazoon.com"}},
	{"TI-004", "botnet", "Emotet Botnet Infrastructure Resurfaces", "Proofpoint", 85, 2 * time.Hour, []string{"emotet-c2.net", "banking-trojan.dll", "203.0.113.67"}},
	{"TI-003", "vulnerability", "Critical Apache Struts RCE Vulnerability Exploited", "CISA", 92, time.Hour, []string{"struts-exploit.jar", "/admin/upload.action", "192.0.2.100"}},
	{"TI-002", "phishing", "Microsoft Office 365 Credential Harvesting Campaign", "Microsoft Threat Intelligence", 88, 32 * time.Minute, []string{"fake-o365-login.com", "credential-harvest.php", "198.51.100.23"}},
	{"TI-001", "malware", "New Ransomware Variant Targeting Healthcare Sector", "CyberThreat Alliance", 95, 15 * time.Minute, []string{"203.0.113.45", "malware.exe", "C2-server.com"}},
}

// IntelFeed lists external threat intelligence, oldest first. Value is the
// provider's confidence.
type IntelFeed struct{}

func (IntelFeed) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(intelCatalog))
	for _, in := range intelCatalog[len(intelCatalog)-seed.limit(len(intelCatalog)):] {
		out = append(out, model.Record{
			ID:        in.id,
			Timestamp: seed.Now.Add(-in.age),
			Category:  in.kind,
			Value:     clamp(in.confidence+floorN(seed.RNG, 5)-2, 0, 100),
			Labels: map[string]string{
				"title":      in.title,
				"source":     in.source,
				"indicators": strings.Join(in.indicators, ","),
			},
			Measures: map[string]float64{"indicator_count": float64(len(in.indicators))},
		})
	}
	return out, nil
}

// ThreatLevels are the indicator's levels; a record's Value is the index.
var ThreatLevels = []model.Band{model.BandLow, model.BandMedium, model.BandHigh, model.BandCritical}

const (
	initialThreatLevel = 2
	threatLevelScore   = 87
)

// ThreatLevel is the page-wide threat indicator. It starts at high and on
// each later call draws a random level, adopted with probability 0.2.
type ThreatLevel struct {
	mu      sync.Mutex
	started bool
	level   int
	trend   string
	since   time.Time
}

func (l *ThreatLevel) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := false
	if !l.started {
		l.started, l.level, l.trend, l.since = true, initialThreatLevel, "up", seed.Now
	} else {
		next := seed.RNG.IntN(len(ThreatLevels))
		if seed.RNG.Float64() > 0.8 && next != l.level {
			l.trend = "down"
			if next > l.level {
				l.trend = "up"
			}
			l.level, l.since, changed = next, seed.Now, true
		}
	}
	return []model.Record{{
		ID:        "threat-level",
		Timestamp: seed.Now,
		Category:  "threat_level",
		Value:     float64(l.level),
		Labels: map[string]string{
			"level": string(ThreatLevels[l.level]),
			"since": l.since.UTC().Format(time.RFC3339),
			"trend": l.trend,
		},
		Measures: map[string]float64{"score": threatLevelScore},
		Flags:    map[string]bool{"changed": changed},
	}}, nil
}

func (l *ThreatLevel) Reset() {
	l.mu.Lock()
	l.started = false
	l.mu.Unlock()
}
