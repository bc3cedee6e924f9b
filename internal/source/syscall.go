package source

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"secdash/internal/model"
)

type process struct {
	name  string
	class string
}

var processTable = []process{
	{"kernel", "kernel"}, {"systemd", "system"}, {"chrome", "user"}, {"firefox", "user"},
	{"vscode", "user"}, {"docker", "system"}, {"nginx", "network"}, {"mysql", "database"},
	{"node", "user"}, {"python", "user"}, {"ssh", "network"}, {"apache", "network"},
	{"postgres", "database"}, {"redis", "database"}, {"mongodb", "database"}, {"java", "user"},
	{"bash", "system"}, {"zsh", "system"}, {"vim", "user"}, {"git", "user"},
	{"npm", "user"}, {"yarn", "user"}, {"webpack", "user"}, {"electron", "user"},
}

// ProcessNames returns the monitored process names in table order.
func ProcessNames() []string {
	out := make([]string, len(processTable))
	for i, p := range processTable {
		out[i] = p.name
	}
	return out
}

// processRisk places a process on the 0-100 risk axis: anomalous processes
// land in the high band, busy ones (cpu above 70) in medium, the rest low.
func processRisk(cpu float64, anomalous bool) float64 {
	switch {
	case anomalous:
		return 60 + cpu*0.19
	case cpu > 70:
		return 40 + (cpu-70)*0.66
	default:
		return cpu * 0.57
	}
}

// Processes lists monitored processes with their call volume and risk.
// Category is the process class; Value is the risk score.
type Processes struct{}

func (Processes) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	procs := processTable[:seed.limit(len(processTable))]
	out := make([]model.Record, 0, len(procs))
	for i, p := range procs {
		baseCalls := floorN(seed.RNG, 10000) + 100
		anomalous := seed.RNG.Float64() > 0.85
		cpu := round1(seed.RNG.Float64() * 100)
		mem := round1(seed.RNG.Float64() * 100)
		calls := baseCalls + floorN(seed.RNG, 1000)
		perSecond := floorN(seed.RNG, 50) + 1
		running := seed.RNG.Float64() > 0.1
		uptime := time.Duration(seed.RNG.Float64() * float64(24*time.Hour))
		idle := time.Duration(seed.RNG.Float64() * float64(time.Hour))
		status := "sleeping"
		if running {
			status = "running"
		}
		out = append(out, model.Record{
			ID:        "proc-" + strconv.Itoa(1000+i),
			Timestamp: seed.Now.Add(-idle),
			Category:  p.class,
			Value:     processRisk(cpu, anomalous),
			Labels: map[string]string{
				"name":        p.name,
				"status":      status,
				"environment": seed.Environment,
			},
			Measures: map[string]float64{
				"pid":              float64(1000 + i),
				"call_count":       calls,
				"calls_per_second": perSecond,
				"cpu":              cpu,
				"memory":           mem,
				"uptime_seconds":   math.Floor(uptime.Seconds()),
			},
			Flags: map[string]bool{
				"anomalous": anomalous,
				"running":   running,
			},
		})
	}
	sortByTime(out)
	return out, nil
}

var heatmapProcesses = []string{
	"kernel", "systemd", "chrome", "firefox", "vscode", "docker", "nginx", "mysql",
	"node", "python", "ssh", "apache", "postgres", "redis", "mongodb", "java",
}

var callTypes = []string{
	"read", "write", "open", "close", "fork", "exec", "mmap", "socket",
	"connect", "bind", "listen", "accept", "sendto", "recvfrom", "ioctl", "fcntl",
}

func processWeight(name string, fallback float64) float64 {
	switch name {
	case "kernel":
		return 2
	case "chrome":
		return 1.5
	default:
		return fallback
	}
}

// SyscallHeatmap scores call type usage per process for each hour of the
// current day, shaped by a diurnal curve.
type SyscallHeatmap struct{}

func (SyscallHeatmap) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	day := startOfDay(seed.Now)
	procs := heatmapProcesses[:seed.limit(len(heatmapProcesses))]
	out := make([]model.Record, 0, 24*len(procs)*len(callTypes))
	for hour := 0; hour < 24; hour++ {
		ts := day.Add(time.Duration(hour) * time.Hour)
		diurnal := math.Sin(float64(hour)/24*math.Pi*2)*0.3 + 0.7
		for _, proc := range procs {
			for _, call := range callTypes {
				base := seed.RNG.Float64() * 100
				intensity := math.Round(math.Max(0, base*diurnal*processWeight(proc, 1)))
				anomalous := seed.RNG.Float64() > 0.95
				out = append(out, model.Record{
					ID:        fmt.Sprintf("%s:%s:%02d", proc, call, hour),
					Timestamp: ts,
					Category:  call,
					Value:     intensity,
					Labels: map[string]string{
						"process":   proc,
						"call_type": call,
					},
					Measures: map[string]float64{
						"call_count": intensity * 10,
						"hour":       float64(hour),
					},
					Flags: map[string]bool{"anomalous": anomalous},
				})
			}
		}
	}
	return out, nil
}

const timelinePoints = 289

// SyscallTimeline covers the last 24h in 5 minute buckets. Focus narrows
// the volume to one process; about one bucket in twenty is an anomaly spike.
type SyscallTimeline struct{}

func (SyscallTimeline) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	weight := 1.0
	if seed.Focus != "" {
		weight = processWeight(seed.Focus, 0.8)
	}
	points := seed.limit(timelinePoints)
	out := make([]model.Record, 0, points)
	for i := points - 1; i >= 0; i-- {
		ts := seed.Now.Add(-time.Duration(i) * 5 * time.Minute)
		base := math.Sin(float64(ts.Hour())/24*math.Pi*2)*30 + 70
		noise := (seed.RNG.Float64() - 0.5) * 20
		calls := math.Max(0, base+noise) * weight
		anomalous := seed.RNG.Float64() > 0.95
		if anomalous {
			calls *= 2 + seed.RNG.Float64()*3
		}
		cpu := clamp(20+calls/5+(seed.RNG.Float64()-0.5)*10, 0, 100)
		mem := clamp(30+calls/8+(seed.RNG.Float64()-0.5)*15, 0, 100)
		labels := map[string]string{"focus": seed.Focus}
		if anomalous {
			labels["severity"] = string(model.BandMedium)
			if calls > 200 {
				labels["severity"] = string(model.BandHigh)
			}
		}
		out = append(out, model.Record{
			ID:        "calls-" + strconv.FormatInt(ts.UnixMilli(), 10),
			Timestamp: ts,
			Category:  "total",
			Value:     math.Round(calls),
			Labels:    labels,
			Measures: map[string]float64{
				"read":    math.Round(calls * 0.4),
				"write":   math.Round(calls * 0.3),
				"network": math.Round(calls * 0.2),
				"system":  math.Round(calls * 0.1),
				"cpu":     cpu,
				"memory":  mem,
			},
			Flags: map[string]bool{"anomalous": anomalous},
		})
	}
	return out, nil
}

const (
	MetricTotalCalls         = "total_calls"
	MetricUniqueProcesses    = "unique_processes"
	MetricSuspiciousPatterns = "suspicious_patterns"
	MetricPerformanceImpact  = "performance_impact"
)

// SyscallMetricNames lists the system call summary cards in display order.
var SyscallMetricNames = []string{MetricTotalCalls, MetricUniqueProcesses, MetricSuspiciousPatterns, MetricPerformanceImpact}

var metricAlerts = map[string]struct {
	limit   float64
	kind    string
	message string
}{
	MetricTotalCalls:         {60000, "warning", "High system call volume detected"},
	MetricSuspiciousPatterns: {15, "error", "Multiple suspicious patterns identified"},
	MetricPerformanceImpact:  {70, "warning", "Performance impact threshold exceeded"},
}

// SyscallMetrics emits the four summary cards of the system call monitor.
// A focused process scales volumes down to 0.3. Each record carries its
// percent change against the previous call as the change_pct measure.
type SyscallMetrics struct {
	mu   sync.Mutex
	prev map[string]float64
}

func (m *SyscallMetrics) Generate(seed SeedContext) ([]model.Record, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	mult, unique := 1.0, math.Floor(15+seed.RNG.Float64()*10)
	if seed.Focus != "" {
		mult, unique = 0.3, 1
	}
	values := map[string]float64{
		MetricTotalCalls:         math.Floor((50000 + seed.RNG.Float64()*20000) * mult),
		MetricUniqueProcesses:    unique,
		MetricSuspiciousPatterns: math.Floor((5 + seed.RNG.Float64()*15) * mult),
		MetricPerformanceImpact:  round1(20 + seed.RNG.Float64()*60),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	names := SyscallMetricNames[:seed.limit(len(SyscallMetricNames))]
	out := make([]model.Record, 0, len(names))
	for _, name := range names {
		v := values[name]
		labels := map[string]string{"focus": seed.Focus}
		alert := false
		if a, ok := metricAlerts[name]; ok && v > a.limit {
			alert = true
			labels["alert_type"] = a.kind
			labels["alert"] = a.message
		}
		out = append(out, model.Record{
			ID:        "metric-" + name,
			Timestamp: seed.Now,
			Category:  name,
			Value:     v,
			Labels:    labels,
			Measures:  map[string]float64{"change_pct": percentChange(v, m.prev[name])},
			Flags:     map[string]bool{"alert": alert},
		})
	}
	m.prev = values
	return out, nil
}

func (m *SyscallMetrics) Reset() {
	m.mu.Lock()
	m.prev = nil
	m.mu.Unlock()
}

func percentChange(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}
