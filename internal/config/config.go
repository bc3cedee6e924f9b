package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"secdash/internal/classify"
	"secdash/internal/source"
)

type Config struct {
	LogLevel  string                      `json:"log_level" yaml:"log_level"`
	Source    SourceConfig                `json:"source" yaml:"source"`
	Refresh   RefreshConfig               `json:"refresh" yaml:"refresh"`
	Scales    map[string][]classify.Level `json:"scales" yaml:"scales"`
	Bookmarks BookmarksConfig             `json:"bookmarks" yaml:"bookmarks"`
	History   HistoryConfig               `json:"history" yaml:"history"`
	Snapshots SnapshotsConfig             `json:"snapshots" yaml:"snapshots"`
	API       APIConfig                   `json:"api" yaml:"api"`
	Storage   StorageConfig               `json:"storage" yaml:"storage"`
	Publish   PublishConfig               `json:"publish" yaml:"publish"`
}

type SourceConfig struct {
	Seed        uint64 `json:"seed" yaml:"seed"`
	TimeRange   string `json:"time_range" yaml:"time_range"`
	Environment string `json:"environment" yaml:"environment"`
	Process     string `json:"process" yaml:"process"`
	FeedLimit   int    `json:"feed_limit" yaml:"feed_limit"`
}

type RefreshConfig struct {
	Default        time.Duration            `json:"default" yaml:"default"`
	Views          map[string]time.Duration `json:"views" yaml:"views"`
	Paused         []string                 `json:"paused" yaml:"paused"`
	ManualCooldown time.Duration            `json:"manual_cooldown" yaml:"manual_cooldown"`
}

// IntervalFor returns the configured interval for a view, falling back to
// the page's own default and then the global default.
func (r RefreshConfig) IntervalFor(viewID string, pageDefault time.Duration) time.Duration {
	if d, ok := r.Views[viewID]; ok && d > 0 {
		return d
	}
	if pageDefault > 0 {
		return pageDefault
	}
	return r.Default
}

// jsonDuration lets duration fields read "30s" style text from JSON as they
// do from YAML. Bare JSON numbers are nanoseconds.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = jsonDuration(time.Duration(x))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		*d = jsonDuration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

func (d jsonDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type refreshJSON struct {
	Default        jsonDuration            `json:"default"`
	Views          map[string]jsonDuration `json:"views,omitempty"`
	Paused         []string                `json:"paused,omitempty"`
	ManualCooldown jsonDuration            `json:"manual_cooldown"`
}

func (r *RefreshConfig) UnmarshalJSON(data []byte) error {
	aux := refreshJSON{
		Default:        jsonDuration(r.Default),
		Paused:         r.Paused,
		ManualCooldown: jsonDuration(r.ManualCooldown),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Default = time.Duration(aux.Default)
	r.ManualCooldown = time.Duration(aux.ManualCooldown)
	r.Paused = aux.Paused
	if aux.Views != nil {
		r.Views = make(map[string]time.Duration, len(aux.Views))
		for id, d := range aux.Views {
			r.Views[id] = time.Duration(d)
		}
	}
	return nil
}

func (r RefreshConfig) MarshalJSON() ([]byte, error) {
	aux := refreshJSON{
		Default:        jsonDuration(r.Default),
		Paused:         r.Paused,
		ManualCooldown: jsonDuration(r.ManualCooldown),
	}
	if r.Views != nil {
		aux.Views = make(map[string]jsonDuration, len(r.Views))
		for id, d := range r.Views {
			aux.Views[id] = jsonDuration(d)
		}
	}
	return json.Marshal(aux)
}

type BookmarksConfig struct {
	RejectDuplicates bool `json:"reject_duplicates" yaml:"reject_duplicates"`
}

type HistoryConfig struct {
	Limit int `json:"limit" yaml:"limit"`
}

type SnapshotsConfig struct {
	Limit int `json:"limit" yaml:"limit"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type PublishConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Driver       string        `json:"driver" yaml:"driver"`
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	URL          string        `json:"url" yaml:"url"`
	Subject      string        `json:"subject" yaml:"subject"`
	DedupeWindow time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	Buffer       int           `json:"buffer" yaml:"buffer"`
	Retries      int           `json:"retries" yaml:"retries"`
}

// publishConfig drops PublishConfig's methods so the JSON codec below can
// reuse its field tags.
type publishConfig PublishConfig

type publishJSON struct {
	*publishConfig
	DedupeWindow jsonDuration `json:"dedupe_window"`
}

func (p *PublishConfig) UnmarshalJSON(data []byte) error {
	aux := publishJSON{publishConfig: (*publishConfig)(p), DedupeWindow: jsonDuration(p.DedupeWindow)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.DedupeWindow = time.Duration(aux.DedupeWindow)
	return nil
}

func (p PublishConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(publishJSON{publishConfig: (*publishConfig)(&p), DedupeWindow: jsonDuration(p.DedupeWindow)})
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Source:   SourceConfig{Seed: 1, TimeRange: "1h", Environment: "production", FeedLimit: 20},
		Refresh: RefreshConfig{
			Default:        30 * time.Second,
			ManualCooldown: 2 * time.Second,
		},
		History:   HistoryConfig{Limit: 1000},
		Snapshots: SnapshotsConfig{Limit: 256},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Storage:   StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:secdash.db?_pragma=busy_timeout(5000)"},
		Publish: PublishConfig{
			Enabled:      false,
			Driver:       "kafka",
			Topic:        "secdash.updates",
			Subject:      "secdash.updates",
			DedupeWindow: 30 * time.Second,
			Buffer:       1024,
			Retries:      3,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes YAML or JSON over the defaults, then validates.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Refresh.Default <= 0 {
		cfg.Refresh.Default = 30 * time.Second
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = 1000
	}
	if cfg.Snapshots.Limit <= 0 {
		cfg.Snapshots.Limit = 256
	}
	if cfg.Source.TimeRange == "" {
		cfg.Source.TimeRange = "1h"
	}
	if cfg.Source.FeedLimit <= 0 {
		cfg.Source.FeedLimit = 20
	}
	if cfg.Publish.Buffer <= 0 {
		cfg.Publish.Buffer = 1024
	}
	if cfg.Publish.Retries < 0 {
		cfg.Publish.Retries = 0
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if !source.EventRangeSupported(cfg.Source.TimeRange) {
		return fmt.Errorf("source.time_range %q is not one of 15m, 1h, 4h, 24h", cfg.Source.TimeRange)
	}
	for view, d := range cfg.Refresh.Views {
		if d <= 0 {
			return fmt.Errorf("refresh.views.%s must be > 0", view)
		}
	}
	if cfg.Refresh.ManualCooldown < 0 {
		return errors.New("refresh.manual_cooldown must be >= 0")
	}
	for name, levels := range cfg.Scales {
		if _, err := classify.NewScale(name, levels...); err != nil {
			return fmt.Errorf("scales: %w", err)
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql", "pgx":
		default:
			return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
		}
		if cfg.Storage.DSN == "" {
			return errors.New("storage.dsn required when storage.enabled is true")
		}
	}
	if cfg.Publish.Enabled {
		switch strings.ToLower(cfg.Publish.Driver) {
		case "kafka":
			if len(cfg.Publish.Brokers) == 0 || cfg.Publish.Topic == "" {
				return errors.New("publish.kafka requires brokers, topic")
			}
		case "nats":
			if cfg.Publish.URL == "" || cfg.Publish.Subject == "" {
				return errors.New("publish.nats requires url, subject")
			}
		default:
			return fmt.Errorf("publish.driver %q not supported", cfg.Publish.Driver)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves cfg without a backing file; Reload and Watch
// have nothing to read and Update only swaps the in-memory config.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

// Update validates cfg, writes it to the backing file when there is one and
// makes it current.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
