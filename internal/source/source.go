package source

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"secdash/internal/model"
)

// RNG is the subset of *rand.Rand the generators draw from.
type RNG interface {
	Float64() float64
	IntN(n int) int
}

const pcgStream = 0x9e3779b97f4a7c15

// NewRNG returns a PCG-backed generator; equal seeds replay equal sequences.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^pcgStream))
}

// Params are the user-facing knobs a view forwards to its source.
type Params struct {
	TimeRange   string `json:"time_range,omitempty" yaml:"time_range"`
	Environment string `json:"environment,omitempty" yaml:"environment"`
	Mode        string `json:"mode,omitempty" yaml:"mode"`
	Focus       string `json:"focus,omitempty" yaml:"focus"`
	Count       int    `json:"count,omitempty" yaml:"count"`
}

type SeedContext struct {
	Params
	Now time.Time
	RNG RNG
}

// Source produces one batch of records per call. Timestamps are
// non-decreasing in slice order and IDs are unique within a batch.
type Source interface {
	Generate(seed SeedContext) ([]model.Record, error)
}

// Resetter is implemented by sources that carry state between calls,
// such as live feeds and indicators.
type Resetter interface {
	Reset()
}

// Func adapts a plain function to Source.
type Func func(seed SeedContext) ([]model.Record, error)

func (f Func) Generate(seed SeedContext) ([]model.Record, error) {
	return f(seed)
}

var knownRanges = map[string]time.Duration{
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// MaxCount bounds the records a single Generate call may be asked for.
const MaxCount = 10000

func (s SeedContext) Validate() error {
	if s.RNG == nil {
		return fmt.Errorf("nil rng: %w", model.ErrInvalidParameter)
	}
	if s.Count < 0 || s.Count > MaxCount {
		return fmt.Errorf("count %d: %w", s.Count, model.ErrInvalidParameter)
	}
	if s.Now.IsZero() {
		return fmt.Errorf("zero reference time: %w", model.ErrInvalidParameter)
	}
	if s.TimeRange != "" {
		if _, ok := knownRanges[s.TimeRange]; !ok {
			return fmt.Errorf("time range %q: %w", s.TimeRange, model.ErrInvalidParameter)
		}
	}
	return nil
}

// limit caps n by the requested count; zero means the generator default.
func (s SeedContext) limit(n int) int {
	if s.Count > 0 && s.Count < n {
		return s.Count
	}
	return n
}

type rngReader struct {
	rng RNG
}

func (r rngReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.rng.IntN(256))
	}
	return len(p), nil
}

func newID(rng RNG) string {
	id, err := uuid.NewRandomFromReader(rngReader{rng: rng})
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func floorN(rng RNG, n float64) float64 {
	return math.Floor(rng.Float64() * n)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func pick[T any](rng RNG, items []T) T {
	return items[rng.IntN(len(items))]
}

func sortByTime(records []model.Record) {
	slices.SortStableFunc(records, func(a, b model.Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
