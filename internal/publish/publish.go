package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"secdash/internal/config"
	"secdash/internal/model"
)

// Publisher pushes an encoded update to an external bus.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
	Name() string
}

// New returns nil, nil when publishing is disabled.
func New(cfg config.PublishConfig) (Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "kafka":
		return NewKafka(cfg.Brokers, cfg.Topic)
	case "nats":
		return NewNATS(cfg.URL, cfg.Subject)
	default:
		return nil, errors.New("unsupported publish driver")
	}
}

// Sink is anything the dispatcher can hand an update to.
type Sink interface {
	Name() string
	Write(ctx context.Context, u model.Update) error
}

type sinkFunc struct {
	name string
	fn   func(ctx context.Context, u model.Update) error
}

func (s sinkFunc) Name() string { return s.name }

func (s sinkFunc) Write(ctx context.Context, u model.Update) error { return s.fn(ctx, u) }

// SinkFunc adapts a write function, such as an archive's SaveUpdate.
func SinkFunc(name string, fn func(ctx context.Context, u model.Update) error) Sink {
	return sinkFunc{name: name, fn: fn}
}

// BusSink encodes updates as JSON and keys them by view.
func BusSink(p Publisher) Sink {
	return sinkFunc{name: p.Name(), fn: func(ctx context.Context, u model.Update) error {
		payload, err := Encode(u)
		if err != nil {
			return err
		}
		return p.Publish(ctx, u.ViewID, payload)
	}}
}

func Encode(u model.Update) ([]byte, error) {
	return json.Marshal(u)
}

// Fingerprint identifies an update's content. Sequence and refresh time
// are left out so an unchanged view hashes the same on every cycle.
func Fingerprint(u model.Update) string {
	body, _ := json.Marshal(struct {
		ViewID  string             `json:"view_id"`
		Total   int                `json:"total"`
		Records []model.Classified `json:"records"`
	}{u.ViewID, u.Total, u.Records})
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
