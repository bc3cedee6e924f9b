package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const connectTimeout = 10 * time.Second

type natsPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATS(url, subject string) (Publisher, error) {
	if url == "" || subject == "" {
		return nil, errors.New("nats publisher requires url and subject")
	}
	conn, err := nats.Connect(url, nats.Name("secdash"), nats.Timeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &natsPublisher{conn: conn, subject: subject}, nil
}

func (n *natsPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(n.subject)
	msg.Data = payload
	msg.Header.Set("x-view-id", key)
	return n.conn.PublishMsg(msg)
}

func (n *natsPublisher) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

func (n *natsPublisher) Name() string {
	return "nats"
}
