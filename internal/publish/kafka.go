package publish

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) (Publisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka publisher requires brokers and topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &kafkaPublisher{writer: w}, nil
}

func (k *kafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (k *kafkaPublisher) Close() error {
	return k.writer.Close()
}

func (k *kafkaPublisher) Name() string {
	return "kafka"
}
