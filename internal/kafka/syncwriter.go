package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// SyncWriter publishes synchronously and reports delivery errors to the
// caller. Used where a state flag may only be set once delivery is
// confirmed (the async Producer swallows errors and cannot serve that).
type SyncWriter struct {
	w *kafka.Writer
}

func NewSyncWriter(brokers []string, topic string) *SyncWriter {
	return &SyncWriter{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (s *SyncWriter) Write(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	})
}

func (s *SyncWriter) Close() error { return s.w.Close() }
