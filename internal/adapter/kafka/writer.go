package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/hilltop-etl/internal/config"
	"github.com/couchcryptid/hilltop-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces resolved observations to a Kafka topic.
// It implements pipeline.Loader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchFlushInterval,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes resolved observations in a single
// WriteMessages call. Messages of one series share a partition.
func (w *Writer) LoadBatch(ctx context.Context, rows []domain.ResolvedObservation) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(rows))
	for i := range rows {
		msg, err := serializeToMessage(rows[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d observations: %w", len(msgs), err)
	}
	w.logger.Debug("observations written", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// messageKey joins the series identity and the observation time. The Hash
// balancer only sees the key, so identical keys land on one partition.
func messageKey(o domain.ResolvedObservation) []byte {
	return []byte(strings.Join([]string{
		o.Key.Site,
		o.Key.Measurement,
		o.Key.Parameter,
		o.Time.UTC().Format(time.RFC3339),
	}, "|"))
}

// serializeToMessage marshals a ResolvedObservation into a Kafka message.
func serializeToMessage(o domain.ResolvedObservation) (kafkago.Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation %s: %w", o.Key, err)
	}
	return kafkago.Message{
		Key:   messageKey(o),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "censor_code", Value: []byte(o.CensorCode)},
			{Key: "dtl_method", Value: []byte(o.Method)},
			{Key: "processed_at", Value: []byte(o.ProcessedAt.Format(time.RFC3339))},
			{Key: "run_id", Value: []byte(o.RunID)},
		},
	}, nil
}
