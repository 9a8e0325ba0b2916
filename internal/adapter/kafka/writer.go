package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/crisis-funding-etl/internal/config"
	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
)

// Message header keys.
const (
	HeaderSnapshotID  = "snapshot_id"
	HeaderCrisisID    = "crisis_id"
	HeaderGeneratedAt = "generated_at"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces snapshot records to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSinkTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes one message per country-crisis record in a single
// WriteMessages call. Records are keyed by ISO3 so a country's records share
// a partition.
func (w *Writer) Publish(ctx context.Context, snap *domain.Snapshot) error {
	records := snap.Records()
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(snap, records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish snapshot %s: %w", snap.ID, err)
	}
	w.logger.Info("snapshot published", "snapshot_id", snap.ID, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a record into a Kafka message tagged with its snapshot.
func serializeToMessage(snap *domain.Snapshot, rec domain.CountryCrisisRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize record %s: %w", rec.Key(), err)
	}
	return kafkago.Message{
		Key:   []byte(rec.CountryCode),
		Value: data,
		Headers: []kafkago.Header{
			{Key: HeaderSnapshotID, Value: []byte(snap.ID)},
			{Key: HeaderCrisisID, Value: []byte(rec.CrisisID)},
			{Key: HeaderGeneratedAt, Value: []byte(snap.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
