package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		ID:          "6f1c2a9e-0000-4000-8000-000000000001",
		GeneratedAt: time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC),
		Crises: []domain.Crisis{
			{ID: "SDN-REG", Countries: []domain.CountryCrisisRecord{
				{CountryCode: "SDN", CrisisID: "SDN-REG", SeverityIndex: 4.8, Anomalies: []domain.Anomaly{}},
				{CountryCode: "TCD", CrisisID: "SDN-REG", SeverityIndex: 4.8, Anomalies: []domain.Anomaly{}},
			}},
			{ID: "SAH", Countries: []domain.CountryCrisisRecord{
				{CountryCode: "TCD", CrisisID: "SAH", SeverityIndex: 3.9, Anomalies: []domain.Anomaly{}},
			}},
		},
		Totals: domain.Totals{Records: 3},
	}
}

func newTestWriter(fw *fakeWriter) *Writer {
	return &Writer{writer: fw, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestSerializeToMessage(t *testing.T) {
	snap := testSnapshot()
	rec := snap.Crises[0].Countries[0]

	msg, err := serializeToMessage(snap, rec)
	require.NoError(t, err)

	assert.Equal(t, []byte("SDN"), msg.Key)
	assert.Contains(t, string(msg.Value), `"country_code":"SDN"`)
	assert.Contains(t, string(msg.Value), `"severity_index":4.8`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, HeaderSnapshotID, msg.Headers[0].Key)
	assert.Equal(t, []byte(snap.ID), msg.Headers[0].Value)
	assert.Equal(t, HeaderCrisisID, msg.Headers[1].Key)
	assert.Equal(t, []byte("SDN-REG"), msg.Headers[1].Value)
	assert.Equal(t, HeaderGeneratedAt, msg.Headers[2].Key)
	assert.Equal(t, []byte("2025-03-03T09:30:00Z"), msg.Headers[2].Value)
}

func TestWriter_Publish(t *testing.T) {
	fw := &fakeWriter{}
	w := newTestWriter(fw)

	require.NoError(t, w.Publish(context.Background(), testSnapshot()))

	require.Len(t, fw.msgs, 3)
	keys := []string{string(fw.msgs[0].Key), string(fw.msgs[1].Key), string(fw.msgs[2].Key)}
	assert.Equal(t, []string{"SDN", "TCD", "TCD"}, keys)
	assert.Equal(t, []byte("SAH"), fw.msgs[2].Headers[1].Value)
}

func TestWriter_PublishEmptySnapshot(t *testing.T) {
	fw := &fakeWriter{}
	w := newTestWriter(fw)

	require.NoError(t, w.Publish(context.Background(), &domain.Snapshot{ID: "empty"}))
	assert.Empty(t, fw.msgs)
}

func TestWriter_PublishError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("leader not available")}
	w := newTestWriter(fw)

	err := w.Publish(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "6f1c2a9e")
	assert.Contains(t, err.Error(), "leader not available")
}

func TestWriter_Close(t *testing.T) {
	fw := &fakeWriter{}
	require.NoError(t, newTestWriter(fw).Close())
	assert.True(t, fw.closed)
}
