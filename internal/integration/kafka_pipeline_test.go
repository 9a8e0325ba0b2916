//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/crisis-funding-etl/internal/adapter/filesource"
	"github.com/couchcryptid/crisis-funding-etl/internal/adapter/kafka"
	"github.com/couchcryptid/crisis-funding-etl/internal/config"
	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
	"github.com/couchcryptid/crisis-funding-etl/internal/observability"
	"github.com/couchcryptid/crisis-funding-etl/internal/pipeline"
)

const testSinkTopic = "test-crisis-records"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("crisis-etl-test"))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// writeDataset lays out a small but complete set of source files.
func writeDataset(t *testing.T) map[domain.Dataset]string {
	t.Helper()
	dir := t.TempDir()
	files := map[domain.Dataset]string{
		domain.DatasetCountries: "iso3,iso2,name\n" +
			"SDN,SD,Sudan\nSSD,SS,South Sudan\nTCD,TD,Chad\nMLI,ML,Mali\nNER,NE,Niger\nBFA,BF,Burkina Faso\n",
		domain.DatasetSeverity: "crisis_id,crisis_name,iso3,severity_index,severity_category,drivers\n" +
			`SDN-REG,Sudan regional,"SDN,SSD,TCD",4.7,Very High,Conflict` + "\n" +
			`SAH,Central Sahel,"MLI;NER;BFA;TCD",4.1,Very High,Conflict` + "\n",
		domain.DatasetFunding: "iso3,plan_name,requirements,funding,off_appeal\n" +
			"SDN,HRP,2700000000,1100000000,false\n" +
			"SSD,HRP,1700000000,1200000000,false\n" +
			"TCD,HRP,1100000000,300000000,false\n" +
			"MLI,HRP,700000000,250000000,false\n" +
			"NER,HRP,580000000,260000000,false\n" +
			"BFA,HRP,930000000,330000000,false\n",
		domain.DatasetPooledFunds: "country,cluster,total_allocations,targeted_people,reached_people\n" +
			"Sudan,Health,20000000,900000,400000\n" +
			"South Sudan,Food Security,15000000,700000,650000\n" +
			"Chad,WASH,5000000,300000,90000\n",
	}
	paths := make(map[domain.Dataset]string, len(files))
	for ds, content := range files {
		path := filepath.Join(dir, string(ds)+".csv")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		paths[ds] = path
	}
	return paths
}

type publishedRecord struct {
	Record  domain.CountryCrisisRecord
	Key     string
	Headers map[string]string
}

func readRecords(ctx context.Context, t *testing.T, broker string, n int) []publishedRecord {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		Partition:   0,
		StartOffset: kafkago.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out := make([]publishedRecord, 0, n)
	for len(out) < n {
		msg, err := consumer.ReadMessage(readCtx)
		require.NoError(t, err, "read from sink topic")

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		var rec domain.CountryCrisisRecord
		require.NoError(t, json.Unmarshal(msg.Value, &rec), "unmarshal sink message")
		out = append(out, publishedRecord{Record: rec, Key: string(msg.Key), Headers: headers})
	}
	return out
}

// TestAggregateAndPublish runs a full refresh from CSV files through to the
// Kafka sink and reads every record back.
func TestAggregateAndPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{
		KafkaBrokers:   []string{broker},
		KafkaSinkTopic: testSinkTopic,
	}
	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()

	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	aggregator := pipeline.NewAggregator(
		filesource.NewCSVSource(writeDataset(t), logger, metrics),
		nil,
		domain.NewDetector(domain.DefaultMinCohortSize),
		nil,
		logger,
		metrics,
	)
	svc := pipeline.NewService(aggregator, writer, "", logger, metrics)

	snap, err := svc.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, snap.Totals.Records, "Chad appears in both crises")
	assert.Equal(t, 6, snap.Totals.Countries)
	assert.Same(t, snap, svc.Snapshot())

	published := readRecords(ctx, t, broker, snap.Totals.Records)

	byCrisis := make(map[string][]string)
	for _, p := range published {
		assert.Equal(t, p.Record.CountryCode, p.Key, "messages are keyed by ISO3")
		assert.Equal(t, snap.ID, p.Headers[kafka.HeaderSnapshotID])
		assert.Equal(t, p.Record.CrisisID, p.Headers[kafka.HeaderCrisisID])
		assert.Equal(t, snap.GeneratedAt.Format(time.RFC3339), p.Headers[kafka.HeaderGeneratedAt])
		byCrisis[p.Record.CrisisID] = append(byCrisis[p.Record.CrisisID], p.Record.CountryCode)
	}
	assert.ElementsMatch(t, []string{"SDN", "SSD", "TCD"}, byCrisis["SDN-REG"])
	assert.ElementsMatch(t, []string{"MLI", "NER", "BFA", "TCD"}, byCrisis["SAH"])

	// Pooled funds resolved by name reach the published records.
	for _, p := range published {
		if p.Record.CountryCode == "SSD" {
			assert.InDelta(t, 15_000_000, p.Record.PooledFundAllocations, 0.01)
			require.NotNil(t, p.Record.Indices.ReachRatio)
		}
	}
}
