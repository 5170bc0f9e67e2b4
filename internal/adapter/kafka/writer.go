package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/couchcryptid/precip-station-service/internal/config"
	"github.com/couchcryptid/precip-station-service/internal/domain"
)

const (
	batchSize  = 500
	maxRetries = 3
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes the stations of a loaded dataset to a Kafka topic, one
// message per station keyed by station id. It implements pipeline.Publisher.
type Writer struct {
	writer      messageWriter
	logger      *slog.Logger
	backoffBase time.Duration
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger, backoffBase: 200 * time.Millisecond}
}

// Publish writes every station of ds in batches. Each batch is retried with
// exponential backoff; the returned count covers the batches that were
// written before any failure.
func (w *Writer) Publish(ctx context.Context, ds *domain.Dataset) (int, error) {
	written := 0
	for start := 0; start < len(ds.Stations); start += batchSize {
		end := min(start+batchSize, len(ds.Stations))

		msgs := make([]kafkago.Message, 0, end-start)
		for i := start; i < end; i++ {
			msg, err := serializeToMessage(ds, &ds.Stations[i])
			if err != nil {
				return written, err
			}
			msgs = append(msgs, msg)
		}

		if err := w.writeWithRetry(ctx, msgs); err != nil {
			return written, fmt.Errorf("publish stations: %w", err)
		}
		written += len(msgs)
	}
	w.logger.Debug("stations published", "dataset_id", ds.ID, "count", written)
	return written, nil
}

func (w *Writer) writeWithRetry(ctx context.Context, msgs []kafkago.Message) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.backoffBase
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := w.writer.WriteMessages(ctx, msgs...)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			w.logger.Warn("kafka write failed", "attempt", attempt, "messages", len(msgs), "error", err)
		}
		return err
	}, policy)
}

// Close flushes pending writes and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// stationMessage is the published form of a station. Geometry is the joined
// boundary as GeoJSON, absent when the station has none.
type stationMessage struct {
	DatasetID string `json:"dataset_id"`
	domain.StationRecord
	Geometry *geojson.Geometry `json:"geometry,omitempty"`
}

// serializeToMessage marshals one station into a Kafka message.
func serializeToMessage(ds *domain.Dataset, st *domain.StationRecord) (kafkago.Message, error) {
	payload := stationMessage{DatasetID: ds.ID, StationRecord: *st}
	if st.HasBoundary() {
		g, err := geojson.Encode(st.Boundary.Geometry)
		if err != nil {
			return kafkago.Message{}, fmt.Errorf("encode boundary of %q: %w", st.StationID, err)
		}
		payload.Geometry = g
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize station %q: %w", st.StationID, err)
	}
	return kafkago.Message{
		Key:   []byte(st.StationID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "dataset_id", Value: []byte(ds.ID)},
			{Key: "loaded_at", Value: []byte(ds.LoadedAt.Format(time.RFC3339))},
		},
	}, nil
}
