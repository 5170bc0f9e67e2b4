package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/precip-station-service/internal/domain"
)

type fakeWriter struct {
	failures int
	calls    int
	written  []kafkago.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("leader not available")
	}
	f.written = append(f.written, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func testDataset(n int) *domain.Dataset {
	stations := make([]domain.StationRecord, n)
	for i := range stations {
		stations[i] = domain.StationRecord{
			StationID: fmt.Sprintf("S%d", i+1),
			Latitude:  6.2,
			Longitude: -75.5,
			Series:    domain.Series{2000: float64(i)},
		}
	}
	return &domain.Dataset{
		ID:       "ds-1",
		LoadedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Stations: stations,
	}
}

func newTestWriter(fw *fakeWriter) *Writer {
	return &Writer{writer: fw, logger: slog.Default(), backoffBase: time.Millisecond}
}

func TestSerializeToMessage(t *testing.T) {
	ds := testDataset(1)
	st := &ds.Stations[0]
	st.Region = "Medellín"
	st.Boundary = &domain.Boundary{
		Geometry: geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
			{-75.5, 6.2}, {-75.4, 6.2}, {-75.4, 6.3}, {-75.5, 6.2},
		}}),
	}

	msg, err := serializeToMessage(ds, st)
	require.NoError(t, err)

	assert.Equal(t, []byte("S1"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "dataset_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("ds-1"), msg.Headers[0].Value)
	assert.Equal(t, "loaded_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-05-01T12:00:00Z"), msg.Headers[1].Value)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "ds-1", body["dataset_id"])
	assert.Equal(t, "S1", body["station_id"])
	assert.Equal(t, "Medellín", body["region"])
	assert.Equal(t, map[string]any{"2000": 0.0}, body["series"])
	geometry, ok := body["geometry"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Polygon", geometry["type"])
}

func TestSerializeToMessage_NoBoundary(t *testing.T) {
	ds := testDataset(1)
	msg, err := serializeToMessage(ds, &ds.Stations[0])
	require.NoError(t, err)
	assert.NotContains(t, string(msg.Value), `"geometry"`)
}

func TestPublish_Batches(t *testing.T) {
	fw := &fakeWriter{}
	n, err := newTestWriter(fw).Publish(context.Background(), testDataset(batchSize+3))
	require.NoError(t, err)
	assert.Equal(t, batchSize+3, n)
	assert.Equal(t, 2, fw.calls)
	assert.Len(t, fw.written, batchSize+3)
	assert.Equal(t, []byte("S1"), fw.written[0].Key)
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	fw := &fakeWriter{failures: 2}
	n, err := newTestWriter(fw).Publish(context.Background(), testDataset(3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, fw.calls)
}

func TestPublish_GivesUpAfterMaxRetries(t *testing.T) {
	fw := &fakeWriter{failures: 100}
	n, err := newTestWriter(fw).Publish(context.Background(), testDataset(3))
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, maxRetries+1, fw.calls)
}

func TestPublish_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fw := &fakeWriter{failures: 100}
	_, err := newTestWriter(fw).Publish(ctx, testDataset(3))
	require.Error(t, err)
	assert.LessOrEqual(t, fw.calls, 1)
}
