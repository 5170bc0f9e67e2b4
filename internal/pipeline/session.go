package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/observability"
	"github.com/couchcryptid/precip-station-service/internal/selection"
)

// ErrNoDataset is returned when no dataset has been loaded yet.
var ErrNoDataset = errors.New("no dataset loaded")

// Session holds the active dataset. A load replaces it wholesale, and only
// when the load succeeds.
type Session struct {
	loader  *Loader
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	current *domain.Dataset

	awaitInitial atomic.Bool
}

// NewSession creates an empty Session backed by loader.
func NewSession(loader *Loader, logger *slog.Logger, metrics *observability.Metrics) *Session {
	return &Session{loader: loader, logger: logger, metrics: metrics}
}

// ExpectInitialLoad makes CheckReadiness fail until a dataset is active.
// Call it before starting a startup load.
func (s *Session) ExpectInitialLoad() {
	s.awaitInitial.Store(true)
}

// CheckReadiness returns nil once the session can serve queries.
func (s *Session) CheckReadiness(_ context.Context) error {
	if !s.awaitInitial.Load() {
		return nil
	}
	if _, err := s.Current(); err != nil {
		return errors.New("startup dataset has not loaded yet")
	}
	return nil
}

// Load runs the loader and, on success, makes the result the active dataset.
func (s *Session) Load(ctx context.Context, up Upload) (*domain.Dataset, error) {
	ds, err := s.loader.Load(ctx, up)
	if err != nil {
		return nil, err
	}
	s.Replace(ds)
	return ds, nil
}

// Replace makes ds the active dataset.
func (s *Session) Replace(ds *domain.Dataset) {
	s.mu.Lock()
	s.current = ds
	s.mu.Unlock()
	s.metrics.StationsLoaded.Set(float64(len(ds.Stations)))
	s.logger.Info("active dataset replaced", "dataset_id", ds.ID)
}

// Current returns the active dataset or ErrNoDataset.
func (s *Session) Current() (*domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoDataset
	}
	return s.current, nil
}

// Select applies st to ds, a dataset obtained from Current, and counts the
// selection. st must have been built against the same ds.
func (s *Session) Select(ds *domain.Dataset, st selection.State) selection.Active {
	s.metrics.Selections.Inc()
	return selection.Apply(ds.Stations, st)
}
