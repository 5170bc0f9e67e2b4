package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func TestSeriesYears_Sorted(t *testing.T) {
	s := Series{2001: 20, 1990: 5, 2000: 10}
	assert.Equal(t, []int{1990, 2000, 2001}, s.Years())
	assert.Empty(t, Series{}.Years())
}

func TestHasBoundary(t *testing.T) {
	assert.False(t, StationRecord{}.HasBoundary())
	assert.False(t, StationRecord{Boundary: &Boundary{}}.HasBoundary())
	assert.True(t, StationRecord{Boundary: &Boundary{Geometry: geom.NewPoint(geom.XY)}}.HasBoundary())
}

func TestNewDataset(t *testing.T) {
	fixed := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	defer SetClock(nil)

	stations := []StationRecord{
		{StationID: "S1", Series: Series{2000: 10, 2001: 20}},
		{StationID: "S2", Series: Series{1999: 1, 2000: 100}},
	}

	ds := NewDataset(stations, LoadReport{})

	assert.NotEmpty(t, ds.ID)
	assert.Equal(t, fixed, ds.LoadedAt)
	assert.Equal(t, []int{1999, 2000, 2001}, ds.Years)
	assert.False(t, ds.HasGeometry)
	assert.Len(t, ds.Stations, 2)
}

func TestNewDataset_HasGeometry(t *testing.T) {
	stations := []StationRecord{
		{StationID: "S1"},
		{StationID: "S2", Boundary: &Boundary{Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{-75, 6})}},
	}

	ds := NewDataset(stations, LoadReport{})

	assert.True(t, ds.HasGeometry)
}

func TestNewDataset_UniqueIDs(t *testing.T) {
	a := NewDataset(nil, LoadReport{})
	b := NewDataset(nil, LoadReport{})
	assert.NotEqual(t, a.ID, b.ID)
}
