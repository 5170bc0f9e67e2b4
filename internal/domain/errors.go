package domain

import (
	"errors"
	"fmt"
	"strings"
)

// EmptyDatasetError means no tabular row survived validation.
type EmptyDatasetError struct {
	Dropped int
}

func (e *EmptyDatasetError) Error() string {
	if e.Dropped > 0 {
		return fmt.Sprintf("dataset is empty: all %d rows were dropped", e.Dropped)
	}
	return "dataset is empty"
}

// MissingColumnsError names every required logical column that no alias resolved.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Columns, ", ")
}

// NoGeometryFileError means the archive holds no .shp file.
type NoGeometryFileError struct {
	Entries int
}

func (e *NoGeometryFileError) Error() string {
	return fmt.Sprintf("no .shp file found in archive (%d entries)", e.Entries)
}

// MissingAttributeError means no geometry record carries the station id attribute.
type MissingAttributeError struct {
	Field   string
	Aliases []string
}

func (e *MissingAttributeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("station id attribute %q is empty on every geometry record", e.Field)
	}
	return "station id attribute not found, tried: " + strings.Join(e.Aliases, ", ")
}

// JoinKeyUnresolvedError means geometry was supplied but no station matched it,
// by exact or by normalized id.
type JoinKeyUnresolvedError struct {
	Stations int
	Features int
}

func (e *JoinKeyUnresolvedError) Error() string {
	return fmt.Sprintf("no station ids matched geometry: %d stations, %d features", e.Stations, e.Features)
}

// InsufficientDataError means the inputs cannot produce a dataset, e.g. geometry without a station table.
type InsufficientDataError struct {
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return "insufficient data: " + e.Reason
}

// UnsupportedCRSError means the coordinate reference metadata could not be interpreted.
type UnsupportedCRSError struct {
	Detail string
}

func (e *UnsupportedCRSError) Error() string {
	return "unsupported coordinate reference system: " + e.Detail
}

// Kind returns a stable machine-readable name for a load error, or "internal"
// for anything outside the taxonomy.
func Kind(err error) string {
	var (
		empty        *EmptyDatasetError
		columns      *MissingColumnsError
		noGeometry   *NoGeometryFileError
		attribute    *MissingAttributeError
		join         *JoinKeyUnresolvedError
		insufficient *InsufficientDataError
		unsupported  *UnsupportedCRSError
	)
	switch {
	case errors.As(err, &empty):
		return "empty_dataset"
	case errors.As(err, &columns):
		return "missing_columns"
	case errors.As(err, &noGeometry):
		return "no_geometry_file"
	case errors.As(err, &attribute):
		return "missing_attribute"
	case errors.As(err, &join):
		return "join_key_unresolved"
	case errors.As(err, &insufficient):
		return "insufficient_data"
	case errors.As(err, &unsupported):
		return "unsupported_crs"
	default:
		return "internal"
	}
}
