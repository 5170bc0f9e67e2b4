// Package domain models precipitation monitoring stations and the datasets
// built from a station CSV and an optional station-boundary shapefile.
//
// # Source Files
//
// The tabular source is a delimited text file, one row per station. Column
// names vary between exports, so loaders resolve them through an alias table
// into the logical fields of [StationRecord]:
//
//	Nom_Est     -> station id (required)
//	Latitud     -> latitude   (required, WGS84 degrees)
//	Longitud    -> longitude  (required, WGS84 degrees)
//	Mpio        -> region     (municipality)
//	NOMBRE_VER  -> sub-region (vereda)
//	Celda_XY    -> grid cell
//	Id_estacion -> station code
//
// Any column whose header is a bare integer ("1970", "1971", ...) is a year
// and its cells are annual precipitation totals in millimetres. Years are not
// assumed to be contiguous; a blank cell is a missing year, never zero.
//
// The geometry source is a zipped shapefile whose attribute table carries the
// same station id. Boundaries are always stored in WGS84 (EPSG:4326).
//
// # Identity
//
// Station ids are unique within a [Dataset]. When the CSV repeats an id, the
// later row wins but keeps the position of the first one. Duplicates are
// listed in [TabularReport.Duplicates].
//
// # Errors
//
// Load failures are typed (see errors.go) so callers can branch with
// errors.As and report a stable [Kind] to clients.
package domain
