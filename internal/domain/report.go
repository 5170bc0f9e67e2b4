package domain

// Reasons a tabular row is excluded from a load.
const (
	DropMissingStationID  = "missing_station_id"
	DropMissingCoordinate = "missing_coordinate"
	DropOutOfRange        = "out_of_range"
)

// DroppedRow describes a tabular row that never reached the dataset.
// Line is the 1-based line number in the source file, header included.
type DroppedRow struct {
	Line      int    `json:"line"`
	StationID string `json:"station_id,omitempty"`
	Reason    string `json:"reason"`
}

// TabularReport tallies what the tabular loader kept and why it dropped rows.
type TabularReport struct {
	Delimiter      string       `json:"delimiter"`
	Encoding       string       `json:"encoding"`
	Columns        []string     `json:"columns"`
	YearColumns    int          `json:"year_columns"`
	TotalRows      int          `json:"total_rows"`
	KeptRows       int          `json:"kept_rows"`
	Dropped        []DroppedRow `json:"dropped,omitempty"`
	RejectedValues int          `json:"rejected_values"`
	Duplicates     []string     `json:"duplicates,omitempty"`
}

// DroppedCount returns the number of excluded rows.
func (r TabularReport) DroppedCount() int {
	return len(r.Dropped)
}

// GeometryReport describes the geometry load. Error is set when the archive
// failed to load and the dataset degraded to tabular-only.
type GeometryReport struct {
	Supplied   bool   `json:"supplied"`
	File       string `json:"file,omitempty"`
	Features   int    `json:"features"`
	SourceCRS  string `json:"source_crs,omitempty"`
	AssumedCRS bool   `json:"assumed_crs"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// Join strategies reported by the reconciler.
const (
	JoinNone       = "none"
	JoinExact      = "exact"
	JoinNormalized = "normalized"
)

// JoinReport describes how tabular rows were matched to geometry.
type JoinReport struct {
	Strategy  string `json:"strategy"`
	Matched   int    `json:"matched"`
	Unmatched int    `json:"unmatched"`
	Warning   string `json:"warning,omitempty"`
}

// LoadReport is the full account of one load attempt.
type LoadReport struct {
	Tabular          TabularReport  `json:"tabular"`
	Geometry         GeometryReport `json:"geometry"`
	Join             JoinReport     `json:"join"`
	GeocodedRegions  int            `json:"geocoded_regions"`
	PublishedRecords int            `json:"published_records"`
}
