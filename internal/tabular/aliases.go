package tabular

import "strings"

// Field is a logical column of the station table.
type Field string

// Logical fields resolved from source headers.
const (
	FieldStationID   Field = "station_id"
	FieldLatitude    Field = "latitude"
	FieldLongitude   Field = "longitude"
	FieldRegion      Field = "region"
	FieldSubRegion   Field = "sub_region"
	FieldGridCell    Field = "grid_cell"
	FieldStationCode Field = "station_code"
	FieldCoverage    Field = "coverage"
)

// FieldAliases lists the header names accepted for a logical field, in priority order.
type FieldAliases struct {
	Field    Field
	Required bool
	Names    []string
}

// DefaultAliases is the alias table for the exports seen in practice.
// Matching ignores case and surrounding whitespace.
var DefaultAliases = []FieldAliases{
	{Field: FieldStationID, Required: true, Names: []string{"Nom_Est", "station_id", "station", "estacion", "nombre_estacion", "id"}},
	{Field: FieldLatitude, Required: true, Names: []string{"Latitud", "latitude", "lat", "y"}},
	{Field: FieldLongitude, Required: true, Names: []string{"Longitud", "longitude", "lon", "lng", "long", "x"}},
	{Field: FieldRegion, Names: []string{"Mpio", "municipio", "region"}},
	{Field: FieldSubRegion, Names: []string{"NOMBRE_VER", "vereda", "sub_region", "subregion"}},
	{Field: FieldGridCell, Names: []string{"Celda_XY", "celda", "grid_cell", "cell"}},
	{Field: FieldStationCode, Names: []string{"Id_estacion", "codigo", "station_code"}},
	{Field: FieldCoverage, Names: []string{"Porc_datos", "porcentaje", "coverage", "pct_data"}},
}

// StationIDAliases returns the accepted station id header names.
func StationIDAliases(table []FieldAliases) []string {
	for _, fa := range table {
		if fa.Field == FieldStationID {
			return fa.Names
		}
	}
	return nil
}

// resolveColumns maps each logical field to a header index. Fields are resolved
// in table order and a header column is claimed by at most one field. The
// second return value lists required fields that no alias matched.
func resolveColumns(header []string, table []FieldAliases) (map[Field]int, []string) {
	resolved := make(map[Field]int, len(table))
	claimed := make(map[int]bool, len(header))
	var missing []string

	for _, fa := range table {
		idx := -1
		for _, name := range fa.Names {
			for i, h := range header {
				if !claimed[i] && strings.EqualFold(strings.TrimSpace(h), name) {
					idx = i
					break
				}
			}
			if idx >= 0 {
				break
			}
		}
		if idx < 0 {
			if fa.Required {
				missing = append(missing, string(fa.Field))
			}
			continue
		}
		resolved[fa.Field] = idx
		claimed[idx] = true
	}
	return resolved, missing
}
