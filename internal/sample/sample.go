// Package sample generates a synthetic station network: a station table in
// the export layout and a matching boundary shapefile archive. It backs the
// sample command and the end-to-end load tests.
package sample

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/precip-station-service/internal/crs"
	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/geometry"
)

// OrigenNacionalPRJ is the ESRI WKT of EPSG:9377 as written by desktop GIS exports.
const OrigenNacionalPRJ = `PROJCS["MAGNA-SIRGAS_Origen-Nacional",GEOGCS["GCS_MAGNA",DATUM["D_MAGNA",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",5000000.0],PARAMETER["False_Northing",2000000.0],PARAMETER["Central_Meridian",-73.0],PARAMETER["Scale_Factor",0.9992],PARAMETER["Latitude_Of_Origin",4.0],UNIT["Meter",1.0]]`

// Defaults applied to zero Options fields.
const (
	DefaultStations  = 12
	DefaultFirstYear = 1990
	DefaultLastYear  = 2020
)

var municipalities = []string{
	"Medellín", "Bello", "Itagüí", "Envigado", "Rionegro", "Guarne",
	"Marinilla", "El Peñol", "Guatapé", "Sabaneta",
}

// Network area, in degrees.
const (
	minLat, maxLat = 5.8, 6.6
	minLon, maxLon = -75.8, -75.0
	cellSize       = 0.2
	boundarySize   = 0.02
)

// Options controls generation.
type Options struct {
	Stations  int
	FirstYear int
	LastYear  int
	Seed      uint64
	// MissingRate is the probability that a station has no value for a year.
	MissingRate float64
}

// Network is a generated station set.
type Network struct {
	Stations []domain.StationRecord
	Years    []int
}

// Generate builds a network. The same options always produce the same network.
func Generate(opts Options) Network {
	if opts.Stations <= 0 {
		opts.Stations = DefaultStations
	}
	if opts.FirstYear == 0 {
		opts.FirstYear = DefaultFirstYear
	}
	if opts.LastYear == 0 {
		opts.LastYear = DefaultLastYear
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)) //nolint:gosec // synthetic data

	years := make([]int, 0, opts.LastYear-opts.FirstYear+1)
	for y := opts.FirstYear; y <= opts.LastYear; y++ {
		years = append(years, y)
	}

	stations := make([]domain.StationRecord, opts.Stations)
	for i := range stations {
		lat := round(minLat+rng.Float64()*(maxLat-minLat), 5)
		lon := round(minLon+rng.Float64()*(maxLon-minLon), 5)
		coverage := round(60+rng.Float64()*40, 1)
		base := 1500 + rng.Float64()*1500

		series := make(domain.Series, len(years))
		for _, y := range years {
			if rng.Float64() < opts.MissingRate {
				continue
			}
			series[y] = round(base*(0.7+0.6*rng.Float64()), 1)
		}

		stations[i] = domain.StationRecord{
			StationID:   fmt.Sprintf("EST_%03d", i+1),
			StationCode: fmt.Sprintf("2701%04d", i+1),
			Latitude:    lat,
			Longitude:   lon,
			Region:      municipalities[i%len(municipalities)],
			SubRegion:   fmt.Sprintf("Vereda %d", i/len(municipalities)+1),
			GridCell:    gridCell(lat, lon),
			Coverage:    &coverage,
			Series:      series,
		}
	}
	return Network{Stations: stations, Years: years}
}

func gridCell(lat, lon float64) string {
	row := int((lat - minLat) / cellSize)
	col := int((lon - minLon) / cellSize)
	return fmt.Sprintf("C%d-%d", row, col)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// CSV renders the network as a station table in the export layout, one
// column per year with empty cells for missing years.
func (n Network) CSV(delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim

	header := []string{"Nom_Est", "Id_estacion", "Latitud", "Longitud", "Mpio", "NOMBRE_VER", "Celda_XY", "Porc_datos"}
	for _, y := range n.Years {
		header = append(header, strconv.Itoa(y))
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, st := range n.Stations {
		row := []string{
			st.StationID,
			st.StationCode,
			formatFloat(st.Latitude),
			formatFloat(st.Longitude),
			st.Region,
			st.SubRegion,
			st.GridCell,
			"",
		}
		if st.Coverage != nil {
			row[7] = formatFloat(*st.Coverage)
		}
		for _, y := range n.Years {
			v, ok := st.Series[y]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, formatFloat(v))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write station table: %w", err)
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Features returns one square boundary per station, anchored on the station
// coordinates and expressed in target.
func (n Network) Features(target crs.CRS) ([]geometry.Feature, error) {
	features := make([]geometry.Feature, 0, len(n.Stations))
	for _, st := range n.Stations {
		lon, lat := st.Longitude, st.Latitude
		square := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
			{lon, lat}, {lon + boundarySize, lat}, {lon + boundarySize, lat + boundarySize}, {lon, lat + boundarySize}, {lon, lat},
		}})
		projected, err := target.FromWGS84(square)
		if err != nil {
			return nil, fmt.Errorf("project boundary of %s: %w", st.StationID, err)
		}
		features = append(features, geometry.Feature{
			StationID:  st.StationID,
			Geometry:   projected,
			Attributes: map[string]string{"Mpio": st.Region},
		})
	}
	return features, nil
}

// Archive renders the station boundaries as a zipped shapefile in target.
// prj is written alongside when not empty.
func (n Network) Archive(target crs.CRS, prj string) ([]byte, error) {
	features, err := n.Features(target)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := geometry.WriteArchive(&buf, "estaciones", features, prj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
