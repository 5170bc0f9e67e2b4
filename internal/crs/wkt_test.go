package crs

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/precip-station-service/internal/domain"
)

const esriOrigenNacional = `PROJCS["MAGNA-SIRGAS_Origen-Nacional",GEOGCS["GCS_MAGNA",DATUM["D_MAGNA",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",5000000.0],PARAMETER["False_Northing",2000000.0],PARAMETER["Central_Meridian",-73.0],PARAMETER["Scale_Factor",0.9992],PARAMETER["Latitude_Of_Origin",4.0],UNIT["Meter",1.0]]`

const esriWebMercator = `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Mercator_Auxiliary_Sphere"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",0.0],PARAMETER["Standard_Parallel_1",0.0],PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`

const ogcUTM18N = `PROJCS["WGS 84 / UTM zone 18N",
    GEOGCS["WGS 84",
        DATUM["WGS_1984",
            SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],
            AUTHORITY["EPSG","6326"]],
        PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],
        UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],
        AUTHORITY["EPSG","4326"]],
    PROJECTION["Transverse_Mercator"],
    PARAMETER["latitude_of_origin",0],
    PARAMETER["central_meridian",-75],
    PARAMETER["scale_factor",0.9996],
    PARAMETER["false_easting",500000],
    PARAMETER["false_northing",0],
    UNIT["metre",1,AUTHORITY["EPSG","9001"]],
    AXIS["Easting",EAST],
    AXIS["Northing",NORTH],
    AUTHORITY["EPSG","32618"]]`

const wkt2OrigenNacional = `PROJCRS["MAGNA-SIRGAS / Origen-Nacional",
    BASEGEOGCRS["MAGNA-SIRGAS",
        DATUM["Marco Geocentrico Nacional de Referencia",
            ELLIPSOID["GRS 1980",6378137,298.257222101,LENGTHUNIT["metre",1]]],
        PRIMEM["Greenwich",0,ANGLEUNIT["degree",0.0174532925199433]],
        ID["EPSG",4686]],
    CONVERSION["Colombia Transverse Mercator",
        METHOD["Transverse Mercator",ID["EPSG",9807]],
        PARAMETER["Latitude of natural origin",4,ANGLEUNIT["degree",0.0174532925199433],ID["EPSG",8801]],
        PARAMETER["Longitude of natural origin",-73,ANGLEUNIT["degree",0.0174532925199433],ID["EPSG",8802]],
        PARAMETER["Scale factor at natural origin",0.9992,SCALEUNIT["unity",1],ID["EPSG",8805]],
        PARAMETER["False easting",5000000,LENGTHUNIT["metre",1],ID["EPSG",8806]],
        PARAMETER["False northing",2000000,LENGTHUNIT["metre",1],ID["EPSG",8807]]],
    CS[Cartesian,2],
        AXIS["northing (N)",north,ORDER[1],LENGTHUNIT["metre",1]],
        AXIS["easting (E)",east,ORDER[2],LENGTHUNIT["metre",1]],
    ID["EPSG",9377]]`

func TestParseWKT_EsriTransverseMercator(t *testing.T) {
	c, err := ParseWKT(esriOrigenNacional)
	require.NoError(t, err)

	assert.Empty(t, c.Code)
	assert.Equal(t, "MAGNA-SIRGAS_Origen-Nacional", c.Name)
	assert.Equal(t, "MAGNA-SIRGAS_Origen-Nacional", c.String())
	assert.False(t, c.IsGeographic())

	ref := MustLookup("EPSG:9377")
	for _, p := range [][2]float64{{4800000, 2300000}, {5000000, 2000000}, {5200000, 1500000}} {
		lon, lat := c.Unproject(p[0], p[1])
		wantLon, wantLat := ref.Unproject(p[0], p[1])
		assert.InDelta(t, wantLon, lon, 1e-12)
		assert.InDelta(t, wantLat, lat, 1e-12)
	}
}

func TestParseWKT_AuthorityWins(t *testing.T) {
	c, err := ParseWKT(ogcUTM18N)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32618", c.Code)
}

func TestParseWKT_WKT2WithID(t *testing.T) {
	c, err := ParseWKT(wkt2OrigenNacional)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:9377", c.Code)
}

func TestParseWKT_WKT2WithoutID(t *testing.T) {
	text := wkt2OrigenNacional[:len(wkt2OrigenNacional)-len(`,
    ID["EPSG",9377]]`)] + "]"
	c, err := ParseWKT(text)
	require.NoError(t, err)
	assert.Empty(t, c.Code)

	lon, lat := c.Unproject(5000000, 2000000)
	assert.InDelta(t, -73.0, lon, 1e-9)
	assert.InDelta(t, 4.0, lat, 1e-9)
}

func TestParseWKT_Geographic(t *testing.T) {
	c, err := ParseWKT(`GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`)
	require.NoError(t, err)
	assert.True(t, c.IsGeographic())
	assert.Equal(t, "GCS_WGS_1984", c.Name)
}

func TestParseWKT_WebMercator(t *testing.T) {
	c, err := ParseWKT(esriWebMercator)
	require.NoError(t, err)
	lon, lat := c.Unproject(0, 0)
	assert.InDelta(t, 0.0, lon, 1e-12)
	assert.InDelta(t, 0.0, lat, 1e-12)
}

func TestParseWKT_FootUnits(t *testing.T) {
	text := `PROJCS["TM feet",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-75.0],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Foot",0.3048]]`
	c, err := ParseWKT(text)
	require.NoError(t, err)

	x, y := c.Project(-74, 5)
	lon, lat := c.Unproject(x, y)
	assert.InDelta(t, -74.0, lon, 1e-9)
	assert.InDelta(t, 5.0, lat, 1e-9)

	metric, err := ParseWKT(text[:len(text)-len(`UNIT["Foot",0.3048]]`)] + `UNIT["Meter",1.0]]`)
	require.NoError(t, err)
	mx, _ := metric.Project(-74, 5)
	assert.InDelta(t, mx/0.3048, x, 1e-6)
}

func TestParseWKT_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"garbage":      "not wkt at all",
		"unterminated": `PROJCS["x",GEOGCS["y"`,
		"local":        `LOCAL_CS["engineering grid",UNIT["metre",1]]`,
		"lambert":      `PROJCS["LCC",GEOGCS["GCS_WGS_1984"],PROJECTION["Lambert_Conformal_Conic"],UNIT["Meter",1.0]]`,
		"zero scale":   tmWithScale("0"),
		"neg scale":    tmWithScale("-0.9992"),
		"nan scale":    tmWithScale("NaN"),
		"inf scale":    tmWithScale("+Inf"),
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWKT(text)
			require.Error(t, err)
			var target *domain.UnsupportedCRSError
			assert.True(t, errors.As(err, &target))
		})
	}
}

func tmWithScale(k string) string {
	return `PROJCS["TM",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",5000000.0],PARAMETER["False_Northing",2000000.0],PARAMETER["Central_Meridian",-73.0],PARAMETER["Scale_Factor",` + k + `],PARAMETER["Latitude_Of_Origin",4.0],UNIT["Meter",1.0]]`
}

func TestParseWKT_OutOfRangeOrigin(t *testing.T) {
	for _, text := range []string{
		strings.Replace(tmWithScale("0.9992"), `"Central_Meridian",-73.0`, `"Central_Meridian",-273.0`, 1),
		strings.Replace(tmWithScale("0.9992"), `"Latitude_Of_Origin",4.0`, `"Latitude_Of_Origin",94.0`, 1),
	} {
		_, err := ParseWKT(text)
		var target *domain.UnsupportedCRSError
		assert.True(t, errors.As(err, &target), text)
	}
}

func TestParseWKT_ValidScaleStillProjects(t *testing.T) {
	c, err := ParseWKT(tmWithScale("0.9992"))
	require.NoError(t, err)
	x, y := c.Project(-73, 4)
	assert.InDelta(t, 5000000.0, x, 1e-6)
	assert.InDelta(t, 2000000.0, y, 1e-6)
}
