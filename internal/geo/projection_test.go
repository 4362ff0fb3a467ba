package geo_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/warning-calendar-service/internal/geo"
)

// Vienna in EPSG:3857.
var viennaMercator = orb.Point{1822740.0, 6141500.0}

func TestParseProjection(t *testing.T) {
	p, err := geo.ParseProjection("EPSG:3857")
	require.NoError(t, err)
	assert.Equal(t, geo.WebMercator, p)

	_, err = geo.ParseProjection("EPSG:31287")
	assert.Error(t, err)
}

func TestToWGS84_WebMercator(t *testing.T) {
	pt, ok := geo.WebMercator.ToWGS84(viennaMercator)
	require.True(t, ok)
	assert.InDelta(t, 16.374, pt.Lon(), 0.01)
	assert.InDelta(t, 48.208, pt.Lat(), 0.01)
}

func TestToWGS84_OutOfBounds(t *testing.T) {
	_, ok := geo.WebMercator.ToWGS84(orb.Point{4.0e7, 0})
	assert.False(t, ok)

	_, ok = geo.WGS84.ToWGS84(orb.Point{16, 95})
	assert.False(t, ok)
}

func TestProjectArea_DropsDegenerateRings(t *testing.T) {
	good := orb.Ring{
		{1800000, 6100000}, {1850000, 6100000}, {1850000, 6150000}, {1800000, 6100000},
	}
	tooShort := orb.Ring{{1800000, 6100000}, {1850000, 6100000}, {1800000, 6100000}}
	outOfBounds := orb.Ring{{1800000, 6100000}, {9.9e7, 6100000}, {1850000, 6150000}, {1800000, 6100000}}

	mp := orb.MultiPolygon{
		{good, tooShort},
		{outOfBounds},
		{tooShort},
	}

	got := geo.WebMercator.ProjectArea(mp)
	require.Len(t, got, 1)
	require.Len(t, got[0], 1, "invalid hole is dropped")
	assert.InDelta(t, 16.17, got[0][0][0].Lon(), 0.01)
}

func TestProjectArea_NothingUsable(t *testing.T) {
	got := geo.WGS84.ProjectArea(orb.MultiPolygon{{orb.Ring{{1, 1}, {2, 2}}}})
	assert.Nil(t, got)
}

func TestFirstValidPoint(t *testing.T) {
	mp := orb.MultiPolygon{{orb.Ring{{9.9e7, 0}, viennaMercator}}}
	pt, ok := geo.WebMercator.FirstValidPoint(mp)
	require.True(t, ok)
	assert.InDelta(t, 48.208, pt.Lat(), 0.01)
}
