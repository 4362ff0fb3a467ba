package geo_test

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
	"github.com/couchcryptid/warning-calendar-service/internal/geo"
)

var vienna = orb.Point{16.3738, 48.2082}

// square returns a closed ring of side 2*half degrees around c.
func square(c orb.Point, half float64) orb.Ring {
	return orb.Ring{
		{c[0] - half, c[1] - half},
		{c[0] + half, c[1] - half},
		{c[0] + half, c[1] + half},
		{c[0] - half, c[1] + half},
		{c[0] - half, c[1] - half},
	}
}

func TestIsRelevant_CentroidNearby(t *testing.T) {
	w := domain.Warning{Centroid: orb.Point{16.3800, 48.2100}}

	assert.True(t, geo.IsRelevant(vienna, w, geo.DefaultRadiusKm))
	assert.InDelta(t, 0.5, geo.DistanceKm(vienna, w.Centroid), 0.2)
}

func TestIsRelevant_CentroidFarAway(t *testing.T) {
	innsbruck := domain.Warning{Centroid: orb.Point{11.4041, 47.2692}}

	assert.False(t, geo.IsRelevant(vienna, innsbruck, geo.DefaultRadiusKm))
	assert.InDelta(t, 385, geo.DistanceKm(vienna, innsbruck.Centroid), 25)
}

func TestIsRelevant_RadiusIsInclusive(t *testing.T) {
	w := domain.Warning{Centroid: orb.Point{16.9, 48.5}}
	d := geo.DistanceKm(vienna, w.Centroid)

	assert.True(t, geo.IsRelevant(vienna, w, d))
	assert.False(t, geo.IsRelevant(vienna, w, math.Nextafter(d, 0)))
}

func TestIsRelevant_PolygonContainmentBeatsCentroidDistance(t *testing.T) {
	// Large area covering Vienna with a centroid placed far outside the radius.
	w := domain.Warning{
		Centroid: orb.Point{11.4041, 47.2692},
		Area:     orb.MultiPolygon{{square(vienna, 1)}},
	}

	assert.True(t, geo.IsRelevant(vienna, w, 1))
}

func TestIsRelevant_BoundaryDistance(t *testing.T) {
	// Area east of Vienna; its west edge lies at lon 16.9.
	area := orb.MultiPolygon{{orb.Ring{
		{16.9, 47.8}, {17.5, 47.8}, {17.5, 48.6}, {16.9, 48.6}, {16.9, 47.8},
	}}}
	w := domain.Warning{Centroid: orb.Point{17.2, 48.2}, Area: area}

	d, ok := geo.DistanceToBoundaryKm(vienna, area)
	require.True(t, ok)
	// 0.5262 degrees of longitude at 48.2N is about 39 km.
	assert.InDelta(t, 39, d, 1.5)
	assert.Less(t, d, geo.DistanceKm(vienna, w.Centroid))

	assert.True(t, geo.IsRelevant(vienna, w, 40))
	assert.False(t, geo.IsRelevant(vienna, w, 35))
}

func TestIsRelevant_BoundaryCheckedBeforeCentroid(t *testing.T) {
	// Boundary 39 km away, centroid over 60 km away: the boundary decides.
	area := orb.MultiPolygon{{orb.Ring{
		{16.9, 47.8}, {17.5, 47.8}, {17.5, 48.6}, {16.9, 48.6}, {16.9, 47.8},
	}}}
	w := domain.Warning{Centroid: orb.Point{17.2, 48.2}, Area: area}

	require.Greater(t, geo.DistanceKm(vienna, w.Centroid), 50.0)
	assert.True(t, geo.IsRelevant(vienna, w, 50))
}

func TestIsRelevant_DegenerateAreaFallsBackToCentroid(t *testing.T) {
	w := domain.Warning{
		Centroid: orb.Point{16.3800, 48.2100},
		Area:     orb.MultiPolygon{{orb.Ring{}}},
	}
	assert.False(t, w.HasArea())
	assert.True(t, geo.IsRelevant(vienna, w, geo.DefaultRadiusKm))
}

func TestDistanceToBoundaryKm_NoEdges(t *testing.T) {
	_, ok := geo.DistanceToBoundaryKm(vienna, orb.MultiPolygon{{orb.Ring{{16, 48}}}})
	assert.False(t, ok)
}

func TestCentroid(t *testing.T) {
	c, ok := geo.Centroid(orb.MultiPolygon{{square(vienna, 0.5)}})
	require.True(t, ok)
	assert.InDelta(t, vienna[0], c[0], 1e-9)
	assert.InDelta(t, vienna[1], c[1], 1e-9)

	_, ok = geo.Centroid(orb.MultiPolygon{})
	assert.False(t, ok)
}
