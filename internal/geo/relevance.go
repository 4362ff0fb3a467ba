// Package geo decides whether a user location is affected by a warning.
//
// Polygon containment wins when the warning carries an area. Otherwise the
// point is compared to the area boundary, and failing that to the centroid.
// All coordinates are WGS-84 lon/lat and all distances are kilometers on a
// spherical earth.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

// DefaultRadiusKm is the relevance radius used when none is configured.
const DefaultRadiusKm = 50.0

// IsRelevant reports whether a warning affects point. It never panics on bad
// geometry; unusable polygons fall through to the centroid distance.
func IsRelevant(point orb.Point, w domain.Warning, radiusKm float64) bool {
	if w.HasArea() {
		if planar.MultiPolygonContains(w.Area, point) {
			return true
		}
		if d, ok := DistanceToBoundaryKm(point, w.Area); ok {
			return d <= radiusKm
		}
	}
	return DistanceKm(point, w.Centroid) <= radiusKm
}

// DistanceKm is the great-circle distance between two lon/lat points.
func DistanceKm(a, b orb.Point) float64 {
	return orbgeo.Distance(a, b) / 1000
}

// DistanceToBoundaryKm returns the distance from point to the nearest edge of
// any ring in mp. The second result is false when mp has no usable edge.
func DistanceToBoundaryKm(point orb.Point, mp orb.MultiPolygon) (float64, bool) {
	best := math.Inf(1)
	for _, poly := range mp {
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				c := closestOnSegment(point, ring[i], ring[i+1])
				if d := DistanceKm(point, c); d < best {
					best = d
				}
			}
		}
	}
	if math.IsInf(best, 1) || math.IsNaN(best) {
		return 0, false
	}
	return best, true
}

// closestOnSegment finds the point of segment ab closest to p in a local
// equirectangular frame centred on p. Warning areas span at most a few hundred
// kilometers, where the frame distortion is well below the radius precision.
func closestOnSegment(p, a, b orb.Point) orb.Point {
	k := math.Cos(p.Lat() * math.Pi / 180)
	ax, ay := (a.Lon()-p.Lon())*k, a.Lat()-p.Lat()
	bx, by := (b.Lon()-p.Lon())*k, b.Lat()-p.Lat()
	dx, dy := bx-ax, by-ay

	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return a
	}
	t := -(ax*dx + ay*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return orb.Point{
		a.Lon() + t*(b.Lon()-a.Lon()),
		a.Lat() + t*(b.Lat()-a.Lat()),
	}
}

// Centroid returns the area-weighted centroid of mp.
func Centroid(mp orb.MultiPolygon) (orb.Point, bool) {
	c, area := planar.CentroidArea(mp)
	if area == 0 || math.IsNaN(c[0]) || math.IsNaN(c[1]) {
		return orb.Point{}, false
	}
	return c, true
}
