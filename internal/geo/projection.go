package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

// Projection identifies the coordinate reference system of feed geometry.
type Projection string

const (
	WebMercator Projection = "EPSG:3857"
	WGS84       Projection = "EPSG:4326"
)

// ParseProjection accepts the EPSG codes understood by ToWGS84.
func ParseProjection(s string) (Projection, error) {
	switch Projection(s) {
	case WebMercator, WGS84:
		return Projection(s), nil
	default:
		return "", fmt.Errorf("unsupported projection %q", s)
	}
}

// ToWGS84 converts pt to lon/lat. The second result is false when the
// converted point is not finite or lies outside valid lat/lon bounds.
func (p Projection) ToWGS84(pt orb.Point) (orb.Point, bool) {
	out := pt
	if p == WebMercator {
		out = project.Mercator.ToWGS84(pt)
	}
	if math.IsInf(out[0], 0) || math.IsInf(out[1], 0) {
		return orb.Point{}, false
	}
	if !domain.ValidLatLon(out.Lat(), out.Lon()) {
		return orb.Point{}, false
	}
	return out, true
}

// ProjectArea converts mp to WGS-84 and drops anything unusable. A ring with
// fewer than four vertices or any vertex out of bounds is dropped; a polygon
// whose outer ring is dropped is dropped whole. The result is nil when no
// polygon survives.
func (p Projection) ProjectArea(mp orb.MultiPolygon) orb.MultiPolygon {
	var out orb.MultiPolygon
	for _, poly := range mp {
		if len(poly) == 0 {
			continue
		}
		outer, ok := p.projectRing(poly[0])
		if !ok {
			continue
		}
		projected := orb.Polygon{outer}
		for _, hole := range poly[1:] {
			if r, ok := p.projectRing(hole); ok {
				projected = append(projected, r)
			}
		}
		out = append(out, projected)
	}
	return out
}

// FirstValidPoint returns the first vertex of mp that projects in bounds.
func (p Projection) FirstValidPoint(mp orb.MultiPolygon) (orb.Point, bool) {
	for _, poly := range mp {
		for _, ring := range poly {
			for _, pt := range ring {
				if out, ok := p.ToWGS84(pt); ok {
					return out, true
				}
			}
		}
	}
	return orb.Point{}, false
}

func (p Projection) projectRing(r orb.Ring) (orb.Ring, bool) {
	if len(r) < 4 {
		return nil, false
	}
	out := make(orb.Ring, len(r))
	for i, pt := range r {
		wgs, ok := p.ToWGS84(pt)
		if !ok {
			return nil, false
		}
		out[i] = wgs
	}
	return out, true
}
