package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// Location is a named point a user wants warnings for.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// NewLocation validates and builds a Location.
func NewLocation(name string, lat, lon float64) (Location, error) {
	l := Location{Name: strings.TrimSpace(name), Lat: lat, Lon: lon}
	if err := l.Validate(); err != nil {
		return Location{}, err
	}
	return l, nil
}

// Validate checks the name and the WGS-84 coordinate ranges.
func (l Location) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLocation)
	}
	if !ValidLatLon(l.Lat, l.Lon) {
		return fmt.Errorf("%w: lat=%v lon=%v out of range", ErrInvalidLocation, l.Lat, l.Lon)
	}
	return nil
}

// Point returns the location as an orb point (lon, lat).
func (l Location) Point() orb.Point {
	return orb.Point{l.Lon, l.Lat}
}

// ValidLatLon reports whether lat is in [-90,90] and lon in [-180,180].
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
