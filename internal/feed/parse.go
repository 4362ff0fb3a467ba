package feed

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
	"github.com/couchcryptid/warning-calendar-service/internal/geo"
)

// ErrDiscard marks a feed record that cannot become a Warning.
var ErrDiscard = errors.New("feed record discarded")

var warningTypeCodes = map[int64]domain.WarningType{
	1: domain.WarningStorm,
	2: domain.WarningRain,
	3: domain.WarningSnow,
	4: domain.WarningBlackIce,
	5: domain.WarningThunderstorm,
	6: domain.WarningHeat,
	7: domain.WarningCold,
}

var severityCodes = map[int64]domain.Severity{
	1: domain.SeverityLow,
	2: domain.SeverityMedium,
	3: domain.SeverityHigh,
	4: domain.SeverityExtreme,
}

// ParseFeature normalizes one GeoSphere feature. Unknown type and level codes
// default to unknown and low; a missing identity, timestamp or usable
// coordinate yields an error wrapping ErrDiscard.
func ParseFeature(f *geojson.Feature, proj geo.Projection) (domain.Warning, error) {
	if f == nil {
		return domain.Warning{}, fmt.Errorf("%w: empty feature", ErrDiscard)
	}
	props := f.Properties

	id, ok := warningID(props)
	if !ok {
		return domain.Warning{}, fmt.Errorf("%w: missing warnid", ErrDiscard)
	}

	start, ok := epoch(props, "start")
	if !ok {
		return domain.Warning{}, fmt.Errorf("%w: %s: invalid start time", ErrDiscard, id)
	}
	end, ok := epoch(props, "end")
	if !ok {
		return domain.Warning{}, fmt.Errorf("%w: %s: invalid end time", ErrDiscard, id)
	}

	area, centroid, ok := extent(f.Geometry, proj)
	if !ok {
		return domain.Warning{}, fmt.Errorf("%w: %s: no usable geometry", ErrDiscard, id)
	}

	wtype := domain.WarningUnknown
	if code, ok := propInt(props, "wtype"); ok {
		if t, known := warningTypeCodes[code]; known {
			wtype = t
		}
	}
	severity := domain.SeverityLow
	if code, ok := propInt(props, "wlevel"); ok {
		if s, known := severityCodes[code]; known {
			severity = s
		}
	}
	areas := areaNames(props)

	raw, err := f.MarshalJSON()
	if err != nil {
		return domain.Warning{}, fmt.Errorf("%w: %s: encode raw payload: %v", ErrDiscard, id, err)
	}

	return domain.Warning{
		ID:          id,
		Type:        wtype,
		Severity:    severity,
		StartTime:   start,
		EndTime:     end,
		Centroid:    centroid,
		Area:        area,
		AreaNames:   areas,
		Description: domain.Describe(wtype, severity, areas),
		RawPayload:  raw,
	}, nil
}

// warningID builds "geosphere-<warnid>" with "-<chgid>" appended when the feed
// reports a revision.
func warningID(props geojson.Properties) (string, bool) {
	warnID, ok := propString(props, "warnid")
	if !ok {
		return "", false
	}
	id := "geosphere-" + warnID
	if chgID, ok := propString(props, "chgid"); ok {
		id += "-" + chgID
	}
	return id, true
}

func extent(g orb.Geometry, proj geo.Projection) (orb.MultiPolygon, orb.Point, bool) {
	var raw orb.MultiPolygon
	switch v := g.(type) {
	case orb.Point:
		p, ok := proj.ToWGS84(v)
		return nil, p, ok
	case orb.Polygon:
		raw = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		raw = v
	default:
		return nil, orb.Point{}, false
	}

	area := proj.ProjectArea(raw)
	if c, ok := geo.Centroid(area); ok {
		return area, c, true
	}
	if p, ok := proj.FirstValidPoint(raw); ok {
		return nil, p, true
	}
	return nil, orb.Point{}, false
}

func epoch(props geojson.Properties, key string) (time.Time, bool) {
	secs, ok := propInt(props, key)
	if !ok || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

func areaNames(props geojson.Properties) []string {
	switch v := props["gemeinden"].(type) {
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				names = append(names, strings.TrimSpace(s))
			}
		}
		return names
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{strings.TrimSpace(v)}
	default:
		return nil
	}
}

// propInt reads an integer property that may be encoded as a number or a string.
func propInt(props geojson.Properties, key string) (int64, bool) {
	switch v := props[key].(type) {
	case float64:
		return floatToInt(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func propString(props geojson.Properties, key string) (string, bool) {
	switch v := props[key].(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case float64:
		if n, ok := floatToInt(v); ok {
			return strconv.FormatInt(n, 10), true
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// floatToInt converts a whole JSON number that fits in int64. Conversion of
// an out-of-range float is implementation-defined in Go, so those are refused.
func floatToInt(v float64) (int64, bool) {
	if math.IsNaN(v) || v != math.Trunc(v) {
		return 0, false
	}
	if v < math.MinInt64 || v >= math.MaxInt64 {
		return 0, false
	}
	return int64(v), true
}
