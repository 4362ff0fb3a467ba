package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// DefaultLookahead bounds how far ahead a warning may start and still be dispatched.
const DefaultLookahead = 7 * 24 * time.Hour

// WarningType is the canonical category of a warning.
type WarningType string

const (
	WarningStorm        WarningType = "storm"
	WarningRain         WarningType = "rain"
	WarningSnow         WarningType = "snow"
	WarningBlackIce     WarningType = "black_ice"
	WarningThunderstorm WarningType = "thunderstorm"
	WarningHeat         WarningType = "heat"
	WarningCold         WarningType = "cold"
	WarningUnknown      WarningType = "unknown"
)

// WarningTypes lists every canonical type, in feed code order.
var WarningTypes = []WarningType{
	WarningStorm,
	WarningRain,
	WarningSnow,
	WarningBlackIce,
	WarningThunderstorm,
	WarningHeat,
	WarningCold,
	WarningUnknown,
}

// ParseWarningType accepts the canonical spelling only.
func ParseWarningType(s string) (WarningType, bool) {
	for _, t := range WarningTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Title renders the type for humans, e.g. "black_ice" -> "Black Ice".
func (t WarningType) Title() string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Severity is the canonical warning level.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
	SeverityExtreme Severity = "extreme"
)

func (s Severity) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Warning is a validated warning as produced by the feed parser. Every field
// except Area is always populated.
type Warning struct {
	ID          string
	Type        WarningType
	Severity    Severity
	StartTime   time.Time
	EndTime     time.Time
	Centroid    orb.Point        // lon/lat, WGS-84
	Area        orb.MultiPolygon // nil when the feed carried no usable polygon
	AreaNames   []string
	Description string
	RawPayload  json.RawMessage
}

// HasArea reports whether polygon geometry is available for containment tests.
func (w Warning) HasArea() bool {
	for _, p := range w.Area {
		if len(p) > 0 && len(p[0]) > 0 {
			return true
		}
	}
	return false
}

// AreaText joins the affected municipalities for display.
func (w Warning) AreaText() string {
	return areaText(w.AreaNames)
}

// InWindow reports whether the warning has not yet ended at now and starts no
// later than now+lookahead.
func (w Warning) InWindow(now time.Time, lookahead time.Duration) bool {
	return w.EndTime.After(now) && !w.StartTime.After(now.Add(lookahead))
}

// FilterWindow keeps the warnings for which InWindow holds, preserving order.
func FilterWindow(warnings []Warning, now time.Time, lookahead time.Duration) []Warning {
	out := make([]Warning, 0, len(warnings))
	for _, w := range warnings {
		if w.InWindow(now, lookahead) {
			out = append(out, w)
		}
	}
	return out
}

// Describe builds the human-readable text attached to calendar events.
func Describe(t WarningType, s Severity, areas []string) string {
	return fmt.Sprintf("%s Warning\nSeverity Level: %s\nAffected Areas: %s",
		t.Title(), s.Title(), areaText(areas))
}

func areaText(areas []string) string {
	if len(areas) == 0 {
		return "Unknown area"
	}
	return strings.Join(areas, ", ")
}
