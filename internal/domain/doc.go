// Package domain models weather warnings issued by GeoSphere Austria and the
// users who subscribe to them.
//
// # Data Source
//
// Warnings come from the GeoSphere (formerly ZAMG) warning service at
// https://warnungen.zamg.at/wsapp/api. The service answers coordinate queries
// with a GeoJSON FeatureCollection, one feature per active warning.
//
// # Feed Conventions
//
// Identity:
//
//	"warnid" is the stable identifier of a warning event. "chgid" changes
//	whenever the issuing office revises the warning. A revised warning is
//	treated as a new warning (canonical id "geosphere-<warnid>-<chgid>").
//
// Warning type ("wtype"):
//
//	1 storm | 2 rain | 3 snow | 4 black ice | 5 thunderstorm | 6 heat | 7 cold
//	Any other code is "unknown".
//
// Warning level ("wlevel"):
//
//	1 yellow (low) | 2 orange (medium) | 3 red (high) | 4 violet (extreme)
//	Any other code is "low".
//
// Times:
//
//	"start" and "end" are Unix epoch seconds, sometimes encoded as strings.
//	A missing or zero timestamp makes the record unusable.
//
// Geometry:
//
//	Polygon or MultiPolygon in Web Mercator (EPSG:3857), occasionally a bare
//	Point. Coordinates are projected to WGS-84 before any distance is taken.
//
// # Dedup Ledger
//
// A [ProcessedRecord] is written once per (user, warning) pair after the
// calendar event has been created. The ledger is the only persistent trace of
// a warning; warnings themselves are rebuilt from the feed every cycle.
package domain
