package app

import (
	"log"
	"strings"
	"time"
)

// DefaultReferenceZone is the zone session labels and dedupe buckets are computed in
const DefaultReferenceZone = "America/New_York"

// Trading session labels
const (
	SessionAsia    = "ASIA"
	SessionLondon  = "LONDON"
	SessionNYAM    = "NY_AM"
	SessionNYLunch = "NY_LUNCH"
	SessionNYPM    = "NY_PM"
)

// Dedupe hour bucket layout (yyyyMMdd_HH)
const dedupeBucketLayout = "20060102_15"

// LoadReferenceLocation loads the reference time zone, falling back to a fixed
// UTC-5 offset when the zone database is unavailable.
func LoadReferenceLocation(name string) *time.Location {
	if name == "" {
		name = DefaultReferenceZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("⚠️ Failed to load timezone %s: %v", name, err)
		// Fallback: assume UTC-5 offset
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// SessionLabel maps the wall-clock hour in loc to one of five sessions:
// [18,24)+[0,3) ASIA, [3,8) LONDON, [8,12) NY_AM, [12,14) NY_LUNCH, [14,18) NY_PM.
func SessionLabel(t time.Time, loc *time.Location) string {
	hour := t.In(loc).Hour()

	switch {
	case hour >= 18 || hour < 3:
		return SessionAsia
	case hour < 8:
		return SessionLondon
	case hour < 12:
		return SessionNYAM
	case hour < 14:
		return SessionNYLunch
	default:
		return SessionNYPM
	}
}

// DedupeKey derives {symbol}_{direction}_{zone}_{yyyyMMdd_HH}, with hyphens and
// spaces stripped from the zone and the hour taken in loc.
func DedupeKey(symbol, direction, entryZone string, now time.Time, loc *time.Location) string {
	zone := strings.NewReplacer("-", "", " ", "").Replace(entryZone)
	return symbol + "_" + direction + "_" + zone + "_" + now.In(loc).Format(dedupeBucketLayout)
}
