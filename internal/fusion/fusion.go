// Package fusion combines the UGPS global fix and the independently reported
// acoustic accuracy into the single GPS_INPUT record consumed by the autopilot.
//
// The autopilot stops trusting GPS data when fix_type is 0, so every unknown or
// degraded path collapses to that one value. HDOP and VDOP carry UGPS values in
// ways a real GNSS receiver would not: VDOP holds the acoustic standard
// deviation so it shows up in ground-station GUIs.
package fusion

import (
	"math"

	"github.com/waterlinked/blueos-ugps-extension/internal/ugps"
)

const (
	// IgnoreFlags marks alt, vel_horiz, vel_vert, speed_accuracy and
	// vertical_accuracy as not provided (GPS_INPUT_IGNORE_FLAG_*).
	IgnoreFlags = 1 | 8 | 16 | 32 | 128

	// UnknownDOP is the wire value for an unknown HDOP/VDOP.
	UnknownDOP = 65535.0

	// MaxRangeAccuracyM is the horizontal accuracy reported without an
	// acoustic solution.
	MaxRangeAccuracyM = 300.0

	// FixNone and Fix3D are the two fix types the bridge produces itself.
	// Other values come straight from the UGPS fix_quality.
	FixNone = 0
	Fix3D   = 3

	// forcedSatellites keeps the autopilot's satellite-count check satisfied
	// when GPS quality is ignored.
	forcedSatellites = 6

	yawInvalid = 0
	yawNorth   = 36000
)

// Options are the operator overrides.
type Options struct {
	// IgnoreGPS treats the topside GPS as always good.
	IgnoreGPS bool
	// IgnoreAcoustic stops a missing or invalid acoustic fix from forcing FixNone.
	IgnoreAcoustic bool
}

// Record is a GPS_INPUT message body, in wire units.
type Record struct {
	GPSID             int     `json:"gps_id"`
	IgnoreFlags       int     `json:"ignore_flags"`
	FixType           int     `json:"fix_type"`
	HDOP              float64 `json:"hdop"`
	HorizAccuracy     float64 `json:"horiz_accuracy"`
	VDOP              float64 `json:"vdop"`
	Lat               int32   `json:"lat"`
	Lon               int32   `json:"lon"`
	Yaw               uint16  `json:"yaw"`
	SatellitesVisible int     `json:"satellites_visible"`
}

// Fuse builds the GPS_INPUT record for one cycle. global and acoustic are nil
// when the UGPS did not deliver them. Fuse has no state; identical inputs give
// identical records.
//
// A global or acoustic fix that carries non-finite or out-of-range values is
// treated as absent, so it degrades to FixNone rather than being dropped.
func Fuse(global *ugps.GlobalPosition, acoustic *ugps.AcousticPosition, cfg ugps.TopsideConfig, opts Options) Record {
	if !usableGlobal(global) {
		global = nil
	}
	if !usableAcoustic(acoustic) {
		acoustic = nil
	}

	rec := Record{IgnoreFlags: IgnoreFlags}
	ignoreGPSQuality := false

	switch {
	case global == nil:
		rec.FixType = FixNone
		rec.HDOP = UnknownDOP
		if opts.IgnoreGPS {
			rec.SatellitesVisible = forcedSatellites
		}
	case cfg.Demo || opts.IgnoreGPS || cfg.GPSStatic:
		// Demo and static topsides report fix_quality values that say nothing
		// about the position.
		rec.FixType = Fix3D
		rec.HDOP = 1
		ignoreGPSQuality = true
	default:
		rec.FixType = global.FixQuality
		rec.HDOP = UnknownDOP
		if global.HDOP > 0 {
			rec.HDOP = global.HDOP
		}
	}

	acousticOK := acoustic != nil && acoustic.Valid
	if !opts.IgnoreAcoustic && !acousticOK {
		rec.FixType = FixNone
	}

	rec.HorizAccuracy = MaxRangeAccuracyM
	rec.VDOP = UnknownDOP
	if acoustic != nil {
		rec.HorizAccuracy = acoustic.Std
		rec.VDOP = acoustic.Std
	}

	if global != nil {
		rec.Lat = scaleDeg(global.LatDeg)
		rec.Lon = scaleDeg(global.LonDeg)
		minSats := 0
		if ignoreGPSQuality {
			minSats = forcedSatellites
		}
		rec.SatellitesVisible = max(global.NumSats, minSats)
		rec.Yaw = yawCentidegrees(global.Orientation)
	}
	return rec
}

func usableGlobal(g *ugps.GlobalPosition) bool {
	return g != nil &&
		finite(g.LatDeg) && g.LatDeg >= -90 && g.LatDeg <= 90 &&
		finite(g.LonDeg) && g.LonDeg >= -180 && g.LonDeg <= 180 &&
		finite(g.Orientation) && finite(g.HDOP)
}

func usableAcoustic(a *ugps.AcousticPosition) bool {
	return a != nil && finite(a.Std)
}

// scaleDeg converts decimal degrees to degE7, rounding toward -inf.
func scaleDeg(deg float64) int32 {
	return int32(math.Floor(deg * 1e7))
}

// yawCentidegrees maps a UGPS orientation to GPS_INPUT yaw, where 0 means
// "no yaw" and due north is sent as 36000.
func yawCentidegrees(orientation float64) uint16 {
	switch {
	case orientation == -1:
		return yawInvalid
	case orientation == 0:
		return yawNorth
	}
	cd := math.Floor(ugps.NormalizeHeading(orientation) * 100)
	switch {
	case cd <= 0:
		// Headings within 0.01 deg east of north floor to the "no yaw" value.
		return yawInvalid
	case cd > yawNorth:
		return yawNorth
	}
	return uint16(cd)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
