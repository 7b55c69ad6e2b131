package ugps

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrShape marks a payload that decoded but lacks a required field.
var ErrShape = errors.New("unexpected payload shape")

// GlobalPosition is a locator or topside fix as reported by /api/v1/position/global
// and /api/v1/position/master.
//
// Orientation is in degrees; -1 means the UGPS has no valid heading.
// HDOP is 0 when the payload did not carry one.
type GlobalPosition struct {
	LatDeg      float64  `json:"lat"`
	LonDeg      float64  `json:"lon"`
	Orientation float64  `json:"orientation"`
	HDOP        float64  `json:"hdop"`
	FixQuality  int      `json:"fix_quality"`
	NumSats     int      `json:"numsats"`
	COGDeg      *float64 `json:"cog,omitempty"`
	SOG         *float64 `json:"sog,omitempty"`
}

// HeadingValid reports whether Orientation carries a usable heading.
func (p GlobalPosition) HeadingValid() bool {
	return p.Orientation != -1 && !math.IsNaN(p.Orientation)
}

// AcousticPosition is the filtered acoustic solution of the locator relative
// to the topside. Std is the position standard deviation in meters.
type AcousticPosition struct {
	Valid bool    `json:"position_valid"`
	Std   float64 `json:"std"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// TopsideConfig mirrors the parts of /api/v1/config/generic the bridge cares
// about, plus whether the configured host is the public demo endpoint.
type TopsideConfig struct {
	GPSStatic     bool `json:"gps_static"`
	CompassStatic bool `json:"compass_static"`
	Demo          bool `json:"demo"`
}

type wirePosition struct {
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Orientation *float64 `json:"orientation"`
	HDOP        *float64 `json:"hdop"`
	FixQuality  *float64 `json:"fix_quality"`
	NumSats     *float64 `json:"numsats"`
	COG         *float64 `json:"cog"`
	SOG         *float64 `json:"sog"`
}

type wireAcoustic struct {
	PositionValid *bool    `json:"position_valid"`
	Std           *float64 `json:"std"`
	X             *float64 `json:"x"`
	Y             *float64 `json:"y"`
	Z             *float64 `json:"z"`
}

func parsePosition(raw []byte) (GlobalPosition, error) {
	var w wirePosition
	if err := json.Unmarshal(raw, &w); err != nil {
		return GlobalPosition{}, fmt.Errorf("%w: %v", ErrShape, err)
	}
	if w.Lat == nil || w.Lon == nil || w.Orientation == nil {
		return GlobalPosition{}, fmt.Errorf("%w: lat, lon and orientation are required", ErrShape)
	}
	if *w.Lat < -90 || *w.Lat > 90 || *w.Lon < -180 || *w.Lon > 180 {
		return GlobalPosition{}, fmt.Errorf("%w: lat=%v lon=%v out of range", ErrShape, *w.Lat, *w.Lon)
	}

	p := GlobalPosition{
		LatDeg:      *w.Lat,
		LonDeg:      *w.Lon,
		Orientation: *w.Orientation,
		COGDeg:      w.COG,
		SOG:         w.SOG,
	}
	if w.HDOP != nil {
		p.HDOP = *w.HDOP
	}
	if w.FixQuality != nil {
		p.FixQuality = int(*w.FixQuality)
	}
	if w.NumSats != nil && *w.NumSats > 0 {
		p.NumSats = int(*w.NumSats)
	}
	return p, nil
}

func parseAcoustic(raw []byte) (AcousticPosition, error) {
	var w wireAcoustic
	if err := json.Unmarshal(raw, &w); err != nil {
		return AcousticPosition{}, fmt.Errorf("%w: %v", ErrShape, err)
	}
	if w.PositionValid == nil || w.Std == nil {
		return AcousticPosition{}, fmt.Errorf("%w: position_valid and std are required", ErrShape)
	}
	p := AcousticPosition{Valid: *w.PositionValid, Std: *w.Std}
	if w.X != nil {
		p.X = *w.X
	}
	if w.Y != nil {
		p.Y = *w.Y
	}
	if w.Z != nil {
		p.Z = *w.Z
	}
	return p, nil
}

// NormalizeHeading reduces deg into [0, 360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}
