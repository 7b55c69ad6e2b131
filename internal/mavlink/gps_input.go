package mavlink

import (
	"context"

	"github.com/waterlinked/blueos-ugps-extension/internal/fusion"
	"github.com/waterlinked/blueos-ugps-extension/internal/monitoring"
)

// SendGPSInput posts one GPS_INPUT message built from rec. It does not retry.
func (c *Client) SendGPSInput(ctx context.Context, rec fusion.Record) bool {
	out, err := c.template(ctx, "GPS_INPUT")
	if err != nil {
		monitoring.Logf("mavlink: %v", err)
		return false
	}
	header, err := section(out, "header")
	if err != nil {
		monitoring.Logf("mavlink: GPS_INPUT template: %v", err)
		return false
	}
	msg, err := section(out, "message")
	if err != nil {
		monitoring.Logf("mavlink: GPS_INPUT template: %v", err)
		return false
	}

	header["system_id"] = c.vehicle
	header["component_id"] = c.component

	msg["gps_id"] = rec.GPSID
	flags, ok := msg["ignore_flags"].(map[string]any)
	if !ok {
		flags = map[string]any{}
		msg["ignore_flags"] = flags
	}
	flags["bits"] = rec.IgnoreFlags
	msg["fix_type"] = clampU8(rec.FixType)
	msg["hdop"] = rec.HDOP
	msg["vdop"] = rec.VDOP
	msg["horiz_accuracy"] = rec.HorizAccuracy
	msg["lat"] = rec.Lat
	msg["lon"] = rec.Lon
	msg["satellites_visible"] = clampU8(rec.SatellitesVisible)
	msg["yaw"] = rec.Yaw

	return c.post(ctx, "GPS_INPUT", out)
}

func clampU8(v int) int {
	return min(max(v, 0), 255)
}
