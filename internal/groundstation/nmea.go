package groundstation

import (
	"fmt"
	"math"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/waterlinked/blueos-ugps-extension/internal/ugps"
)

const knotsPerMS = 1.9438444924406

// Encode renders pos as a GGA and an RMC sentence, CRLF terminated, stamped
// with t (UTC).
func Encode(t time.Time, pos ugps.GlobalPosition) []byte {
	t = t.UTC()
	var b strings.Builder
	b.WriteString(sentence(gga(t, pos)))
	b.WriteString(sentence(rmc(t, pos)))
	return []byte(b.String())
}

func sentence(body string) string {
	return "$" + body + "*" + nmea.Checksum(body) + "\r\n"
}

func gga(t time.Time, pos ugps.GlobalPosition) string {
	lat, ns := latField(pos.LatDeg)
	lon, ew := lonField(pos.LonDeg)
	quality := min(max(pos.FixQuality, 0), 8)
	sats := min(max(pos.NumSats, 0), 99)
	return fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,%d,%02d,%.1f,0.0,M,0.0,M,,",
		utcTime(t), lat, ns, lon, ew, quality, sats, pos.HDOP)
}

func rmc(t time.Time, pos ugps.GlobalPosition) string {
	lat, ns := latField(pos.LatDeg)
	lon, ew := lonField(pos.LonDeg)

	status, mode := "V", "N"
	if pos.FixQuality > 0 {
		status, mode = "A", "A"
	}

	speed := 0.0
	if pos.SOG != nil {
		speed = *pos.SOG * knotsPerMS
	}

	course := ""
	switch {
	case pos.COGDeg != nil:
		course = fmt.Sprintf("%.1f", ugps.NormalizeHeading(*pos.COGDeg))
	case pos.HeadingValid():
		course = fmt.Sprintf("%.1f", ugps.NormalizeHeading(pos.Orientation))
	}

	return fmt.Sprintf("GPRMC,%s,%s,%s,%s,%s,%s,%.1f,%s,%s,,,%s",
		utcTime(t), status, lat, ns, lon, ew, speed, course, t.Format("020106"), mode)
}

func utcTime(t time.Time) string {
	return fmt.Sprintf("%02d%02d%02d.%02d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e7)
}

func latField(deg float64) (string, string) {
	hemi := "N"
	if deg < 0 {
		hemi = "S"
	}
	d, m := degMin(math.Abs(deg))
	return fmt.Sprintf("%02d%07.4f", d, m), hemi
}

func lonField(deg float64) (string, string) {
	hemi := "E"
	if deg < 0 {
		hemi = "W"
	}
	d, m := degMin(math.Abs(deg))
	return fmt.Sprintf("%03d%07.4f", d, m), hemi
}

// degMin splits decimal degrees into whole degrees and minutes rounded to
// 1e-4, carrying into the degrees so minutes never print as 60.
func degMin(abs float64) (int, float64) {
	total := math.Round(abs*60*1e4) / 1e4
	d := math.Floor(total / 60)
	return int(d), total - d*60
}
