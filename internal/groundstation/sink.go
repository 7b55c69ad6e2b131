// Package groundstation forwards the topside position to a ground control
// station (QGroundControl) as NMEA sentences over UDP.
package groundstation

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/waterlinked/blueos-ugps-extension/internal/ugps"
)

// DefaultPort is the UDP port QGroundControl listens on for NMEA input.
const DefaultPort = 14401

type sender interface {
	Send(payload []byte) error
}

type Sink struct {
	out sender
	now func() time.Time
}

// New returns a sink writing to out. now stamps the sentences; nil uses time.Now.
func New(out sender, now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	return &Sink{out: out, now: now}
}

// SendTopsidePosition writes one datagram. Delivery is not acknowledged.
func (s *Sink) SendTopsidePosition(pos ugps.GlobalPosition) error {
	if err := s.out.Send(Encode(s.now(), pos)); err != nil {
		return fmt.Errorf("send topside position: %w", err)
	}
	return nil
}

// Address joins ip and port, applying DefaultPort when port is 0.
func Address(ip string, port int) string {
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(strings.TrimSpace(ip), strconv.Itoa(port))
}
