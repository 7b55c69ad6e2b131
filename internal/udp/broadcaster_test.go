package udp

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

type recordingConn struct {
	sent     []string
	failWith error
	closed   int
}

func (c *recordingConn) Write(p []byte) (int, error) {
	if c.failWith != nil {
		return 0, c.failWith
	}
	c.sent = append(c.sent, string(p))
	return len(p), nil
}

func (c *recordingConn) Close() error {
	c.closed++
	return nil
}

func fixedResolver(ip string) resolveFunc {
	return func(network, address string) (*net.UDPAddr, error) {
		_, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		return net.ResolveUDPAddr(network, net.JoinHostPort(ip, port))
	}
}

func TestNewBroadcaster_QGCAddress(t *testing.T) {
	var dialed *net.UDPAddr
	rc := &recordingConn{}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		if network != "udp" || laddr != nil {
			t.Fatalf("dial(%q, %v) want udp with no local addr", network, laddr)
		}
		dialed = raddr
		return rc, nil
	}

	b, err := newBroadcaster("topside.local:14401", fixedResolver("192.168.2.1"), dial)
	if err != nil {
		t.Fatalf("newBroadcaster() error: %v", err)
	}
	if b.Dest() != "topside.local:14401" {
		t.Fatalf("Dest()=%q", b.Dest())
	}
	if dialed == nil || dialed.Port != 14401 || !dialed.IP.Equal(net.IPv4(192, 168, 2, 1)) {
		t.Fatalf("dialed %v want 192.168.2.1:14401", dialed)
	}
}

func TestNewBroadcaster_Failures(t *testing.T) {
	noDial := func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) {
		t.Fatalf("dial must not be called")
		return nil, nil
	}
	if _, err := newBroadcaster("no-port", net.ResolveUDPAddr, noDial); err == nil || !strings.Contains(err.Error(), "resolve dest") {
		t.Fatalf("err=%v want resolve failure", err)
	}

	dialErr := errors.New("network is unreachable")
	failDial := func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return nil, dialErr }
	if _, err := newBroadcaster("10.0.0.1:14401", net.ResolveUDPAddr, failDial); !errors.Is(err, dialErr) {
		t.Fatalf("err=%v want %v", err, dialErr)
	}
}

func TestBroadcaster_SendsEachSentenceBatchOnce(t *testing.T) {
	rc := &recordingConn{}
	b := &Broadcaster{dest: "qgc", conn: rc}

	batch := "$GPGGA,000000.00,,,,,0,00,0.0,0.0,M,0.0,M,,*66\r\n"
	if err := b.Send([]byte(batch)); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if err := b.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if len(rc.sent) != 1 || rc.sent[0] != batch {
		t.Fatalf("sent=%q want one datagram %q", rc.sent, batch)
	}

	rc.failWith = errors.New("no buffer space")
	if err := b.Send([]byte(batch)); !errors.Is(err, rc.failWith) {
		t.Fatalf("err=%v want %v", err, rc.failWith)
	}
}

func TestBroadcaster_CloseIsFinal(t *testing.T) {
	rc := &recordingConn{}
	b := &Broadcaster{dest: "qgc", conn: rc}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if rc.closed != 1 {
		t.Fatalf("conn closed %d times want 1", rc.closed)
	}
	if err := b.Send([]byte("$GPRMC")); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := (&Broadcaster{}).Close(); err != nil {
		t.Fatalf("Close() on empty broadcaster: %v", err)
	}
}

func TestNewBroadcaster_LoopbackDelivery(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer pc.Close()

	b, err := NewBroadcaster(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewBroadcaster() error: %v", err)
	}
	defer b.Close()

	if err := b.Send([]byte("$GPGGA")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != "$GPGGA" {
		t.Fatalf("got %q", buf[:n])
	}
}
