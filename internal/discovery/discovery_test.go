package discovery

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

func mustListen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	return conn
}

func TestHandleDatagramProbeRepliesWithAnnouncement(t *testing.T) {
	replier := mustListen(t)
	defer replier.Close()

	prober := mustListen(t)
	defer prober.Close()
	proberAddr := prober.LocalAddr().(*net.UDPAddr)

	svc := New(Config{DeviceName: "desktop", APIPort: 8080}, nil)
	svc.conn = replier

	svc.handleDatagram([]byte(probePrefix+"phone"), proberAddr)

	prober.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := prober.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}

	var a announcement
	if err := json.Unmarshal(buf[:n], &a); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if a.Type != announceType {
		t.Fatalf("expected type %q, got %q", announceType, a.Type)
	}
	if a.DeviceName != "desktop" {
		t.Fatalf("expected device_name %q, got %q", "desktop", a.DeviceName)
	}
	if a.APIPort != 8080 {
		t.Fatalf("expected api_port 8080, got %d", a.APIPort)
	}
}

func TestHandleDatagramAnnouncementUpsertsPeerAndFiresCallbackOnce(t *testing.T) {
	svc := New(Config{DeviceName: "desktop", APIPort: 8080}, nil)

	var seen []string
	svc.OnPeerSeen = func(ip string) { seen = append(seen, ip) }

	a := announcement{
		Type:       announceType,
		DeviceName: "phone",
		IP:         "10.0.0.9",
		APIPort:    9090,
		Timestamp:  time.Now().Unix(),
	}
	payload, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	svc.handleDatagram(payload, &net.UDPAddr{IP: net.ParseIP("10.0.0.9")})
	svc.handleDatagram(payload, &net.UDPAddr{IP: net.ParseIP("10.0.0.9")})

	if len(seen) != 1 {
		t.Fatalf("expected callback fired exactly once, got %d times: %v", len(seen), seen)
	}

	peers := svc.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	if peers[0].DeviceName != "phone" || peers[0].APIPort != 9090 {
		t.Fatalf("unexpected peer record: %+v", peers[0])
	}
}

func TestHandleDatagramIgnoresMalformedPayload(t *testing.T) {
	svc := New(Config{DeviceName: "desktop", APIPort: 8080}, nil)
	svc.handleDatagram([]byte("not json and not a probe"), &net.UDPAddr{IP: net.ParseIP("10.0.0.9")})
	if len(svc.Peers()) != 0 {
		t.Fatalf("expected no peers recorded from malformed payload")
	}
}

func TestStartAndCloseRoundTripsAnnouncement(t *testing.T) {
	// Port 0 normalizes to DefaultPort, so each service gets its own port.
	a := New(Config{DeviceName: "host-a", APIPort: 6001, Port: 37120, Interval: 50 * time.Millisecond}, nil)
	b := New(Config{DeviceName: "host-b", APIPort: 6002, Port: 37121, Interval: 50 * time.Millisecond}, nil)

	if err := a.Start(); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	defer a.Close()
	if err := b.Start(); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	defer b.Close()

	aAddr := a.conn.LocalAddr().(*net.UDPAddr)
	payload, err := b.buildAnnouncement()
	if err != nil {
		t.Fatalf("buildAnnouncement: %v", err)
	}
	if _, err := b.conn.WriteToUDP(payload, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: aAddr.Port}); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.Peers()) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected host-a to observe host-b's announcement within timeout")
}
