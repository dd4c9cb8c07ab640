// Package discovery implements UDP broadcast peer discovery: hosts learn
// each other's device name, IP, and session-service port without any
// shared configuration, by periodically announcing themselves and
// replying to probes.
package discovery

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// DefaultPort is the UDP port discovery binds to by default.
const DefaultPort = 37020

// DefaultMulticastAddr is the alternative multicast group:port, offered
// for networks that suppress broadcast traffic.
const DefaultMulticastAddr = "224.0.0.251:37021"

// DefaultInterval is how often a participant announces itself.
const DefaultInterval = 5 * time.Second

// DefaultPeerTimeout is how long a peer record is considered live after
// its last announcement.
const DefaultPeerTimeout = 30 * time.Second

const probePrefix = "AIRTRANS_DISCOVERY:"
const announceType = "AIRTRANS_PEER"

// announcement is the JSON payload broadcast by a participant.
type announcement struct {
	Type       string `json:"type"`
	DeviceName string `json:"device_name"`
	IP         string `json:"ip"`
	APIPort    int    `json:"api_port"`
	Timestamp  int64  `json:"timestamp"`
}

// Config controls a Service's identity and timing.
type Config struct {
	DeviceName string
	APIPort    int
	Port       int
	Interval   time.Duration
	Timeout    time.Duration
	Multicast  bool
}

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultPeerTimeout
	}
}

// OnPeerSeen is invoked the first time a given IP is observed.
type OnPeerSeen func(ip string)

// Service runs the announcer and listener background tasks and maintains
// the live peer table.
type Service struct {
	cfg Config
	now func() time.Time

	conn   *net.UDPConn
	closed chan struct{}
	wg     sync.WaitGroup

	OnPeerSeen OnPeerSeen

	table *PeerTable
}

// New creates a discovery Service. now defaults to time.Now when nil; it
// is exposed so tests can control the clock.
func New(cfg Config, now func() time.Time) *Service {
	cfg.normalize()
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:    cfg,
		now:    now,
		closed: make(chan struct{}),
		table:  NewPeerTable(cfg.Timeout, now),
	}
}

// Start binds the discovery socket and launches the listener and
// announcer goroutines.
func (s *Service) Start() error {
	groupAddr := fmt.Sprintf(":%d", s.cfg.Port)
	addr, err := net.ResolveUDPAddr("udp", groupAddr)
	if err != nil {
		return fmt.Errorf("discovery: resolve addr: %w", err)
	}

	var conn *net.UDPConn
	if s.cfg.Multicast {
		mAddr, err := net.ResolveUDPAddr("udp", DefaultMulticastAddr)
		if err != nil {
			return fmt.Errorf("discovery: resolve multicast addr: %w", err)
		}
		conn, err = net.ListenMulticastUDP("udp", nil, mAddr)
		if err != nil {
			return fmt.Errorf("discovery: listen multicast: %w", err)
		}
	} else {
		conn, err = net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("discovery: listen: %w", err)
		}
	}
	s.conn = conn

	s.wg.Add(2)
	go s.listen()
	go s.announceLoop()
	return nil
}

// Close stops both background tasks and releases the socket.
func (s *Service) Close() error {
	close(s.closed)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// Peers returns every currently live peer.
func (s *Service) Peers() []Peer {
	return s.table.Live()
}

func (s *Service) listen() {
	defer s.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				log.Printf("discovery: read error: %v", err)
				continue
			}
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		s.handleDatagram(raw, from)
	}
}

func (s *Service) handleDatagram(raw []byte, from *net.UDPAddr) {
	if len(raw) >= len(probePrefix) && string(raw[:len(probePrefix)]) == probePrefix {
		deviceName := string(raw[len(probePrefix):])
		s.replyAnnouncement(from, deviceName)
		return
	}

	var a announcement
	if err := json.Unmarshal(raw, &a); err != nil || a.Type != announceType {
		return
	}
	if first := s.table.Upsert(a.IP, a.DeviceName, a.APIPort); first && s.OnPeerSeen != nil {
		s.OnPeerSeen(a.IP)
	}
}

// replyAnnouncement unicasts this host's own announcement back to the
// prober, per the request/reply half of the discovery protocol.
func (s *Service) replyAnnouncement(to *net.UDPAddr, _ string) {
	payload, err := s.buildAnnouncement()
	if err != nil {
		log.Printf("discovery: build announcement: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(payload, to); err != nil {
		log.Printf("discovery: reply to %s: %v", to, err)
	}
}

func (s *Service) announceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.broadcastOnce()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.broadcastOnce()
		}
	}
}

func (s *Service) broadcastOnce() {
	dest := s.broadcastDest()
	// The multicast variant carries announcements only.
	if !s.cfg.Multicast {
		probe := []byte(probePrefix + s.cfg.DeviceName)
		if _, err := s.conn.WriteToUDP(probe, dest); err != nil {
			log.Printf("discovery: broadcast probe: %v", err)
		}
	}

	payload, err := s.buildAnnouncement()
	if err != nil {
		log.Printf("discovery: build announcement: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(payload, dest); err != nil {
		log.Printf("discovery: broadcast announcement: %v", err)
	}
}

func (s *Service) broadcastDest() *net.UDPAddr {
	if s.cfg.Multicast {
		addr, _ := net.ResolveUDPAddr("udp", DefaultMulticastAddr)
		return addr
	}
	addr, _ := net.ResolveUDPAddr("udp", fmt.Sprintf("255.255.255.255:%d", s.cfg.Port))
	return addr
}

func (s *Service) buildAnnouncement() ([]byte, error) {
	a := announcement{
		Type:       announceType,
		DeviceName: s.cfg.DeviceName,
		IP:         localIP(),
		APIPort:    s.cfg.APIPort,
		Timestamp:  s.now().Unix(),
	}
	return json.Marshal(a)
}

// localIP returns the best-effort non-loopback outbound IP, falling back
// to loopback if none is found.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return local.IP.String()
}
