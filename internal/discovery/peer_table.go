package discovery

import (
	"sync"
	"time"

	"github.com/airtrans-project/airtrans/pkg/descriptor"
)

// Peer is a discovery-observed host, aliasing the shared descriptor type.
type Peer = descriptor.Peer

// PeerTable is the mutex-guarded, continuously-recomputed peer set: one
// record per IP, upserted on every announcement and evicted once stale.
type PeerTable struct {
	mu      sync.Mutex
	peers   map[string]*Peer
	timeout time.Duration
	now     func() time.Time
}

// NewPeerTable creates an empty table. now defaults to time.Now when nil.
func NewPeerTable(timeout time.Duration, now func() time.Time) *PeerTable {
	if timeout <= 0 {
		timeout = DefaultPeerTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &PeerTable{
		peers:   make(map[string]*Peer),
		timeout: timeout,
		now:     now,
	}
}

// Upsert records or refreshes a peer's last_seen timestamp, keyed by IP.
// It reports whether this IP was not previously known.
func (t *PeerTable) Upsert(ip, deviceName string, apiPort int) (firstSighting bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.peers[ip]
	t.peers[ip] = &Peer{
		DeviceName: deviceName,
		IP:         ip,
		APIPort:    apiPort,
		LastSeen:   t.now(),
	}
	return !exists
}

// Live returns every peer seen within the configured timeout, evicting
// stale entries as it goes.
func (t *PeerTable) Live() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]Peer, 0, len(t.peers))
	for ip, p := range t.peers {
		if !p.Live(now, t.timeout) {
			delete(t.peers, ip)
			continue
		}
		out = append(out, *p)
	}
	return out
}

// Count returns the number of currently-tracked peers without evicting.
func (t *PeerTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}
