// Package descriptor defines the transfer descriptor: the immutable,
// out-of-band object that carries everything a receiver needs to join a
// transfer, plus the session and peer records built around it.
package descriptor

import (
	"errors"
	"fmt"
	"time"
)

// MaxParts is the largest num_parts a descriptor may declare.
const MaxParts = 32

// Descriptor is the canonical, JSON-serializable transfer descriptor.
type Descriptor struct {
	Filename       string   `json:"filename"`
	Filesize       int64    `json:"filesize"`
	IP             string   `json:"ip"`
	Ports          []int    `json:"ports"`
	NumParts       int      `json:"num_parts"`
	Checksum       string   `json:"checksum"`
	ChunkChecksums []string `json:"chunk_checksums"`
	Compression    bool     `json:"compression"`
	Version        string   `json:"version"`
	ParityShards   int      `json:"parity_shards,omitempty"`
	ParityPorts    []int    `json:"parity_ports,omitempty"`
}

// CurrentVersion is the protocol version tag stamped on descriptors minted
// by this module.
const CurrentVersion = "1.0"

// Validate checks every invariant a descriptor must hold before it can be
// published or acted on.
func (d *Descriptor) Validate() error {
	if d.Filename == "" {
		return errors.New("descriptor: filename must not be empty")
	}
	if d.Filesize <= 0 {
		return errors.New("descriptor: filesize must be positive")
	}
	if d.IP == "" {
		return errors.New("descriptor: ip must not be empty")
	}
	if d.NumParts < 1 || d.NumParts > MaxParts {
		return fmt.Errorf("descriptor: num_parts must be in [1, %d], got %d", MaxParts, d.NumParts)
	}
	if len(d.Ports) != d.NumParts {
		return fmt.Errorf("descriptor: len(ports)=%d != num_parts=%d", len(d.Ports), d.NumParts)
	}
	if len(d.ChunkChecksums) != d.NumParts {
		return fmt.Errorf("descriptor: len(chunk_checksums)=%d != num_parts=%d", len(d.ChunkChecksums), d.NumParts)
	}
	if d.Checksum == "" {
		return errors.New("descriptor: checksum must not be empty")
	}
	for i, c := range d.ChunkChecksums {
		if c == "" {
			return fmt.Errorf("descriptor: chunk_checksums[%d] must not be empty", i)
		}
	}
	if d.ParityShards < 0 || d.ParityShards > d.NumParts {
		return fmt.Errorf("descriptor: parity_shards must be in [0, num_parts], got %d", d.ParityShards)
	}
	if d.ParityShards > 0 && len(d.ParityPorts) != d.ParityShards {
		return fmt.Errorf("descriptor: len(parity_ports)=%d != parity_shards=%d", len(d.ParityPorts), d.ParityShards)
	}
	return nil
}

// PartBounds returns the [offset, offset+length) byte range of part i under
// the deterministic partitioning rule: part i in [0, N-1) has length
// filesize/N starting at i*(filesize/N); part N-1 absorbs the remainder.
func (d *Descriptor) PartBounds(i int) (offset int64, length int64, err error) {
	if i < 0 || i >= d.NumParts {
		return 0, 0, fmt.Errorf("descriptor: part index %d out of range [0, %d)", i, d.NumParts)
	}
	base := d.Filesize / int64(d.NumParts)
	offset = int64(i) * base
	if i == d.NumParts-1 {
		length = d.Filesize - offset
	} else {
		length = base
	}
	return offset, length, nil
}

// SessionStatus is the lifecycle state of a session record.
type SessionStatus string

const (
	SessionPending      SessionStatus = "pending"
	SessionReady        SessionStatus = "ready"
	SessionTransferring SessionStatus = "transferring"
	SessionCompleted    SessionStatus = "completed"
	SessionFailed       SessionStatus = "failed"
)

// Role identifies which side of a transfer a session record represents.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Session is process-local state held by the session service: the
// descriptor, role, status, and a per-part progress counter.
type Session struct {
	ID         string        `json:"session_id"`
	Descriptor Descriptor    `json:"descriptor"`
	Role       Role          `json:"role"`
	Status     SessionStatus `json:"status"`
	Progress   map[int]int64 `json:"progress"` // chunk_id -> bytes transferred
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Validate checks the invariants a Session record must hold.
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session: id must not be empty")
	}
	if err := s.Descriptor.Validate(); err != nil {
		return err
	}
	switch s.Role {
	case RoleSender, RoleReceiver:
	default:
		return fmt.Errorf("session: invalid role %q", s.Role)
	}
	switch s.Status {
	case SessionPending, SessionReady, SessionTransferring, SessionCompleted, SessionFailed:
	default:
		return fmt.Errorf("session: invalid status %q", s.Status)
	}
	return nil
}

// TotalTransferred sums the per-part progress counters. Aggregate reads
// tolerate slightly stale per-part values under concurrent updates.
func (s *Session) TotalTransferred() int64 {
	var total int64
	for _, v := range s.Progress {
		total += v
	}
	return total
}

// Percentage returns TotalTransferred as a percentage of the descriptor's
// filesize, capped at 100.
func (s *Session) Percentage() float64 {
	if s.Descriptor.Filesize <= 0 {
		return 0
	}
	pct := float64(s.TotalTransferred()) / float64(s.Descriptor.Filesize) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Peer is a host reachable on the LAN that has recently announced itself
// via discovery.
type Peer struct {
	DeviceName string    `json:"device_name"`
	IP         string    `json:"ip"`
	APIPort    int       `json:"api_port"`
	LastSeen   time.Time `json:"last_seen"`
}

// Live reports whether the peer has been seen within timeout of now.
func (p *Peer) Live(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastSeen) <= timeout
}
