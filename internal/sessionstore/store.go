// Package sessionstore implements the session service's in-memory,
// disk-persisted session table: one record per create-session or
// join-session call, keyed by session id.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airtrans-project/airtrans/pkg/descriptor"
)

// Store manages in-memory sessions and persists them to disk, serializing
// all mutation per session id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*descriptor.Session
	baseDir  string
}

// New creates a Store backed by baseDir. Existing session files in
// baseDir are loaded on startup.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, errors.New("sessionstore: baseDir must not be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: create dir: %w", err)
	}

	s := &Store{
		sessions: make(map[string]*descriptor.Session),
		baseDir:  baseDir,
	}
	if err := s.loadExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadExisting() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("sessionstore: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		rec, err := s.load(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sessionstore: failed to load session %s: %v\n", id, err)
			continue
		}
		s.sessions[id] = rec
	}
	return nil
}

// Create mints a new session from d with the given role, in state
// pending, and persists it.
func (s *Store) Create(d descriptor.Descriptor, role descriptor.Role) (*descriptor.Session, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	rec := &descriptor.Session{
		ID:         uuid.NewString(),
		Descriptor: d,
		Role:       role,
		Status:     descriptor.SessionPending,
		Progress:   make(map[int]int64),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[rec.ID] = rec
	s.mu.Unlock()

	if err := s.save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Join registers a receiver-role session in state ready for a descriptor
// presented by a joining peer.
func (s *Store) Join(d descriptor.Descriptor) (*descriptor.Session, error) {
	rec, err := s.Create(d, descriptor.RoleReceiver)
	if err != nil {
		return nil, err
	}
	return s.setStatus(rec.ID, descriptor.SessionReady)
}

// Get returns a session by id.
func (s *Store) Get(id string) (*descriptor.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("sessionstore: session %s not found", id)
	}
	return rec, nil
}

// List returns every known session.
func (s *Store) List() []*descriptor.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*descriptor.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec)
	}
	return out
}

// Delete removes a session from memory and disk.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("sessionstore: session %s not found", id)
	}
	delete(s.sessions, id)
	path := filepath.Join(s.baseDir, id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sessionstore: remove session file: %w", err)
	}
	return nil
}

// UpdateProgress records bytesTransferred for chunkID within session id.
// Per-part counters are last-writer-wins; the aggregate is recomputed on
// read by descriptor.Session.TotalTransferred.
func (s *Store) UpdateProgress(id string, chunkID int, bytesTransferred int64) (*descriptor.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("sessionstore: session %s not found", id)
	}
	if chunkID < 0 || chunkID >= rec.Descriptor.NumParts {
		return nil, fmt.Errorf("sessionstore: chunk_id %d out of range [0, %d)", chunkID, rec.Descriptor.NumParts)
	}

	rec.Progress[chunkID] = bytesTransferred
	if rec.Status == descriptor.SessionReady || rec.Status == descriptor.SessionPending {
		rec.Status = descriptor.SessionTransferring
	}
	rec.UpdatedAt = time.Now()

	if err := s.saveLocked(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Complete marks session id completed or failed depending on whether
// observedChecksum matches the descriptor's checksum.
func (s *Store) Complete(id string, observedChecksum string) (rec *descriptor.Session, checksumMatch bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, false, fmt.Errorf("sessionstore: session %s not found", id)
	}

	checksumMatch = observedChecksum != "" && observedChecksum == rec.Descriptor.Checksum
	if checksumMatch {
		rec.Status = descriptor.SessionCompleted
	} else {
		rec.Status = descriptor.SessionFailed
	}
	rec.UpdatedAt = time.Now()

	if err := s.saveLocked(rec); err != nil {
		return nil, false, err
	}
	return rec, checksumMatch, nil
}

func (s *Store) setStatus(id string, status descriptor.SessionStatus) (*descriptor.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("sessionstore: session %s not found", id)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	if err := s.saveLocked(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) save(rec *descriptor.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(rec)
}

// saveLocked must be called with s.mu held.
func (s *Store) saveLocked(rec *descriptor.Session) error {
	path := filepath.Join(s.baseDir, rec.ID+".json")
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessionstore: open temp file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		f.Close()
		return fmt.Errorf("sessionstore: encode session: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sessionstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("sessionstore: atomic rename: %w", err)
	}
	return nil
}

func (s *Store) load(id string) (*descriptor.Session, error) {
	path := filepath.Join(s.baseDir, id+".json")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open session file: %w", err)
	}
	defer f.Close()

	var rec descriptor.Session
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("sessionstore: decode session: %w", err)
	}
	return &rec, nil
}
