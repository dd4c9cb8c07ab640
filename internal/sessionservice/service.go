// Package sessionservice implements the stateful HTTP control plane: it
// mints transfer descriptors on the sender side, registers joining
// receivers, and tracks progress through to completion. No payload bytes
// traverse this service — it is a coordination surface, not a data path.
package sessionservice

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/airtrans-project/airtrans/internal/integrity"
	"github.com/airtrans-project/airtrans/internal/partition"
	"github.com/airtrans-project/airtrans/internal/qrcode"
	"github.com/airtrans-project/airtrans/internal/sessionstore"
	"github.com/airtrans-project/airtrans/pkg/descriptor"
)

// Service is the session control plane. Algorithm names the hash used
// when minting descriptors; PartitionConfig drives the num_parts
// heuristic when a create-session request leaves it unset.
// DefaultParityShards seeds create-session requests that don't pin a
// parity count down explicitly.
type Service struct {
	Store               *sessionstore.Store
	Algorithm           string
	PartitionConfig     partition.Config
	DefaultParityShards int
}

// New creates a Service backed by store.
func New(store *sessionstore.Store) *Service {
	return &Service{Store: store}
}

// RegisterRoutes registers every route named by the control plane's wire
// surface on mux, using method+wildcard patterns.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /create-session", s.handleCreateSession)
	mux.HandleFunc("GET /qr/{id}", s.handleQR)
	mux.HandleFunc("POST /join-session", s.handleJoinSession)
	mux.HandleFunc("GET /progress/{id}", s.handleGetProgress)
	mux.HandleFunc("POST /update-progress/{id}", s.handleUpdateProgress)
	mux.HandleFunc("POST /complete/{id}", s.handleComplete)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /session/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /session/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /scan-qr", s.handleScanQR)
}

// Handler wraps RegisterRoutes in permissive CORS and returns a ready
// http.Handler.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("sessionservice: writeJSON error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	Filepath     string `json:"filepath"`
	NumParts     int    `json:"num_parts"`
	BasePort     int    `json:"base_port"`
	IP           string `json:"ip"`
	Compressed   bool   `json:"compressed"`
	ParityShards int    `json:"parity_shards"`
}

type createSessionResponse struct {
	SessionID  string                `json:"session_id"`
	Descriptor descriptor.Descriptor `json:"descriptor"`
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filepath == "" {
		writeError(w, http.StatusBadRequest, "filepath is required")
		return
	}

	info, err := os.Stat(req.Filepath)
	if os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	numParts := s.PartitionConfig.ChooseNumParts(info.Size(), req.NumParts)
	basePort := req.BasePort
	if basePort == 0 {
		basePort = 50000
	}
	ip := req.IP
	if ip == "" {
		ip = "127.0.0.1"
	}

	checksum, err := integrity.HashFile(req.Filepath, s.Algorithm)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkChecksums, err := integrity.HashParts(req.Filepath, info.Size(), numParts, s.Algorithm)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ports := make([]int, numParts)
	for i := range ports {
		ports[i] = basePort + i
	}

	parityShards := req.ParityShards
	if parityShards == 0 {
		parityShards = s.DefaultParityShards
	}
	if parityShards < 0 {
		parityShards = 0
	}
	if parityShards >= numParts {
		parityShards = numParts - 1
	}
	var parityPorts []int
	if parityShards > 0 {
		parityPorts = make([]int, parityShards)
		for i := range parityPorts {
			parityPorts[i] = basePort + numParts + i
		}
	}

	d := descriptor.Descriptor{
		Filename:       filepathBase(req.Filepath),
		Filesize:       info.Size(),
		IP:             ip,
		Ports:          ports,
		NumParts:       numParts,
		Checksum:       checksum,
		ChunkChecksums: chunkChecksums,
		Compression:    req.Compressed,
		Version:        descriptor.CurrentVersion,
		ParityShards:   parityShards,
		ParityPorts:    parityPorts,
	}

	rec, err := s.Store.Create(d, descriptor.RoleSender)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: rec.ID, Descriptor: rec.Descriptor})
}

func (s *Service) handleQR(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.Store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	png, err := qrcode.EncodePNG(rec.Descriptor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

type joinSessionRequest struct {
	Metadata descriptor.Descriptor `json:"metadata"`
}

func (s *Service) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Metadata.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid metadata: %v", err))
		return
	}

	rec, err := s.Store.Join(req.Metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type progressResponse struct {
	SessionID        string  `json:"session_id"`
	TotalTransferred int64   `json:"total_transferred"`
	Filesize         int64   `json:"filesize"`
	Percentage       float64 `json:"percentage"`
	Status           string  `json:"status"`
}

func (s *Service) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.Store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		SessionID:        rec.ID,
		TotalTransferred: rec.TotalTransferred(),
		Filesize:         rec.Descriptor.Filesize,
		Percentage:       rec.Percentage(),
		Status:           string(rec.Status),
	})
}

type updateProgressRequest struct {
	ChunkID          int   `json:"chunk_id"`
	BytesTransferred int64 `json:"bytes_transferred"`
}

func (s *Service) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.Store.UpdateProgress(id, req.ChunkID, req.BytesTransferred)
	if err != nil {
		if _, getErr := s.Store.Get(id); getErr != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type completeRequest struct {
	OutputPath string `json:"output_path"`
	Checksum   string `json:"checksum"`
}

type completeResponse struct {
	ChecksumMatch bool   `json:"checksum_match"`
	Status        string `json:"status"`
}

func (s *Service) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	observed := req.Checksum
	if observed == "" && req.OutputPath != "" {
		sum, err := integrity.HashFile(req.OutputPath, s.Algorithm)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		observed = sum
	}

	rec, match, err := s.Store.Complete(id, observed)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{ChecksumMatch: match, Status: string(rec.Status)})
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.List())
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.Store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Store.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleScanQR always reports 501: this module has no QR image decoder,
// only an encoder (github.com/skip2/go-qrcode is encode-only). A caller
// that already has the extracted descriptor payload should use
// /join-session directly instead.
func (s *Service) handleScanQR(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "qr scanning is not available; decode the image and POST to /join-session instead")
}

func filepathBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
