package sessionservice

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/airtrans-project/airtrans/internal/sessionstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := sessionstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("sessionstore.New: %v", err)
	}
	svc := New(store)
	svc.Algorithm = "sha256"
	return svc
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func TestHealthReturnsOK(t *testing.T) {
	svc := newTestService(t)
	w := doJSON(t, svc.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateSessionRejectsMissingFilepath(t *testing.T) {
	svc := newTestService(t)
	w := doJSON(t, svc.Handler(), http.MethodPost, "/create-session", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateSessionRejectsMissingFile(t *testing.T) {
	svc := newTestService(t)
	w := doJSON(t, svc.Handler(), http.MethodPost, "/create-session", map[string]any{
		"filepath": "/no/such/file.bin",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestFullSessionLifecycle(t *testing.T) {
	svc := newTestService(t)
	handler := svc.Handler()

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	data := bytes.Repeat([]byte{0x42}, 4096)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w := doJSON(t, handler, http.MethodPost, "/create-session", map[string]any{
		"filepath":  path,
		"num_parts": 4,
		"base_port": 51000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create-session: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal create-session response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("expected non-empty session id")
	}
	if created.Descriptor.NumParts != 4 {
		t.Fatalf("expected 4 parts, got %d", created.Descriptor.NumParts)
	}

	w = doJSON(t, handler, http.MethodGet, "/session/"+created.SessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session lookup: expected 200, got %d", w.Code)
	}

	w = doJSON(t, handler, http.MethodGet, "/qr/"+created.SessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("qr: expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("qr: expected image/png, got %q", ct)
	}

	w = doJSON(t, handler, http.MethodPost, "/join-session", map[string]any{
		"metadata": created.Descriptor,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("join-session: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var joined map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &joined); err != nil {
		t.Fatalf("unmarshal join-session response: %v", err)
	}
	receiverID, _ := joined["session_id"].(string)
	if receiverID == "" {
		t.Fatalf("expected non-empty receiver session id")
	}

	for i := 0; i < created.Descriptor.NumParts; i++ {
		w = doJSON(t, handler, http.MethodPost, "/update-progress/"+created.SessionID, map[string]any{
			"chunk_id":          i,
			"bytes_transferred": 1024,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("update-progress: expected 200, got %d", w.Code)
		}
	}

	w = doJSON(t, handler, http.MethodGet, "/progress/"+created.SessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("progress: expected 200, got %d", w.Code)
	}
	var prog progressResponse
	if err := json.Unmarshal(w.Body.Bytes(), &prog); err != nil {
		t.Fatalf("unmarshal progress response: %v", err)
	}
	if prog.Percentage != 100 {
		t.Fatalf("expected 100%%, got %v", prog.Percentage)
	}

	w = doJSON(t, handler, http.MethodPost, "/complete/"+created.SessionID, map[string]any{
		"checksum": created.Descriptor.Checksum,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var comp completeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &comp); err != nil {
		t.Fatalf("unmarshal complete response: %v", err)
	}
	if !comp.ChecksumMatch {
		t.Fatalf("expected checksum match")
	}

	w = doJSON(t, handler, http.MethodGet, "/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sessions: expected 200, got %d", w.Code)
	}

	w = doJSON(t, handler, http.MethodDelete, "/session/"+created.SessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	w = doJSON(t, handler, http.MethodGet, "/session/"+created.SessionID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestCreateSessionHonorsExplicitParityShards(t *testing.T) {
	svc := newTestService(t)
	handler := svc.Handler()

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	data := bytes.Repeat([]byte{0x7a}, 4096)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w := doJSON(t, handler, http.MethodPost, "/create-session", map[string]any{
		"filepath":      path,
		"num_parts":     4,
		"base_port":     53000,
		"parity_shards": 2,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create-session: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Descriptor.ParityShards != 2 {
		t.Fatalf("expected 2 parity shards, got %d", created.Descriptor.ParityShards)
	}
	if len(created.Descriptor.ParityPorts) != 2 {
		t.Fatalf("expected 2 parity ports, got %v", created.Descriptor.ParityPorts)
	}
	for i, p := range created.Descriptor.ParityPorts {
		if want := 53000 + 4 + i; p != want {
			t.Fatalf("parity port %d = %d, want %d", i, p, want)
		}
	}
	if err := created.Descriptor.Validate(); err != nil {
		t.Fatalf("descriptor with parity shards failed Validate: %v", err)
	}
}

func TestCreateSessionFallsBackToDefaultParityShards(t *testing.T) {
	svc := newTestService(t)
	svc.DefaultParityShards = 1
	handler := svc.Handler()

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w := doJSON(t, handler, http.MethodPost, "/create-session", map[string]any{
		"filepath":  path,
		"num_parts": 2,
		"base_port": 53100,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create-session: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Descriptor.ParityShards != 1 {
		t.Fatalf("expected service default of 1 parity shard, got %d", created.Descriptor.ParityShards)
	}
}

func TestCompleteReportsMismatch(t *testing.T) {
	svc := newTestService(t)
	handler := svc.Handler()

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w := doJSON(t, handler, http.MethodPost, "/create-session", map[string]any{
		"filepath": path,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create-session: expected 201, got %d", w.Code)
	}
	var created createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w = doJSON(t, handler, http.MethodPost, "/complete/"+created.SessionID, map[string]any{
		"checksum": "not-the-real-checksum",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var comp completeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &comp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if comp.ChecksumMatch {
		t.Fatalf("expected checksum mismatch")
	}
}

func TestUpdateProgressOnUnknownSessionReturns404(t *testing.T) {
	svc := newTestService(t)
	w := doJSON(t, svc.Handler(), http.MethodPost, "/update-progress/does-not-exist", map[string]any{
		"chunk_id":          0,
		"bytes_transferred": 10,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestScanQRReturnsNotImplemented(t *testing.T) {
	svc := newTestService(t)
	w := doJSON(t, svc.Handler(), http.MethodPost, "/scan-qr", map[string]any{})
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", w.Code)
	}
}

func TestJoinSessionRejectsInvalidMetadata(t *testing.T) {
	svc := newTestService(t)
	w := doJSON(t, svc.Handler(), http.MethodPost, "/join-session", map[string]any{
		"metadata": map[string]any{"filename": ""},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
