// Package vocarootest provides an in-process fake of the Vocaroo upload
// and media endpoints for tests.
package vocarootest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Chunk records one chunk upload received by the server.
type Chunk struct {
	Token string
	Index int
	Data  []byte
}

// Server is a fake Vocaroo service. Uploaded sessions are assembled in
// chunk-index order on finalize and served back by media id.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	alive    int
	chunks   []Chunk
	sessions map[string]map[int][]byte
	media    map[string][]byte
	nextID   int
	requests []*http.Request

	failChunks     int
	failFinalize   int
	rejectFinalize int
	failDownload   int
}

// NewServer starts a fake service that is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		sessions: make(map[string]map[int][]byte),
		media:    make(map[string][]byte),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)
	return s
}

// FailChunks makes chunk uploads answer with status. Zero restores success.
func (s *Server) FailChunks(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChunks = status
}

// FailFinalize makes finalize answer with status. Zero restores success.
func (s *Server) FailFinalize(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFinalize = status
}

// RejectFinalize makes finalize answer HTTP 200 carrying the given
// logical status. Zero restores success.
func (s *Server) RejectFinalize(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectFinalize = status
}

// FailDownload makes media fetches answer with status. Zero restores success.
func (s *Server) FailDownload(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDownload = status
}

// UploadURL is the upload API base of the fake.
func (s *Server) UploadURL() string { return s.URL + "/upload" }

// DownloadURL is the media base of the fake.
func (s *Server) DownloadURL() string { return s.URL + "/mp3" }

// AliveCount returns the number of liveness probes received.
func (s *Server) AliveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Chunks returns a copy of every chunk received, in arrival order.
func (s *Server) Chunks() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.chunks...)
}

// Media returns the stored body for id, including the format marker.
func (s *Server) Media(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.media[id]
	return data, ok
}

// PutMedia stores data under id as if it had been uploaded.
func (s *Server) PutMedia(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[id] = append([]byte(nil), data...)
}

// Requests returns the requests received so far.
func (s *Server) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Clone(r.Context()))
	s.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "upload" && parts[1] == "alive" && r.Method == http.MethodHead:
		s.mu.Lock()
		s.alive++
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case len(parts) == 4 && parts[0] == "upload" && parts[2] == "chunk" && r.Method == http.MethodPost:
		s.handleChunk(w, r, parts[1], parts[3])
	case len(parts) == 3 && parts[0] == "upload" && parts[2] == "finalize" && r.Method == http.MethodPost:
		s.handleFinalize(w, parts[1])
	case len(parts) == 2 && parts[0] == "mp3" && r.Method == http.MethodGet:
		s.handleDownload(w, r, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request, token, rawIndex string) {
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		http.Error(w, "bad chunk index", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("chunk")
	if err != nil {
		http.Error(w, "missing chunk field", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Filename != "chunk" {
		http.Error(w, "unexpected chunk filename", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read chunk", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, Chunk{Token: token, Index: index, Data: data})
	if s.failChunks != 0 {
		w.WriteHeader(s.failChunks)
		return
	}
	if s.sessions[token] == nil {
		s.sessions[token] = make(map[int][]byte)
	}
	s.sessions[token][index] = data
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFinalize(w http.ResponseWriter, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFinalize != 0 {
		w.WriteHeader(s.failFinalize)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if s.rejectFinalize != 0 {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": s.rejectFinalize})
		return
	}

	chunks := s.sessions[token]
	indexes := make([]int, 0, len(chunks))
	for i := range chunks {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	var body bytes.Buffer
	for _, i := range indexes {
		body.Write(chunks[i])
	}
	delete(s.sessions, token)

	s.nextID++
	id := fmt.Sprintf("media%04d", s.nextID)
	s.media[id] = body.Bytes()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     0,
		"mediaId":    id,
		"ownerToken": "owner-" + id,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	data, ok := s.media[id]
	fail := s.failDownload
	s.mu.Unlock()

	if fail != 0 {
		w.WriteHeader(fail)
		return
	}
	if r.Header.Get("Referer") != "https://vocaroo.com/" || r.Header.Get("Sec-Fetch-Dest") != "audio" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write(data)
}
