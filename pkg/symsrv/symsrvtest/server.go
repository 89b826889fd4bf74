package symsrvtest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Request is one request the Server received.
type Request struct {
	Path      string
	UserAgent string
}

// Server is an HTTP symbol store backed by an in-memory map of store keys
// ("name/SIGNATURE/name") to file contents.
type Server struct {
	*httptest.Server

	// Encoding compresses responses: "", "gzip" or "zstd".
	Encoding string
	// Status, when not zero, is returned for every request instead of a file.
	Status int
	// Gate, when not nil, holds every response until it is closed.
	Gate chan struct{}

	mu       sync.Mutex
	files    map[string][]byte
	requests []Request
}

// NewServer starts a Server. Callers close it.
func NewServer() *Server {
	s := &Server{files: make(map[string][]byte)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Add publishes data under key.
func (s *Server) Add(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = data
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{Path: r.URL.Path, UserAgent: r.UserAgent()})
	data, ok := s.files[strings.TrimPrefix(r.URL.Path, "/")]
	status, encoding, gate := s.Status, s.Encoding, s.Gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch encoding {
	case "gzip":
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write(data)
		zw.Close()
		data = buf.Bytes()
	case "zstd":
		enc, _ := zstd.NewWriter(nil)
		data = enc.EncodeAll(data, nil)
		enc.Close()
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
