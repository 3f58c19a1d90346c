package testutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
)

// Mode selects how StubUpstream answers.
type Mode int

const (
	ModeOK Mode = iota
	ModeFail
	ModeHang
	ModeMalformed
)

// StubUpstream is an httptest server standing in for a provider. It counts
// every request it receives.
type StubUpstream struct {
	server *httptest.Server

	mu         sync.RWMutex
	mode       Mode
	failStatus int
	failBody   string
	responses  map[string]string
	pathCalls  map[string]int64

	calls   int64
	release chan struct{}
	once    sync.Once
}

// NewStubUpstream starts a stub answering ModeOK.
func NewStubUpstream() *StubUpstream {
	stub := &StubUpstream{
		failStatus: http.StatusServiceUnavailable,
		failBody:   `{"error":"upstream failure"}`,
		responses:  make(map[string]string),
		pathCalls:  make(map[string]int64),
		release:    make(chan struct{}),
	}
	stub.server = httptest.NewServer(http.HandlerFunc(stub.handler))
	return stub
}

// URL returns the base URL of the stub.
func (s *StubUpstream) URL() string {
	return s.server.URL
}

// SetMode switches behaviour for subsequent requests.
func (s *StubUpstream) SetMode(mode Mode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// SetFailStatus sets the status returned in ModeFail.
func (s *StubUpstream) SetFailStatus(status int) {
	s.mu.Lock()
	s.failStatus = status
	s.mu.Unlock()
}

// SetFailBody sets the body returned in ModeFail.
func (s *StubUpstream) SetFailBody(body string) {
	s.mu.Lock()
	s.failBody = body
	s.mu.Unlock()
}

// SetResponse fixes the JSON body served for path in ModeOK.
func (s *StubUpstream) SetResponse(path, body string) {
	s.mu.Lock()
	s.responses[path] = body
	s.mu.Unlock()
}

// Calls returns the number of requests received.
func (s *StubUpstream) Calls() int64 {
	return atomic.LoadInt64(&s.calls)
}

// CallsFor returns the number of requests received for path.
func (s *StubUpstream) CallsFor(path string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pathCalls[path]
}

// Close releases hanging requests and shuts the server down.
func (s *StubUpstream) Close() {
	s.once.Do(func() { close(s.release) })
	s.server.Close()
}

func (s *StubUpstream) handler(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.calls, 1)

	s.mu.Lock()
	s.pathCalls[r.URL.Path]++
	mode := s.mode
	failStatus := s.failStatus
	failBody := s.failBody
	body, ok := s.responses[r.URL.Path]
	s.mu.Unlock()

	switch mode {
	case ModeHang:
		select {
		case <-r.Context().Done():
		case <-s.release:
		}
		return
	case ModeFail:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failStatus)
		_, _ = w.Write([]byte(failBody))
		return
	case ModeMalformed:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"truncated":`))
		return
	}

	if !ok {
		body = fmt.Sprintf(`{"path":%q,"query":%q}`, r.URL.Path, r.URL.RawQuery)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}
