package mock

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/nikkolasg/hexjson"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client/test/result/mock"
)

type beaconJSON struct {
	Round             uint64 `json:"round"`
	Randomness        []byte `json:"randomness"`
	Signature         []byte `json:"signature"`
	PreviousSignature []byte `json:"previous_signature,omitempty"`
}

// Server is an in-process drand HTTP provider serving a fixed set of results.
type Server struct {
	mu        sync.Mutex
	cfg       *chain.Config
	results   map[uint64]mock.Result
	latest    uint64
	failing   bool
	malformed bool
	delay     time.Duration
	requests  int

	addr string
	srv  *http.Server
}

// NewMockHTTPPublicServer starts a provider for cfg serving results. The
// latest round starts at the highest result. It is shut down with the test.
func NewMockHTTPPublicServer(t *testing.T, cfg *chain.Config, results []mock.Result) *Server {
	t.Helper()

	s := &Server{
		cfg:     cfg,
		results: make(map[uint64]mock.Result, len(results)),
	}
	for _, r := range results {
		s.results[r.Rnd] = r
		if r.Rnd > s.latest {
			s.latest = r.Rnd
		}
	}

	r := chi.NewRouter()
	r.Get("/{hash}/info", s.info)
	r.Get("/{hash}/public/latest", s.public)
	r.Get("/{hash}/public/{round}", s.public)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s.addr = listener.Addr().String()
	s.srv = &http.Server{Handler: r, ReadHeaderTimeout: 3 * time.Second}
	go func() { _ = s.srv.Serve(listener) }()

	t.Cleanup(s.Close)
	return s
}

// URL is the base URL of the provider.
func (s *Server) URL() string {
	return "http://" + s.addr
}

// SetLatest changes which round is served as latest.
func (s *Server) SetLatest(round uint64) {
	s.mu.Lock()
	s.latest = round
	s.mu.Unlock()
}

// SetResult serves r for its round, replacing what was there.
func (s *Server) SetResult(r mock.Result) {
	s.mu.Lock()
	s.results[r.Rnd] = r
	s.mu.Unlock()
}

// SetFailing makes every request answer 503.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// SetMalformed makes beacon requests answer 200 with a body that is not JSON.
func (s *Server) SetMalformed(malformed bool) {
	s.mu.Lock()
	s.malformed = malformed
	s.mu.Unlock()
}

// SetDelay holds every answer for d, or until the request is abandoned.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Requests counts the requests received so far.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Close shuts the provider down.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// admit applies the failure knobs, and reports whether the handler should answer.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	s.requests++
	failing, delay := s.failing, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return false
		}
	}
	if failing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return false
	}
	if chi.URLParam(r, "hash") != s.cfg.HashString() {
		http.NotFound(w, r)
		return false
	}
	return true
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = s.cfg.ToJSON(w)
}

func (s *Server) public(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}

	s.mu.Lock()
	round := s.latest
	if param := chi.URLParam(r, "round"); param != "" {
		n, err := strconv.ParseUint(param, 10, 64)
		if err != nil {
			s.mu.Unlock()
			http.Error(w, "bad round", http.StatusBadRequest)
			return
		}
		round = n
	}
	res, ok := s.results[round]
	malformed := s.malformed
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if malformed {
		_, _ = w.Write([]byte(`{"round": "soon`))
		return
	}
	_ = json.NewEncoder(w).Encode(beaconJSON{
		Round:             res.Rnd,
		Randomness:        res.Rand,
		Signature:         res.Sig,
		PreviousSignature: res.PSig,
	})
}
