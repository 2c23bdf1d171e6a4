// Package target is an in-memory CRUD API implementing the contract the
// workflow expects: POST/GET on the collection, PUT/DELETE on /{id}.
// It backs the package tests and the sample server.
package target

import (
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

// Option customizes a Server.
type Option func(*Server)

// WithLogger logs every request at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLatency delays every response by d.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

// WithFailureRate answers the given fraction of requests with 500.
func WithFailureRate(rate float64, seed int64) Option {
	return func(s *Server) {
		s.failureRate = rate
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// Server stores resources as free-form JSON objects keyed by numeric id.
type Server struct {
	path   string
	router *mux.Router
	logger *zap.Logger

	latency     time.Duration
	failureRate float64
	rngMu       sync.Mutex
	rng         *rand.Rand

	mu     sync.RWMutex
	nextID int64
	items  map[int64]map[string]any
	order  []int64
}

// New creates a Server serving resources under path, e.g. "/usuarios".
func New(path string, opts ...Option) *Server {
	path = "/" + strings.Trim(path, "/")
	if path == "/" {
		path = "/usuarios"
	}
	s := &Server{
		path:   path,
		logger: zap.NewNop(),
		items:  make(map[int64]map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc(path, s.list).Methods(http.MethodGet)
	r.HandleFunc(path, s.create).Methods(http.MethodPost)
	r.HandleFunc(path+"/{id}", s.get).Methods(http.MethodGet)
	r.HandleFunc(path+"/{id}", s.update).Methods(http.MethodPut)
	r.HandleFunc(path+"/{id}", s.remove).Methods(http.MethodDelete)
	r.Use(s.middleware)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Len returns the number of stored resources.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if s.latency > 0 {
			select {
			case <-time.After(s.latency):
			case <-r.Context().Done():
				return
			}
		}
		if s.shouldFail() {
			respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "injected failure"})
		} else {
			next.ServeHTTP(w, r)
		}
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) shouldFail() bool {
	if s.failureRate <= 0 || s.rng == nil {
		return false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < s.failureRate
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	out := make([]map[string]any, 0, len(s.order))
	for _, id := range s.order {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	respondJSON(w, http.StatusOK, out)
	s.mu.RUnlock()
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeObject(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	fields["id"] = id
	s.items[id] = fields
	s.order = append(s.order, id)
	s.compactLocked()
	snapshot := copyItem(fields)
	s.mu.Unlock()

	respondJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	item, found := s.items[id]
	if found {
		respondJSON(w, http.StatusOK, item)
	}
	s.mu.RUnlock()
	if !found {
		notFound(w)
	}
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	fields, ok := decodeObject(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	item, found := s.items[id]
	var snapshot map[string]any
	if found {
		for k, v := range fields {
			if k != "id" {
				item[k] = v
			}
		}
		snapshot = copyItem(item)
	}
	s.mu.Unlock()

	if !found {
		notFound(w)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()

	if !found {
		notFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// compactLocked drops deleted ids from the listing order once they dominate it.
func (s *Server) compactLocked() {
	if len(s.order) < 64 || len(s.order) < 2*len(s.items) {
		return
	}
	live := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.items[id]; ok {
			live = append(live, id)
		}
	}
	s.order = live
}

func copyItem(item map[string]any) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		notFound(w)
		return 0, false
	}
	return id, true
}

func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var fields map[string]any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err == nil {
		err = json.Unmarshal(body, &fields)
	}
	if err != nil || fields == nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be a JSON object"})
		return nil, false
	}
	return fields, true
}

func notFound(w http.ResponseWriter) {
	respondJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
