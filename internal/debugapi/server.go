// Package debugapi is the loopback-only HTTP introspection surface
// (SPEC_FULL.md §9.1), adapted from the teacher's server.Server: the same
// mux.Router-plus-embedded-Server shape, generalized from per-BMC-server
// routes to the single device's status/FOTA/frame-stream routes.
package debugapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"devagent/internal/device"
	"devagent/internal/framelog"
	"devagent/internal/metrics"
	"devagent/internal/telemetry"
)

// Server exposes the device's live state over HTTP. It is expected to bind
// a loopback address only (spec.md Non-goals exclude a public management
// surface; this is for local operator/debug use).
type Server struct {
	addr    string
	version string
	dev     *device.Device
	frames  *framelog.Buffer
	history *telemetry.Store
	metrics *metrics.Metrics
	router  *mux.Router
	http    *http.Server

	mu          sync.Mutex
	subscribers map[chan framelog.Frame]struct{}
}

// New constructs a Server. It does not start listening until Run is called.
func New(addr, version string, dev *device.Device, frames *framelog.Buffer, history *telemetry.Store, m *metrics.Metrics) *Server {
	s := &Server{
		addr:        addr,
		version:     version,
		dev:         dev,
		frames:      frames,
		history:     history,
		metrics:     m,
		router:      mux.NewRouter(),
		subscribers: make(map[chan framelog.Frame]struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/fota", s.handleFota).Methods("GET")
	api.HandleFunc("/fota/history", s.handleFotaHistory).Methods("GET")
	api.HandleFunc("/frames/stream", s.handleFrameStream).Methods("GET")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("debugapi: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.http = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("debugapi: shutting down")
		s.http.Shutdown(context.Background())
	}()

	log.Infof("debugapi: listening on %s", s.addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return fmt.Errorf("debugapi: %w", err)
}

// PublishFrame records f to the ring buffer and fans it out to any live
// /api/frames/stream subscribers.
func (s *Server) PublishFrame(f framelog.Frame) {
	s.frames.Push(f)

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- f:
		default: // slow subscriber: drop rather than block frame delivery
		}
	}
}

func (s *Server) subscribe() chan framelog.Frame {
	ch := make(chan framelog.Frame, 32)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan framelog.Frame) {
	s.mu.Lock()
	delete(s.subscribers, ch)
	s.mu.Unlock()
	close(ch)
}
