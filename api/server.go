// Package api serves snapshots over HTTP and streams them over WebSocket.
//
// Every route lives under the configured context path:
//
//	GET  {ctx}/api/metrics/snapshot
//	GET  {ctx}/api/metrics/heap
//	GET  {ctx}/api/metrics/threads
//	GET  {ctx}/api/metrics/classes
//	GET  {ctx}/api/metrics/string-table
//	GET  {ctx}/api/metrics/gc/events
//	GET  {ctx}/api/runtime
//	GET  {ctx}/healthz
//	WS   {ctx}/ws/metrics
//
// The Prometheus handler, when supplied, is mounted at its own absolute path.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"eidolon/codec"
	"eidolon/model"
	"eidolon/stats"
	"eidolon/subscriber"
)

const DefaultAddress = "0.0.0.0:7090"

// Source answers on-demand reads. *aggregate.Aggregator satisfies it.
type Source interface {
	Capture() model.Snapshot
	Memory() model.MemoryView
	Threads() model.ThreadView
	Classes() model.ClassLoadingView
	StringTable() model.StringTableView
	Events() []model.LifecycleEvent
}

// ServerOptions configures the HTTP server. Zero durations take defaults.
type ServerOptions struct {
	Addr              string
	ContextPath       string
	WebSocketEnabled  bool
	ClientBuffer      int
	Registry          *subscriber.Registry
	Tracker           *stats.Tracker
	Runtime           func() codec.RuntimeDTO
	MetricsPath       string
	MetricsHandler    http.Handler
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Logger            *log.Logger
}

// Server hosts the HTTP API.
type Server struct {
	http   *http.Server
	source Source
	logger *log.Logger
	opts   ServerOptions
	prefix string

	mu       sync.Mutex
	listener net.Listener
	clients  map[*wsClient]struct{}
	closing  bool
}

// NewServer constructs a server. It does not listen until Start.
func NewServer(source Source, opts ServerOptions) *Server {
	if source == nil {
		panic("api.NewServer: source is nil")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 16
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 5 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Server{
		source:  source,
		logger:  opts.Logger,
		opts:    opts,
		prefix:  routePrefix(opts.ContextPath),
		clients: make(map[*wsClient]struct{}),
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
		ErrorLog:          opts.Logger,
	}
	return s
}

func routePrefix(contextPath string) string {
	p := strings.TrimRight(strings.TrimSpace(contextPath), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Handler returns the root handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	api := http.NewServeMux()
	api.HandleFunc(s.prefix+"/api/metrics/snapshot", s.getOnly(s.handleSnapshot))
	api.HandleFunc(s.prefix+"/api/metrics/heap", s.getOnly(s.handleHeap))
	api.HandleFunc(s.prefix+"/api/metrics/threads", s.getOnly(s.handleThreads))
	api.HandleFunc(s.prefix+"/api/metrics/classes", s.getOnly(s.handleClasses))
	api.HandleFunc(s.prefix+"/api/metrics/string-table", s.getOnly(s.handleStringTable))
	api.HandleFunc(s.prefix+"/api/metrics/gc/events", s.getOnly(s.handleEvents))
	api.HandleFunc(s.prefix+"/api/runtime", s.getOnly(s.handleRuntime))
	api.HandleFunc(s.prefix+"/healthz", s.getOnly(s.handleHealthz))
	mux.Handle("/", withErrorLogging(api, s.logger))

	if s.opts.WebSocketEnabled && s.opts.Registry != nil {
		mux.HandleFunc(s.prefix+"/ws/metrics", s.handleWebSocket)
	}
	if s.opts.MetricsHandler != nil {
		path := s.opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, s.opts.MetricsHandler)
	}
	return mux
}

// Start binds the listener and serves in a background goroutine. Bind errors
// are returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.opts.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	go func() {
		s.logger.Printf("api: listening on http://%s%s", ln.Addr(), s.prefix)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("api: serve error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Stop closes WebSocket clients and shuts the server down, waiting up to
// ShutdownTimeout for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}

	if timeout := s.opts.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeCached(w, r, codec.FromSnapshot(s.source.Capture()))
}

func (s *Server) handleHeap(w http.ResponseWriter, r *http.Request) {
	s.writeCached(w, r, codec.FromMemory(s.source.Memory()))
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	s.writeCached(w, r, codec.FromThreads(s.source.Threads()))
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	s.writeCached(w, r, codec.FromClasses(s.source.Classes()))
}

func (s *Server) handleStringTable(w http.ResponseWriter, r *http.Request) {
	s.writeCached(w, r, codec.FromStringTable(s.source.StringTable()))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.writeCached(w, r, codec.FromEvents(s.source.Events()))
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runtime == nil {
		writeError(w, http.StatusNotFound, "runtime info not configured")
		return
	}
	s.writeCached(w, r, s.opts.Runtime())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": TimeNow().UTC().Format(time.RFC3339),
	})
}
