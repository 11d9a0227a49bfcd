// Package server is the rig's live dashboard: it renders monitor frames to
// WebSocket clients and serves a small HTTP API next to the embedded web UI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rakerig/rakelog/internal/metrics"
	"github.com/rakerig/rakelog/internal/monitor"
)

// Server implements monitor.Display. Render is called from the sampling
// loop; HTTP handlers read the last rendered frame.
type Server struct {
	addr    string
	webFS   fs.FS
	metrics *metrics.Metrics
	config  any // served read-only at /api/config

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	frameMu sync.RWMutex
	frame   *monitor.Frame
	trail   trail

	quit atomic.Bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Message is the JSON structure sent to all WebSocket clients.
type Message struct {
	Frame *monitor.Frame `json:"frame,omitempty"`
	Trail *TrailData     `json:"trail,omitempty"`
	Stamp int64          `json:"stamp"` // Unix ms
}

// TrailData is the distance covered since start, from GPS fixes.
type TrailData struct {
	Distance float64 `json:"distance"` // km
	Fixes    int     `json:"fixes"`
}

// command is a message from a WebSocket client.
type command struct {
	Action string `json:"action"`
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves the registry at /metrics.
func WithMetrics(mt *metrics.Metrics) Option { return func(s *Server) { s.metrics = mt } }

// WithConfig exposes cfg as JSON at /api/config.
func WithConfig(cfg any) Option { return func(s *Server) { s.config = cfg } }

// New creates a new Server.
func New(addr string, webFS fs.FS, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		webFS:   webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Render broadcasts f and returns any intents queued by clients since the
// previous call.
func (s *Server) Render(f monitor.Frame) ([]monitor.Intent, error) {
	s.frameMu.Lock()
	s.frame = &f
	if f.Reading.HasFix() {
		s.trail.add(f.Reading.Latitude.Or(0), f.Reading.Longitude.Or(0))
	}
	td := s.trail.data()
	s.frameMu.Unlock()

	if err := s.broadcast(Message{Frame: &f, Trail: &td, Stamp: time.Now().UnixMilli()}); err != nil {
		return nil, err
	}

	if s.quit.Swap(false) {
		return []monitor.Intent{monitor.IntentQuit}, nil
	}
	return nil, nil
}

// RequestQuit queues a quit intent for the next Render.
func (s *Server) RequestQuit() {
	s.quit.Store(true)
}

// Handler returns the HTTP routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.handleWS)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/latest", s.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/quit", s.handleQuit).Methods(http.MethodPost)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// Serve embedded web files
	if s.webFS != nil {
		r.PathPrefix("/").Handler(http.FileServer(http.FS(s.webFS)))
	}

	return handlers.LoggingHandler(log.Writer(), r)
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		s.closeClients()
	}()

	log.Printf("[server] listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Queue the last frame so a fresh page is not blank until the next tick
	s.frameMu.RLock()
	if s.frame != nil {
		td := s.trail.data()
		if data, err := json.Marshal(Message{Frame: s.frame, Trail: &td, Stamp: time.Now().UnixMilli()}); err == nil {
			client.send <- data
		}
	}
	s.frameMu.RUnlock()

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (commands / keep-alive)
	go func() {
		defer s.dropClient(client)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var cmd command
			if err := json.Unmarshal(data, &cmd); err != nil {
				log.Printf("[ws] ignoring malformed message: %v", err)
				continue
			}
			switch cmd.Action {
			case "quit":
				log.Printf("[ws] quit requested by %s", conn.RemoteAddr())
				s.RequestQuit()
			default:
				log.Printf("[ws] unknown action %q", cmd.Action)
			}
		}
	}()
}

func (s *Server) dropClient(c *wsClient) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	n := len(s.clients)
	close(c.send)
	s.clientsMu.Unlock()
	log.Printf("[ws] client disconnected (%d total)", n)
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
	return nil
}

func (s *Server) latest() *monitor.Frame {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frame
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	f := s.latest()
	if f == nil {
		http.Error(w, "no reading yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, f.Reading)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f := s.latest()
	if f == nil {
		writeJSON(w, map[string][]float64{})
		return
	}
	if metric := r.URL.Query().Get("metric"); metric != "" {
		values, ok := f.History[metric]
		if !ok {
			http.Error(w, "unknown metric", http.StatusNotFound)
			return
		}
		writeJSON(w, values)
		return
	}
	writeJSON(w, f.History)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	f := s.latest()
	if f == nil {
		http.Error(w, "no session yet", http.StatusServiceUnavailable)
		return
	}
	s.frameMu.RLock()
	td := s.trail.data()
	s.frameMu.RUnlock()
	writeJSON(w, struct {
		ID      string    `json:"id"`
		Path    string    `json:"path"`
		Started time.Time `json:"started"`
		Records int       `json:"records"`
		State   string    `json:"state"`
		Mode    string    `json:"mode"`
		Trail   TrailData `json:"trail"`
	}{f.Session.ID, f.Session.Path, f.Session.Started, f.Records, f.State, f.Mode, td})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.config == nil {
		http.Error(w, "not available", http.StatusNotFound)
		return
	}
	writeJSON(w, s.config)
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	s.RequestQuit()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"queued"}`))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "STARTING"
	if f := s.latest(); f != nil {
		state = f.State
	}
	writeJSON(w, map[string]string{"status": "ok", "state": state})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] write response: %v", err)
	}
}
