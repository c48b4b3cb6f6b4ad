// Package server exposes a geolocator over HTTP: one-shot positions, a
// websocket stream fed by a single shared watch, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/shaunagostinho/geolocator/internal/config"
	"github.com/shaunagostinho/geolocator/internal/geo"
	"github.com/shaunagostinho/geolocator/internal/metrics"
	"github.com/shaunagostinho/geolocator/internal/track"
)

const positionTimeout = 30 * time.Second

// Locator is the part of a geolocator the server drives.
type Locator interface {
	CurrentPosition(ctx context.Context) (geo.Coordinates, error)
	WatchPosition(opts *geo.Options, onPosition func(geo.Coordinates), onStatus func(error)) error
	ClearWatch() error
}

// Server streams watched positions to websocket clients.
type Server struct {
	cfg      *config.Config
	loc      Locator
	webFS    fs.FS
	recorder *track.Recorder
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	log      *slog.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	trip trip

	lastMu  sync.RWMutex
	last    *geo.Coordinates
	lastErr string
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all websocket clients.
type Frame struct {
	Position *geo.Coordinates `json:"position,omitempty"`
	Status   string           `json:"status,omitempty"` // error kind reported by the watch
	Trip     *TripData        `json:"trip,omitempty"`
	Stamp    int64            `json:"stamp"` // Unix ms
}

// TripData is the distance info sent to clients.
type TripData struct {
	Meters float64 `json:"meters"`
}

// Options carries the server's collaborators. Nil fields get defaults.
type Options struct {
	WebFS    fs.FS
	Recorder *track.Recorder
	Metrics  *metrics.Metrics
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// New creates a new Server.
func New(cfg *config.Config, loc Locator, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Recorder == nil {
		opts.Recorder = track.New(cfg.Track, opts.Clock, opts.Logger)
	}
	return &Server{
		cfg:      cfg,
		loc:      loc,
		webFS:    opts.WebFS,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		log:      opts.Logger.With("component", "server"),
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the watch and serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Stop()

	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info("listening", "addr", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start begins the shared watch feeding every stream client.
func (s *Server) Start() error {
	opts := &geo.Options{HighAccuracy: s.cfg.Source.HighAccuracy}
	if err := s.loc.WatchPosition(opts, s.onPosition, s.onStatus); err != nil {
		return err
	}
	s.metrics.Watching.Set(1)
	s.log.Info("watch started", "high_accuracy", opts.HighAccuracy)
	return nil
}

// Stop clears the watch and closes the track file.
func (s *Server) Stop() {
	if err := s.loc.ClearWatch(); err != nil {
		s.log.Warn("clear watch failed", "error", err)
	}
	s.metrics.Watching.Set(0)
	s.recorder.Close()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /api/position", s.handlePosition)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /api/trip/reset", s.handleResetTrip)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Server) onPosition(c geo.Coordinates) {
	s.metrics.ObserveFix(c)
	meters := s.trip.update(c)
	s.metrics.TripMeters.Set(meters)
	s.recorder.Record(c)

	s.lastMu.Lock()
	s.last = &c
	s.lastErr = ""
	s.lastMu.Unlock()

	s.broadcast(Frame{Position: &c, Trip: &TripData{Meters: meters}, Stamp: s.clock.Now().UnixMilli()})
}

func (s *Server) onStatus(err error) {
	s.metrics.ObserveStatus(err)
	kind := geo.Kind(err)
	s.log.Warn("watch status", "kind", kind)

	s.lastMu.Lock()
	s.lastErr = kind
	s.lastMu.Unlock()

	s.broadcast(Frame{Status: kind, Stamp: s.clock.Now().UnixMilli()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.metrics.StreamClients.Inc()
	s.log.Info("client connected", "clients", n)

	// Initial frame with the latest state.
	s.lastMu.RLock()
	hello := Frame{Position: s.last, Status: s.lastErr, Trip: &TripData{Meters: s.trip.total()}, Stamp: s.clock.Now().UnixMilli()}
	s.lastMu.RUnlock()
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.metrics.StreamClients.Dec()
			s.log.Info("client disconnected", "clients", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), positionTimeout)
	defer cancel()

	c, err := s.loc.CurrentPosition(ctx)
	s.metrics.ObserveRequest(err)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, geo.ErrAccessDenied):
			status = http.StatusForbidden
		case errors.Is(err, geo.ErrUnavailable):
			status = http.StatusServiceUnavailable
		}
		kind := geo.Kind(err)
		if kind == "" {
			kind = "unknown"
		}
		writeJSON(w, status, map[string]string{"error": kind})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handleUpdateConfig merges and saves a partial config. Source changes take
// effect on restart. A failed save still applies the change in memory and
// answers 500.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.cfg.UpdateFromJSON(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.recorder.SetEnabled(s.cfg.Track.Enabled)
	if err := s.cfg.Save(); err != nil {
		s.log.Error("config save failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "applied", "saved": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "saved": true})
}

func (s *Server) handleResetTrip(w http.ResponseWriter, r *http.Request) {
	s.trip.reset()
	s.metrics.TripMeters.Set(0)
	s.broadcast(Frame{Trip: &TripData{}, Stamp: s.clock.Now().UnixMilli()})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.lastMu.RLock()
	resp := map[string]any{"status": "ok", "hasFix": s.last != nil}
	if s.lastErr != "" {
		resp["watch"] = s.lastErr
	}
	s.lastMu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
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
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
