package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/shaunagostinho/createlink/internal/metrics"
	"github.com/shaunagostinho/createlink/internal/recorder"
	"github.com/shaunagostinho/createlink/internal/sensor"
)

// SensorSource is the part of the pipeline the server reads from.
type SensorSource interface {
	Snapshot() map[byte]int
	Messages() []string
	FullMessages() string
	ClearLog()
	Pending() int
	Connected() bool
	LinkName() string
}

// Server broadcasts the sensor table to WebSocket clients and serves the
// HTTP API.
type Server struct {
	cfg      *Config
	src      SensorSource
	webFS    fs.FS
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.StreamMetrics
	recorder *recorder.Recorder

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Reading is one sensor entry as sent to clients.
type Reading struct {
	ID     byte   `json:"id"`
	Name   string `json:"name"`
	Raw    int    `json:"raw"`
	Signed int    `json:"value"` // two's complement applied where documented
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	ClientID  string    `json:"clientId,omitempty"` // only on the first frame
	Link      string    `json:"link"`
	Connected bool      `json:"connected"`
	Pending   int       `json:"pending"`
	Sensors   []Reading `json:"sensors"`
	Stamp     int64     `json:"stamp"` // Unix ms
}

// New creates a Server. registry and m may be nil when metrics are unused.
func New(cfg *Config, src SensorSource, webFS fs.FS, log *zap.Logger, registry *prometheus.Registry, m *metrics.StreamMetrics) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	snap := cfg.Snapshot()
	return &Server{
		cfg:      cfg,
		src:      src,
		webFS:    webFS,
		log:      log,
		registry: registry,
		metrics:  m,
		recorder: recorder.New(snap.Recording, cfg.TrackedIDs(), log.Named("recorder")),
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/sensors", s.handleSensors)
	mux.HandleFunc("/api/log", s.handleLog)
	if s.registry != nil {
		mux.Handle("/metrics", metrics.Handler(s.registry))
	}
	return mux
}

// Run starts the HTTP server and the broadcast loop.
func (s *Server) Run(ctx context.Context) error {
	go s.broadcastLoop(ctx)

	addr := s.cfg.Snapshot().Server.ListenAddr
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.clientsChanged(total)

	s.log.Info("client connected", zap.String("client", client.id), zap.Int("total", total))

	hello := s.buildFrame()
	hello.ClientID = client.id
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects close)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.clientsChanged(total)
			s.log.Info("client disconnected", zap.String("client", client.id), zap.Int("total", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) clientsChanged(total int) {
	if s.metrics != nil {
		s.metrics.Clients.Set(float64(total))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Warn("config save failed", zap.Error(err))
		}
		s.recorder.SetEnabled(s.cfg.Snapshot().Recording.Enabled)
		writeJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.buildFrame())
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{
			"messages": s.src.Messages(),
			"full":     s.src.FullMessages(),
		})
	case http.MethodDelete:
		s.src.ClearLog()
		writeJSON(w, map[string]string{"status": "ok"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// buildFrame renders the current table in ascending id order.
func (s *Server) buildFrame() Frame {
	snap := s.src.Snapshot()
	ids := make([]int, 0, len(snap))
	for id := range snap {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	readings := make([]Reading, 0, len(ids))
	for _, id := range ids {
		v := sensor.SensorValue{ID: byte(id), Value: snap[byte(id)]}
		readings = append(readings, Reading{
			ID:     v.ID,
			Name:   sensor.FieldName(v.ID),
			Raw:    v.Value,
			Signed: v.Signed(),
		})
	}
	return Frame{
		Link:      s.src.LinkName(),
		Connected: s.src.Connected(),
		Pending:   s.src.Pending(),
		Sensors:   readings,
		Stamp:     time.Now().UnixMilli(),
	}
}

// broadcastLoop pushes the table to clients and the recorder at
// broadcast_hz until ctx is cancelled.
func (s *Server) broadcastLoop(ctx context.Context) {
	hz := s.cfg.Snapshot().Server.BroadcastHz
	if hz <= 0 {
		hz = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.recorder.Close()
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Server) tick(now time.Time) {
	frame := s.buildFrame()
	if len(frame.Sensors) == 0 {
		return
	}
	s.broadcast(frame)

	snap := make(map[byte]int, len(frame.Sensors))
	for _, r := range frame.Sensors {
		snap[r.ID] = r.Raw
	}
	s.recorder.Record(now, snap)
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
	if s.metrics != nil {
		s.metrics.Broadcasts.Inc()
	}
}
