// Package inspect serves a runtime's slot tables, node trees, pass history and
// metrics over HTTP, and streams pass reports to WebSocket clients.
package inspect

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/node"
	"github.com/vango-dev/recompose/pkg/slots"
)

// TreeDumper renders node subtrees. *node.MemoryApplier implements it.
type TreeDumper interface {
	Dump(roots []node.ID) string
}

// CompositionSnapshot is one composition as of the last pass.
type CompositionSnapshot struct {
	Name  string        `json:"name"`
	Slots []slots.Entry `json:"slots"`
	Roots []node.ID     `json:"roots"`
	Tree  string        `json:"tree,omitempty"`
}

// Message is sent to WebSocket clients after every pass.
type Message struct {
	Type   string             `json:"type"`
	Report compose.PassReport `json:"report"`
	Error  string             `json:"error,omitempty"`
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithHistory sets how many pass reports are kept (default 64).
func WithHistory(n int) Option {
	return func(in *Inspector) {
		if n > 0 {
			in.historySize = n
		}
	}
}

// WithGatherer sets the registry served at /metrics.
// Default: prometheus.DefaultGatherer
func WithGatherer(g prometheus.Gatherer) Option {
	return func(in *Inspector) { in.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Inspector) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithWriteTimeout bounds each WebSocket write (default 10s). A client that
// does not accept a report in time is dropped.
func WithWriteTimeout(d time.Duration) Option {
	return func(in *Inspector) {
		if d > 0 {
			in.writeTimeout = d
		}
	}
}

// Inspector captures snapshots after each pass. It implements
// compose.PassObserver; call Attach before the first pass.
type Inspector struct {
	rt           *compose.Runtime
	historySize  int
	writeTimeout time.Duration
	gatherer     prometheus.Gatherer
	logger       *slog.Logger

	mu        sync.RWMutex
	history   []compose.PassReport
	snapshots []CompositionSnapshot

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool
	upgrader  websocket.Upgrader
}

// New creates an Inspector.
func New(opts ...Option) *Inspector {
	in := &Inspector{
		historySize:  64,
		writeTimeout: 10 * time.Second,
		gatherer:     prometheus.DefaultGatherer,
		logger:       slog.Default().With("component", "inspect"),
		clients:      make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Attach sets the runtime whose compositions are captured.
func (in *Inspector) Attach(rt *compose.Runtime) { in.rt = rt }

// PassStarted implements compose.PassObserver.
func (in *Inspector) PassStarted(ctx context.Context, _ compose.PassInfo) context.Context {
	return ctx
}

// PassFinished implements compose.PassObserver. It runs on the composing
// goroutine, where the slot tables are stable.
func (in *Inspector) PassFinished(_ context.Context, rep compose.PassReport, err error) {
	snaps := in.capture()

	in.mu.Lock()
	in.history = append(in.history, rep)
	if over := len(in.history) - in.historySize; over > 0 {
		in.history = append(in.history[:0], in.history[over:]...)
	}
	in.snapshots = snaps
	in.mu.Unlock()

	msg := Message{Type: "pass", Report: rep}
	if err != nil {
		msg.Error = err.Error()
	}
	in.broadcast(msg)
}

func (in *Inspector) capture() []CompositionSnapshot {
	if in.rt == nil {
		return nil
	}
	comps := in.rt.Compositions()
	snaps := make([]CompositionSnapshot, 0, len(comps))
	for _, c := range comps {
		s := CompositionSnapshot{
			Name:  c.Name(),
			Slots: c.Dump(),
			Roots: c.Roots(),
		}
		if d, ok := c.Applier().(TreeDumper); ok {
			s.Tree = d.Dump(s.Roots)
		}
		snaps = append(snaps, s)
	}
	return snaps
}

// History returns the retained pass reports, oldest first.
func (in *Inspector) History() []compose.PassReport {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]compose.PassReport(nil), in.history...)
}

// Snapshots returns the compositions captured after the last pass.
func (in *Inspector) Snapshots() []CompositionSnapshot {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]CompositionSnapshot(nil), in.snapshots...)
}

// Handler returns the inspector's routes.
func (in *Inspector) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(in.gatherer, promhttp.HandlerOpts{}))
	r.Route("/debug", func(r chi.Router) {
		r.Get("/passes", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, in.History())
		})
		r.Get("/slots", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, in.Snapshots())
		})
		r.Get("/slots/{name}", in.handleComposition)
		r.Get("/nodes", in.handleNodes)
	})
	r.Get("/ws", in.HandleWebSocket)
	return r
}

func (in *Inspector) handleComposition(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, s := range in.Snapshots() {
		if s.Name == name {
			writeJSON(w, s)
			return
		}
	}
	http.Error(w, "composition not found", http.StatusNotFound)
}

func (in *Inspector) handleNodes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, s := range in.Snapshots() {
		_, _ = w.Write([]byte("# " + s.Name + "\n" + s.Tree))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// HandleWebSocket upgrades the connection and keeps it until the client
// disconnects. Pass reports are pushed as Message values.
func (in *Inspector) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := in.upgrader.Upgrade(w, req, nil)
	if err != nil {
		in.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	in.clientsMu.Lock()
	in.clients[conn] = true
	in.clientsMu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	in.clientsMu.Lock()
	delete(in.clients, conn)
	in.clientsMu.Unlock()
	conn.Close()
}

func (in *Inspector) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		in.logger.Error("marshal pass report", "error", err)
		return
	}

	in.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(in.clients))
	for client := range in.clients {
		clients = append(clients, client)
	}
	in.clientsMu.RUnlock()

	for _, client := range clients {
		_ = client.SetWriteDeadline(time.Now().Add(in.writeTimeout))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			in.logger.Debug("dropping websocket client", "error", err)
			in.clientsMu.Lock()
			delete(in.clients, client)
			in.clientsMu.Unlock()
			client.Close()
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (in *Inspector) ClientCount() int {
	in.clientsMu.RLock()
	defer in.clientsMu.RUnlock()
	return len(in.clients)
}

// Close disconnects every client.
func (in *Inspector) Close() {
	in.clientsMu.Lock()
	defer in.clientsMu.Unlock()
	for client := range in.clients {
		client.Close()
		delete(in.clients, client)
	}
}
