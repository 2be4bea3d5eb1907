// Package httpapi exposes the boundary event stream and approval channel
// over loopback HTTP: GET /events upgrades to a websocket of
// newline-delimited JSON frames, POST /confirm delivers a decision into
// the approval channel, and GET /healthz reports per-backend startup
// health.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/neboloop/duocode/internal/approval"
	"github.com/neboloop/duocode/internal/events"
	"github.com/neboloop/duocode/internal/logging"
)

// Health reports whether each backend reached Ready at startup.
type Health interface {
	BackendErrors() map[string]string
}

// Server wires the chi router.
type Server struct {
	bus       *events.Subject
	approvals *approval.Channel
	health    Health
	upgrader  websocket.Upgrader
}

func New(bus *events.Subject, approvals *approval.Channel, health Health) *Server {
	return &Server{
		bus:       bus,
		approvals: approvals,
		health:    health,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/events", s.handleEvents)
	r.Post("/confirm", s.handleConfirm)
	r.Get("/healthz", s.handleHealthz)
	return r
}

type wireFrame struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// handleEvents upgrades the connection and relays every topic this
// process emits as one JSON object per line, synchronously per
// connection (gorilla/websocket connections are not safe for concurrent
// writers, so delivery is serialized through a per-connection mutex).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Errorf("[httpapi] upgrade: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(topic string, data any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(wireFrame{Topic: topic, Data: data})
	}

	subs := []events.Subscription{
		events.Subscribe(s.bus, events.TopicAssistantText, func(ctx context.Context, e events.AssistantTextEvent) error {
			send(events.TopicAssistantText, e)
			return nil
		}),
		events.Subscribe(s.bus, events.TopicCLIToolResult, func(ctx context.Context, e events.CLIToolResultEvent) error {
			send(events.TopicCLIToolResult, e)
			return nil
		}),
		events.Subscribe(s.bus, events.TopicError, func(ctx context.Context, e events.ErrorEvent) error {
			send(events.TopicError, e)
			return nil
		}),
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	// Block until the client disconnects; reads are discarded, but a
	// websocket connection must still be read from to observe close
	// frames and pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type confirmRequest struct {
	Approve bool `json:"approve"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := s.approvals.Decide(req.Approve); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"ok": true}
	if s.health != nil {
		body["backend_errors"] = s.health.BackendErrors()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
