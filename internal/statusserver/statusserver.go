// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package statusserver exposes get_status over HTTP and tails
// internal/events.Bus over a WebSocket, the frontend surface named in
// spec.md §4.N and §9's tool-protocol contract. It follows the teacher's
// own logger.Subscribe/Unsubscribe channel-map idiom (internal/logger.go)
// and internal/drone/events/broadcaster.go's non-blocking fan-out, wired
// to this codebase's internal/events.Bus instead of a second broadcaster
// type.
package statusserver

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/northbound/reflect-index/internal/events"
	"github.com/northbound/reflect-index/internal/state"
	"github.com/northbound/reflect-index/internal/status"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Server serves /status (JSON snapshot) and /status/stream (live event
// tail) against one watcher's state and event bus.
type Server struct {
	logsDir  string
	state    *state.Store
	bus      *events.Bus
	upgrader websocket.Upgrader
}

// New constructs a Server. logsDir and st must match the watcher instance
// whose progress is being reported.
func New(logsDir string, st *state.Store, bus *events.Bus) *Server {
	return &Server{
		logsDir: logsDir,
		state:   st,
		bus:     bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The status dashboard is same-origin in every deployment this
			// codebase targets; a same-origin check is not meaningful here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the composed mux for the status frontend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Mount(mux)
	return mux
}

// Mount attaches this server's routes to an existing mux, for composing
// the status frontend alongside other HTTP surfaces (search.Handler) on
// one listener.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status/stream", s.handleStream)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot, err := status.Compute(s.logsDir, s.state)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.Printf("statusserver: encode status: %v", err)
	}
}

// handleStream upgrades to a WebSocket and tails every event published on
// the bus until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("statusserver: upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan events.Event, 32)
	s.bus.Subscribe(ch)
	defer s.bus.Unsubscribe(ch)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	// Drain client reads on a separate goroutine purely to notice
	// disconnects (this stream is server->client only).
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
