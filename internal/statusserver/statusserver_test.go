// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package statusserver

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/northbound/reflect-index/internal/events"
	"github.com/northbound/reflect-index/internal/state"
	"github.com/northbound/reflect-index/internal/status"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	st, err := state.Load(t.TempDir() + "/state.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := New(t.TempDir(), st, events.NewBus())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHandleStatus_ReturnsJSONSnapshot(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var got status.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got.Overall.Percentage != 100.0 {
		t.Errorf("percentage = %v, want 100.0 for an empty logs dir", got.Overall.Percentage)
	}
}

func TestHandleStream_DeliversPublishedEvent(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/status/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()

	// Give the server's Subscribe call time to register before publishing.
	time.Sleep(20 * time.Millisecond)
	s.bus.Publish(events.Event{Type: "file_imported", Project: "foo", Path: "/a.jsonl"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if got.Type != "file_imported" || got.Project != "foo" {
		t.Errorf("got %+v, want file_imported/foo", got)
	}
}
