// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// NodeEvent is the JSON payload broadcast to websocket observers.
type NodeEvent struct {
	FQN       string `json:"fqn"`
	Kind      string `json:"kind"` // "calculated" | "value_set"
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp_unix_ms"`
}

// WebSocketObserver broadcasts node events to every connected client. It
// is one concrete Subscriber implementation among several the 4.D
// Observers component can host — spec.md describes only the ordered
// subscriber-list contract, not a transport, so streaming is an additive
// extension rather than a core behavior.
type WebSocketObserver struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewWebSocketObserver constructs a broadcaster with no connected clients.
func NewWebSocketObserver(logger *slog.Logger) *WebSocketObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketObserver{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and registers it as a broadcast
// target until it disconnects.
func (o *WebSocketObserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.logger.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	o.mu.Lock()
	o.clients[conn] = struct{}{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.clients, conn)
		o.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// Subscriber adapts the observer into an EventChannel callback for a
// given fqn/kind pair: wrapper.OnCalculated.Subscribe(o.Subscriber(wrapper.FQN(), "calculated")).
func (o *WebSocketObserver) Subscriber(fqn, kind string) Subscriber {
	return func(value any, _ ...any) {
		o.broadcast(NodeEvent{
			FQN:       fqn,
			Kind:      kind,
			Value:     value,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (o *WebSocketObserver) broadcast(evt NodeEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for conn := range o.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			o.logger.Debug("dropping websocket client after write error", slog.Any("err", err))
			_ = conn.Close()
			delete(o.clients, conn)
		}
	}
}
