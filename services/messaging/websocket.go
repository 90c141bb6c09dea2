// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/careos/careos/services/datatypes"
)

// ErrNotConnected is returned by WebSocketHub.Notify when the recipient has
// no open stream.
var ErrNotConnected = errors.New("recipient has no open alert stream")

const (
	wsWriteTimeout = 5 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	// Clients only send control frames.
	wsReadLimit = 512
)

// WebSocketHub pushes notifications to managers who hold an open alert
// stream.
//
// # Description
//
// Each authenticated connection is registered under the user ID it was
// opened for; Notify writes the JSON envelope to every connection of the
// recipient. Users may hold several streams (one per browser tab). A
// connection that fails a write is dropped.
//
// # Thread Safety
//
// Safe for concurrent use. Writes to a single connection are serialised.
type WebSocketHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	userID string
	conn   *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *wsClient) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// NewWebSocketHub creates an empty hub. checkOrigin may be nil to accept
// only same-origin upgrades.
func NewWebSocketHub(logger *slog.Logger, checkOrigin func(r *http.Request) bool) *WebSocketHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  logger,
		clients: make(map[string]map[*wsClient]struct{}),
	}
}

// Serve upgrades the request and streams notifications for userID until
// the client disconnects or the hub closes. The caller must already have
// authenticated the request.
func (h *WebSocketHub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	if userID == "" {
		return ErrNoRecipient
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return fmt.Errorf("upgrade alert stream: %w", err)
	}
	client := &wsClient{userID: userID, conn: conn}
	if !h.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteTimeout))
		return conn.Close()
	}
	defer h.unregister(client)
	h.logger.Info("Alert stream connected", "user_id", userID)

	stop := make(chan struct{})
	defer close(stop)
	go h.keepAlive(client, stop)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Alert stream closed unexpectedly", "user_id", userID, "error", err)
			} else {
				h.logger.Info("Alert stream disconnected", "user_id", userID)
			}
			return nil
		}
	}
}

func (h *WebSocketHub) keepAlive(c *wsClient, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				h.logger.Debug("Alert stream ping failed", "user_id", c.userID, "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *WebSocketHub) unregister(c *wsClient) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Connected returns the number of open streams for userID.
func (h *WebSocketHub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Notify implements Notifier. It returns ErrNotConnected when the recipient
// has no open stream, and succeeds when at least one stream took the
// message.
func (h *WebSocketHub) Notify(ctx context.Context, to datatypes.PlatformIdentity, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to.UserID == "" {
		return ErrNoRecipient
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[to.UserID]))
	for c := range h.clients[to.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return fmt.Errorf("%w: %s", ErrNotConnected, to.UserID)
	}

	env := envelope{To: to, Message: msg}
	delivered := 0
	var errs []error
	for _, c := range targets {
		if err := c.writeJSON(env); err != nil {
			h.logger.Warn("Alert stream write failed, dropping connection", "user_id", to.UserID, "error", err)
			h.unregister(c)
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("push to %s: %w", to.UserID, errors.Join(errs...))
	}
	return nil
}

// Close disconnects every stream and rejects new ones.
func (h *WebSocketHub) Close() error {
	h.mu.Lock()
	h.closed = true
	var all []*wsClient
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteTimeout))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
	return nil
}
