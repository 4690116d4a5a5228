// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/MisraFix/services/fixer/pipeline"
	"github.com/AleutianAI/MisraFix/services/gateway/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	// Task views carry context windows and diffs, a few KB each.
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
}

// wsEvent tags a pipeline event with the message discriminator clients
// switch on.
type wsEvent struct {
	Action string `json:"action"`
	pipeline.Event
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// StreamSessionEvents handles GET /v1/sessions/:id/events.
//
// # Description
//
// Upgrades to a websocket and pushes every task status transition for
// the session as it happens. The first message is a "session_snapshot"
// with the current summary and task views, so clients joining mid-run
// miss nothing. Subsequent messages are "task_update" events; a final
// "session_closed" message precedes the server-side close when the
// session ends or is removed.
//
// Slow clients drop events rather than stall the pipeline; the snapshot
// on reconnect recovers the current state.
func StreamSessionEvents(manager *pipeline.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		s, err := manager.Session(sessionID)
		if err != nil {
			recordError(observability.EndpointEvents, observability.ErrorCodeNotFound)
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			recordError(observability.EndpointEvents, observability.ErrorCodeWebsocket)
			return
		}
		defer ws.Close()

		slog.Info("Event stream client connected", "sessionId", sessionID)
		if m := observability.DefaultMetrics; m != nil {
			m.StreamOpened()
			defer m.StreamClosed()
		}

		// Subscribe before the snapshot so transitions between the two
		// are not lost; the client dedupes by task ID and updatedAt.
		events, cancel := s.Subscribe()
		defer cancel()

		if err := sendJSON(ws, map[string]interface{}{
			"action":  "session_snapshot",
			"session": s.Summarize(),
			"tasks":   taskViews(s),
		}); err != nil {
			return
		}

		// Read pump: the client sends nothing meaningful, but reading is
		// how gorilla surfaces close frames and dead connections.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					_ = sendJSON(ws, map[string]interface{}{
						"action":    "session_closed",
						"sessionId": sessionID,
					})
					slog.Info("Event stream ended with session", "sessionId", sessionID)
					return
				}
				if err := sendJSON(ws, wsEvent{Action: "task_update", Event: ev}); err != nil {
					return
				}
				if m := observability.DefaultMetrics; m != nil {
					m.RecordEventSent()
				}
			case <-clientGone:
				slog.Info("Event stream client disconnected", "sessionId", sessionID)
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
