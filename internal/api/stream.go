package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/redisops/sre-assistant/internal/models"
)

const (
	streamMessageSample = "sample"
	streamMessageAlert  = "alert"
	streamMessageStatus = "status"

	streamSampleInterval = 2 * time.Second
	streamWriteTimeout   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced at the HTTP layer for the REST surface; the
		// stream accepts any origin that got this far.
		return true
	},
}

type streamMessage struct {
	Type      string               `json:"type"`
	State     string               `json:"state,omitempty"`
	Sample    *models.MetricSample `json:"sample,omitempty"`
	Alert     *models.Alert        `json:"alert,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// monitorStream pushes the latest sample on a fixed cadence and every alert
// transition as it happens, until the client disconnects.
func (h *handlers) monitorStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	alerts, cancel := h.deps.Monitor.Subscribe()
	defer cancel()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg streamMessage) bool {
		msg.Timestamp = time.Now().UTC()
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(msg) == nil
	}

	if !send(streamMessage{Type: streamMessageStatus, State: string(h.deps.Monitor.State())}) {
		return
	}

	ticker := time.NewTicker(streamSampleInterval)
	defer ticker.Stop()

	var lastSent time.Time
	for {
		select {
		case <-r.Context().Done():
			return
		case alert := <-alerts:
			if !send(streamMessage{Type: streamMessageAlert, Alert: &alert}) {
				return
			}
		case <-ticker.C:
			sample, ok := h.deps.Monitor.Latest()
			if !ok || !sample.Timestamp.After(lastSent) {
				continue
			}
			lastSent = sample.Timestamp
			if !send(streamMessage{Type: streamMessageSample, Sample: &sample}) {
				return
			}
		}
	}
}
