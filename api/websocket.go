package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pajakflow/tax-docs-service/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer; token auth already ran.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// BatchProgressWS streams a batch's progress events to the client. The
// middleware accepts the token via the `token` query parameter, since
// browser WebSocket clients cannot set headers. The connection stays open
// after the terminal event until the client closes it.
func (h *Handler) BatchProgressWS(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	batchID, err := pathID(r, "id")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, CodeValidation, "invalid batch id")
		return
	}
	batch, err := h.orch.GetBatch(r.Context(), claims.UserID, claims.IsAdmin, batchID)
	if err != nil {
		h.sendLookupError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := h.orch.Bus().Subscribe(batchID)
	defer cancel()

	// Snapshot first, so late subscribers see the current state before any
	// live event arrives.
	snapshot := pipeline.Event{
		Type:           pipeline.EventBatchProgress,
		BatchID:        batch.ID,
		Status:         string(batch.Status),
		ProcessedFiles: batch.ProcessedFiles,
		TotalFiles:     batch.TotalFiles,
		Percent:        batch.ProgressPercentage(),
		Timestamp:      time.Now(),
	}
	if err := h.writeEvent(conn, snapshot); err != nil {
		return
	}

	// Reader goroutine: its only job is to observe the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			if err := h.writeEvent(conn, evt); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, evt pipeline.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(evt)
}
