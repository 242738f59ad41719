package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/storage"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsOutbound struct {
	Type    string        `json:"type"`
	RunID   string        `json:"run_id,omitempty"`
	Event   *models.Event `json:"event,omitempty"`
	Message string        `json:"message,omitempty"`
}

// handleEvents streams a run's events: the history first, then live events
// until the run finishes. Runs the hub no longer holds are replayed from the
// store.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	past, live, unsubscribe, ok := s.hub.Subscribe(runID)
	defer unsubscribe()
	if !ok {
		events, err := s.store.ListEvents(r.Context(), runID)
		if err != nil {
			s.logger.Error("event lookup failed", zap.String("run_id", runID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load events")
			return
		}
		if len(events) == 0 {
			if _, err := s.store.GetRun(r.Context(), runID); errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
		}
		past = events
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	// The client only sends control frames; a read error means it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(out wsOutbound) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return false
		}
		return conn.WriteJSON(out) == nil
	}

	if !send(wsOutbound{Type: "subscribed", RunID: runID}) {
		return
	}
	for i := range past {
		if !send(wsOutbound{Type: "event", RunID: runID, Event: &past[i]}) {
			return
		}
	}

	if live != nil {
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-live:
				if !ok {
					break stream
				}
				if !send(wsOutbound{Type: "event", RunID: runID, Event: &ev}) {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}

	send(wsOutbound{Type: "done", RunID: runID})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
}
