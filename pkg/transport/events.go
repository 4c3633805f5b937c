package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lectern-ai/lectern/pkg/session"
)

// hub fans coordinator events out to websocket watchers, keyed by
// session. A slow watcher drops events rather than blocking the
// coordinator.
type hub struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	watchers map[string][]*watcher
}

func newHub(cfg Config) *hub {
	h := &hub{watchers: make(map[string][]*watcher)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg),
	}
	return h
}

func originChecker(cfg Config) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if cfg.AllowAnyOrigin {
			return true
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		origin = strings.TrimRight(origin, "/")
		for _, allowed := range cfg.AllowedOrigins {
			a := strings.TrimRight(strings.TrimSpace(allowed), "/")
			if a != "" && strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (h *hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wa := &watcher{conn: conn, sendCh: make(chan []byte, 64)}
	h.mu.Lock()
	h.watchers[id] = append(h.watchers[id], wa)
	h.mu.Unlock()
	go wa.loop()

	// Reads are only consumed to detect the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(id, wa)
	_ = wa.close()
}

// OnStateChange implements session.StateListener.
func (h *hub) OnStateChange(change session.StateChange) {
	h.broadcast(change.SessionID, map[string]any{
		"type":       "state_change",
		"session_id": change.SessionID,
		"from":       change.FromState.String(),
		"to":         change.ToState.String(),
		"event":      string(change.Event),
		"reason":     change.Reason,
		"timestamp":  change.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// OnPosition implements session.PositionListener.
func (h *hub) OnPosition(sessionID string, sequence int, positionSeconds float64) {
	h.broadcast(sessionID, map[string]any{
		"type":             "position",
		"session_id":       sessionID,
		"sequence":         sequence,
		"position_seconds": positionSeconds,
	})
}

func (h *hub) broadcast(sessionID string, payload map[string]any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.Lock()
	watchers := append([]*watcher(nil), h.watchers[sessionID]...)
	h.mu.Unlock()
	for _, wa := range watchers {
		wa.enqueue(b)
	}
}

func (h *hub) remove(sessionID string, wa *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.watchers[sessionID]
	for i, cand := range list {
		if cand == wa {
			h.watchers[sessionID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.watchers[sessionID]) == 0 {
		delete(h.watchers, sessionID)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	all := h.watchers
	h.watchers = make(map[string][]*watcher)
	h.mu.Unlock()
	for _, list := range all {
		for _, wa := range list {
			_ = wa.close()
		}
	}
}

type watcher struct {
	conn *websocket.Conn

	// mu serializes enqueue against close so a broadcast can never hit
	// the channel after it has been closed.
	mu     sync.Mutex
	closed bool
	sendCh chan []byte
}

func (w *watcher) enqueue(msg []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.sendCh <- msg:
	default:
	}
}

func (w *watcher) loop() {
	for msg := range w.sendCh {
		_ = w.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (w *watcher) close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.sendCh)
	}
	w.mu.Unlock()
	return w.conn.Close()
}
