package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Event is the wire envelope for everything pushed to clients.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub tracks one active websocket session per user and delivers
// user-addressed events. It is the notification sink for both the producer's
// optimistic pushes and the dispatcher's delivery confirmations.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection // sessionID -> connection
	userSessions map[string]string      // userID -> sessionID
}

// NewHub constructs an initialized Hub.
func NewHub() *Hub {
	return &Hub{
		sessions:     make(map[string]*Connection),
		userSessions: make(map[string]string),
	}
}

// Attach registers a connection for the given user. A previous session for
// the same user is closed after the swap so each user keeps one socket.
func (h *Hub) Attach(conn *Connection) {
	var previous *Connection

	h.mu.Lock()
	if existingID, ok := h.userSessions[conn.UserID]; ok {
		if existing := h.sessions[existingID]; existing != nil {
			previous = existing
			h.detachLocked(existingID)
		}
	}
	h.sessions[conn.ID] = conn
	h.userSessions[conn.UserID] = conn.ID
	h.mu.Unlock()

	conn.Start()

	if previous != nil {
		previous.Close(4001, "session replaced")
	}
}

// Detach removes a connection if it is still tracked.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	h.detachLocked(conn.ID)
	h.mu.Unlock()
}

// PushToUser delivers a named event to the user's active connection.
// Users without a connection are not an error; delivery is best-effort.
func (h *Hub) PushToUser(userID, event string, payload any) error {
	h.mu.RLock()
	sessionID, ok := h.userSessions[userID]
	conn := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok || conn == nil {
		return nil
	}

	data, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("realtime: marshal %s event: %w", event, err)
	}
	return conn.Send(data)
}

// Online reports whether the user currently has an attached session.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	_, ok := h.userSessions[userID]
	h.mu.RUnlock()
	return ok
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		conns = append(conns, conn)
	}
	h.sessions = make(map[string]*Connection)
	h.userSessions = make(map[string]string)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(1001, "hub shutdown")
	}
}

func (h *Hub) detachLocked(sessionID string) {
	conn, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(h.sessions, sessionID)
	if current, ok := h.userSessions[conn.UserID]; ok && current == sessionID {
		delete(h.userSessions, conn.UserID)
	}
}
