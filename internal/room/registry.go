// Package room tracks which live connections belong to which session and
// fans events out to them. The registry is process-local state rebuilt
// from scratch on restart; clients re-announce themselves on reconnect,
// so nothing here is persisted. Running more than one server process
// requires a shared pub/sub layer underneath this registry, which this
// design does not provide.
package room

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"go.uber.org/zap"
)

// User describes one live connection as reported to presence consumers.
type User struct {
	ID        string `json:"id"`
	CommonID  string `json:"commonId"`
	UserAgent string `json:"userAgent"`
}

// Insight is the presence snapshot broadcast to a room.
type Insight struct {
	ConnectedCount int    `json:"connectedCount"`
	Users          []User `json:"users"`
}

// Connection is the transport half of a room member. Deliver is
// fire-and-forget: implementations drop the payload rather than block,
// and a failed delivery is never retried or surfaced to the sender.
type Connection interface {
	ID() string
	Deliver(payload []byte)
}

type member struct {
	user User
	conn Connection
}

// Registry maps session ids to their currently connected members.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]member
	logger *zap.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:  make(map[string]map[string]member),
		logger: logger,
	}
}

// CommonID derives the stable hash grouping connections that likely belong
// to the same physical client (several tabs of one browser).
func CommonID(userAgent, remoteAddr string) string {
	digest := sha256.Sum256([]byte(userAgent + ":" + remoteAddr))
	return hex.EncodeToString(digest[:])
}

// Join registers a connection in the session's room and returns its user record.
func (r *Registry) Join(sessionID string, conn Connection, userAgent, remoteAddr string) User {
	user := User{
		ID:        conn.ID(),
		CommonID:  CommonID(userAgent, remoteAddr),
		UserAgent: userAgent,
	}

	r.mu.Lock()
	entries, ok := r.rooms[sessionID]
	if !ok {
		entries = make(map[string]member)
		r.rooms[sessionID] = entries
	}
	entries[conn.ID()] = member{user: user, conn: conn}
	size := len(entries)
	r.mu.Unlock()

	r.logger.Debug("connection joined room",
		zap.String("session_id", sessionID),
		zap.String("connection_id", conn.ID()),
		zap.Int("room_size", size))
	return user
}

// Leave removes a connection from the session's room. An emptied room is
// kept as an empty map: session identity is independent of connectivity.
func (r *Registry) Leave(sessionID, connectionID string) {
	r.mu.Lock()
	if entries, ok := r.rooms[sessionID]; ok {
		delete(entries, connectionID)
	}
	r.mu.Unlock()

	r.logger.Debug("connection left room",
		zap.String("session_id", sessionID),
		zap.String("connection_id", connectionID))
}

// Snapshot reports the room's current presence.
func (r *Registry) Snapshot(sessionID string) Insight {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.rooms[sessionID]
	users := make([]User, 0, len(entries))
	for _, entry := range entries {
		users = append(users, entry.user)
	}
	return Insight{ConnectedCount: len(users), Users: users}
}

// Broadcast delivers a payload to every member of the session's room
// except the sender. The sender id may be a live connection id or the
// ephemeral id supplied by a one-shot HTTP mutation; both are excluded the
// same way because the originator already holds the mutation's result.
// Pass an empty sender id to reach every member.
func (r *Registry) Broadcast(sessionID, senderID string, payload []byte) {
	r.mu.RLock()
	entries := r.rooms[sessionID]
	targets := make([]Connection, 0, len(entries))
	for connectionID, entry := range entries {
		if senderID != "" && connectionID == senderID {
			continue
		}
		targets = append(targets, entry.conn)
	}
	r.mu.RUnlock()

	for _, target := range targets {
		target.Deliver(payload)
	}
}
