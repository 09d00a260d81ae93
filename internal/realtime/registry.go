package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/suPer8Hu/chat-rooms/internal/chat"
)

// Registry indexes live handles by session. Each session has its own lock, so
// fan-out in one session never waits on another.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	log   *slog.Logger
}

type room struct {
	mu      sync.Mutex
	handles map[string]Handle
}

var _ chat.Broadcaster = (*Registry)(nil)

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{rooms: make(map[string]*room), log: log}
}

// Register adds h to the session. A user may hold several handles.
func (r *Registry) Register(sessionID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.rooms[sessionID]
	if rm == nil {
		rm = &room{handles: make(map[string]Handle)}
		r.rooms[sessionID] = rm
	}
	rm.mu.Lock()
	rm.handles[h.ID()] = h
	rm.mu.Unlock()
}

// Unregister removes h. It reports whether h was still registered.
func (r *Registry) Unregister(sessionID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.rooms[sessionID]
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	_, ok := rm.handles[h.ID()]
	delete(rm.handles, h.ID())
	empty := len(rm.handles) == 0
	rm.mu.Unlock()
	if empty {
		delete(r.rooms, sessionID)
	}
	return ok
}

// Count returns the number of live handles in the session.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	rm := r.rooms[sessionID]
	r.mu.RUnlock()
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.handles)
}

func (r *Registry) Broadcast(sessionID string, ev chat.Event) {
	r.BroadcastExcept(sessionID, ev, "")
}

// BroadcastExcept sends ev to every handle of the session but excludeID. It
// returns the number of handles that accepted the payload.
func (r *Registry) BroadcastExcept(sessionID string, ev chat.Event, excludeID string) int {
	payload, ok := r.encode(ev)
	if !ok {
		return 0
	}
	delivered := 0
	for _, h := range r.snapshot(sessionID) {
		if excludeID != "" && h.ID() == excludeID {
			continue
		}
		if err := h.Send(payload); err != nil {
			r.log.Warn("broadcast send failed",
				"code", chat.CodeTransportFailure, "session_id", sessionID,
				"user_id", h.UserID(), "handle_id", h.ID(), "event", ev.Type, "err", err)
			r.Unregister(sessionID, h)
			h.Close(CloseSlowConsumer, "send failed")
			continue
		}
		delivered++
	}
	return delivered
}

// EvictSession unregisters every handle of the session, delivers ev to each
// and closes it.
func (r *Registry) EvictSession(sessionID string, ev chat.Event) {
	r.mu.Lock()
	rm := r.rooms[sessionID]
	delete(r.rooms, sessionID)
	r.mu.Unlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	handles := make([]Handle, 0, len(rm.handles))
	for _, h := range rm.handles {
		handles = append(handles, h)
	}
	rm.handles = map[string]Handle{}
	rm.mu.Unlock()

	r.deliverAndClose(sessionID, handles, ev, CloseSessionClosed, "session closed")
}

// EvictUser unregisters the user's handles in the session, delivers ev to each
// and closes it. Other users are untouched.
func (r *Registry) EvictUser(sessionID string, userID uint64, ev chat.Event) {
	var handles []Handle
	r.mu.Lock()
	if rm := r.rooms[sessionID]; rm != nil {
		rm.mu.Lock()
		for id, h := range rm.handles {
			if h.UserID() == userID {
				handles = append(handles, h)
				delete(rm.handles, id)
			}
		}
		if len(rm.handles) == 0 {
			delete(r.rooms, sessionID)
		}
		rm.mu.Unlock()
	}
	r.mu.Unlock()

	r.deliverAndClose(sessionID, handles, ev, CloseEvicted, "removed from session")
}

// Shutdown closes every handle with 1001.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*room)
	r.mu.Unlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		for _, h := range rm.handles {
			h.Close(1001, "server shutdown")
		}
		rm.mu.Unlock()
	}
}

func (r *Registry) deliverAndClose(sessionID string, handles []Handle, ev chat.Event, code int, reason string) {
	if len(handles) == 0 {
		return
	}
	payload, ok := r.encode(ev)
	for _, h := range handles {
		if ok {
			if err := h.Send(payload); err != nil {
				r.log.Debug("eviction notice dropped", "session_id", sessionID, "handle_id", h.ID(), "err", err)
			}
		}
		h.Close(code, reason)
	}
}

func (r *Registry) snapshot(sessionID string) []Handle {
	r.mu.RLock()
	rm := r.rooms[sessionID]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]Handle, 0, len(rm.handles))
	for _, h := range rm.handles {
		out = append(out, h)
	}
	return out
}

func (r *Registry) encode(ev chat.Event) ([]byte, bool) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("encode event", "event", ev.Type, "err", err)
		return nil, false
	}
	return payload, true
}
