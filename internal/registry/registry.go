// Package registry holds the process-wide mapping of logged-in users to
// their live realtime connections. It is the single shared mutable resource
// of the realtime layer; one mutex covers both internal views so no
// observer can see a session in one and not the other. No I/O happens under
// the lock: delivery is a non-blocking enqueue onto per-session buffers.
package registry

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pulse-server/internal/event"
	"pulse-server/internal/metrics"
)

// Session is a live connection handle. Enqueue must not block; it reports
// false when the payload could not be buffered. Close asks the session to
// tear itself down.
type Session interface {
	UserID() uuid.UUID
	Enqueue(payload []byte) bool
	Close()
}

// Registry maps user ids to their single live session. A user opening a
// second connection silently replaces the first (last writer wins); the old
// session is closed.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[uuid.UUID]Session
	sessions map[Session]struct{}
}

func New() *Registry {
	return &Registry{
		byUser:   make(map[uuid.UUID]Session),
		sessions: make(map[Session]struct{}),
	}
}

// Add registers a session under its user id, evicting any previous session
// for the same user, then announces the presence change to every connected
// session, the new one included.
func (r *Registry) Add(s Session) {
	userID := s.UserID()

	r.mu.Lock()
	var replaced Session
	if existing, ok := r.byUser[userID]; ok && existing != s {
		replaced = existing
		delete(r.sessions, existing)
	}
	r.byUser[userID] = s
	r.sessions[s] = struct{}{}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	metrics.ConnectedSessions.Set(float64(len(snapshot)))

	if replaced != nil {
		logrus.WithField("user_id", userID).Info("replacing existing session for user")
		go replaced.Close()
	}

	notifyPresence(snapshot)
}

// Remove deregisters a session, but only if it is still the one stored for
// its user: a stale disconnect must not evict a newer connection. Removing
// an absent session is a no-op.
func (r *Registry) Remove(userID uuid.UUID, s Session) {
	r.mu.Lock()
	current, ok := r.byUser[userID]
	if !ok || current != s {
		r.mu.Unlock()
		return
	}
	delete(r.byUser, userID)
	delete(r.sessions, s)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	metrics.ConnectedSessions.Set(float64(len(snapshot)))
	logrus.WithField("user_id", userID).Info("session disconnected")

	notifyPresence(snapshot)
}

// Broadcast enqueues the payload on every listed user's live session. Users
// without one are silently skipped; there is no retry and no buffering for
// the disconnected.
func (r *Registry) Broadcast(userIDs []uuid.UUID, payload []byte) {
	r.mu.RLock()
	targets := make([]Session, 0, len(userIDs))
	for _, id := range userIDs {
		if s, ok := r.byUser[id]; ok {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	metrics.BroadcastsTotal.Inc()
	for _, s := range targets {
		deliver(s, payload)
	}
}

// ConnectedIDs returns a snapshot of the currently connected user ids.
func (r *Registry) ConnectedIDs() []uuid.UUID {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) snapshotLocked() []Session {
	snapshot := make([]Session, 0, len(r.sessions))
	for s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	return snapshot
}

func notifyPresence(sessions []Session) {
	payload := event.UpdateUsers()
	for _, s := range sessions {
		deliver(s, payload)
	}
}

func deliver(s Session, payload []byte) {
	if s.Enqueue(payload) {
		metrics.DeliveriesTotal.Inc()
		return
	}
	metrics.DroppedDeliveriesTotal.Inc()
	logrus.WithField("user_id", s.UserID()).Warn("session buffer full, closing connection")
	go s.Close()
}
