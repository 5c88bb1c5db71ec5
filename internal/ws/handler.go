package ws

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pulse-server/internal/auth"
	"pulse-server/internal/registry"
	"pulse-server/internal/store"
)

// IdentityStore resolves a token's user id to a live user row.
type IdentityStore interface {
	UserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
}

// Handler upgrades authenticated requests into live connection actors.
type Handler struct {
	tokens   *auth.Tokens
	users    IdentityStore
	sessions *registry.Registry
}

func NewHandler(tokens *auth.Tokens, users IdentityStore, sessions *registry.Registry) *Handler {
	return &Handler{tokens: tokens, users: users, sessions: sessions}
}

// ServeHTTP resolves the connection's identity once, upgrades the socket
// and registers the actor. The identity is immutable for the connection's
// lifetime; a rejected token rejects the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r)
	}
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}

	userID, err := h.tokens.Parse(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if _, err := h.users.UserByID(r.Context(), userID); err != nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := newClient(conn, userID, h.sessions)
	client.open()
	h.sessions.Add(client)

	logrus.WithField("user_id", userID).Info("user connected")

	go client.writePump()
	go client.readPump()
}
