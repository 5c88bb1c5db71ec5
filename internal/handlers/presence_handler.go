package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"pulse-server/internal/event"
	"pulse-server/internal/middleware"
	"pulse-server/internal/store"
)

type typingRequest struct {
	ReferenceID   uuid.UUID           `json:"reference_id"`
	RecipientType store.RecipientType `json:"recipient_type"`
}

// GetConnected lists the currently connected users of the caller's
// organization. Connections from other tenants are invisible.
func (a *API) GetConnected(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	caller, err := a.Store.UserByID(r.Context(), identity.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	connected := a.Sessions.ConnectedIDs()
	users, err := a.Store.UsersByIDs(r.Context(), connected)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	ids := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		if u.OrganizationID == caller.OrganizationID {
			ids = append(ids, u.ID)
		}
	}

	writeJSON(w, http.StatusOK, ids)
}

// Typing fans the ephemeral typing indicator out: to a channel's audience
// for channel conversations, or to the peer alone for direct ones.
func (a *API) Typing(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var req typingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.RecipientType.Valid() {
		writeError(w, http.StatusBadRequest, "recipient type must be CHANNEL or USER")
		return
	}

	payload := event.NewTyping(identity.UserID, req.ReferenceID, string(req.RecipientType))

	switch req.RecipientType {
	case store.RecipientChannel:
		if err := a.Engine.NotifyChannel(r.Context(), req.ReferenceID, payload); err != nil {
			writeStoreError(w, err)
			return
		}
	case store.RecipientUser:
		a.Sessions.Broadcast([]uuid.UUID{req.ReferenceID}, payload)
	}

	writeJSON(w, http.StatusOK, event.Typing{
		MessageType:   event.TypeTyping,
		UserID:        identity.UserID,
		ReferenceID:   req.ReferenceID,
		RecipientType: string(req.RecipientType),
	})
}
