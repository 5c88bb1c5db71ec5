package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"pulse-server/internal/event"
)

// The notify endpoints are the entry points trusted boundary services call
// after committing a mutation: they push UPDATE_STATUS to exactly the users
// whose view of the mutated resource could have changed. All of them sit
// behind the client-secret middleware.

type notifyChannelRequest struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

type notifyRoleRequest struct {
	RoleID         uuid.UUID `json:"role_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
}

type notifyOrganizationRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
}

type notifyDirectRequest struct {
	SenderID uuid.UUID `json:"sender_id"`
	PeerID   uuid.UUID `json:"peer_id"`
}

// NotifyChannel pushes a status refresh to a channel's audience after its
// grants or metadata changed.
func (a *API) NotifyChannel(w http.ResponseWriter, r *http.Request) {
	var req notifyChannelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.Engine.NotifyChannel(r.Context(), req.ChannelID, event.UpdateStatus()); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotifyRoleChange pushes a status refresh to a role's holders and the
// organization's role managers after the role changed.
func (a *API) NotifyRoleChange(w http.ResponseWriter, r *http.Request) {
	var req notifyRoleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.Engine.NotifyRoleChange(r.Context(), req.RoleID, req.OrganizationID, event.UpdateStatus()); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotifyOrganization pushes a status refresh to every user of an
// organization, for profile and presence wide broadcasts.
func (a *API) NotifyOrganization(w http.ResponseWriter, r *http.Request) {
	var req notifyOrganizationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.Engine.NotifyOrganization(r.Context(), req.OrganizationID, event.UpdateStatus()); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotifyDirect pushes a status refresh to the two ends of a direct
// conversation.
func (a *API) NotifyDirect(w http.ResponseWriter, r *http.Request) {
	var req notifyDirectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a.Engine.NotifyDirect(req.SenderID, req.PeerID, event.UpdateStatus())

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
