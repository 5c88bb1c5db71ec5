package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"pulse-server/internal/access"
	"pulse-server/internal/event"
	"pulse-server/internal/middleware"
	"pulse-server/internal/store"
)

type sendMessageRequest struct {
	Content       string              `json:"content"`
	RecipientType store.RecipientType `json:"recipient_type"`
	ReferenceID   uuid.UUID           `json:"reference_id"`
}

type editMessageRequest struct {
	ID      uuid.UUID `json:"id"`
	Content string    `json:"content"`
}

type deleteMessageRequest struct {
	ID uuid.UUID `json:"id"`
}

type seenMessageRequest struct {
	MessageID uuid.UUID `json:"message_id"`
}

func messageEvent(messageType string, msg *store.Message) event.Message {
	return event.Message{
		MessageType:   messageType,
		ID:            msg.ID,
		UserID:        msg.UserID,
		Content:       msg.Content,
		DateCreated:   msg.CreatedAt,
		DateUpdated:   msg.UpdatedAt,
		RecipientType: string(msg.RecipientType),
		ReferenceID:   msg.ReferenceID,
		Deleted:       msg.Deleted,
	}
}

// SendMessage accepts a channel or direct message, persists it, and fans the
// MESSAGE event out to everyone entitled to read it. Channel sends require
// write permission; the check runs before anything is stored.
func (a *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.RecipientType.Valid() {
		writeError(w, http.StatusBadRequest, "recipient type must be CHANNEL or USER")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	if req.RecipientType == store.RecipientChannel {
		if err := a.Engine.AuthorizeChannelSend(r.Context(), identity, req.ReferenceID); err != nil {
			writeError(w, http.StatusForbidden, "no permission to write to this channel")
			return
		}
	}

	msg, err := a.Store.CreateMessage(r.Context(), identity.UserID, req.Content, req.RecipientType, req.ReferenceID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// The sender has obviously seen the conversation up to their own send.
	if err := a.Store.TouchChannelView(r.Context(), identity.UserID, req.RecipientType, req.ReferenceID); err != nil {
		writeStoreError(w, err)
		return
	}

	dto := messageEvent(event.TypeMessage, msg)
	payload := event.Marshal(dto)

	switch req.RecipientType {
	case store.RecipientChannel:
		if err := a.Engine.NotifyChannel(r.Context(), req.ReferenceID, payload); err != nil {
			writeStoreError(w, err)
			return
		}
	case store.RecipientUser:
		a.Engine.NotifyDirect(identity.UserID, req.ReferenceID, payload)
	}

	writeJSON(w, http.StatusOK, dto)
}

// EditMessage updates a message's content. Only the author may edit, and
// the recipients get an EDIT_MESSAGE event.
func (a *API) EditMessage(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var req editMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	msg, err := a.Store.MessageByID(r.Context(), req.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if msg.UserID != identity.UserID {
		writeError(w, http.StatusForbidden, "message does not belong to user")
		return
	}

	if msg.RecipientType == store.RecipientChannel {
		if !a.Resolver.HasChannelPermission(r.Context(), identity, msg.ReferenceID, access.CanRead) {
			writeError(w, http.StatusForbidden, "no permission to read this channel")
			return
		}
	}

	msg, err = a.Store.EditMessage(r.Context(), req.ID, req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	dto := messageEvent(event.TypeEditMessage, msg)
	payload := event.Marshal(dto)

	switch msg.RecipientType {
	case store.RecipientChannel:
		if err := a.Engine.NotifyChannel(r.Context(), msg.ReferenceID, payload); err != nil {
			writeStoreError(w, err)
			return
		}
	case store.RecipientUser:
		a.Engine.NotifyDirect(identity.UserID, msg.ReferenceID, payload)
	}

	writeJSON(w, http.StatusOK, dto)
}

// DeleteMessage soft-deletes a message. The author may always delete their
// own; holders of manage-channels may delete anyone's.
func (a *API) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var req deleteMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := a.Store.MessageByID(r.Context(), req.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if msg.UserID != identity.UserID &&
		!a.Resolver.HasGlobalPermission(r.Context(), identity, access.PermissionManageChannels) {
		writeError(w, http.StatusForbidden, "message does not belong to user")
		return
	}

	if msg.RecipientType == store.RecipientChannel {
		ok, err := a.Resolver.HasChannelAccess(r.Context(), identity.UserID, msg.ReferenceID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "no access to this channel")
			return
		}
	}

	msg, err = a.Store.DeleteMessage(r.Context(), req.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	dto := messageEvent(event.TypeDeleteMessage, msg)
	payload := event.Marshal(dto)

	switch msg.RecipientType {
	case store.RecipientChannel:
		if err := a.Engine.NotifyChannel(r.Context(), msg.ReferenceID, payload); err != nil {
			writeStoreError(w, err)
			return
		}
	case store.RecipientUser:
		a.Engine.NotifyDirect(identity.UserID, msg.ReferenceID, payload)
	}

	writeJSON(w, http.StatusOK, dto)
}

// GetMessages returns one page of history for a channel or direct
// conversation, newest first.
func (a *API) GetMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	recipientType := store.RecipientType(r.URL.Query().Get("recipient_type"))
	if recipientType == "" {
		recipientType = store.RecipientChannel
	}
	if !recipientType.Valid() {
		writeError(w, http.StatusBadRequest, "recipient type must be CHANNEL or USER")
		return
	}

	referenceID, err := uuid.Parse(r.URL.Query().Get("reference_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reference_id is required")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	if recipientType == store.RecipientChannel {
		ok, err := a.Resolver.HasChannelAccess(r.Context(), identity.UserID, referenceID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "no access to this channel")
			return
		}
	}

	msgs, err := a.Store.MessagePage(r.Context(), identity.UserID, recipientType, referenceID, page, perPage)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	dtos := make([]event.Message, 0, len(msgs))
	for i := range msgs {
		dtos = append(dtos, messageEvent(event.TypeMessage, &msgs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SearchMessages finds messages by content fragment within one channel or
// conversation.
func (a *API) SearchMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	recipientType := store.RecipientType(r.URL.Query().Get("recipient_type"))
	if !recipientType.Valid() {
		writeError(w, http.StatusBadRequest, "recipient type must be CHANNEL or USER")
		return
	}

	referenceID, err := uuid.Parse(r.URL.Query().Get("reference_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reference_id is required")
		return
	}

	if recipientType == store.RecipientChannel {
		ok, err := a.Resolver.HasChannelAccess(r.Context(), identity.UserID, referenceID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "no access to this channel")
			return
		}
	}

	var authorID *uuid.UUID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		authorID = &id
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := a.Store.SearchMessages(r.Context(), recipientType, referenceID, r.URL.Query().Get("content"), authorID, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	dtos := make([]event.Message, 0, len(msgs))
	for i := range msgs {
		dtos = append(dtos, messageEvent(event.TypeMessage, &msgs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MarkSeen records that the caller has seen a message, for client-side
// unread reconciliation after reconnecting.
func (a *API) MarkSeen(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var req seenMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := a.Store.MessageByID(r.Context(), req.MessageID); err != nil {
		writeStoreError(w, err)
		return
	}

	if err := a.Store.MarkMessageSeen(r.Context(), identity.UserID, req.MessageID); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
