package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Known message_type discriminators pushed over the realtime channel.
// Clients switch on message_type; UPDATE_USERS and UPDATE_STATUS carry no
// further payload and tell the client to re-fetch the affected resources.
const (
	TypeUpdateUsers   = "UPDATE_USERS"
	TypeUpdateStatus  = "UPDATE_STATUS"
	TypeTyping        = "TYPING"
	TypeMessage       = "MESSAGE"
	TypeEditMessage   = "EDIT_MESSAGE"
	TypeDeleteMessage = "DELETE_MESSAGE"
)

// Envelope is the minimal shape every realtime event carries.
type Envelope struct {
	MessageType string `json:"message_type"`
}

// Typing is the ephemeral typing indicator event.
type Typing struct {
	MessageType   string    `json:"message_type"`
	UserID        uuid.UUID `json:"user_id"`
	ReferenceID   uuid.UUID `json:"reference_id"`
	RecipientType string    `json:"recipient_type"`
}

// Message mirrors the stored message entity for MESSAGE, EDIT_MESSAGE and
// DELETE_MESSAGE events.
type Message struct {
	MessageType   string    `json:"message_type"`
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Content       string    `json:"content"`
	DateCreated   time.Time `json:"date_created"`
	DateUpdated   time.Time `json:"date_updated"`
	RecipientType string    `json:"recipient_type"`
	ReferenceID   uuid.UUID `json:"reference_id"`
	Deleted       bool      `json:"deleted"`
}

// UpdateUsers returns the serialized presence-changed event.
func UpdateUsers() []byte {
	return marshal(Envelope{MessageType: TypeUpdateUsers})
}

// UpdateStatus returns the serialized permission/role/channel-changed event.
func UpdateStatus() []byte {
	return marshal(Envelope{MessageType: TypeUpdateStatus})
}

// NewTyping returns the serialized typing indicator for a channel or peer.
func NewTyping(userID, referenceID uuid.UUID, recipientType string) []byte {
	return marshal(Typing{
		MessageType:   TypeTyping,
		UserID:        userID,
		ReferenceID:   referenceID,
		RecipientType: recipientType,
	})
}

// Marshal serializes any event value into an opaque payload string.
func Marshal(v interface{}) []byte {
	return marshal(v)
}

func marshal(v interface{}) []byte {
	// The event structs contain only marshalable fields.
	b, _ := json.Marshal(v)
	return b
}
