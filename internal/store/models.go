package store

import (
	"time"

	"github.com/google/uuid"
)

// RecipientType discriminates channel messages from direct messages. For
// channels ReferenceID is the channel id, for direct messages it is the peer
// user id.
type RecipientType string

const (
	RecipientChannel RecipientType = "CHANNEL"
	RecipientUser    RecipientType = "USER"
)

// Valid reports whether rt is one of the two known recipient types.
func (rt RecipientType) Valid() bool {
	return rt == RecipientChannel || rt == RecipientUser
}

// Organization is the tenant boundary. Users, channels and roles belong to
// exactly one organization; it is the only entity without a soft-delete flag.
type Organization struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type User struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username       string    `gorm:"index:idx_users_org_username,unique" json:"username"`
	DisplayName    string    `json:"display_name"`
	ProfileImage   *string   `json:"profile_image,omitempty"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index:idx_users_org_username,unique" json:"organization_id"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Role carries the organization-wide capability flags. Administrator implies
// every other flag for authorization purposes.
type Role struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string    `json:"name"`
	Administrator  bool      `json:"administrator"`
	ManageUsers    bool      `json:"manage_users"`
	ManageChannels bool      `json:"manage_channels"`
	ManageRoles    bool      `json:"manage_roles"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index" json:"organization_id"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Channel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index" json:"organization_id"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ChannelRoleAccess grants a role read and/or write access to a channel.
// CanWrite implies CanRead.
type ChannelRoleAccess struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChannelID uuid.UUID `gorm:"type:uuid;index" json:"channel_id"`
	RoleID    uuid.UUID `gorm:"type:uuid;index" json:"role_id"`
	CanRead   bool      `json:"can_read"`
	CanWrite  bool      `json:"can_write"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserRoleAccess assigns a role to a user. A user may hold many roles;
// authorization is the union across all non-deleted grants.
type UserRoleAccess struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	RoleID    uuid.UUID `gorm:"type:uuid;index" json:"role_id"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID     `gorm:"type:uuid;index" json:"user_id"`
	Content       string        `json:"content"`
	RecipientType RecipientType `gorm:"index" json:"recipient_type"`
	ReferenceID   uuid.UUID     `gorm:"type:uuid;index" json:"reference_id"`
	Deleted       bool          `json:"deleted"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// UserChannelView records when a user last viewed a channel or direct
// conversation. Clients reconcile unread state from it after reconnecting.
type UserChannelView struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID     `gorm:"type:uuid;index" json:"user_id"`
	RecipientType RecipientType `json:"recipient_type"`
	ReferenceID   uuid.UUID     `gorm:"type:uuid" json:"reference_id"`
	LastViewed    time.Time     `json:"last_viewed"`
}

// SeenMessage marks a single message as seen by a user.
type SeenMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	MessageID uuid.UUID `gorm:"type:uuid;index" json:"message_id"`
	DateSeen  time.Time `json:"date_seen"`
}

// Models returns every entity for schema migration.
func Models() []interface{} {
	return []interface{}{
		&Organization{},
		&User{},
		&Role{},
		&Channel{},
		&ChannelRoleAccess{},
		&UserRoleAccess{},
		&Message{},
		&UserChannelView{},
		&SeenMessage{},
	}
}
