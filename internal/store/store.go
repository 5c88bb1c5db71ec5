package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist or is
	// soft-deleted.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable is returned when the underlying database call failed.
	// Callers must treat it as retryable and abort derived computations.
	ErrUnavailable = errors.New("store: unavailable")
)

// Capability selects which organization-wide management flag, alongside
// administrator, grants an implicit override.
type Capability string

const (
	CapabilityManageChannels Capability = "manage_channels"
	CapabilityManageRoles    Capability = "manage_roles"
	CapabilityManageUsers    Capability = "manage_users"
)

// Store is the read/write boundary over the record store. The authorization
// core only reads through it; rows are created and soft-deleted by the
// boundary handlers.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and seeding.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// UserByID returns the non-deleted user with the given id.
func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&u).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &u, nil
}

// ChannelByID returns the non-deleted channel with the given id.
func (s *Store) ChannelByID(ctx context.Context, id uuid.UUID) (*Channel, error) {
	var c Channel
	err := s.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&c).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &c, nil
}

// RoleByID returns the non-deleted role with the given id.
func (s *Store) RoleByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	var r Role
	err := s.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&r).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &r, nil
}

// GrantsForUser returns the user's non-deleted role grants.
func (s *Store) GrantsForUser(ctx context.Context, userID uuid.UUID) ([]UserRoleAccess, error) {
	var grants []UserRoleAccess
	err := s.db.WithContext(ctx).Where("user_id = ? AND deleted = ?", userID, false).Find(&grants).Error
	if err != nil {
		return nil, wrap(err)
	}
	return grants, nil
}

// GrantsForRoles returns all non-deleted user grants on any of the given
// roles. An empty role set yields an empty result without touching the
// database.
func (s *Store) GrantsForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]UserRoleAccess, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	var grants []UserRoleAccess
	err := s.db.WithContext(ctx).Where("role_id IN ? AND deleted = ?", roleIDs, false).Find(&grants).Error
	if err != nil {
		return nil, wrap(err)
	}
	return grants, nil
}

// ChannelGrant returns the non-deleted access row for a (channel, role)
// pair, or ErrNotFound.
func (s *Store) ChannelGrant(ctx context.Context, channelID, roleID uuid.UUID) (*ChannelRoleAccess, error) {
	var grant ChannelRoleAccess
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND role_id = ? AND deleted = ?", channelID, roleID, false).
		First(&grant).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &grant, nil
}

// ReadableChannelGrants returns the channel's non-deleted access rows that
// grant at least read (write implies read).
func (s *Store) ReadableChannelGrants(ctx context.Context, channelID uuid.UUID) ([]ChannelRoleAccess, error) {
	var grants []ChannelRoleAccess
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND deleted = ? AND (can_read = ? OR can_write = ?)", channelID, false, true, true).
		Find(&grants).Error
	if err != nil {
		return nil, wrap(err)
	}
	return grants, nil
}

// ManagementRoles returns the organization's non-deleted roles flagged
// administrator or carrying the given capability flag.
func (s *Store) ManagementRoles(ctx context.Context, organizationID uuid.UUID, capability Capability) ([]Role, error) {
	var roles []Role
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND deleted = ?", organizationID, false).
		Where(s.db.Where("administrator = ?", true).Or(fmt.Sprintf("%s = ?", capability), true)).
		Find(&roles).Error
	if err != nil {
		return nil, wrap(err)
	}
	return roles, nil
}

// UsersByIDs returns the non-deleted users among the given ids.
func (s *Store) UsersByIDs(ctx context.Context, ids []uuid.UUID) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []User
	err := s.db.WithContext(ctx).Where("id IN ? AND deleted = ?", ids, false).Find(&users).Error
	if err != nil {
		return nil, wrap(err)
	}
	return users, nil
}

// UsersInOrganization returns all non-deleted users of an organization.
func (s *Store) UsersInOrganization(ctx context.Context, organizationID uuid.UUID) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND deleted = ?", organizationID, false).
		Find(&users).Error
	if err != nil {
		return nil, wrap(err)
	}
	return users, nil
}
