// Package fanout computes, for each mutation, the exact set of users
// entitled to hear about it, and hands the serialized event to the session
// registry. Recipient sets are computed fresh on every call so they always
// reflect the latest grants; delivery is fire-and-forget to whichever
// recipients are connected at broadcast time.
package fanout

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"pulse-server/internal/access"
	"pulse-server/internal/metrics"
	"pulse-server/internal/store"
)

// ErrForbidden is returned when a send precondition fails authorization.
var ErrForbidden = errors.New("fanout: forbidden")

// Store is the subset of record-store reads recipient resolution needs.
type Store interface {
	ChannelByID(ctx context.Context, id uuid.UUID) (*store.Channel, error)
	ReadableChannelGrants(ctx context.Context, channelID uuid.UUID) ([]store.ChannelRoleAccess, error)
	ManagementRoles(ctx context.Context, organizationID uuid.UUID, capability store.Capability) ([]store.Role, error)
	GrantsForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]store.UserRoleAccess, error)
	UsersByIDs(ctx context.Context, ids []uuid.UUID) ([]store.User, error)
	UsersInOrganization(ctx context.Context, organizationID uuid.UUID) ([]store.User, error)
}

// Broadcaster delivers an opaque payload to the connected subset of the
// given users. It never fails; disconnected users are skipped.
type Broadcaster interface {
	Broadcast(userIDs []uuid.UUID, payload []byte)
}

// Authorizer is the write-eligibility precondition check.
type Authorizer interface {
	HasChannelPermission(ctx context.Context, id access.Identity, channelID uuid.UUID, perm access.ChannelPermission) bool
}

type Engine struct {
	store      Store
	sessions   Broadcaster
	authorizer Authorizer
}

func NewEngine(s Store, sessions Broadcaster, authorizer Authorizer) *Engine {
	return &Engine{store: s, sessions: sessions, authorizer: authorizer}
}

// AuthorizeChannelSend verifies write eligibility before a channel message
// is accepted. It is a precondition enforced at this layer, not part of
// recipient resolution.
func (e *Engine) AuthorizeChannelSend(ctx context.Context, id access.Identity, channelID uuid.UUID) error {
	if !e.authorizer.HasChannelPermission(ctx, id, channelID, access.CanWrite) {
		return ErrForbidden
	}
	return nil
}

// RecipientsForChannel returns the deduplicated, non-deleted users entitled
// to read a channel: holders of a role with a read grant (read implied by
// write) unioned with holders of any administrator or manage-channels role
// of the channel's organization.
func (e *Engine) RecipientsForChannel(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	defer observe("channel", time.Now())

	channel, err := e.store.ChannelByID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	roleIDs := make(map[uuid.UUID]struct{})

	grants, err := e.store.ReadableChannelGrants(ctx, channelID)
	if err != nil {
		return nil, err
	}
	for _, grant := range grants {
		roleIDs[grant.RoleID] = struct{}{}
	}

	managers, err := e.store.ManagementRoles(ctx, channel.OrganizationID, store.CapabilityManageChannels)
	if err != nil {
		return nil, err
	}
	for _, role := range managers {
		roleIDs[role.ID] = struct{}{}
	}

	return e.usersHoldingRoles(ctx, roleIDs)
}

// RecipientsForRoleChange returns the users who need a status refresh when a
// role's permissions or membership change: the role's own holders plus
// holders of any administrator or manage-roles role in the organization.
func (e *Engine) RecipientsForRoleChange(ctx context.Context, roleID, organizationID uuid.UUID) ([]uuid.UUID, error) {
	defer observe("role_change", time.Now())

	roleIDs := map[uuid.UUID]struct{}{roleID: {}}

	managers, err := e.store.ManagementRoles(ctx, organizationID, store.CapabilityManageRoles)
	if err != nil {
		return nil, err
	}
	for _, role := range managers {
		roleIDs[role.ID] = struct{}{}
	}

	return e.usersHoldingRoles(ctx, roleIDs)
}

// RecipientsForOrganization returns every non-deleted user of the
// organization, for broad profile and presence broadcasts.
func (e *Engine) RecipientsForOrganization(ctx context.Context, organizationID uuid.UUID) ([]uuid.UUID, error) {
	defer observe("organization", time.Now())

	users, err := e.store.UsersInOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	ids := make(map[uuid.UUID]struct{}, len(users))
	for _, u := range users {
		ids[u.ID] = struct{}{}
	}
	return sorted(ids), nil
}

// RecipientsForDirectMessage is exactly the sender and the peer.
func (e *Engine) RecipientsForDirectMessage(senderID, peerID uuid.UUID) []uuid.UUID {
	ids := map[uuid.UUID]struct{}{senderID: {}, peerID: {}}
	return sorted(ids)
}

// NotifyChannel fans a payload out to a channel's readers. A failed
// recipient computation aborts the whole notification; nothing is delivered
// to a partial set.
func (e *Engine) NotifyChannel(ctx context.Context, channelID uuid.UUID, payload []byte) error {
	recipients, err := e.RecipientsForChannel(ctx, channelID)
	if err != nil {
		return err
	}
	e.sessions.Broadcast(recipients, payload)
	return nil
}

// NotifyRoleChange fans a payload out to everyone affected by a role
// mutation.
func (e *Engine) NotifyRoleChange(ctx context.Context, roleID, organizationID uuid.UUID, payload []byte) error {
	recipients, err := e.RecipientsForRoleChange(ctx, roleID, organizationID)
	if err != nil {
		return err
	}
	e.sessions.Broadcast(recipients, payload)
	return nil
}

// NotifyOrganization fans a payload out to every user of an organization.
func (e *Engine) NotifyOrganization(ctx context.Context, organizationID uuid.UUID, payload []byte) error {
	recipients, err := e.RecipientsForOrganization(ctx, organizationID)
	if err != nil {
		return err
	}
	e.sessions.Broadcast(recipients, payload)
	return nil
}

// NotifyDirect fans a payload out to the two ends of a direct conversation.
func (e *Engine) NotifyDirect(senderID, peerID uuid.UUID, payload []byte) {
	e.sessions.Broadcast(e.RecipientsForDirectMessage(senderID, peerID), payload)
}

// usersHoldingRoles resolves role ids to the non-deleted users holding any
// of them through a non-deleted grant.
func (e *Engine) usersHoldingRoles(ctx context.Context, roleIDs map[uuid.UUID]struct{}) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(roleIDs))
	for id := range roleIDs {
		ids = append(ids, id)
	}

	grants, err := e.store.GrantsForRoles(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make(map[uuid.UUID]struct{}, len(grants))
	for _, grant := range grants {
		candidates[grant.UserID] = struct{}{}
	}

	candidateIDs := make([]uuid.UUID, 0, len(candidates))
	for id := range candidates {
		candidateIDs = append(candidateIDs, id)
	}

	users, err := e.store.UsersByIDs(ctx, candidateIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[uuid.UUID]struct{}, len(users))
	for _, u := range users {
		result[u.ID] = struct{}{}
	}
	return sorted(result), nil
}

func sorted(ids map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func observe(kind string, start time.Time) {
	metrics.FanoutDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
