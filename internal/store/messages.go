package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const deletedTombstone = "DELETED"

// CreateMessage persists a new message and returns it.
func (s *Store) CreateMessage(ctx context.Context, userID uuid.UUID, content string, recipientType RecipientType, referenceID uuid.UUID) (*Message, error) {
	now := time.Now().UTC()
	msg := Message{
		ID:            uuid.New(),
		UserID:        userID,
		Content:       content,
		RecipientType: recipientType,
		ReferenceID:   referenceID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, wrap(err)
	}
	return &msg, nil
}

// MessageByID returns the non-deleted message with the given id.
func (s *Store) MessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&msg).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &msg, nil
}

// EditMessage replaces a message's content and returns the updated row.
func (s *Store) EditMessage(ctx context.Context, id uuid.UUID, content string) (*Message, error) {
	msg, err := s.MessageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	msg.Content = content
	msg.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{"content": msg.Content, "updated_at": msg.UpdatedAt}).Error; err != nil {
		return nil, wrap(err)
	}
	return msg, nil
}

// DeleteMessage soft-deletes a message, leaving a tombstone in place of the
// content so history pagination stays stable.
func (s *Store) DeleteMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	msg, err := s.MessageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	msg.Content = deletedTombstone
	msg.Deleted = true
	msg.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{"content": msg.Content, "deleted": true, "updated_at": msg.UpdatedAt}).Error; err != nil {
		return nil, wrap(err)
	}
	return msg, nil
}

// MessagePage returns one page of non-deleted messages, newest first. For
// direct messages both directions of the (viewer, peer) conversation are
// included; referenceID is then the peer user id.
func (s *Store) MessagePage(ctx context.Context, viewerID uuid.UUID, recipientType RecipientType, referenceID uuid.UUID, page, perPage int) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 30
	}

	q := s.db.WithContext(ctx).
		Where("recipient_type = ? AND deleted = ?", recipientType, false).
		Order("created_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage)

	switch recipientType {
	case RecipientUser:
		q = q.Where(
			s.db.Where("user_id = ? AND reference_id = ?", viewerID, referenceID).
				Or("user_id = ? AND reference_id = ?", referenceID, viewerID),
		)
	default:
		q = q.Where("reference_id = ?", referenceID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, wrap(err)
	}
	return msgs, nil
}

// SearchMessages finds non-deleted messages whose content contains the given
// fragment, newest first, optionally restricted to one author.
func (s *Store) SearchMessages(ctx context.Context, recipientType RecipientType, referenceID uuid.UUID, content string, authorID *uuid.UUID, limit int) ([]Message, error) {
	if limit < 1 {
		limit = 50
	}
	q := s.db.WithContext(ctx).
		Where("recipient_type = ? AND reference_id = ? AND deleted = ?", recipientType, referenceID, false).
		Where("content LIKE ?", "%"+content+"%").
		Order("created_at DESC").
		Limit(limit)
	if authorID != nil {
		q = q.Where("user_id = ?", *authorID)
	}
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, wrap(err)
	}
	return msgs, nil
}

// TouchChannelView upserts the viewer's last-viewed marker for a channel or
// direct conversation.
func (s *Store) TouchChannelView(ctx context.Context, userID uuid.UUID, recipientType RecipientType, referenceID uuid.UUID) error {
	var view UserChannelView
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND recipient_type = ? AND reference_id = ?", userID, recipientType, referenceID).
		First(&view).Error
	if err == nil {
		view.LastViewed = time.Now().UTC()
		return wrap(s.db.WithContext(ctx).Save(&view).Error)
	}
	view = UserChannelView{
		ID:            uuid.New(),
		UserID:        userID,
		RecipientType: recipientType,
		ReferenceID:   referenceID,
		LastViewed:    time.Now().UTC(),
	}
	return wrap(s.db.WithContext(ctx).Create(&view).Error)
}

// MarkMessageSeen records that a user has seen a message. Marking the same
// message twice keeps the original timestamp.
func (s *Store) MarkMessageSeen(ctx context.Context, userID, messageID uuid.UUID) error {
	var seen SeenMessage
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		First(&seen).Error
	if err == nil {
		return nil
	}
	seen = SeenMessage{
		ID:        uuid.New(),
		UserID:    userID,
		MessageID: messageID,
		DateSeen:  time.Now().UTC(),
	}
	return wrap(s.db.WithContext(ctx).Create(&seen).Error)
}
