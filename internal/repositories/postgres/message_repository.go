package postgres

import (
	"context"
	"time"

	"relay-service/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepository interface {
	Save(ctx context.Context, msg *models.Message) error
	HistoryForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error)
	ApplyEdit(ctx context.Context, id, text string, timestamp int64) error
	MarkSeen(ctx context.Context, id string, seenAt time.Time) error
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Save inserts a message row. The message id is client-minted and immutable,
// so a retransmitted frame with a known id must not create a second row:
// the insert is a no-op on conflict.
func (r *messageRepository) Save(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(msg).Error
}

// HistoryForUser returns the replay window: every message the user sent or
// received, oldest first, capped at limit.
func (r *messageRepository) HistoryForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	var msgs []*models.Message
	err := r.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", userID, userID).
		Order("timestamp ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) ApplyEdit(ctx context.Context, id, text string, timestamp int64) error {
	updates := map[string]interface{}{"text": text, "edited": true}
	if timestamp > 0 {
		updates["timestamp"] = timestamp
	}
	return r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(updates).Error
}

func (r *messageRepository) MarkSeen(ctx context.Context, id string, seenAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{"seen": true, "seen_at": seenAt}).Error
}
