package conversations

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
)

// Repository handles database operations for AI conversations
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new conversations repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ database.ConversationStore = (*Repository)(nil)

// Create inserts a conversation (turns included, if any)
func (r *Repository) Create(ctx context.Context, conv *models.AIConversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return database.WrapDBError("CreateConversation", err)
	}
	return nil
}

// GetByID loads a conversation with its turns in sequence order
func (r *Repository) GetByID(ctx context.Context, id string) (*models.AIConversation, error) {
	var conv models.AIConversation
	err := r.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Where("id = ?", id).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.NewNotFoundErrorWithID("conversation", id)
	}
	if err != nil {
		return nil, database.WrapDBError("GetConversation", err)
	}
	return &conv, nil
}

// FindActiveByTrade returns the ACTIVE conversation linked to a trade, or nil
func (r *Repository) FindActiveByTrade(ctx context.Context, tradeID string) (*models.AIConversation, error) {
	var conv models.AIConversation
	err := r.db.WithContext(ctx).
		Where("trade_id = ? AND status = ?", tradeID, models.ConversationStatusActive).
		Order("created_at ASC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapDBError("FindActiveConversationByTrade", err)
	}
	return &conv, nil
}

// AppendTurn stores a turn with the next sequence number and bumps last activity in one transaction
func (r *Repository) AppendTurn(ctx context.Context, turn *models.ConversationTurn, activityAt time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq sql.NullInt64
		if err := tx.Model(&models.ConversationTurn{}).
			Where("conversation_id = ?", turn.ConversationID).
			Select("MAX(sequence)").
			Row().Scan(&maxSeq); err != nil {
			return err
		}
		turn.Sequence = int(maxSeq.Int64) + 1

		if err := tx.Create(turn).Error; err != nil {
			return err
		}

		result := tx.Model(&models.AIConversation{}).
			Where("id = ?", turn.ConversationID).
			Update("last_activity_at", activityAt)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return database.NewNotFoundErrorWithID("conversation", turn.ConversationID)
		}
		return nil
	})
	if err != nil {
		if database.IsNotFound(err) {
			return err
		}
		return database.WrapDBError("AppendTurn", err)
	}
	return nil
}

// LatestTurn returns the most recent turn of a conversation, or nil when it has none
func (r *Repository) LatestTurn(ctx context.Context, conversationID string) (*models.ConversationTurn, error) {
	var turn models.ConversationTurn
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sequence DESC").
		First(&turn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapDBError("LatestTurn", err)
	}
	return &turn, nil
}

// UpdateStatus changes a conversation's status
func (r *Repository) UpdateStatus(ctx context.Context, id, status string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.AIConversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           status,
			"last_activity_at": at,
		})
	if result.Error != nil {
		return database.WrapDBError("UpdateConversationStatus", result.Error)
	}
	if result.RowsAffected == 0 {
		return database.NewNotFoundErrorWithID("conversation", id)
	}
	return nil
}

// FindExpiredActive returns ACTIVE conversations whose expiry has passed
func (r *Repository) FindExpiredActive(ctx context.Context, now time.Time) ([]models.AIConversation, error) {
	var convs []models.AIConversation
	if err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.ConversationStatusActive, now).
		Find(&convs).Error; err != nil {
		return nil, database.WrapDBError("FindExpiredConversations", err)
	}
	return convs, nil
}
