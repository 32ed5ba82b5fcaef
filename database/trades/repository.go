package trades

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// Repository handles database operations for identified trades
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new trades repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ database.TradeStore = (*Repository)(nil)

// Create inserts a new trade.
// A dedupe key collision returns database.ErrDuplicateKey.
func (r *Repository) Create(ctx context.Context, trade *models.IdentifiedTrade) error {
	if trade.Version == 0 {
		trade.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(trade).Error; err != nil {
		if isDuplicateKeyError(err) {
			return database.ErrDuplicateKey
		}
		return database.WrapDBError("CreateTrade", err)
	}
	return nil
}

// GetByID loads a trade by its identifier
func (r *Repository) GetByID(ctx context.Context, id string) (*models.IdentifiedTrade, error) {
	var trade models.IdentifiedTrade
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.NewNotFoundErrorWithID("trade", id)
	}
	if err != nil {
		return nil, database.WrapDBError("GetTradeByID", err)
	}
	return &trade, nil
}

// ExistsByDedupeKey checks whether a trade with the dedupe key is already stored
func (r *Repository) ExistsByDedupeKey(ctx context.Context, key string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.IdentifiedTrade{}).
		Where("dedupe_key = ?", key).
		Count(&count).Error; err != nil {
		return false, database.WrapDBError("ExistsByDedupeKey", err)
	}
	return count > 0, nil
}

// Update writes the mutable fields (status and alert stamp) when the stored version still matches.
// Other columns are fixed at creation and never rewritten.
func (r *Repository) Update(ctx context.Context, trade *models.IdentifiedTrade) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.IdentifiedTrade{}).
		Where("id = ? AND version = ?", trade.ID, trade.Version).
		Updates(map[string]interface{}{
			"status":        trade.Status,
			"alert_sent":    trade.AlertSent,
			"alert_sent_at": trade.AlertSentAt,
			"alert_type":    trade.AlertType,
			"updated_at":    now,
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return database.WrapDBError("UpdateTrade", result.Error)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.IdentifiedTrade{}).
			Where("id = ?", trade.ID).Count(&count).Error; err != nil {
			return database.WrapDBError("UpdateTrade", err)
		}
		if count == 0 {
			return database.NewNotFoundErrorWithID("trade", trade.ID)
		}
		return database.ErrVersionConflict
	}

	trade.Version++
	trade.UpdatedAt = now
	return nil
}

// FindExpired returns IDENTIFIED trades whose expiry is strictly before now
func (r *Repository) FindExpired(ctx context.Context, now time.Time) ([]models.IdentifiedTrade, error) {
	var trades []models.IdentifiedTrade
	if err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.TradeStatusIdentified, now).
		Order("expires_at ASC").
		Find(&trades).Error; err != nil {
		return nil, database.WrapDBError("FindExpiredTrades", err)
	}
	return trades, nil
}

// FindIdentifiedSince returns trades identified at or after since
func (r *Repository) FindIdentifiedSince(ctx context.Context, since time.Time) ([]models.IdentifiedTrade, error) {
	var trades []models.IdentifiedTrade
	if err := r.db.WithContext(ctx).
		Where("identified_at >= ?", since).
		Order("identified_at ASC").
		Find(&trades).Error; err != nil {
		return nil, database.WrapDBError("FindIdentifiedSince", err)
	}
	return trades, nil
}

// List returns trades matching the filter, newest first
func (r *Repository) List(ctx context.Context, filter database.TradeFilter) ([]models.IdentifiedTrade, error) {
	var trades []models.IdentifiedTrade
	query := r.db.WithContext(ctx).Order("identified_at DESC")

	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.Since.IsZero() {
		query = query.Where("identified_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("identified_at <= ?", filter.Until)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Find(&trades).Error; err != nil {
		return nil, database.WrapDBError("ListTrades", err)
	}
	return trades, nil
}

// isDuplicateKeyError recognises unique violations from gorm's translation,
// the pgx error code, or the raw driver message
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
