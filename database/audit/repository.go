package audit

import (
	"context"

	"gorm.io/gorm"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
)

// Repository stores operation audit rows and alert intents
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new audit repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var (
	_ database.AuditStore = (*Repository)(nil)
	_ database.AlertLog   = (*Repository)(nil)
)

// Record appends an audit row
func (r *Repository) Record(ctx context.Context, entry *models.OperationAudit) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return database.WrapDBError("RecordAudit", err)
	}
	return nil
}

// ListByCorrelation returns the audit trail of one correlation id in insertion order
func (r *Repository) ListByCorrelation(ctx context.Context, correlationID string) ([]models.OperationAudit, error) {
	var entries []models.OperationAudit
	if err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, database.WrapDBError("ListAuditByCorrelation", err)
	}
	return entries, nil
}

// SaveIntent stores an alert intent
func (r *Repository) SaveIntent(ctx context.Context, intent *models.AlertIntent) error {
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		return database.WrapDBError("SaveAlertIntent", err)
	}
	return nil
}

// ListIntents returns the alert intents recorded for a trade
func (r *Repository) ListIntents(ctx context.Context, tradeID string) ([]models.AlertIntent, error) {
	var intents []models.AlertIntent
	if err := r.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("created_at ASC").
		Find(&intents).Error; err != nil {
		return nil, database.WrapDBError("ListAlertIntents", err)
	}
	return intents, nil
}
