package marketdata

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
)

// Repository handles database operations for market events and candles
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new market data repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ database.MarketDataStore = (*Repository)(nil)

// FindEvents retrieves events in [From, To], newest first
func (r *Repository) FindEvents(ctx context.Context, q database.EventQuery) ([]models.MarketEvent, error) {
	var events []models.MarketEvent
	query := r.db.WithContext(ctx).
		Where("symbol = ? AND enriched = ?", q.Symbol, q.Enriched).
		Order("event_time DESC")

	if !q.From.IsZero() {
		query = query.Where("event_time >= ?", q.From)
	}
	if !q.To.IsZero() {
		query = query.Where("event_time <= ?", q.To)
	}
	if q.Timeframe != "" {
		query = query.Where("timeframe = ?", q.Timeframe)
	}
	if len(q.ActionCodes) > 0 {
		query = query.Where("action_code IN ?", q.ActionCodes)
	}
	if len(q.EventTypes) > 0 {
		query = query.Where("event_type IN ?", q.EventTypes)
	}
	if q.TradeSignal != nil {
		query = query.Where("is_trade_signal = ?", *q.TradeSignal)
	}

	if err := query.Find(&events).Error; err != nil {
		return nil, database.WrapDBError("FindEvents", err)
	}
	return events, nil
}

// CountEvents counts raw or enriched events; used by health probes
func (r *Repository) CountEvents(ctx context.Context, enriched bool) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MarketEvent{}).
		Where("enriched = ?", enriched).
		Count(&count).Error; err != nil {
		return 0, database.WrapDBError("CountEvents", err)
	}
	return count, nil
}

// SaveEvents inserts events in batches
func (r *Repository) SaveEvents(ctx context.Context, events []models.MarketEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(events, 100).Error; err != nil {
		return database.WrapDBError("SaveEvents", err)
	}
	return nil
}

// FindCandles retrieves candles in [From, To], oldest first
func (r *Repository) FindCandles(ctx context.Context, q database.CandleQuery) ([]models.Candle, error) {
	var candles []models.Candle
	query := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", q.Symbol, q.Timeframe).
		Order("bucket ASC")

	if !q.From.IsZero() {
		query = query.Where("bucket >= ?", q.From)
	}
	if !q.To.IsZero() {
		query = query.Where("bucket <= ?", q.To)
	}

	if err := query.Find(&candles).Error; err != nil {
		return nil, database.WrapDBError("FindCandles", err)
	}
	return candles, nil
}

// CountCandles counts all stored candles; used by health probes
func (r *Repository) CountCandles(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Candle{}).Count(&count).Error; err != nil {
		return 0, database.WrapDBError("CountCandles", err)
	}
	return count, nil
}

// SaveCandles upserts candles keyed by (symbol, timeframe, bucket)
func (r *Repository) SaveCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "bucket"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).
		CreateInBatches(candles, 100).Error
	if err != nil {
		return database.WrapDBError("SaveCandles", err)
	}
	return nil
}
