// Package database provides database connection management for the AI trade finder.
//
// This package includes:
//   - Database connection management using GORM and PostgreSQL
//   - Schema initialisation for trades, conversations, market data and audit tables
//   - Store interfaces shared by the GORM repositories and the in-memory stores
//   - Typed errors (duplicate key, version conflict, not found, validation)
//
// Data Models:
//
//	All data models (IdentifiedTrade, AIConversation, MarketEvent, Candle, ...) are defined in
//	the models_pkg package so that repository subpackages can import them without cycles.
package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "ai-trade-finder/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the underlying DB instance.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for repositories.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)
	return ConnectDSN(dsn)
}

// ConnectDSN establishes a database connection from a full PostgreSQL DSN
func ConnectDSN(dsn string) (*Database, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true, // unique violations surface as gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// InitSchema performs auto-migration and creates the partial indexes the sweeps rely on
func (d *Database) InitSchema() error {
	log.Println("🔄 Starting database schema initialization...")

	if err := d.db.AutoMigrate(
		&models.IdentifiedTrade{},
		&models.AIConversation{},
		&models.ConversationTurn{},
		&models.MarketEvent{},
		&models.Candle{},
		&models.OperationAudit{},
		&models.AlertIntent{},
	); err != nil {
		return WrapDBError("InitSchema", err)
	}

	indexes := []string{
		// Expiry sweep only scans live trades
		`CREATE INDEX IF NOT EXISTS idx_identified_trades_live_expiry
			ON identified_trades (expires_at) WHERE status = 'IDENTIFIED'`,
		`CREATE INDEX IF NOT EXISTS idx_ai_conversations_active_trade
			ON ai_conversations (trade_id) WHERE status = 'ACTIVE'`,
		`CREATE INDEX IF NOT EXISTS idx_ai_conversation_turns_sequence
			ON ai_conversation_turns (conversation_id, sequence)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_lookup
			ON candles (symbol, timeframe, bucket DESC)`,
	}
	for _, stmt := range indexes {
		if err := d.db.Exec(stmt).Error; err != nil {
			log.Printf("⚠️  Failed to create index: %v", err)
		}
	}

	log.Println("✅ Database schema initialized")
	return nil
}

// Type aliases so callers can use database.IdentifiedTrade without importing models_pkg
type IdentifiedTrade = models.IdentifiedTrade
type AIConversation = models.AIConversation
type ConversationTurn = models.ConversationTurn
type MarketEvent = models.MarketEvent
type Candle = models.Candle
type OperationAudit = models.OperationAudit
type AlertIntent = models.AlertIntent
