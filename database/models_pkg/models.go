package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Trade directions
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Trade statuses
const (
	TradeStatusIdentified  = "IDENTIFIED"
	TradeStatusAlerted     = "ALERTED"
	TradeStatusExpired     = "EXPIRED"
	TradeStatusTaken       = "TAKEN"
	TradeStatusInvalidated = "INVALIDATED"
	TradeStatusCancelled   = "CANCELLED"
)

// Conversation statuses
const (
	ConversationStatusActive    = "ACTIVE"
	ConversationStatusCompleted = "COMPLETED"
	ConversationStatusExpired   = "EXPIRED"
)

// Conversation entity types
const (
	EntityTypeTrade   = "TRADE"
	EntityTypeSymbol  = "SYMBOL"
	EntityTypePattern = "PATTERN"
)

// tradeTransitions lists the statuses reachable from each status.
// Statuses without an entry are terminal.
var tradeTransitions = map[string][]string{
	TradeStatusIdentified: {TradeStatusAlerted, TradeStatusExpired, TradeStatusTaken, TradeStatusInvalidated, TradeStatusCancelled},
	TradeStatusAlerted:    {TradeStatusTaken, TradeStatusExpired, TradeStatusInvalidated, TradeStatusCancelled},
}

// IsValidTradeStatus reports whether status is one of the known trade statuses
func IsValidTradeStatus(status string) bool {
	switch status {
	case TradeStatusIdentified, TradeStatusAlerted, TradeStatusExpired,
		TradeStatusTaken, TradeStatusInvalidated, TradeStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a trade may move from one status to another.
// Nothing ever moves back to IDENTIFIED.
func CanTransition(from, to string) bool {
	for _, next := range tradeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IdentifiedTrade represents a trading opportunity recognised by the reasoning model.
// A trade is created once per dedupe key and afterwards only its alert fields and status change.
//
// Key Fields:
//   - DedupeKey: symbol, direction, normalised entry zone and hour bucket (unique)
//   - Confidence: 0-100 score reported by the model, nil when the model omitted it
//   - Status: IDENTIFIED, then ALERTED/EXPIRED/TAKEN/INVALIDATED/CANCELLED
//   - ExpiresAt: IdentifiedAt + configured expiry window, fixed at creation
//   - AlertSent/AlertSentAt/AlertType: stamped once by the alert pipeline
//   - Version: optimistic concurrency counter, incremented on every update
//   - RawResponse: the model output the trade was parsed from
type IdentifiedTrade struct {
	ID                     string              `gorm:"primaryKey;size:36" json:"id"`
	Symbol                 string              `gorm:"size:20;index;not null" json:"symbol"`
	Direction              string              `gorm:"size:5;not null" json:"direction"`
	IdentifiedAt           time.Time           `gorm:"index;not null" json:"identified_at"`
	Confidence             *int                `json:"confidence,omitempty"`
	Status                 string              `gorm:"size:20;index;not null" json:"status"`
	EntryZoneType          string              `gorm:"size:50" json:"entry_zone_type"`
	EntryZone              string              `gorm:"size:100" json:"entry_zone"`
	EntryPrice             decimal.NullDecimal `gorm:"type:decimal(18,6)" json:"entry_price"`
	StopPlacement          string              `gorm:"type:text" json:"stop_placement"`
	Targets                pq.StringArray      `gorm:"type:text[]" json:"targets"`
	RiskReward             string              `gorm:"size:50" json:"risk_reward"`
	Narrative              string              `gorm:"type:text" json:"narrative"`
	TriggerConditions      pq.StringArray      `gorm:"type:text[]" json:"trigger_conditions"`
	InvalidationConditions pq.StringArray      `gorm:"type:text[]" json:"invalidation_conditions"`
	Session                string              `gorm:"size:20" json:"session"`
	Timeframe              string              `gorm:"size:10" json:"timeframe"`
	DedupeKey              string              `gorm:"size:160;uniqueIndex;not null" json:"dedupe_key"`
	AlertSent              bool                `gorm:"default:false" json:"alert_sent"`
	AlertSentAt            *time.Time          `json:"alert_sent_at,omitempty"`
	AlertType              string              `gorm:"size:20" json:"alert_type,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
	ExpiresAt              time.Time           `gorm:"index;not null" json:"expires_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
	RawResponse            datatypes.JSON      `gorm:"type:jsonb" json:"raw_response,omitempty"`
	Version                int64               `gorm:"not null;default:1" json:"version"`
}

// TableName specifies the table name for IdentifiedTrade
func (IdentifiedTrade) TableName() string {
	return "identified_trades"
}

// AIConversation is a multi-turn session with the reasoning model anchored to an entity.
// The entity snapshot is captured once at creation; context data may change afterwards.
//
// Key Fields:
//   - TradeID: set for trade conversations, at most one ACTIVE conversation per trade
//   - EntityType/EntityID: generalised anchor (TRADE, SYMBOL, PATTERN)
//   - Turns: ordered exchange history; the latest ResponseID continues the dialogue
type AIConversation struct {
	ID             string             `gorm:"primaryKey;size:36" json:"id"`
	Type           string             `gorm:"size:30;not null" json:"type"`
	Symbol         string             `gorm:"size:20;index" json:"symbol,omitempty"`
	UserID         string             `gorm:"size:64" json:"user_id,omitempty"`
	TradeID        string             `gorm:"size:36;index" json:"trade_id,omitempty"`
	EntityType     string             `gorm:"size:20" json:"entity_type"`
	EntityID       string             `gorm:"size:64" json:"entity_id"`
	EntitySnapshot datatypes.JSONMap  `gorm:"type:jsonb" json:"entity_snapshot,omitempty"`
	ContextData    datatypes.JSONMap  `gorm:"type:jsonb" json:"context_data,omitempty"`
	Tags           pq.StringArray     `gorm:"type:text[]" json:"tags"`
	Status         string             `gorm:"size:20;index;not null" json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	ExpiresAt      *time.Time         `gorm:"index" json:"expires_at,omitempty"`
	Turns          []ConversationTurn `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"turns,omitempty"`
}

// TableName specifies the table name for AIConversation
func (AIConversation) TableName() string {
	return "ai_conversations"
}

// ConversationTurn is one request/response exchange inside a conversation.
// Texts are truncated before storage.
type ConversationTurn struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"size:36;index;not null" json:"conversation_id"`
	Sequence       int       `gorm:"not null" json:"sequence"`
	ResponseID     string    `gorm:"size:128" json:"response_id"`
	RequestID      string    `gorm:"size:64" json:"request_id"`
	UserText       string    `gorm:"type:text" json:"user_text"`
	AIText         string    `gorm:"type:text" json:"ai_text"`
	Model          string    `gorm:"size:100" json:"model"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for ConversationTurn
func (ConversationTurn) TableName() string {
	return "ai_conversation_turns"
}

// MarketEvent is a single market event record for a symbol.
// Raw feed events and enriched (transformed) events share the table and differ by the Enriched flag.
//
// Key Fields:
//   - EventTime: when the event happened (queries order by it descending)
//   - ActionCode: BUY, SELL or a feed-specific action
//   - IsTradeSignal: the feed marked this event as a trade signal
//   - Payload: the remaining feed fields
type MarketEvent struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol        string         `gorm:"size:20;index:idx_market_events_lookup,priority:1;not null" json:"symbol"`
	EventTime     time.Time      `gorm:"index:idx_market_events_lookup,priority:2;not null" json:"event_time"`
	Timeframe     string         `gorm:"size:10" json:"timeframe,omitempty"`
	EventType     string         `gorm:"size:50" json:"event_type,omitempty"`
	ActionCode    string         `gorm:"size:20" json:"action_code,omitempty"`
	IsTradeSignal bool           `gorm:"default:false" json:"is_trade_signal"`
	Price         float64        `gorm:"type:decimal(18,6)" json:"price"`
	Volume        float64        `gorm:"type:decimal(20,4)" json:"volume"`
	Enriched      bool           `gorm:"index;default:false" json:"enriched"`
	Payload       datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
}

// TableName specifies the table name for MarketEvent
func (MarketEvent) TableName() string {
	return "market_events"
}

// Candle is an OHLCV bar for one symbol, timeframe and bucket start.
// Composite primary key (Symbol, Timeframe, Bucket).
type Candle struct {
	Symbol    string    `gorm:"size:20;primaryKey" json:"symbol"`
	Timeframe string    `gorm:"size:10;primaryKey" json:"timeframe"`
	Bucket    time.Time `gorm:"primaryKey" json:"time"`
	Open      float64   `gorm:"type:decimal(18,6);not null" json:"open"`
	High      float64   `gorm:"type:decimal(18,6);not null" json:"high"`
	Low       float64   `gorm:"type:decimal(18,6);not null" json:"low"`
	Close     float64   `gorm:"type:decimal(18,6);not null" json:"close"`
	Volume    float64   `gorm:"type:decimal(20,4)" json:"volume"`
}

// TableName specifies the table name for Candle
func (Candle) TableName() string {
	return "candles"
}

// Audit phases
const (
	AuditPhaseStart   = "START"
	AuditPhaseSuccess = "SUCCESS"
	AuditPhaseFailure = "FAILURE"
)

// OperationAudit is one append-only audit row.
// Rows of one scheduled run or API request share a CorrelationID.
type OperationAudit struct {
	ID            int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	CorrelationID string            `gorm:"size:36;index;not null" json:"correlation_id"`
	Operation     string            `gorm:"size:100;not null" json:"operation"`
	Phase         string            `gorm:"size:10;not null" json:"phase"`
	Symbol        string            `gorm:"size:20" json:"symbol,omitempty"`
	Message       string            `gorm:"type:text" json:"message,omitempty"`
	DurationMs    int64             `json:"duration_ms"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for OperationAudit
func (OperationAudit) TableName() string {
	return "operation_audit"
}

// AlertIntent records the alert tier chosen for a trade and the channels it selected.
// Delivered stays false until a delivery integration confirms it.
type AlertIntent struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TradeID       string         `gorm:"size:36;index;not null" json:"trade_id"`
	Symbol        string         `gorm:"size:20;not null" json:"symbol"`
	Tier          string         `gorm:"size:20;not null" json:"tier"`
	Channels      pq.StringArray `gorm:"type:text[]" json:"channels"`
	Confidence    *int           `json:"confidence,omitempty"`
	Delivered     bool           `gorm:"default:false" json:"delivered"`
	CorrelationID string         `gorm:"size:36" json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TableName specifies the table name for AlertIntent
func (AlertIntent) TableName() string {
	return "alert_intents"
}
