package database

import (
	"context"
	"time"
)

// TradeFilter narrows trade listings. Zero values are ignored.
type TradeFilter struct {
	Symbol string
	Status string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// TradeStore persists identified trades.
// Create returns ErrDuplicateKey when the dedupe key already exists.
// Update is optimistic: it succeeds only when the stored version equals trade.Version,
// increments trade.Version on success and returns ErrVersionConflict otherwise.
type TradeStore interface {
	Create(ctx context.Context, trade *IdentifiedTrade) error
	GetByID(ctx context.Context, id string) (*IdentifiedTrade, error)
	ExistsByDedupeKey(ctx context.Context, key string) (bool, error)
	Update(ctx context.Context, trade *IdentifiedTrade) error
	// FindExpired returns IDENTIFIED trades whose expiry is strictly before now.
	FindExpired(ctx context.Context, now time.Time) ([]IdentifiedTrade, error)
	// FindIdentifiedSince returns trades identified at or after since, in identification order.
	FindIdentifiedSince(ctx context.Context, since time.Time) ([]IdentifiedTrade, error)
	List(ctx context.Context, filter TradeFilter) ([]IdentifiedTrade, error)
}

// ConversationStore persists AI conversations and their turns.
// FindActiveByTrade and LatestTurn return (nil, nil) when nothing matches.
type ConversationStore interface {
	Create(ctx context.Context, conv *AIConversation) error
	GetByID(ctx context.Context, id string) (*AIConversation, error)
	FindActiveByTrade(ctx context.Context, tradeID string) (*AIConversation, error)
	AppendTurn(ctx context.Context, turn *ConversationTurn, activityAt time.Time) error
	LatestTurn(ctx context.Context, conversationID string) (*ConversationTurn, error)
	UpdateStatus(ctx context.Context, id, status string, at time.Time) error
	FindExpiredActive(ctx context.Context, now time.Time) ([]AIConversation, error)
}

// EventQuery selects market events. Empty slices and nil pointers match everything.
type EventQuery struct {
	Symbol      string
	Timeframe   string
	From        time.Time
	To          time.Time
	Enriched    bool
	ActionCodes []string
	EventTypes  []string
	TradeSignal *bool
}

// CandleQuery selects candles for one symbol and timeframe within [From, To]
type CandleQuery struct {
	Symbol    string
	Timeframe string
	From      time.Time
	To        time.Time
}

// MarketDataStore reads and writes market events and candles.
// FindEvents orders by event time descending; FindCandles orders by bucket ascending.
type MarketDataStore interface {
	FindEvents(ctx context.Context, q EventQuery) ([]MarketEvent, error)
	CountEvents(ctx context.Context, enriched bool) (int64, error)
	SaveEvents(ctx context.Context, events []MarketEvent) error
	FindCandles(ctx context.Context, q CandleQuery) ([]Candle, error)
	CountCandles(ctx context.Context) (int64, error)
	SaveCandles(ctx context.Context, candles []Candle) error
}

// AuditStore is the append-only operation audit sink
type AuditStore interface {
	Record(ctx context.Context, entry *OperationAudit) error
	ListByCorrelation(ctx context.Context, correlationID string) ([]OperationAudit, error)
}

// AlertLog records alert intents produced by the dispatch policy
type AlertLog interface {
	SaveIntent(ctx context.Context, intent *AlertIntent) error
	ListIntents(ctx context.Context, tradeID string) ([]AlertIntent, error)
}
