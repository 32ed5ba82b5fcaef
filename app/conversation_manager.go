package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
	"ai-trade-finder/helpers"
	"ai-trade-finder/llm"
)

// Conversation types
const (
	ConversationTypeTradeFinder = "TRADE_FINDER"
	ConversationTypeWorkflow    = "WORKFLOW"
)

// turnTextLimit is the stored length of user and AI text per turn
const turnTextLimit = 500

// ConversationManager keeps multi-turn AI dialogue anchored to a trade
type ConversationManager struct {
	store  database.ConversationStore
	ttl    time.Duration
	high   int
	medium int
}

// NewConversationManager creates a conversation manager. ttl <= 0 disables expiry.
func NewConversationManager(store database.ConversationStore, ttl time.Duration, high, medium int) *ConversationManager {
	return &ConversationManager{store: store, ttl: ttl, high: high, medium: medium}
}

// GetOrCreateTradeConversation returns the ACTIVE conversation for the trade unchanged,
// or creates one with a snapshot of the trade's decision fields.
func (m *ConversationManager) GetOrCreateTradeConversation(ctx context.Context, trade *database.IdentifiedTrade, conversationType string) (*database.AIConversation, error) {
	existing, err := m.FindTradeConversation(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	conv := &database.AIConversation{
		ID:             uuid.NewString(),
		Type:           conversationType,
		Symbol:         trade.Symbol,
		TradeID:        trade.ID,
		EntityType:     models.EntityTypeTrade,
		EntityID:       trade.ID,
		EntitySnapshot: TradeSnapshot(trade),
		ContextData:    map[string]interface{}{"correlation_id": helpers.CorrelationID(ctx)},
		Tags:           m.TradeTags(trade),
		Status:         models.ConversationStatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if m.ttl > 0 {
		expires := now.Add(m.ttl)
		conv.ExpiresAt = &expires
	}

	if err := m.store.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation for trade %s: %w", trade.ID, err)
	}
	log.Printf("💬 Conversation %s opened for trade %s", conv.ID, trade.ID)
	return conv, nil
}

// FindTradeConversation returns the ACTIVE conversation of a trade without creating one.
// It returns (nil, nil) when the trade has none.
func (m *ConversationManager) FindTradeConversation(ctx context.Context, tradeID string) (*database.AIConversation, error) {
	conv, err := m.store.FindActiveByTrade(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation for trade %s: %w", tradeID, err)
	}
	return conv, nil
}

// AddTurn appends one exchange. An unknown conversation yields (nil, nil).
func (m *ConversationManager) AddTurn(ctx context.Context, conversationID, userText string, resp *llm.Response) (*database.ConversationTurn, error) {
	if _, err := m.store.GetByID(ctx, conversationID); err != nil {
		if database.IsNotFound(err) {
			log.Printf("⚠️  Turn dropped, conversation %s not found", conversationID)
			return nil, nil
		}
		return nil, err
	}

	now := time.Now()
	turn := &database.ConversationTurn{
		ConversationID: conversationID,
		RequestID:      helpers.CorrelationID(ctx),
		UserText:       helpers.Truncate(userText, turnTextLimit),
		CreatedAt:      now,
	}
	if resp != nil {
		turn.ResponseID = resp.ID
		turn.AIText = helpers.Truncate(resp.Text, turnTextLimit)
		turn.Model = resp.Model
		turn.InputTokens = resp.Usage.InputTokens
		turn.OutputTokens = resp.Usage.OutputTokens
	}

	if err := m.store.AppendTurn(ctx, turn, now); err != nil {
		if database.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to append turn to %s: %w", conversationID, err)
	}
	return turn, nil
}

// GetLatestResponseID returns the response id to continue the conversation from, or ""
func (m *ConversationManager) GetLatestResponseID(ctx context.Context, conversationID string) string {
	turn, err := m.store.LatestTurn(ctx, conversationID)
	if err != nil {
		log.Printf("⚠️  Failed to load latest turn for %s: %v", conversationID, err)
		return ""
	}
	if turn == nil {
		return ""
	}
	return turn.ResponseID
}

// Get returns a conversation with its turns
func (m *ConversationManager) Get(ctx context.Context, conversationID string) (*database.AIConversation, error) {
	return m.store.GetByID(ctx, conversationID)
}

// Complete closes a conversation
func (m *ConversationManager) Complete(ctx context.Context, conversationID string) error {
	return m.store.UpdateStatus(ctx, conversationID, models.ConversationStatusCompleted, time.Now())
}

// ExpireConversations moves ACTIVE conversations past their expiry to EXPIRED
func (m *ConversationManager) ExpireConversations(ctx context.Context, now time.Time) (int, error) {
	convs, err := m.store.FindExpiredActive(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load expired conversations: %w", err)
	}

	expired := 0
	for _, c := range convs {
		if err := m.store.UpdateStatus(ctx, c.ID, models.ConversationStatusExpired, now); err != nil {
			log.Printf("❌ Failed to expire conversation %s: %v", c.ID, err)
			continue
		}
		expired++
	}
	if expired > 0 {
		log.Printf("🔄 Expired %d conversations", expired)
	}
	return expired, nil
}

// TradeTags derives the conversation tags of a trade.
// The confidence tag is only set from the medium threshold up.
func (m *ConversationManager) TradeTags(trade *database.IdentifiedTrade) []string {
	tags := []string{trade.Symbol, strings.ToLower(trade.Direction)}

	if trade.Confidence != nil {
		switch {
		case *trade.Confidence >= m.high:
			tags = append(tags, "high_confidence")
		case *trade.Confidence >= m.medium:
			tags = append(tags, "medium_confidence")
		}
	}
	if trade.EntryZoneType != "" {
		tags = append(tags, trade.EntryZoneType)
	}
	if trade.Session != "" {
		tags = append(tags, strings.ToLower(trade.Session))
	}
	if trade.Timeframe != "" {
		tags = append(tags, "tf_"+trade.Timeframe)
	}
	return tags
}

// TradeSnapshot captures the decision fields of a trade at this point in time
func TradeSnapshot(trade *database.IdentifiedTrade) map[string]interface{} {
	snapshot := map[string]interface{}{
		"id":                      trade.ID,
		"symbol":                  trade.Symbol,
		"direction":               trade.Direction,
		"status":                  trade.Status,
		"identified_at":           trade.IdentifiedAt.Format(time.RFC3339),
		"expires_at":              trade.ExpiresAt.Format(time.RFC3339),
		"entry_zone_type":         trade.EntryZoneType,
		"entry_zone":              trade.EntryZone,
		"stop":                    trade.StopPlacement,
		"targets":                 []string(trade.Targets),
		"risk_reward":             trade.RiskReward,
		"narrative":               trade.Narrative,
		"trigger_conditions":      []string(trade.TriggerConditions),
		"invalidation_conditions": []string(trade.InvalidationConditions),
		"session":                 trade.Session,
		"timeframe":               trade.Timeframe,
		"dedupe_key":              trade.DedupeKey,
	}
	if trade.Confidence != nil {
		snapshot["confidence"] = *trade.Confidence
	}
	if trade.EntryPrice.Valid {
		snapshot["entry_price"] = trade.EntryPrice.Decimal.String()
	}
	return snapshot
}
