package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-trade-finder/database"
	"ai-trade-finder/database/memory"
	models "ai-trade-finder/database/models_pkg"
	"ai-trade-finder/helpers"
	"ai-trade-finder/llm"
)

func sampleTrade(confidence *int) *database.IdentifiedTrade {
	now := time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)
	return &database.IdentifiedTrade{
		ID:            "trade-1",
		Symbol:        "NQ",
		Direction:     models.DirectionLong,
		IdentifiedAt:  now,
		Confidence:    confidence,
		Status:        models.TradeStatusIdentified,
		EntryZoneType: "FVG",
		EntryZone:     "21780-21800",
		Session:       SessionNYPM,
		Timeframe:     "5m",
		DedupeKey:     "NQ_LONG_2178021800_20240101_14",
		ExpiresAt:     now.Add(4 * time.Hour),
	}
}

func TestConversationManager_GetOrCreate(t *testing.T) {
	ctx := helpers.WithCorrelationID(context.Background(), "corr-1")
	store := memory.NewConversationStore()
	m := NewConversationManager(store, time.Hour, 80, 60)
	trade := sampleTrade(intPtr(85))

	first, err := m.GetOrCreateTradeConversation(ctx, trade, ConversationTypeTradeFinder)
	require.NoError(t, err)
	second, err := m.GetOrCreateTradeConversation(ctx, trade, ConversationTypeWorkflow)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, ConversationTypeTradeFinder, second.Type)
	assert.Equal(t, models.EntityTypeTrade, first.EntityType)
	assert.Equal(t, trade.ID, first.EntityID)
	assert.Equal(t, models.ConversationStatusActive, first.Status)
	assert.Equal(t, "corr-1", first.ContextData["correlation_id"])
	assert.Equal(t, 85, first.EntitySnapshot["confidence"])
	assert.Equal(t, "21780-21800", first.EntitySnapshot["entry_zone"])
	require.NotNil(t, first.ExpiresAt)
	assert.Equal(t, []string{"NQ", "long", "high_confidence", "FVG", "ny_pm", "tf_5m"}, []string(first.Tags))
}

func TestConversationManager_TradeTags(t *testing.T) {
	m := NewConversationManager(memory.NewConversationStore(), 0, 80, 60)

	tests := []struct {
		name       string
		confidence *int
		want       string
		absent     []string
	}{
		{name: "high", confidence: intPtr(80), want: "high_confidence"},
		{name: "medium", confidence: intPtr(65), want: "medium_confidence", absent: []string{"high_confidence"}},
		{name: "low", confidence: intPtr(40), absent: []string{"high_confidence", "medium_confidence"}},
		{name: "missing", confidence: nil, absent: []string{"high_confidence", "medium_confidence"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := m.TradeTags(sampleTrade(tt.confidence))
			assert.Equal(t, "NQ", tags[0])
			assert.Contains(t, tags, "tf_5m")
			if tt.want != "" {
				assert.Contains(t, tags, tt.want)
			}
			for _, tag := range tt.absent {
				assert.NotContains(t, tags, tag)
			}
		})
	}
}

func TestConversationManager_Turns(t *testing.T) {
	ctx := helpers.WithCorrelationID(context.Background(), "corr-2")
	store := memory.NewConversationStore()
	m := NewConversationManager(store, 0, 80, 60)

	conv, err := m.GetOrCreateTradeConversation(ctx, sampleTrade(nil), ConversationTypeTradeFinder)
	require.NoError(t, err)
	assert.Nil(t, conv.ExpiresAt)
	assert.Empty(t, m.GetLatestResponseID(ctx, conv.ID))

	long := strings.Repeat("x", 600)
	turn, err := m.AddTurn(ctx, conv.ID, long, &llm.Response{
		ID:    "resp_a",
		Model: "gpt-test",
		Text:  long,
		Usage: llm.Usage{InputTokens: 120, OutputTokens: 40},
	})
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Len(t, turn.UserText, turnTextLimit)
	assert.Len(t, turn.AIText, turnTextLimit)
	assert.True(t, strings.HasSuffix(turn.AIText, "..."))
	assert.Equal(t, "corr-2", turn.RequestID)
	assert.Equal(t, int64(120), turn.InputTokens)
	assert.Equal(t, 1, turn.Sequence)

	_, err = m.AddTurn(ctx, conv.ID, "follow up", &llm.Response{ID: "resp_b", Text: "still valid"})
	require.NoError(t, err)
	assert.Equal(t, "resp_b", m.GetLatestResponseID(ctx, conv.ID))

	loaded, err := m.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, "resp_a", loaded.Turns[0].ResponseID)

	t.Run("unknown conversation", func(t *testing.T) {
		turn, err := m.AddTurn(ctx, "missing", "hello", &llm.Response{ID: "resp_c"})
		require.NoError(t, err)
		assert.Nil(t, turn)
	})
}

func TestConversationManager_Expiry(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConversationStore()
	m := NewConversationManager(store, time.Hour, 80, 60)
	trade := sampleTrade(intPtr(70))

	conv, err := m.GetOrCreateTradeConversation(ctx, trade, ConversationTypeTradeFinder)
	require.NoError(t, err)

	expired, err := m.ExpireConversations(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, expired)

	expired, err = m.ExpireConversations(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	loaded, err := m.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusExpired, loaded.Status)

	next, err := m.GetOrCreateTradeConversation(ctx, trade, ConversationTypeTradeFinder)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, next.ID)

	require.NoError(t, m.Complete(ctx, next.ID))
	loaded, err = m.Get(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusCompleted, loaded.Status)
}
