package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-trade-finder/database"
	"ai-trade-finder/database/memory"
	models "ai-trade-finder/database/models_pkg"
	"ai-trade-finder/database/types"
	"ai-trade-finder/llm"
	"ai-trade-finder/notifications"
)

func TestTradeFinder_IdentifiesAndAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFinderFixture(t, textResponse(identifiedLong), "NQ")
	now := time.Date(2024, 1, 1, 14, 0, 0, 0, f.loc)
	f.at(now)
	f.seedEvents(t, "NQ", now)

	report := f.finder.FindTrades(ctx)

	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, types.OutcomeTradeIdentified, out.Outcome)
	assert.Equal(t, StageDispatchAlert, out.Stage)
	assert.Equal(t, "NQ_LONG_2178021800_20240101_14", out.DedupeKey)
	assert.Equal(t, string(notifications.TierAllChannels), out.AlertTier)
	require.NotNil(t, out.Confidence)
	assert.Equal(t, 85, *out.Confidence)
	assert.Equal(t, 1, report.Identified)
	assert.NotEmpty(t, report.CorrelationID)

	trade, err := f.trades.GetByID(ctx, out.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusIdentified, trade.Status)
	assert.Equal(t, models.DirectionLong, trade.Direction)
	assert.Equal(t, SessionNYPM, trade.Session)
	assert.True(t, trade.ExpiresAt.Equal(now.Add(4*time.Hour)))
	assert.True(t, trade.AlertSent)
	require.NotNil(t, trade.AlertSentAt)
	assert.Equal(t, string(notifications.TierAllChannels), trade.AlertType)
	assert.Equal(t, []string{"21850", "21900"}, []string(trade.Targets))
	assert.Equal(t, []string{"close below 21770"}, []string(trade.InvalidationConditions))
	assert.True(t, trade.EntryPrice.Valid)
	assert.NotEmpty(t, trade.RawResponse)

	intents, err := f.audit.ListIntents(ctx, trade.ID)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, string(notifications.TierAllChannels), intents[0].Tier)
	assert.Equal(t, []string{notifications.ChannelVoice, notifications.ChannelSMS, notifications.ChannelChat}, []string(intents[0].Channels))
	assert.Equal(t, report.CorrelationID, intents[0].CorrelationID)

	conv, err := f.conversations.FindActiveByTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	latest, err := f.conversations.LatestTurn(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, out.ResponseID, latest.ResponseID)

	calls := f.provider.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Input, `"session":"NY_PM"`)
	assert.Contains(t, calls[0].Instructions, llm.TradeIdentifiedStatus)
	assert.Equal(t, report.CorrelationID, calls[0].CorrelationID)

	for _, entry := range f.audit.Entries() {
		assert.Equal(t, report.CorrelationID, entry.CorrelationID, "audit row %s/%s", entry.Operation, entry.Phase)
	}
}

func TestTradeFinder_DedupeWithinHour(t *testing.T) {
	ctx := context.Background()
	f := newFinderFixture(t, textResponse(identifiedLong), "NQ")
	first := time.Date(2024, 1, 1, 14, 0, 0, 0, f.loc)
	f.seedEvents(t, "NQ", first)

	f.at(first)
	report := f.finder.FindTrades(ctx)
	require.Len(t, report.Outcomes, 1)
	require.Equal(t, types.OutcomeTradeIdentified, report.Outcomes[0].Outcome)
	tradeID := report.Outcomes[0].TradeID

	f.at(first.Add(45 * time.Minute))
	report = f.finder.FindTrades(ctx)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, types.OutcomeDuplicate, report.Outcomes[0].Outcome)
	assert.Equal(t, StageDedupeCheck, report.Outcomes[0].Stage)
	assert.Equal(t, "NQ_LONG_2178021800_20240101_14", report.Outcomes[0].DedupeKey)
	assert.Empty(t, report.Outcomes[0].TradeID)

	trades, err := f.trades.List(ctx, database.TradeFilter{})
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	intents, err := f.audit.ListIntents(ctx, tradeID)
	require.NoError(t, err)
	assert.Len(t, intents, 1)

	// next hour bucket is a new setup
	f.at(first.Add(65 * time.Minute))
	report = f.finder.FindTrades(ctx)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, types.OutcomeTradeIdentified, report.Outcomes[0].Outcome)
	assert.Equal(t, "NQ_LONG_2178021800_20240101_15", report.Outcomes[0].DedupeKey)
}

func TestTradeFinder_LowConfidenceIsLogOnly(t *testing.T) {
	ctx := context.Background()
	body := `{"status":"trade identified","direction":"SHORT","confidence":"55","entry_zone":"21900 - 21920","timeframe":"15m"}`
	f := newFinderFixture(t, textResponse(body), "ES")
	now := time.Date(2024, 1, 1, 10, 30, 0, 0, f.loc)
	f.at(now)

	report := f.finder.FindTrades(ctx)
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	require.Equal(t, types.OutcomeTradeIdentified, out.Outcome)
	assert.Equal(t, string(notifications.TierLogOnly), out.AlertTier)
	assert.Equal(t, "ES_SHORT_2190021920_20240101_10", out.DedupeKey)

	trade, err := f.trades.GetByID(ctx, out.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusIdentified, trade.Status)
	assert.True(t, trade.AlertSent)
	assert.Equal(t, string(notifications.TierLogOnly), trade.AlertType)
	assert.Equal(t, SessionNYAM, trade.Session)

	intents, err := f.audit.ListIntents(ctx, trade.ID)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Empty(t, intents[0].Channels)
	assert.False(t, intents[0].Delivered)
}

func TestTradeFinder_FencedResponse(t *testing.T) {
	ctx := context.Background()
	f := newFinderFixture(t, textResponse("```json\n"+identifiedLong+"\n```"), "NQ")
	f.at(time.Date(2024, 1, 1, 14, 0, 0, 0, f.loc))

	report := f.finder.FindTrades(ctx)
	require.Len(t, report.Outcomes, 1)
	require.Equal(t, types.OutcomeTradeIdentified, report.Outcomes[0].Outcome)

	trade, err := f.trades.GetByID(ctx, report.Outcomes[0].TradeID)
	require.NoError(t, err)
	assert.JSONEq(t, identifiedLong, string(trade.RawResponse))
}

func TestTradeFinder_EventSourceFailureStillAnalyzes(t *testing.T) {
	wrap := func(m *memory.MarketDataStore) database.MarketDataStore {
		return brokenEventStore{MarketDataStore: m, err: errors.New("events table unavailable")}
	}
	f := newFinderFixtureOn(t, wrap, textResponse(identifiedLong), "NQ")
	f.at(time.Date(2024, 1, 1, 14, 0, 0, 0, f.loc))

	report := f.finder.FindTrades(context.Background())
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, types.OutcomeTradeIdentified, out.Outcome, out.Error)
	assert.Equal(t, StageDispatchAlert, out.Stage)

	calls := f.provider.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Input, `"events":[]`)
	assert.Contains(t, calls[0].Input, "events table unavailable")
}

func TestTradeFinder_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		respond   func(*llm.Request) (*llm.Response, error)
		outcome   string
		stage     string
		errSubstr string
	}{
		{
			name:    "model reports no trade",
			respond: textResponse(`{"status":"no trade","narrative":"chop"}`),
			outcome: types.OutcomeNoTrade,
			stage:   StageParseResponse,
		},
		{
			name:    "prose instead of JSON",
			respond: textResponse("I would go long around 21780"),
			outcome: types.OutcomeNoTrade,
			stage:   StageParseResponse,
		},
		{
			name:    "missing status field",
			respond: textResponse(`{"direction":"LONG","entry_zone":"21780-21800"}`),
			outcome: types.OutcomeNoTrade,
			stage:   StageParseResponse,
		},
		{
			name:    "invalid direction",
			respond: textResponse(`{"status":"trade identified","direction":"sideways","entry_zone":"21780-21800"}`),
			outcome: types.OutcomeNoTrade,
			stage:   StageParseResponse,
		},
		{
			name:    "empty entry zone",
			respond: textResponse(`{"status":"trade identified","direction":"long"}`),
			outcome: types.OutcomeNoTrade,
			stage:   StageParseResponse,
		},
		{
			name:    "status is not the exact sentinel",
			respond: textResponse(`{"status":"Trade Identified","direction":"long","entry_zone":"21780-21800","confidence":90}`),
			outcome: types.OutcomeNoTrade,
			stage:   StageParseResponse,
		},
		{
			name: "provider reports failure in band",
			respond: func(*llm.Request) (*llm.Response, error) {
				return &llm.Response{Status: llm.StatusFailed, Error: "overloaded"}, nil
			},
			outcome:   types.OutcomeFailed,
			stage:     StageCallAI,
			errSubstr: "overloaded",
		},
		{
			name: "transport error",
			respond: func(*llm.Request) (*llm.Response, error) {
				return nil, llm.NewTransportError("fake", errors.New("connection reset"))
			},
			outcome:   types.OutcomeFailed,
			stage:     StageCallAI,
			errSubstr: "connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFinderFixture(t, tt.respond, "NQ")
			f.at(time.Date(2024, 1, 1, 14, 0, 0, 0, f.loc))

			report := f.finder.FindTrades(ctx)
			require.Len(t, report.Outcomes, 1)
			out := report.Outcomes[0]
			assert.Equal(t, tt.outcome, out.Outcome)
			assert.Equal(t, tt.stage, out.Stage)
			if tt.errSubstr != "" {
				assert.Contains(t, out.Error, tt.errSubstr)
			}

			trades, err := f.trades.List(ctx, database.TradeFilter{})
			require.NoError(t, err)
			assert.Empty(t, trades)
		})
	}
}

func TestTradeFinder_SymbolIsolation(t *testing.T) {
	ctx := context.Background()
	respond := func(req *llm.Request) (*llm.Response, error) {
		switch inputSymbol(req) {
		case "BAD":
			return nil, llm.NewTransportError("fake", errors.New("connection reset"))
		case "PANIC":
			panic("provider exploded")
		default:
			return textResponse(identifiedLong)(req)
		}
	}
	f := newFinderFixture(t, respond, "ES", "BAD", "PANIC", "NQ")
	f.at(time.Date(2024, 1, 1, 14, 0, 0, 0, f.loc))

	report := f.finder.FindTrades(ctx)

	require.Len(t, report.Outcomes, 4)
	got := make(map[string]types.SymbolOutcome, 4)
	for i, out := range report.Outcomes {
		assert.Equal(t, []string{"ES", "BAD", "PANIC", "NQ"}[i], out.Symbol)
		got[out.Symbol] = out
	}
	assert.Equal(t, types.OutcomeTradeIdentified, got["ES"].Outcome)
	assert.Equal(t, types.OutcomeFailed, got["BAD"].Outcome)
	assert.Equal(t, types.OutcomeFailed, got["PANIC"].Outcome)
	assert.Contains(t, got["PANIC"].Error, "panic")
	assert.Equal(t, StageCallAI, got["PANIC"].Stage)
	assert.Equal(t, types.OutcomeTradeIdentified, got["NQ"].Outcome)
	assert.Equal(t, 2, report.Identified)
	assert.Equal(t, 2, report.Failed)

	var failures int
	for _, entry := range f.audit.Entries() {
		if entry.Operation == "trade_finder.symbol" && entry.Phase == models.AuditPhaseFailure {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

func TestTradeFinder_CancelledContext(t *testing.T) {
	f := newFinderFixture(t, textResponse(identifiedLong), "ES", "NQ")
	f.at(time.Date(2024, 1, 1, 14, 0, 0, 0, f.loc))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.finder.FindTrades(ctx)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, f.provider.calls())
}
