package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-trade-finder/database/memory"
	models "ai-trade-finder/database/models_pkg"
	"ai-trade-finder/database/types"
	"ai-trade-finder/datasource"
	"ai-trade-finder/llm"
)

type workflowFixture struct {
	executor      *WorkflowExecutor
	provider      *fakeProvider
	trades        *memory.TradeStore
	conversations *memory.ConversationStore
	audit         *memory.AuditStore
}

func newWorkflowFixture(t *testing.T, respond func(*llm.Request) (*llm.Response, error)) *workflowFixture {
	t.Helper()

	catalog, err := LoadPromptCatalog("")
	require.NoError(t, err)

	market := memory.NewMarketDataStore()
	registry := datasource.NewRegistry(
		datasource.NewEventSource(market, nil, nil),
		datasource.NewCandleSource(market, nil, nil),
	)

	f := &workflowFixture{
		provider:      &fakeProvider{respond: respond},
		trades:        memory.NewTradeStore(),
		conversations: memory.NewConversationStore(),
		audit:         memory.NewAuditStore(),
	}
	f.executor = NewWorkflowExecutor(
		catalog,
		registry,
		llm.NewGateway(f.provider, llm.GatewayOptions{}),
		f.trades,
		NewConversationManager(f.conversations, 0, 80, 60),
		NewAuditor(f.audit),
		LoadReferenceLocation(DefaultReferenceZone),
		0,
	)
	return f
}

func TestParsePromptCatalog(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
		count   int
	}{
		{
			name: "valid",
			yaml: `
prompts:
  - name: a
    categories: [market_events]
    body: look at the tape
  - name: b
    categories: [OHLC_CANDLES]
    timeframes: [1h]
    body: look at the chart
knowledge:
  k: v
`,
			count: 2,
		},
		{
			name:    "missing body",
			yaml:    "prompts:\n  - name: a\n",
			wantErr: "name and body are required",
		},
		{
			name:    "duplicate name",
			yaml:    "prompts:\n  - name: a\n    body: x\n  - name: a\n    body: y\n",
			wantErr: "defined twice",
		},
		{
			name:    "unknown category",
			yaml:    "prompts:\n  - name: a\n    body: x\n    categories: [TAPE]\n",
			wantErr: "unknown data source category",
		},
		{
			name:    "not yaml",
			yaml:    "prompts: [",
			wantErr: "failed to parse prompt catalog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, err := ParsePromptCatalog([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, catalog.List(), tt.count)
			assert.Equal(t, "a", catalog.List()[0].Name)
		})
	}
}

func TestLoadPromptCatalog_Embedded(t *testing.T) {
	catalog, err := LoadPromptCatalog("")
	require.NoError(t, err)

	names := make([]string, 0)
	for _, p := range catalog.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"market_structure", "order_flow", "trade_review"}, names)
	assert.Contains(t, catalog.Knowledge(), "sessions")

	_, err = LoadPromptCatalog("/nonexistent/prompts.yaml")
	assert.Error(t, err)
}

func TestWorkflowExecutor_Run(t *testing.T) {
	tests := []struct {
		name       string
		req        types.WorkflowRequest
		respond    func(*llm.Request) (*llm.Response, error)
		wantStatus string
		wantMsg    string
		calls      int
	}{
		{
			name:       "analysis",
			req:        types.WorkflowRequest{Symbol: "NQ", Prompt: "market_structure"},
			respond:    textResponse("uptrend on both timeframes"),
			wantStatus: WorkflowStatusOK,
			calls:      1,
		},
		{
			name:       "dry run skips the model",
			req:        types.WorkflowRequest{Symbol: "NQ", Prompt: "order_flow", DryRun: true},
			respond:    textResponse("unused"),
			wantStatus: WorkflowStatusDryRun,
		},
		{
			name:       "unknown prompt",
			req:        types.WorkflowRequest{Symbol: "NQ", Prompt: "astrology"},
			respond:    textResponse("unused"),
			wantStatus: WorkflowStatusError,
			wantMsg:    "unknown prompt",
		},
		{
			name:       "missing symbol",
			req:        types.WorkflowRequest{Prompt: "order_flow"},
			respond:    textResponse("unused"),
			wantStatus: WorkflowStatusError,
			wantMsg:    "invalid request",
		},
		{
			name:       "lookback too long",
			req:        types.WorkflowRequest{Symbol: "NQ", Prompt: "order_flow", LookbackMinutes: 20000},
			respond:    textResponse("unused"),
			wantStatus: WorkflowStatusError,
			wantMsg:    "invalid request",
		},
		{
			name:       "unknown trade",
			req:        types.WorkflowRequest{Symbol: "NQ", Prompt: "trade_review", TradeID: "missing"},
			respond:    textResponse("unused"),
			wantStatus: WorkflowStatusError,
			wantMsg:    "trade missing",
		},
		{
			name: "provider failure",
			req:  types.WorkflowRequest{Symbol: "NQ", Prompt: "order_flow"},
			respond: func(*llm.Request) (*llm.Response, error) {
				return nil, llm.NewTransportError("fake", errors.New("connection refused"))
			},
			wantStatus: WorkflowStatusError,
			wantMsg:    "connection refused",
			calls:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkflowFixture(t, tt.respond)

			result := f.executor.Run(context.Background(), tt.req)
			assert.Equal(t, tt.wantStatus, result.Status)
			if tt.wantMsg != "" {
				assert.Contains(t, result.Message, tt.wantMsg)
			}
			assert.Len(t, f.provider.calls(), tt.calls)
			assert.NotEmpty(t, result.CorrelationID)
		})
	}
}

func TestWorkflowExecutor_Payload(t *testing.T) {
	f := newWorkflowFixture(t, textResponse("unused"))

	result := f.executor.Run(context.Background(), types.WorkflowRequest{
		Symbol: "NQ", Prompt: "market_structure", Timeframe: "5m", LookbackMinutes: 30, DryRun: true,
	})
	require.Equal(t, WorkflowStatusDryRun, result.Status)

	meta := result.Payload["metadata"].(map[string]interface{})
	assert.Equal(t, []string{"5m"}, meta["timeframes"])
	assert.Equal(t, 30, meta["lookback_minutes"])

	data := result.Payload["data"].(map[string]interface{})
	candles := data[string(datasource.CategoryCandles)].(map[string][]datasource.Record)
	assert.Contains(t, candles, "5m")
	assert.NotContains(t, result.Payload, "data_errors")
	assert.Contains(t, result.Payload, "knowledge")

	// enriched events have no adapter in this registry
	result = f.executor.Run(context.Background(), types.WorkflowRequest{Symbol: "NQ", Prompt: "order_flow", DryRun: true})
	require.Equal(t, WorkflowStatusDryRun, result.Status)
	errs := result.Payload["data_errors"].([]string)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], string(datasource.CategoryEnrichedEvents))
}

func TestWorkflowExecutor_TradeContinuity(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, textResponse("still valid, trigger not yet fired"))

	now := time.Now()
	seedTrade(t, f.trades, "t1", models.TradeStatusIdentified, now, now.Add(4*time.Hour), intPtr(82))

	first := f.executor.Run(ctx, types.WorkflowRequest{Symbol: "NQ", Prompt: "trade_review", TradeID: "t1"})
	require.Equal(t, WorkflowStatusOK, first.Status, first.Message)
	require.NotEmpty(t, first.ConversationID)

	second := f.executor.Run(ctx, types.WorkflowRequest{Symbol: "NQ", Prompt: "trade_review", TradeID: "t1"})
	require.Equal(t, WorkflowStatusOK, second.Status, second.Message)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	calls := f.provider.calls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].PreviousResponseID)
	assert.Equal(t, first.ResponseID, calls[1].PreviousResponseID)

	conv, err := f.conversations.GetByID(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, ConversationTypeWorkflow, conv.Type)
	assert.Len(t, conv.Turns, 2)
}

func TestWorkflowExecutor_FailedCallOpensNoConversation(t *testing.T) {
	ctx := context.Background()
	fail := true
	f := newWorkflowFixture(t, func(req *llm.Request) (*llm.Response, error) {
		if fail {
			return &llm.Response{Status: llm.StatusFailed, Error: "overloaded"}, nil
		}
		return textResponse("trigger fired, trade is live")(req)
	})

	now := time.Now()
	seedTrade(t, f.trades, "t1", models.TradeStatusIdentified, now, now.Add(4*time.Hour), intPtr(82))

	result := f.executor.Run(ctx, types.WorkflowRequest{Symbol: "NQ", Prompt: "trade_review", TradeID: "t1"})
	require.Equal(t, WorkflowStatusError, result.Status)
	assert.Contains(t, result.Message, "overloaded")
	assert.Empty(t, result.ConversationID)

	conv, err := f.conversations.FindActiveByTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, conv)

	fail = false
	result = f.executor.Run(ctx, types.WorkflowRequest{Symbol: "NQ", Prompt: "trade_review", TradeID: "t1"})
	require.Equal(t, WorkflowStatusOK, result.Status, result.Message)
	require.NotEmpty(t, result.ConversationID)

	conv, err = f.conversations.FindActiveByTrade(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, result.ConversationID, conv.ID)

	stored, err := f.conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Turns, 1)
	assert.Empty(t, f.provider.calls()[1].PreviousResponseID)
}
