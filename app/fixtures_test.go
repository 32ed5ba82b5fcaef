package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-trade-finder/database"
	"ai-trade-finder/database/memory"
	models "ai-trade-finder/database/models_pkg"
	"ai-trade-finder/datasource"
	"ai-trade-finder/llm"
	"ai-trade-finder/notifications"
)

const identifiedLong = `{
  "status": "trade identified",
  "direction": "long",
  "confidence": 85,
  "entry_zone": {"type": "FVG", "range": "21780-21800", "price": 21790},
  "stop": "below 21770",
  "targets": ["21850", "21900"],
  "risk_reward": "1:2.5",
  "narrative": "Reclaim of PDH with displacement",
  "trigger_conditions": ["5m close above 21800"],
  "invalidation_conditions": "close below 21770",
  "timeframe": "5m"
}`

// fakeProvider answers every call through respond and records the requests it saw
type fakeProvider struct {
	mu       sync.Mutex
	respond  func(req *llm.Request) (*llm.Response, error)
	requests []llm.Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(_ context.Context, req *llm.Request, _ *llm.Schema) (*llm.Response, error) {
	p.mu.Lock()
	p.requests = append(p.requests, *req)
	n := len(p.requests)
	p.mu.Unlock()

	resp, err := p.respond(req)
	if resp != nil && resp.ID == "" {
		resp.ID = fmt.Sprintf("resp_%d", n)
	}
	return resp, err
}

func (p *fakeProvider) calls() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// textResponse returns a completed response carrying text
func textResponse(text string) func(*llm.Request) (*llm.Response, error) {
	return func(*llm.Request) (*llm.Response, error) {
		return &llm.Response{Status: llm.StatusCompleted, Model: "fake-model", Text: text}, nil
	}
}

// inputSymbol extracts the payload symbol a request was built for
func inputSymbol(req *llm.Request) string {
	const marker = `"symbol":"`
	i := strings.Index(req.Input, marker)
	if i < 0 {
		return ""
	}
	rest := req.Input[i+len(marker):]
	return rest[:strings.IndexByte(rest, '"')]
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	return LoadReferenceLocation(DefaultReferenceZone)
}

type finderFixture struct {
	finder        *TradeFinder
	provider      *fakeProvider
	trades        *memory.TradeStore
	audit         *memory.AuditStore
	conversations *memory.ConversationStore
	market        *memory.MarketDataStore
	loc           *time.Location
}

func newFinderFixture(t *testing.T, respond func(*llm.Request) (*llm.Response, error), symbols ...string) *finderFixture {
	t.Helper()
	return newFinderFixtureOn(t, nil, respond, symbols...)
}

// newFinderFixtureOn lets wrap replace the market data store the sources read from
func newFinderFixtureOn(t *testing.T, wrap func(*memory.MarketDataStore) database.MarketDataStore, respond func(*llm.Request) (*llm.Response, error), symbols ...string) *finderFixture {
	t.Helper()

	f := &finderFixture{
		provider:      &fakeProvider{respond: respond},
		trades:        memory.NewTradeStore(),
		audit:         memory.NewAuditStore(),
		conversations: memory.NewConversationStore(),
		market:        memory.NewMarketDataStore(),
		loc:           newYork(t),
	}

	var market database.MarketDataStore = f.market
	if wrap != nil {
		market = wrap(f.market)
	}
	registry := datasource.NewRegistry(
		datasource.NewEventSource(market, nil, nil),
		datasource.NewEnrichedEventSource(market, nil, nil),
		datasource.NewCandleSource(market, nil, nil),
	)
	builder := NewPayloadBuilder(registry, PayloadConfig{
		LookbackMinutes: 60,
		CandleCount:     20,
		Timeframes:      []string{"5m", "15m"},
		Profile:         "intraday futures",
		MaxEvents:       100,
	}, nil, f.loc)

	auditor := NewAuditor(f.audit)
	thresholds := notifications.DefaultThresholds()
	lifecycle := NewLifecycle(f.trades, auditor, 24*time.Hour)
	conversations := NewConversationManager(f.conversations, 24*time.Hour, thresholds.High, thresholds.Medium)
	dispatcher := notifications.NewDispatcher(f.audit, nil, nil, thresholds,
		notifications.StubChannels([]string{notifications.ChannelSMS, notifications.ChannelChat})...)
	gateway := llm.NewGateway(f.provider, llm.GatewayOptions{})

	f.finder = NewTradeFinder(builder, gateway, f.trades, nil, dispatcher, lifecycle, conversations, nil, auditor, f.loc,
		TradeFinderOptions{
			Symbols:    symbols,
			Expiry:     4 * time.Hour,
			Profile:    "intraday futures",
			Thresholds: thresholds,
		})
	return f
}

// at pins the finder clock
func (f *finderFixture) at(now time.Time) {
	f.finder.now = func() time.Time { return now }
}

func (f *finderFixture) seedEvents(t *testing.T, symbol string, at time.Time) {
	t.Helper()
	require.NoError(t, f.market.SaveEvents(context.Background(), []models.MarketEvent{
		{Symbol: symbol, EventTime: at.Add(-10 * time.Minute), EventType: "TRADE", ActionCode: "BUY", Price: 21790, Volume: 12},
		{Symbol: symbol, EventTime: at.Add(-5 * time.Minute), EventType: "TRADE", ActionCode: "SELL", Price: 21795, Volume: 4},
	}))
}

func intPtr(v int) *int { return &v }

// brokenEventStore fails every event query and serves everything else from memory
type brokenEventStore struct {
	*memory.MarketDataStore
	err error
}

func (s brokenEventStore) FindEvents(context.Context, database.EventQuery) ([]database.MarketEvent, error) {
	return nil, s.err
}
