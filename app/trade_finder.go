package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ai-trade-finder/cache"
	"ai-trade-finder/database"
	"ai-trade-finder/database/types"
	"ai-trade-finder/helpers"
	"ai-trade-finder/llm"
	"ai-trade-finder/notifications"
	"ai-trade-finder/realtime"
)

// Pipeline stages of one symbol, in order
const (
	StageBuildPayload  = "BUILD_PAYLOAD"
	StageCallAI        = "CALL_AI"
	StageParseResponse = "PARSE_RESPONSE"
	StageDedupeCheck   = "DEDUPE_CHECK"
	StagePersist       = "PERSIST"
	StageDispatchAlert = "DISPATCH_ALERT"
)

// rawLogLimit bounds how much of an unparseable response is logged
const rawLogLimit = 2000

// Reasoner is the AI gateway surface the pipeline depends on
type Reasoner interface {
	ProviderName() string
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
	CompleteStructured(ctx context.Context, req llm.Request, schema llm.Schema, out interface{}) (*llm.Response, error)
}

// TradeFinderOptions configures the orchestrator
type TradeFinderOptions struct {
	Symbols        []string
	Expiry         time.Duration
	Profile        string
	Thresholds     notifications.Thresholds
	StoreResponses bool
}

// TradeFinder runs the per-symbol pipeline
// BUILD_PAYLOAD -> CALL_AI -> PARSE_RESPONSE -> DEDUPE_CHECK -> PERSIST -> DISPATCH_ALERT.
// Symbols are processed sequentially and independently; one symbol's failure never
// stops the others.
type TradeFinder struct {
	builder       *PayloadBuilder
	reasoner      Reasoner
	trades        database.TradeStore
	cache         *cache.TradeCache
	dispatcher    *notifications.Dispatcher
	lifecycle     *Lifecycle
	conversations *ConversationManager
	broker        *realtime.Broker
	auditor       *Auditor
	loc           *time.Location
	opts          TradeFinderOptions
	now           func() time.Time
}

// NewTradeFinder creates the orchestrator. tradeCache, conversations and broker may be nil.
func NewTradeFinder(
	builder *PayloadBuilder,
	reasoner Reasoner,
	trades database.TradeStore,
	tradeCache *cache.TradeCache,
	dispatcher *notifications.Dispatcher,
	lifecycle *Lifecycle,
	conversations *ConversationManager,
	broker *realtime.Broker,
	auditor *Auditor,
	loc *time.Location,
	opts TradeFinderOptions,
) *TradeFinder {
	return &TradeFinder{
		builder:       builder,
		reasoner:      reasoner,
		trades:        trades,
		cache:         tradeCache,
		dispatcher:    dispatcher,
		lifecycle:     lifecycle,
		conversations: conversations,
		broker:        broker,
		auditor:       auditor,
		loc:           loc,
		opts:          opts,
		now:           time.Now,
	}
}

// Symbols returns the configured symbols
func (f *TradeFinder) Symbols() []string {
	return f.opts.Symbols
}

// FindTrades runs one cycle over the configured symbols
func (f *TradeFinder) FindTrades(ctx context.Context) *types.CycleReport {
	return f.FindTradesFor(ctx, f.opts.Symbols)
}

// FindTradesFor runs one cycle over symbols. All audit rows of the cycle share one
// correlation id, reused from ctx when present.
func (f *TradeFinder) FindTradesFor(ctx context.Context, symbols []string) *types.CycleReport {
	ctx, span := f.auditor.Start(ctx, "trade_finder.cycle", "")
	report := &types.CycleReport{
		CorrelationID: span.CorrelationID(),
		StartedAt:     time.Now(),
		Outcomes:      make([]types.SymbolOutcome, 0, len(symbols)),
	}

	log.Printf("🔍 Trade finder cycle %s started for %d symbols", report.CorrelationID, len(symbols))
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			log.Printf("⚠️  Trade finder cycle %s cancelled", report.CorrelationID)
			break
		}
		report.Add(f.processSymbol(ctx, symbol))
	}
	report.FinishedAt = time.Now()

	log.Printf("✅ Trade finder cycle %s done in %v: identified=%d duplicates=%d no_trade=%d failed=%d",
		report.CorrelationID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
		report.Identified, report.Duplicates, report.NoTrade, report.Failed)
	span.Success("", map[string]interface{}{
		"symbols":    len(symbols),
		"identified": report.Identified,
		"duplicates": report.Duplicates,
		"no_trade":   report.NoTrade,
		"failed":     report.Failed,
	})
	return report
}

// processSymbol runs the pipeline for one symbol behind a recover boundary
func (f *TradeFinder) processSymbol(ctx context.Context, symbol string) (out types.SymbolOutcome) {
	start := time.Now()
	ctx, span := f.auditor.Start(ctx, "trade_finder.symbol", symbol)
	out = types.SymbolOutcome{Symbol: symbol, Stage: StageBuildPayload}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Trade finder panic for %s at %s: %v", symbol, out.Stage, r)
			out.Outcome = types.OutcomeFailed
			out.Error = fmt.Sprintf("panic: %v", r)
		}
		out.DurationMs = time.Since(start).Milliseconds()

		meta := map[string]interface{}{"stage": out.Stage, "outcome": out.Outcome}
		if out.TradeID != "" {
			meta["trade_id"] = out.TradeID
		}
		if out.Outcome == types.OutcomeFailed {
			span.Failure(errors.New(out.Error), meta)
		} else {
			span.Success(out.Outcome, meta)
		}
	}()

	f.runPipeline(ctx, symbol, &out)
	return out
}

func (f *TradeFinder) runPipeline(ctx context.Context, symbol string, out *types.SymbolOutcome) {
	now := f.now()

	// BUILD_PAYLOAD
	payload, err := f.builder.Build(ctx, symbol, now)
	if err != nil {
		f.fail(out, err)
		return
	}
	body, err := payload.JSON()
	if err != nil {
		f.fail(out, err)
		return
	}

	// CALL_AI
	out.Stage = StageCallAI
	store := f.opts.StoreResponses
	req := llm.Request{
		Input:         body,
		Instructions:  llm.TradeFinderInstructions(f.opts.Profile, f.opts.Thresholds.High, f.opts.Thresholds.Medium),
		Store:         &store,
		CorrelationID: helpers.CorrelationID(ctx),
	}

	var signal TradeSignal
	log.Printf("🤖 %s: requesting analysis (%d events, %d timeframes)", symbol, len(payload.Events), len(payload.Candles))
	resp, err := f.reasoner.CompleteStructured(ctx, req, llm.TradeSignalSchema(), &signal)
	if err != nil {
		if llm.KindOf(err) == llm.KindParse {
			out.Stage = StageParseResponse
			f.noTrade(out, "unparseable response")
			log.Printf("⚠️  %s: could not parse AI response: %v\n%s", symbol, err, helpers.Truncate(rawText(err, resp), rawLogLimit))
			return
		}
		f.fail(out, err)
		return
	}
	out.ResponseID = resp.ID
	if resp.Failed() {
		f.fail(out, fmt.Errorf("provider reported failure: %s", resp.Error))
		return
	}

	// PARSE_RESPONSE
	out.Stage = StageParseResponse
	if !signal.Identified() {
		f.noTrade(out, signal.Status)
		return
	}
	signal.Normalize()
	if err := signal.Validate(); err != nil {
		f.noTrade(out, err.Error())
		log.Printf("⚠️  %s: incomplete trade signal: %v\n%s", symbol, err, helpers.Truncate(resp.Text, rawLogLimit))
		return
	}
	out.Confidence = signal.Confidence

	// DEDUPE_CHECK
	out.Stage = StageDedupeCheck
	key := DedupeKey(symbol, signal.Direction, signal.EntryZone.Range, now, f.loc)
	out.DedupeKey = key

	exists, err := f.trades.ExistsByDedupeKey(ctx, key)
	if err != nil {
		f.fail(out, fmt.Errorf("dedupe lookup failed: %w", err))
		return
	}
	if exists || !f.cache.ClaimDedupe(ctx, key, cache.DefaultClaimTTL) {
		out.Outcome = types.OutcomeDuplicate
		log.Printf("♻️  %s: duplicate setup %s, skipped", symbol, key)
		return
	}

	// PERSIST
	out.Stage = StagePersist
	trade := signal.ToTrade(symbol, SessionLabel(now, f.loc), key, now, f.opts.Expiry, llm.StripCodeFence(resp.Text))
	if err := f.trades.Create(ctx, trade); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			out.Outcome = types.OutcomeDuplicate
			log.Printf("♻️  %s: duplicate setup %s rejected by store", symbol, key)
			return
		}
		f.cache.ReleaseDedupe(ctx, key)
		f.fail(out, fmt.Errorf("failed to persist trade: %w", err))
		return
	}
	out.TradeID = trade.ID
	out.Outcome = types.OutcomeTradeIdentified
	log.Printf("🎯 %s %s identified: zone %s confidence %s (trade %s)",
		symbol, trade.Direction, trade.EntryZone, formatConfidence(trade.Confidence), trade.ID)
	f.broker.Broadcast(realtime.EventTradeIdentified, trade)
	f.recordTurn(ctx, trade, payload, resp)

	// DISPATCH_ALERT
	out.Stage = StageDispatchAlert
	result, err := f.dispatcher.Dispatch(ctx, trade)
	if err != nil {
		log.Printf("⚠️  %s: %v", symbol, err)
	}
	out.AlertTier = string(result.Tier)

	// the AI call is never repeated because this write failed
	if err := f.lifecycle.MarkAlerted(ctx, trade, string(result.Tier), result.SentAt); err != nil {
		log.Printf("❌ %s: failed to stamp alert on trade %s: %v", symbol, trade.ID, err)
	}
}

// recordTurn opens the trade's conversation and stores the identifying exchange
func (f *TradeFinder) recordTurn(ctx context.Context, trade *database.IdentifiedTrade, payload *TradeFinderPayload, resp *llm.Response) {
	if f.conversations == nil {
		return
	}

	conv, err := f.conversations.GetOrCreateTradeConversation(ctx, trade, ConversationTypeTradeFinder)
	if err != nil {
		log.Printf("⚠️  %s: %v", trade.Symbol, err)
		return
	}

	summary := fmt.Sprintf("%s %s %s: %d events, timeframes %v",
		payload.Profile, payload.Metadata.Symbol, payload.Metadata.CurrentTime,
		len(payload.Events), payload.Metadata.Timeframes)
	if _, err := f.conversations.AddTurn(ctx, conv.ID, summary, resp); err != nil {
		log.Printf("⚠️  %s: failed to record conversation turn: %v", trade.Symbol, err)
	}
}

func (f *TradeFinder) fail(out *types.SymbolOutcome, err error) {
	out.Outcome = types.OutcomeFailed
	out.Error = err.Error()
	log.Printf("❌ %s failed at %s: %v", out.Symbol, out.Stage, err)
}

func (f *TradeFinder) noTrade(out *types.SymbolOutcome, reason string) {
	out.Outcome = types.OutcomeNoTrade
	log.Printf("➖ %s: no trade (%s)", out.Symbol, reason)
}

// rawText returns the model text behind a parse error
func rawText(err error, resp *llm.Response) string {
	var gerr *llm.GatewayError
	if errors.As(err, &gerr) && gerr.Raw != "" {
		return gerr.Raw
	}
	if resp != nil {
		return resp.Text
	}
	return ""
}

func formatConfidence(c *int) string {
	if c == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *c)
}
