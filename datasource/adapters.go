package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"ai-trade-finder/database"
)

// healthProbeTimeout bounds a single health probe
const healthProbeTimeout = 5 * time.Second

// baseSource holds the capability sets shared by all adapters.
// An empty set means "supports everything".
type baseSource struct {
	category    Category
	description string
	symbols     map[string]bool
	timeframes  map[string]bool
}

func newBaseSource(category Category, description string, symbols, timeframes []string) baseSource {
	b := baseSource{
		category:    category,
		description: description,
		symbols:     make(map[string]bool, len(symbols)),
		timeframes:  make(map[string]bool, len(timeframes)),
	}
	for _, s := range symbols {
		b.symbols[strings.ToUpper(s)] = true
	}
	for _, tf := range timeframes {
		b.timeframes[strings.ToLower(tf)] = true
	}
	return b
}

func (b *baseSource) Category() Category { return b.category }

func (b *baseSource) Describe() string { return b.description }

func (b *baseSource) SupportsSymbol(symbol string) bool {
	return len(b.symbols) == 0 || b.symbols[strings.ToUpper(symbol)]
}

func (b *baseSource) SupportsTimeframe(timeframe string) bool {
	return len(b.timeframes) == 0 || b.timeframes[strings.ToLower(timeframe)]
}

// EventSource serves raw or enriched market events, newest first
type EventSource struct {
	baseSource
	store    database.MarketDataStore
	enriched bool
}

// NewEventSource creates the adapter for raw market events
func NewEventSource(store database.MarketDataStore, symbols, timeframes []string) *EventSource {
	return &EventSource{
		baseSource: newBaseSource(CategoryMarketEvents, "Raw market event records ordered newest first", symbols, timeframes),
		store:      store,
	}
}

// NewEnrichedEventSource creates the adapter for enriched (transformed) events
func NewEnrichedEventSource(store database.MarketDataStore, symbols, timeframes []string) *EventSource {
	return &EventSource{
		baseSource: newBaseSource(CategoryEnrichedEvents, "Enriched market events with derived fields, newest first", symbols, timeframes),
		store:      store,
		enriched:   true,
	}
}

// Fetch retrieves events for the symbol in [cfg.From, cfg.To]
func (s *EventSource) Fetch(ctx context.Context, symbol, timeframe string, cfg FetchConfig) *Result {
	res := newResult(s.category, symbol, timeframe, cfg)

	query := database.EventQuery{
		Symbol:    symbol,
		Timeframe: timeframe,
		From:      cfg.From,
		To:        cfg.To,
		Enriched:  s.enriched,
	}

	filter := ParseFilter(cfg.Filter)
	filter.warnUnknown(s.category, "actionCode", "eventType", "isTradeSignal", "timeframe")
	query.ActionCodes = filter["actionCode"]
	query.EventTypes = filter["eventType"]
	if tf := filter.First("timeframe"); tf != "" {
		query.Timeframe = tf
	}
	if raw := filter.First("isTradeSignal"); raw != "" {
		flag, err := strconv.ParseBool(raw)
		if err != nil {
			return res.fail(fmt.Errorf("invalid isTradeSignal filter value %q", raw))
		}
		query.TradeSignal = &flag
	}

	events, err := s.store.FindEvents(ctx, query)
	if err != nil {
		return res.fail(fmt.Errorf("failed to fetch %s for %s: %w", s.category, symbol, err))
	}

	records := make([]Record, 0, len(events))
	var buys, sells, signals int
	for _, e := range events {
		switch strings.ToUpper(e.ActionCode) {
		case "BUY":
			buys++
		case "SELL":
			sells++
		}
		if e.IsTradeSignal {
			signals++
		}
		records = append(records, eventRecord(e))
	}

	res.Metadata["buyCount"] = buys
	res.Metadata["sellCount"] = sells
	res.Metadata["tradeSignalCount"] = signals
	return res.succeed(records, cfg.MaxRecords)
}

// HealthCheck probes the event table with a count
func (s *EventSource) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	return guardHealth(s.category, func() bool {
		_, err := s.store.CountEvents(ctx, s.enriched)
		return err == nil
	})
}

func eventRecord(e database.MarketEvent) Record {
	r := Record{
		"id":            e.ID,
		"symbol":        e.Symbol,
		"eventTime":     e.EventTime,
		"eventType":     e.EventType,
		"actionCode":    e.ActionCode,
		"isTradeSignal": e.IsTradeSignal,
		"price":         e.Price,
		"volume":        e.Volume,
	}
	if e.Timeframe != "" {
		r["timeframe"] = e.Timeframe
	}
	if len(e.Payload) > 0 {
		var payload map[string]interface{}
		if err := json.Unmarshal(e.Payload, &payload); err == nil {
			r["payload"] = payload
		}
	}
	return r
}

// CandleSource serves OHLC candles, oldest first
type CandleSource struct {
	baseSource
	store database.MarketDataStore
}

// NewCandleSource creates the candle adapter
func NewCandleSource(store database.MarketDataStore, symbols, timeframes []string) *CandleSource {
	return &CandleSource{
		baseSource: newBaseSource(CategoryCandles, "OHLCV candles per timeframe ordered oldest first", symbols, timeframes),
		store:      store,
	}
}

// Fetch retrieves candles for the symbol and timeframe in [cfg.From, cfg.To]
func (s *CandleSource) Fetch(ctx context.Context, symbol, timeframe string, cfg FetchConfig) *Result {
	res := newResult(s.category, symbol, timeframe, cfg)

	filter := ParseFilter(cfg.Filter)
	filter.warnUnknown(s.category, "timeframe")
	if tf := filter.First("timeframe"); tf != "" {
		timeframe = tf
		res.Timeframe = tf
	}
	if timeframe == "" {
		return res.fail(fmt.Errorf("timeframe is required for %s", s.category))
	}

	candles, err := s.store.FindCandles(ctx, database.CandleQuery{
		Symbol:    symbol,
		Timeframe: timeframe,
		From:      cfg.From,
		To:        cfg.To,
	})
	if err != nil {
		return res.fail(fmt.Errorf("failed to fetch candles for %s %s: %w", symbol, timeframe, err))
	}

	records := make([]Record, 0, len(candles))
	var high, low float64
	for i, c := range candles {
		records = append(records, Record{
			"time":      c.Bucket,
			"timeframe": c.Timeframe,
			"open":      c.Open,
			"high":      c.High,
			"low":       c.Low,
			"close":     c.Close,
			"volume":    c.Volume,
		})
		if i == 0 || c.High > high {
			high = c.High
		}
		if i == 0 || c.Low < low {
			low = c.Low
		}
	}
	if len(candles) > 0 {
		res.Metadata["high"] = high
		res.Metadata["low"] = low
	}
	return res.succeed(records, cfg.MaxRecords)
}

// HealthCheck probes the candle table with a count
func (s *CandleSource) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	return guardHealth(s.category, func() bool {
		_, err := s.store.CountCandles(ctx)
		return err == nil
	})
}

// guardHealth reports a panicking probe as unhealthy
func guardHealth(category Category, check func() bool) (healthy bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ Health check for %s panicked: %v", category, rec)
			healthy = false
		}
	}()
	return check()
}

// StubSource stands in for categories with no backing store yet.
// It advertises no capabilities and always returns an empty successful result.
type StubSource struct {
	baseSource
}

// NewVolumeProfileSource creates the volume profile placeholder
func NewVolumeProfileSource() *StubSource {
	return &StubSource{baseSource: newBaseSource(CategoryVolumeProfile, "Volume profile (not yet backed by a store)", nil, nil)}
}

// NewOrderBookSource creates the order book placeholder
func NewOrderBookSource() *StubSource {
	return &StubSource{baseSource: newBaseSource(CategoryOrderBook, "Order book depth (not yet backed by a store)", nil, nil)}
}

func (s *StubSource) Fetch(_ context.Context, symbol, timeframe string, cfg FetchConfig) *Result {
	res := newResult(s.category, symbol, timeframe, cfg)
	res.Metadata["stub"] = true
	return res.succeed([]Record{}, cfg.MaxRecords)
}

func (s *StubSource) SupportsSymbol(string) bool { return false }

func (s *StubSource) SupportsTimeframe(string) bool { return false }

func (s *StubSource) HealthCheck(context.Context) bool { return true }
