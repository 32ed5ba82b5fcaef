package memory

import (
	"context"
	"sort"
	"sync"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
)

// MarketDataStore is an in-memory implementation of database.MarketDataStore.
type MarketDataStore struct {
	mu      sync.RWMutex
	events  []models.MarketEvent
	candles map[candleKey]models.Candle
	seq     int64
}

type candleKey struct {
	symbol    string
	timeframe string
	bucket    int64
}

// NewMarketDataStore creates a new in-memory market data store.
func NewMarketDataStore() *MarketDataStore {
	return &MarketDataStore{
		candles: make(map[candleKey]models.Candle),
	}
}

// FindEvents returns matching events ordered by event time descending.
func (s *MarketDataStore) FindEvents(_ context.Context, q database.EventQuery) ([]models.MarketEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.MarketEvent
	for _, e := range s.events {
		if e.Symbol != q.Symbol || e.Enriched != q.Enriched {
			continue
		}
		if !q.From.IsZero() && e.EventTime.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.EventTime.After(q.To) {
			continue
		}
		if q.Timeframe != "" && e.Timeframe != q.Timeframe {
			continue
		}
		if len(q.ActionCodes) > 0 && !contains(q.ActionCodes, e.ActionCode) {
			continue
		}
		if len(q.EventTypes) > 0 && !contains(q.EventTypes, e.EventType) {
			continue
		}
		if q.TradeSignal != nil && e.IsTradeSignal != *q.TradeSignal {
			continue
		}
		result = append(result, e)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EventTime.After(result[j].EventTime)
	})
	return result, nil
}

// CountEvents counts raw or enriched events.
func (s *MarketDataStore) CountEvents(_ context.Context, enriched bool) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, e := range s.events {
		if e.Enriched == enriched {
			count++
		}
	}
	return count, nil
}

// SaveEvents appends events, assigning ids.
func (s *MarketDataStore) SaveEvents(_ context.Context, events []models.MarketEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		s.seq++
		e.ID = s.seq
		s.events = append(s.events, e)
	}
	return nil
}

// FindCandles returns matching candles ordered by bucket ascending.
func (s *MarketDataStore) FindCandles(_ context.Context, q database.CandleQuery) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Candle
	for _, c := range s.candles {
		if c.Symbol != q.Symbol || c.Timeframe != q.Timeframe {
			continue
		}
		if !q.From.IsZero() && c.Bucket.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && c.Bucket.After(q.To) {
			continue
		}
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Bucket.Before(result[j].Bucket)
	})
	return result, nil
}

// CountCandles counts stored candles.
func (s *MarketDataStore) CountCandles(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.candles)), nil
}

// SaveCandles upserts candles by (symbol, timeframe, bucket).
func (s *MarketDataStore) SaveCandles(_ context.Context, candles []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		s.candles[candleKey{c.Symbol, c.Timeframe, c.Bucket.UnixNano()}] = c
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

var _ database.MarketDataStore = (*MarketDataStore)(nil)
