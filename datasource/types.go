// Package datasource provides a uniform retrieval interface over the market data categories
// the trade finder consumes, and a registry that maps each category to its adapter.
package datasource

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Category identifies a kind of market data
type Category string

const (
	CategoryMarketEvents   Category = "MARKET_EVENTS"
	CategoryEnrichedEvents Category = "ENRICHED_EVENTS"
	CategoryCandles        Category = "OHLC_CANDLES"
	CategoryVolumeProfile  Category = "VOLUME_PROFILE"
	CategoryOrderBook      Category = "ORDER_BOOK"
)

// AllCategories lists every known category in a stable order
var AllCategories = []Category{
	CategoryMarketEvents,
	CategoryEnrichedEvents,
	CategoryCandles,
	CategoryVolumeProfile,
	CategoryOrderBook,
}

// ParseCategory resolves a category code, case-insensitively
func ParseCategory(code string) (Category, error) {
	normalized := Category(strings.ToUpper(strings.TrimSpace(code)))
	for _, c := range AllCategories {
		if c == normalized {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown data source category: %q", code)
}

// Metadata keys set on every Result
const (
	MetaProvenance     = "provenance"
	MetaLimitApplied   = "limitApplied"
	MetaTotalAvailable = "totalAvailable"
)

// FetchConfig controls one retrieval.
// MaxRecords of 0 means unlimited. Filter uses the "key:v1|v2,key2:v" syntax.
type FetchConfig struct {
	From       time.Time
	To         time.Time
	MaxRecords int
	External   bool
	Filter     string
}

// Record is one retrieved row as a generic field map
type Record map[string]interface{}

// Result is the uniform envelope every adapter returns
type Result struct {
	Category    Category               `json:"category"`
	Symbol      string                 `json:"symbol"`
	Timeframe   string                 `json:"timeframe,omitempty"`
	RecordCount int                    `json:"record_count"`
	Records     []Record               `json:"records"`
	Metadata    map[string]interface{} `json:"metadata"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
}

// Source is implemented by one adapter per data category.
// Fetch never returns an error: failures come back as Success=false with no records.
// HealthCheck never panics past its boundary and reports false on any failure.
type Source interface {
	Fetch(ctx context.Context, symbol, timeframe string, cfg FetchConfig) *Result
	Category() Category
	SupportsSymbol(symbol string) bool
	SupportsTimeframe(timeframe string) bool
	Describe() string
	HealthCheck(ctx context.Context) bool
}

func newResult(category Category, symbol, timeframe string, cfg FetchConfig) *Result {
	provenance := "internal"
	if cfg.External {
		provenance = "external"
	}
	return &Result{
		Category:  category,
		Symbol:    symbol,
		Timeframe: timeframe,
		Records:   []Record{},
		Metadata:  map[string]interface{}{MetaProvenance: provenance},
	}
}

// fail marks the result unsuccessful and drops any records
func (r *Result) fail(err error) *Result {
	r.Success = false
	r.Records = []Record{}
	r.RecordCount = 0
	r.Error = err.Error()
	return r
}

// succeed stores records, truncating from the front when maxRecords is exceeded.
// Records must already be in the order the caller expects.
func (r *Result) succeed(records []Record, maxRecords int) *Result {
	r.Metadata[MetaTotalAvailable] = len(records)
	limited := false
	if maxRecords > 0 && len(records) > maxRecords {
		records = records[:maxRecords]
		limited = true
	}
	r.Metadata[MetaLimitApplied] = limited
	r.Records = records
	r.RecordCount = len(records)
	r.Success = true
	return r
}

// LimitApplied reports whether the record cap truncated the result
func (r *Result) LimitApplied() bool {
	applied, _ := r.Metadata[MetaLimitApplied].(bool)
	return applied
}
