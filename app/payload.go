package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ai-trade-finder/datasource"
	"ai-trade-finder/llm"
)

const dailyTimeframe = "1d"

// PayloadMetadata identifies what a payload describes
type PayloadMetadata struct {
	Symbol          string   `json:"symbol"`
	AnalysisDate    string   `json:"analysis_date"`
	CurrentTime     string   `json:"current_time"`
	Session         string   `json:"session"`
	Timeframes      []string `json:"timeframes"`
	LookbackMinutes int      `json:"lookback_minutes"`
}

// DailyContext is the previous session's daily bar
type DailyContext struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// KeyLevel is a labelled reference price
type KeyLevel struct {
	Label string  `json:"label"`
	Price float64 `json:"price"`
}

// TradeFinderPayload is the request body sent to the reasoning model
type TradeFinderPayload struct {
	Metadata     PayloadMetadata                `json:"metadata"`
	Profile      string                         `json:"profile"`
	Task         string                         `json:"task"`
	Events       []datasource.Record            `json:"events"`
	Candles      map[string][]datasource.Record `json:"candles"`
	DailyContext *DailyContext                  `json:"daily_context,omitempty"`
	KeyLevels    []KeyLevel                     `json:"key_levels,omitempty"`
	Knowledge    map[string]string              `json:"knowledge,omitempty"`
	DataErrors   []string                       `json:"data_errors,omitempty"`
}

// JSON renders the payload as model input
func (p *TradeFinderPayload) JSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}

// PayloadConfig controls payload assembly.
// Event depth (LookbackMinutes) and candle depth (CandleCount per timeframe) are independent.
type PayloadConfig struct {
	LookbackMinutes int
	CandleCount     int
	Timeframes      []string
	Profile         string
	MaxEvents       int
	EventCategory   datasource.Category
}

// PayloadBuilder assembles trade-finder payloads from the data source registry
type PayloadBuilder struct {
	registry  *datasource.Registry
	cfg       PayloadConfig
	knowledge map[string]string
	loc       *time.Location
}

// NewPayloadBuilder creates a payload builder
func NewPayloadBuilder(registry *datasource.Registry, cfg PayloadConfig, knowledge map[string]string, loc *time.Location) *PayloadBuilder {
	if cfg.EventCategory == "" {
		cfg.EventCategory = datasource.CategoryMarketEvents
	}
	return &PayloadBuilder{
		registry:  registry,
		cfg:       cfg,
		knowledge: knowledge,
		loc:       loc,
	}
}

// Build assembles the payload for symbol at now.
// A failed fetch leaves that part of the payload empty and is listed in DataErrors;
// only a cancelled context fails the build.
func (b *PayloadBuilder) Build(ctx context.Context, symbol string, now time.Time) (*TradeFinderPayload, error) {
	return b.build(ctx, symbol, now, b.cfg.LookbackMinutes, b.cfg.Timeframes)
}

// BuildWith assembles a payload with a custom lookback and timeframe set
func (b *PayloadBuilder) BuildWith(ctx context.Context, symbol string, now time.Time, lookbackMinutes int, timeframes []string) (*TradeFinderPayload, error) {
	if lookbackMinutes <= 0 {
		lookbackMinutes = b.cfg.LookbackMinutes
	}
	if len(timeframes) == 0 {
		timeframes = b.cfg.Timeframes
	}
	return b.build(ctx, symbol, now, lookbackMinutes, timeframes)
}

func (b *PayloadBuilder) build(ctx context.Context, symbol string, now time.Time, lookbackMinutes int, timeframes []string) (*TradeFinderPayload, error) {
	local := now.In(b.loc)

	payload := &TradeFinderPayload{
		Metadata: PayloadMetadata{
			Symbol:          symbol,
			AnalysisDate:    local.Format("2006-01-02"),
			CurrentTime:     local.Format(time.RFC3339),
			Session:         SessionLabel(now, b.loc),
			Timeframes:      timeframes,
			LookbackMinutes: lookbackMinutes,
		},
		Profile:   b.cfg.Profile,
		Task:      llm.TradeFinderTask,
		Candles:   make(map[string][]datasource.Record, len(timeframes)),
		Knowledge: b.knowledge,
	}

	cutoff := now.Add(-time.Duration(lookbackMinutes) * time.Minute)
	events := b.registry.Fetch(ctx, b.cfg.EventCategory, symbol, "", datasource.FetchConfig{
		From:       cutoff,
		To:         now,
		MaxRecords: b.cfg.MaxEvents,
	})
	payload.Events = events.Records
	if !events.Success {
		log.Printf("⚠️  Event fetch for %s failed, continuing without events: %s", symbol, events.Error)
		payload.Events = []datasource.Record{}
		payload.DataErrors = append(payload.DataErrors, fmt.Sprintf("%s: %s", b.cfg.EventCategory, events.Error))
	}

	for _, tf := range timeframes {
		payload.Candles[tf] = b.recentCandles(ctx, payload, symbol, tf, now)
	}

	b.attachDailyContext(ctx, payload, symbol, now)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return payload, nil
}

// recentCandles fetches a count x duration window and keeps the newest CandleCount bars
func (b *PayloadBuilder) recentCandles(ctx context.Context, payload *TradeFinderPayload, symbol, timeframe string, now time.Time) []datasource.Record {
	d, err := datasource.TimeframeDuration(timeframe)
	if err != nil {
		log.Printf("⚠️  Skipping candles for %s: %v", symbol, err)
		payload.DataErrors = append(payload.DataErrors, fmt.Sprintf("%s %s: %v", datasource.CategoryCandles, timeframe, err))
		return []datasource.Record{}
	}

	res := b.registry.Fetch(ctx, datasource.CategoryCandles, symbol, timeframe, datasource.FetchConfig{
		From: now.Add(-d * time.Duration(b.cfg.CandleCount)),
		To:   now,
	})
	if !res.Success {
		log.Printf("⚠️  Candle fetch %s %s failed: %s", symbol, timeframe, res.Error)
		payload.DataErrors = append(payload.DataErrors, fmt.Sprintf("%s %s: %s", datasource.CategoryCandles, timeframe, res.Error))
		return []datasource.Record{}
	}

	records := res.Records
	if b.cfg.CandleCount > 0 && len(records) > b.cfg.CandleCount {
		records = records[len(records)-b.cfg.CandleCount:]
	}
	return records
}

// attachDailyContext adds the last completed daily bar and its levels, when daily candles exist
func (b *PayloadBuilder) attachDailyContext(ctx context.Context, payload *TradeFinderPayload, symbol string, now time.Time) {
	if !b.registry.Has(datasource.CategoryCandles) {
		return
	}

	local := now.In(b.loc)
	todayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, b.loc)

	res := b.registry.Fetch(ctx, datasource.CategoryCandles, symbol, dailyTimeframe, datasource.FetchConfig{
		From: todayStart.AddDate(0, 0, -7),
		To:   todayStart.Add(-time.Nanosecond),
	})
	if !res.Success || len(res.Records) == 0 {
		return
	}

	last := res.Records[len(res.Records)-1]
	daily := &DailyContext{
		Open:   floatField(last, "open"),
		High:   floatField(last, "high"),
		Low:    floatField(last, "low"),
		Close:  floatField(last, "close"),
		Volume: floatField(last, "volume"),
	}
	if t, ok := last["time"].(time.Time); ok {
		daily.Date = t.In(b.loc).Format("2006-01-02")
	}

	payload.DailyContext = daily
	payload.KeyLevels = []KeyLevel{
		{Label: "PDH", Price: daily.High},
		{Label: "PDL", Price: daily.Low},
		{Label: "PDC", Price: daily.Close},
	}
}

func floatField(r datasource.Record, key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
