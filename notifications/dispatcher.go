package notifications

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ai-trade-finder/cache"
	"ai-trade-finder/database"
	"ai-trade-finder/helpers"
	"ai-trade-finder/realtime"
)

// AlertTier is the dispatch tier chosen from a trade's confidence
type AlertTier string

const (
	TierAllChannels AlertTier = "ALL_CHANNELS"
	TierSMSChat     AlertTier = "SMS_CHAT"
	TierLogOnly     AlertTier = "LOG_ONLY"
)

// Default confidence thresholds
const (
	DefaultHighThreshold   = 80
	DefaultMediumThreshold = 60
)

// Thresholds are inclusive lower bounds for the upper two tiers
type Thresholds struct {
	High   int
	Medium int
}

// DefaultThresholds returns the 80 / 60 thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{High: DefaultHighThreshold, Medium: DefaultMediumThreshold}
}

// ResolveTier maps a confidence to its tier, checking the highest tier first.
// A nil confidence is log-only.
func ResolveTier(confidence *int, t Thresholds) AlertTier {
	if confidence == nil {
		return TierLogOnly
	}
	switch c := *confidence; {
	case c >= t.High:
		return TierAllChannels
	case c >= t.Medium:
		return TierSMSChat
	default:
		return TierLogOnly
	}
}

// Channels lists the channel names a tier fans out to
func (t AlertTier) Channels() []string {
	switch t {
	case TierAllChannels:
		return []string{ChannelVoice, ChannelSMS, ChannelChat}
	case TierSMSChat:
		return []string{ChannelSMS, ChannelChat}
	default:
		return nil
	}
}

// Alert is what channels receive
type Alert struct {
	TradeID    string    `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Confidence *int      `json:"confidence,omitempty"`
	Tier       AlertTier `json:"tier"`
	EntryZone  string    `json:"entry_zone"`
	Stop       string    `json:"stop"`
	Narrative  string    `json:"narrative"`
	Timeframe  string    `json:"timeframe"`
	Session    string    `json:"session"`
}

// NewAlert builds an alert from a persisted trade
func NewAlert(trade *database.IdentifiedTrade, tier AlertTier) Alert {
	return Alert{
		TradeID:    trade.ID,
		Symbol:     trade.Symbol,
		Direction:  trade.Direction,
		Confidence: trade.Confidence,
		Tier:       tier,
		EntryZone:  trade.EntryZone,
		Stop:       trade.StopPlacement,
		Narrative:  trade.Narrative,
		Timeframe:  trade.Timeframe,
		Session:    trade.Session,
	}
}

// DispatchResult summarises one dispatch
type DispatchResult struct {
	Tier      AlertTier
	Channels  []string
	Delivered bool
	SentAt    time.Time
}

// Dispatcher applies the confidence-tier policy and records what it decided.
// It does not touch the trade; the caller persists the alert fields.
type Dispatcher struct {
	intents    database.AlertLog
	cache      *cache.TradeCache
	broker     *realtime.Broker
	channels   map[string]Channel
	thresholds Thresholds
}

// NewDispatcher creates a dispatcher. intents, tradeCache and broker may be nil.
func NewDispatcher(intents database.AlertLog, tradeCache *cache.TradeCache, broker *realtime.Broker, thresholds Thresholds, channels ...Channel) *Dispatcher {
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}

	return &Dispatcher{
		intents:    intents,
		cache:      tradeCache,
		broker:     broker,
		channels:   byName,
		thresholds: thresholds,
	}
}

// Thresholds returns the configured thresholds
func (d *Dispatcher) Thresholds() Thresholds {
	return d.thresholds
}

// Dispatch delivers an alert for trade through the channels of its tier and
// records the intent. The returned error reports a failed intent write only;
// the tier decision is valid either way.
func (d *Dispatcher) Dispatch(ctx context.Context, trade *database.IdentifiedTrade) (DispatchResult, error) {
	tier := ResolveTier(trade.Confidence, d.thresholds)
	alert := NewAlert(trade, tier)
	result := DispatchResult{Tier: tier, Channels: tier.Channels(), SentAt: time.Now()}

	if tier == TierLogOnly {
		log.Printf("📝 %s %s confidence %s below alert threshold, log only (trade %s)",
			trade.Symbol, trade.Direction, formatConfidence(trade.Confidence), trade.ID)
	} else {
		log.Printf("🔔 %s %s confidence %s -> %s (trade %s)",
			trade.Symbol, trade.Direction, formatConfidence(trade.Confidence), tier, trade.ID)
	}

	for _, name := range result.Channels {
		ch, ok := d.channels[name]
		if !ok {
			log.Printf("⚠️  Alert channel %s not configured, skipped", name)
			continue
		}
		if err := ch.Deliver(ctx, alert); err != nil {
			if !errors.Is(err, ErrNotIntegrated) {
				log.Printf("⚠️  Alert channel %s failed for trade %s: %v", name, trade.ID, err)
			}
			continue
		}
		result.Delivered = true
	}

	intent := &database.AlertIntent{
		TradeID:       trade.ID,
		Symbol:        trade.Symbol,
		Tier:          string(tier),
		Channels:      result.Channels,
		Confidence:    trade.Confidence,
		Delivered:     result.Delivered,
		CorrelationID: helpers.CorrelationID(ctx),
		CreatedAt:     result.SentAt,
	}

	var saveErr error
	if d.intents != nil {
		if err := d.intents.SaveIntent(ctx, intent); err != nil {
			saveErr = fmt.Errorf("failed to record alert intent for trade %s: %w", trade.ID, err)
		}
	}

	if err := d.cache.PublishAlert(ctx, intent); err != nil {
		log.Printf("⚠️  %v", err)
	}
	d.broker.Broadcast(realtime.EventAlertIntent, intent)

	return result, saveErr
}

func formatConfidence(c *int) string {
	if c == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *c)
}
