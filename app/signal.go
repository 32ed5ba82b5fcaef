package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
	"ai-trade-finder/llm"
)

// EntryZone is the model's entry description
type EntryZone struct {
	Type  string   `json:"type"`
	Range string   `json:"range"`
	Price *float64 `json:"price,omitempty"`
}

// TradeSignal is the structured trade-finder response.
// Decoding tolerates numbers sent as strings and scalars sent where lists are expected.
type TradeSignal struct {
	Status                 string    `json:"status"`
	Direction              string    `json:"direction"`
	Confidence             *int      `json:"confidence,omitempty"`
	EntryZone              EntryZone `json:"entry_zone"`
	Stop                   string    `json:"stop"`
	Targets                []string  `json:"targets"`
	RiskReward             string    `json:"risk_reward"`
	Narrative              string    `json:"narrative"`
	TriggerConditions      []string  `json:"trigger_conditions"`
	InvalidationConditions []string  `json:"invalidation_conditions"`
	Timeframe              string    `json:"timeframe"`
}

// UnmarshalJSON decodes loosely typed model output
func (s *TradeSignal) UnmarshalJSON(data []byte) error {
	type alias TradeSignal
	aux := struct {
		*alias
		Confidence             json.RawMessage `json:"confidence"`
		EntryZone              json.RawMessage `json:"entry_zone"`
		Stop                   json.RawMessage `json:"stop"`
		Targets                json.RawMessage `json:"targets"`
		RiskReward             json.RawMessage `json:"risk_reward"`
		TriggerConditions      json.RawMessage `json:"trigger_conditions"`
		InvalidationConditions json.RawMessage `json:"invalidation_conditions"`
	}{alias: (*alias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if s.Confidence, err = looseInt(aux.Confidence); err != nil {
		return fmt.Errorf("confidence: %w", err)
	}
	if s.EntryZone, err = looseEntryZone(aux.EntryZone); err != nil {
		return fmt.Errorf("entry_zone: %w", err)
	}
	if s.Stop, err = looseString(aux.Stop); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if s.RiskReward, err = looseString(aux.RiskReward); err != nil {
		return fmt.Errorf("risk_reward: %w", err)
	}
	if s.Targets, err = looseStrings(aux.Targets); err != nil {
		return fmt.Errorf("targets: %w", err)
	}
	if s.TriggerConditions, err = looseStrings(aux.TriggerConditions); err != nil {
		return fmt.Errorf("trigger_conditions: %w", err)
	}
	if s.InvalidationConditions, err = looseStrings(aux.InvalidationConditions); err != nil {
		return fmt.Errorf("invalidation_conditions: %w", err)
	}
	return nil
}

// Identified reports whether status is exactly the trade-identified sentinel
func (s *TradeSignal) Identified() bool {
	return s.Status == llm.TradeIdentifiedStatus
}

// Normalize upper-cases the direction and clamps confidence into [0,100]
func (s *TradeSignal) Normalize() {
	s.Direction = strings.ToUpper(strings.TrimSpace(s.Direction))
	s.EntryZone.Range = strings.TrimSpace(s.EntryZone.Range)
	if s.Confidence != nil {
		c := *s.Confidence
		if c < 0 {
			c = 0
		}
		if c > 100 {
			c = 100
		}
		s.Confidence = &c
	}
}

// Validate checks the fields an identified trade cannot do without
func (s *TradeSignal) Validate() error {
	if s.Direction != models.DirectionLong && s.Direction != models.DirectionShort {
		return fmt.Errorf("invalid direction %q", s.Direction)
	}
	if s.EntryZone.Range == "" {
		return errors.New("entry zone range is empty")
	}
	return nil
}

// ToTrade builds a new IDENTIFIED trade from the signal
func (s *TradeSignal) ToTrade(symbol, session, dedupeKey string, now time.Time, expiry time.Duration, raw string) *database.IdentifiedTrade {
	trade := &database.IdentifiedTrade{
		ID:                     uuid.NewString(),
		Symbol:                 symbol,
		Direction:              s.Direction,
		IdentifiedAt:           now,
		Confidence:             s.Confidence,
		Status:                 models.TradeStatusIdentified,
		EntryZoneType:          s.EntryZone.Type,
		EntryZone:              s.EntryZone.Range,
		StopPlacement:          s.Stop,
		Targets:                s.Targets,
		TriggerConditions:      s.TriggerConditions,
		InvalidationConditions: s.InvalidationConditions,
		RiskReward:             s.RiskReward,
		Narrative:              s.Narrative,
		Session:                session,
		Timeframe:              s.Timeframe,
		DedupeKey:              dedupeKey,
		CreatedAt:              now,
		UpdatedAt:              now,
		ExpiresAt:              now.Add(expiry),
		Version:                1,
	}
	if s.EntryZone.Price != nil {
		trade.EntryPrice = decimal.NewNullDecimal(decimal.NewFromFloat(*s.EntryZone.Price))
	}
	if raw != "" && json.Valid([]byte(raw)) {
		trade.RawResponse = datatypes.JSON(raw)
	}
	return trade
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func looseInt(raw json.RawMessage) (*int, error) {
	if isNull(raw) {
		return nil, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, err
		}
	}
	v := int(math.Round(f))
	return &v, nil
}

func looseFloat(raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s = strings.TrimSpace(s); s == "" {
			return nil, nil
		}
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

func looseString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		// objects and arrays are kept as compact JSON
		return string(bytes.TrimSpace(raw)), nil
	}
}

func looseStrings(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		s, err := looseString(raw)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := looseString(item)
		if err != nil {
			return nil, err
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func looseEntryZone(raw json.RawMessage) (EntryZone, error) {
	var zone EntryZone
	if isNull(raw) {
		return zone, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// a bare "21780-21800" string
		r, err := looseString(raw)
		if err != nil {
			return zone, err
		}
		zone.Range = r
		return zone, nil
	}

	var err error
	if zone.Type, err = looseString(fields["type"]); err != nil {
		return zone, err
	}
	if zone.Range, err = looseString(fields["range"]); err != nil {
		return zone, err
	}
	if zone.Price, err = looseFloat(fields["price"]); err != nil {
		return zone, err
	}
	return zone, nil
}
