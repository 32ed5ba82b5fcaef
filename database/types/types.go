// Package types holds result shapes shared between the app layer and the HTTP API.
package types

import "time"

// Pipeline outcomes for one symbol in one cycle
const (
	OutcomeTradeIdentified = "TRADE_IDENTIFIED"
	OutcomeNoTrade         = "NO_TRADE"
	OutcomeDuplicate       = "DUPLICATE"
	OutcomeFailed          = "FAILED"
)

// SymbolOutcome is the terminal state of one symbol's pipeline run
type SymbolOutcome struct {
	Symbol     string `json:"symbol"`
	Outcome    string `json:"outcome"`
	Stage      string `json:"stage"` // last stage reached
	TradeID    string `json:"trade_id,omitempty"`
	DedupeKey  string `json:"dedupe_key,omitempty"`
	Confidence *int   `json:"confidence,omitempty"`
	AlertTier  string `json:"alert_tier,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// CycleReport summarises one trade-finder cycle
type CycleReport struct {
	CorrelationID string          `json:"correlation_id"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Outcomes      []SymbolOutcome `json:"outcomes"`
	Identified    int             `json:"identified"`
	Duplicates    int             `json:"duplicates"`
	NoTrade       int             `json:"no_trade"`
	Failed        int             `json:"failed"`
}

// Add records an outcome and updates the counters
func (r *CycleReport) Add(o SymbolOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Outcome {
	case OutcomeTradeIdentified:
		r.Identified++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeNoTrade:
		r.NoTrade++
	case OutcomeFailed:
		r.Failed++
	}
}

// TradeStatistics is the trailing-window observability snapshot
type TradeStatistics struct {
	WindowStart    time.Time      `json:"window_start"`
	WindowEnd      time.Time      `json:"window_end"`
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	AlertsSent     int            `json:"alerts_sent"`
	MeanConfidence *float64       `json:"mean_confidence,omitempty"`
	WithConfidence int            `json:"with_confidence"`
}

// ExpirySweepResult summarises one expiry sweep
type ExpirySweepResult struct {
	Candidates int      `json:"candidates"`
	Expired    int      `json:"expired"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	TradeIDs   []string `json:"trade_ids,omitempty"`
}

// WorkflowRequest is an ad-hoc analysis request
type WorkflowRequest struct {
	Symbol          string `json:"symbol" validate:"required,max=20"`
	Prompt          string `json:"prompt" validate:"required"`
	Timeframe       string `json:"timeframe,omitempty"`
	LookbackMinutes int    `json:"lookback_minutes,omitempty" validate:"gte=0,lte=10080"`
	TradeID         string `json:"trade_id,omitempty"`
	DryRun          bool   `json:"dry_run,omitempty"`
}

// WorkflowResult is the structured response of a workflow run.
// Failures are reported in-band with Status "error".
type WorkflowResult struct {
	Status         string                 `json:"status"` // ok | dry_run | error
	Symbol         string                 `json:"symbol"`
	Prompt         string                 `json:"prompt"`
	Message        string                 `json:"message,omitempty"`
	Analysis       string                 `json:"analysis,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	ResponseID     string                 `json:"response_id,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Model          string                 `json:"model,omitempty"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	DurationMs     int64                  `json:"duration_ms"`
}

// PromptInfo describes a catalog prompt
type PromptInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
}

// JobInfo describes a scheduled job
type JobInfo struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}
