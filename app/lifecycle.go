package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
	"ai-trade-finder/database/types"
)

// maxVersionRetries bounds reload-and-reapply after an optimistic update conflict
const maxVersionRetries = 3

// TransitionRequest is a requested trade status change
type TransitionRequest struct {
	TradeID string `json:"trade_id" validate:"required"`
	Status  string `json:"status" validate:"required,oneof=ALERTED EXPIRED TAKEN INVALIDATED CANCELLED"`
}

// Lifecycle owns every mutation of a persisted trade after creation:
// alert stamping, expiry and operator status transitions.
type Lifecycle struct {
	trades      database.TradeStore
	auditor     *Auditor
	validate    *validator.Validate
	statsWindow time.Duration
}

// NewLifecycle creates a lifecycle manager
func NewLifecycle(trades database.TradeStore, auditor *Auditor, statsWindow time.Duration) *Lifecycle {
	if statsWindow <= 0 {
		statsWindow = 24 * time.Hour
	}
	return &Lifecycle{
		trades:      trades,
		auditor:     auditor,
		validate:    validator.New(),
		statsWindow: statsWindow,
	}
}

// mutation edits a trade in place; returning false leaves the trade unwritten
type mutation func(t *database.IdentifiedTrade) bool

// updateWithRetry applies mutate and writes the trade. On a version conflict the
// trade is reloaded and mutate re-evaluated against the fresh copy.
func (l *Lifecycle) updateWithRetry(ctx context.Context, trade *database.IdentifiedTrade, mutate mutation) (bool, error) {
	current := trade
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		if attempt > 0 {
			fresh, err := l.trades.GetByID(ctx, trade.ID)
			if err != nil {
				return false, err
			}
			current = fresh
		}

		candidate := *current
		if !mutate(&candidate) {
			*trade = *current
			return false, nil
		}

		err := l.trades.Update(ctx, &candidate)
		if err == nil {
			*trade = candidate
			return true, nil
		}
		if !errors.Is(err, database.ErrVersionConflict) {
			return false, err
		}
		log.Printf("⚠️  Version conflict on trade %s (attempt %d), reloading", trade.ID, attempt+1)
	}
	return false, fmt.Errorf("trade %s: %w after %d attempts", trade.ID, database.ErrVersionConflict, maxVersionRetries)
}

// MarkAlerted stamps the alert fields once. Status stays IDENTIFIED.
func (l *Lifecycle) MarkAlerted(ctx context.Context, trade *database.IdentifiedTrade, alertType string, at time.Time) error {
	_, err := l.updateWithRetry(ctx, trade, func(t *database.IdentifiedTrade) bool {
		if t.AlertSent {
			return false
		}
		sentAt := at
		t.AlertSent = true
		t.AlertSentAt = &sentAt
		t.AlertType = alertType
		return true
	})
	return err
}

// ExpireTrades moves IDENTIFIED trades whose expiry is strictly before now to EXPIRED.
// Per-trade failures are counted and logged; they never stop the sweep.
func (l *Lifecycle) ExpireTrades(ctx context.Context, now time.Time) (*types.ExpirySweepResult, error) {
	ctx, span := l.auditor.Start(ctx, "lifecycle.expire", "")

	candidates, err := l.trades.FindExpired(ctx, now)
	if err != nil {
		span.Failure(err, nil)
		return nil, fmt.Errorf("failed to load expired trades: %w", err)
	}

	result := &types.ExpirySweepResult{Candidates: len(candidates)}
	for i := range candidates {
		trade := &candidates[i]
		changed, err := l.updateWithRetry(ctx, trade, func(t *database.IdentifiedTrade) bool {
			if t.Status != models.TradeStatusIdentified || !t.ExpiresAt.Before(now) {
				return false
			}
			t.Status = models.TradeStatusExpired
			return true
		})
		switch {
		case err != nil:
			result.Failed++
			log.Printf("❌ Failed to expire trade %s: %v", trade.ID, err)
		case changed:
			result.Expired++
			result.TradeIDs = append(result.TradeIDs, trade.ID)
		default:
			result.Skipped++
		}
	}

	if result.Candidates > 0 {
		log.Printf("🔄 Expiry sweep: %d expired, %d skipped, %d failed", result.Expired, result.Skipped, result.Failed)
	}
	span.Success("", map[string]interface{}{
		"candidates": result.Candidates,
		"expired":    result.Expired,
		"failed":     result.Failed,
	})
	return result, nil
}

// ComputeStatistics aggregates trades identified in the trailing window ending at now.
// It has no side effects beyond logging.
func (l *Lifecycle) ComputeStatistics(ctx context.Context, now time.Time) (*types.TradeStatistics, error) {
	since := now.Add(-l.statsWindow)
	trades, err := l.trades.FindIdentifiedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades for statistics: %w", err)
	}

	stats := &types.TradeStatistics{
		WindowStart: since,
		WindowEnd:   now,
		Total:       len(trades),
		ByStatus:    make(map[string]int),
	}

	sum := 0
	for _, t := range trades {
		stats.ByStatus[t.Status]++
		if t.AlertSent {
			stats.AlertsSent++
		}
		if t.Confidence != nil {
			sum += *t.Confidence
			stats.WithConfidence++
		}
	}
	if stats.WithConfidence > 0 {
		mean := float64(sum) / float64(stats.WithConfidence)
		stats.MeanConfidence = &mean
	}

	mean := "n/a"
	if stats.MeanConfidence != nil {
		mean = fmt.Sprintf("%.1f", *stats.MeanConfidence)
	}
	log.Printf("📊 Trades last %s: total=%d alerts=%d mean_confidence=%s by_status=%v",
		l.statsWindow, stats.Total, stats.AlertsSent, mean, stats.ByStatus)
	return stats, nil
}

// Transition applies an operator status change, enforcing monotonic transitions
func (l *Lifecycle) Transition(ctx context.Context, tradeID, status string) (*database.IdentifiedTrade, error) {
	req := TransitionRequest{TradeID: tradeID, Status: status}
	if err := l.validate.Struct(req); err != nil {
		return nil, database.NewValidationErrorWithValue("status", err.Error(), req.Status)
	}

	trade, err := l.trades.GetByID(ctx, req.TradeID)
	if err != nil {
		return nil, err
	}

	var from string
	changed, err := l.updateWithRetry(ctx, trade, func(t *database.IdentifiedTrade) bool {
		from = t.Status
		if !models.CanTransition(t.Status, req.Status) {
			return false
		}
		t.Status = req.Status
		return true
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, database.NewValidationErrorWithValue("status",
			fmt.Sprintf("transition from %s not allowed", from), req.Status)
	}

	log.Printf("✅ Trade %s %s -> %s", trade.ID, from, req.Status)
	return trade, nil
}
