package memory

import (
	"context"
	"sync"
	"time"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
)

// AuditStore is an in-memory implementation of database.AuditStore and database.AlertLog.
type AuditStore struct {
	mu      sync.RWMutex
	entries []models.OperationAudit
	intents []models.AlertIntent
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Record appends an audit row.
func (s *AuditStore) Record(_ context.Context, entry *models.OperationAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = int64(len(s.entries) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

// ListByCorrelation returns the rows of one correlation id in insertion order.
func (s *AuditStore) ListByCorrelation(_ context.Context, correlationID string) ([]models.OperationAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.OperationAudit
	for _, e := range s.entries {
		if e.CorrelationID == correlationID {
			result = append(result, e)
		}
	}
	return result, nil
}

// Entries returns every audit row in insertion order.
func (s *AuditStore) Entries() []models.OperationAudit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.OperationAudit(nil), s.entries...)
}

// SaveIntent stores an alert intent.
func (s *AuditStore) SaveIntent(_ context.Context, intent *models.AlertIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent.ID = int64(len(s.intents) + 1)
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	s.intents = append(s.intents, *intent)
	return nil
}

// ListIntents returns the alert intents recorded for a trade.
func (s *AuditStore) ListIntents(_ context.Context, tradeID string) ([]models.AlertIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.AlertIntent
	for _, i := range s.intents {
		if i.TradeID == tradeID {
			result = append(result, i)
		}
	}
	return result, nil
}

var (
	_ database.AuditStore = (*AuditStore)(nil)
	_ database.AlertLog   = (*AuditStore)(nil)
)
