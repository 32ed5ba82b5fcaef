package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
)

// TradeStore is an in-memory implementation of database.TradeStore.
type TradeStore struct {
	mu      sync.RWMutex
	data    map[string]*models.IdentifiedTrade // keyed by trade id
	byDedup map[string]string                  // dedupe key -> trade id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data:    make(map[string]*models.IdentifiedTrade),
		byDedup: make(map[string]string),
	}
}

// Create adds a new trade. Returns ErrDuplicateKey if the dedupe key exists.
func (s *TradeStore) Create(_ context.Context, t *models.IdentifiedTrade) error {
	if t == nil || t.ID == "" || t.DedupeKey == "" {
		return database.NewValidationErrorWithValue("trade", "id and dedupe key are required", t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byDedup[t.DedupeKey]; exists {
		return database.ErrDuplicateKey
	}
	if _, exists := s.data[t.ID]; exists {
		return database.ErrDuplicateKey
	}

	if t.Version == 0 {
		t.Version = 1
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	copy := *t
	s.data[t.ID] = &copy
	s.byDedup[t.DedupeKey] = t.ID
	return nil
}

// GetByID retrieves a trade by its ID.
func (s *TradeStore) GetByID(_ context.Context, id string) (*models.IdentifiedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[id]
	if !exists {
		return nil, database.NewNotFoundErrorWithID("trade", id)
	}

	copy := *t
	return &copy, nil
}

// ExistsByDedupeKey checks whether the dedupe key is taken.
func (s *TradeStore) ExistsByDedupeKey(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.byDedup[key]
	return exists, nil
}

// Update writes status and alert fields when the stored version matches.
func (s *TradeStore) Update(_ context.Context, t *models.IdentifiedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.data[t.ID]
	if !exists {
		return database.NewNotFoundErrorWithID("trade", t.ID)
	}
	if stored.Version != t.Version {
		return database.ErrVersionConflict
	}

	now := time.Now()
	stored.Status = t.Status
	stored.AlertSent = t.AlertSent
	stored.AlertSentAt = t.AlertSentAt
	stored.AlertType = t.AlertType
	stored.UpdatedAt = now
	stored.Version++

	t.Version = stored.Version
	t.UpdatedAt = now
	return nil
}

// FindExpired returns IDENTIFIED trades whose expiry is strictly before now.
func (s *TradeStore) FindExpired(_ context.Context, now time.Time) ([]models.IdentifiedTrade, error) {
	return s.collect(func(t *models.IdentifiedTrade) bool {
		return t.Status == models.TradeStatusIdentified && t.ExpiresAt.Before(now)
	}, func(a, b *models.IdentifiedTrade) bool {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}), nil
}

// FindIdentifiedSince returns trades identified at or after since.
func (s *TradeStore) FindIdentifiedSince(_ context.Context, since time.Time) ([]models.IdentifiedTrade, error) {
	return s.collect(func(t *models.IdentifiedTrade) bool {
		return !t.IdentifiedAt.Before(since)
	}, func(a, b *models.IdentifiedTrade) bool {
		return a.IdentifiedAt.Before(b.IdentifiedAt)
	}), nil
}

// List returns trades matching the filter, newest first.
func (s *TradeStore) List(_ context.Context, f database.TradeFilter) ([]models.IdentifiedTrade, error) {
	result := s.collect(func(t *models.IdentifiedTrade) bool {
		if f.Symbol != "" && t.Symbol != f.Symbol {
			return false
		}
		if f.Status != "" && t.Status != f.Status {
			return false
		}
		if !f.Since.IsZero() && t.IdentifiedAt.Before(f.Since) {
			return false
		}
		if !f.Until.IsZero() && t.IdentifiedAt.After(f.Until) {
			return false
		}
		return true
	}, func(a, b *models.IdentifiedTrade) bool {
		return a.IdentifiedAt.After(b.IdentifiedAt)
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (s *TradeStore) collect(match func(*models.IdentifiedTrade) bool, less func(a, b *models.IdentifiedTrade) bool) []models.IdentifiedTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.IdentifiedTrade
	for _, t := range s.data {
		if match(t) {
			result = append(result, *t)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return less(&result[i], &result[j])
	})
	return result
}

var _ database.TradeStore = (*TradeStore)(nil)
