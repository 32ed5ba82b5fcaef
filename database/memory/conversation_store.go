package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
)

// ConversationStore is an in-memory implementation of database.ConversationStore.
type ConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*models.AIConversation
	turns map[string][]models.ConversationTurn // keyed by conversation id
	seq   int64
}

// NewConversationStore creates a new in-memory conversation store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		convs: make(map[string]*models.AIConversation),
		turns: make(map[string][]models.ConversationTurn),
	}
}

// Create adds a conversation. Returns ErrDuplicateKey if the id exists.
func (s *ConversationStore) Create(_ context.Context, c *models.AIConversation) error {
	if c == nil || c.ID == "" {
		return database.NewValidationErrorWithValue("conversation", "id is required", c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.convs[c.ID]; exists {
		return database.ErrDuplicateKey
	}

	copy := *c
	copy.Turns = nil
	s.convs[c.ID] = &copy
	for _, turn := range c.Turns {
		s.seq++
		turn.ID = s.seq
		turn.ConversationID = c.ID
		s.turns[c.ID] = append(s.turns[c.ID], turn)
	}
	return nil
}

// GetByID retrieves a conversation with its turns.
func (s *ConversationStore) GetByID(_ context.Context, id string) (*models.AIConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.convs[id]
	if !exists {
		return nil, database.NewNotFoundErrorWithID("conversation", id)
	}

	copy := *c
	copy.Turns = append([]models.ConversationTurn(nil), s.turns[id]...)
	return &copy, nil
}

// FindActiveByTrade returns the oldest ACTIVE conversation for a trade, or nil.
func (s *ConversationStore) FindActiveByTrade(_ context.Context, tradeID string) (*models.AIConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.AIConversation
	for _, c := range s.convs {
		if c.TradeID != tradeID || c.Status != models.ConversationStatusActive {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, nil
	}

	copy := *found
	return &copy, nil
}

// AppendTurn stores a turn with the next sequence number.
func (s *ConversationStore) AppendTurn(_ context.Context, turn *models.ConversationTurn, activityAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.convs[turn.ConversationID]
	if !exists {
		return database.NewNotFoundErrorWithID("conversation", turn.ConversationID)
	}

	s.seq++
	turn.ID = s.seq
	turn.Sequence = len(s.turns[turn.ConversationID]) + 1
	s.turns[turn.ConversationID] = append(s.turns[turn.ConversationID], *turn)
	c.LastActivityAt = activityAt
	return nil
}

// LatestTurn returns the last turn of a conversation, or nil.
func (s *ConversationStore) LatestTurn(_ context.Context, conversationID string) (*models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[conversationID]
	if len(turns) == 0 {
		return nil, nil
	}

	latest := turns[len(turns)-1]
	return &latest, nil
}

// UpdateStatus changes a conversation's status.
func (s *ConversationStore) UpdateStatus(_ context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.convs[id]
	if !exists {
		return database.NewNotFoundErrorWithID("conversation", id)
	}
	c.Status = status
	c.LastActivityAt = at
	return nil
}

// FindExpiredActive returns ACTIVE conversations whose expiry has passed.
func (s *ConversationStore) FindExpiredActive(_ context.Context, now time.Time) ([]models.AIConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.AIConversation
	for _, c := range s.convs {
		if c.Status == models.ConversationStatusActive && c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			result = append(result, *c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

var _ database.ConversationStore = (*ConversationStore)(nil)
