package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"callscribe/internal/domain"
)

// MemoryStore keeps call records in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	calls map[string]domain.Call
	order []string
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]domain.Call), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, userID string, title string) (domain.Call, error) {
	now := s.now().UTC()
	call := domain.Call{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Status:    domain.CallStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.ID] = call
	s.order = append(s.order, call.ID)
	return call, nil
}

func (s *MemoryStore) Get(_ context.Context, userID string, id string) (domain.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owned(userID, id)
}

func (s *MemoryStore) Update(_ context.Context, userID string, id string, update domain.CallUpdate) (domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.owned(userID, id)
	if err != nil {
		return domain.Call{}, err
	}
	if update.Empty() {
		return call, nil
	}
	update.Apply(&call)
	call.UpdatedAt = s.now().UTC()
	s.calls[id] = call
	return call, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(userID, id); err != nil {
		return err
	}
	delete(s.calls, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]domain.Call, error) {
	return s.Recent(ctx, userID, 0)
}

// Recent returns the newest calls of userID first; limit <= 0 returns all of them.
func (s *MemoryStore) Recent(_ context.Context, userID string, limit int) ([]domain.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	calls := make([]domain.Call, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		call := s.calls[s.order[i]]
		if call.UserID != userID {
			continue
		}
		calls = append(calls, call)
		if limit > 0 && len(calls) == limit {
			break
		}
	}
	return calls, nil
}

func (s *MemoryStore) owned(userID string, id string) (domain.Call, error) {
	call, ok := s.calls[id]
	if !ok {
		return domain.Call{}, domain.ErrCallNotFound
	}
	if call.UserID != userID {
		return domain.Call{}, domain.ErrForbidden
	}
	return call, nil
}
