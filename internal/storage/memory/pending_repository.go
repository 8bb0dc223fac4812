package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/pavelgordeev/ocms/internal/domain"
)

// pendingSelectionStoreInMemory хранит записи о выборе позиций перед
// редиректом на платёжный шлюз.
type pendingSelectionStoreInMemory struct {
	mu    sync.Mutex
	items map[string]domain.PendingSelection
}

// NewPendingSelectionStore создаёт in-memory реализацию PendingSelectionStore.
func NewPendingSelectionStore() domain.PendingSelectionStore {
	return &pendingSelectionStoreInMemory{
		items: make(map[string]domain.PendingSelection),
	}
}

// Put сохраняет запись попытки чекаута.
func (s *pendingSelectionStoreInMemory) Put(sel domain.PendingSelection) error {
	if strings.TrimSpace(sel.AttemptID) == "" {
		return domain.ErrAttemptIDRequired
	}

	now := time.Now().UTC()
	if sel.CreatedAt.IsZero() {
		sel.CreatedAt = now
	}
	if sel.TTLAt.IsZero() {
		sel.TTLAt = now.Add(24 * time.Hour)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[sel.AttemptID] = clonePending(sel)
	return nil
}

// Get возвращает запись без её удаления.
func (s *pendingSelectionStoreInMemory) Get(attemptID string) (domain.PendingSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, ok := s.items[attemptID]
	if !ok {
		return domain.PendingSelection{}, domain.ErrPendingSelectionNotFound
	}
	return clonePending(sel), nil
}

// Consume атомарно читает и удаляет запись: ровно один вызывающий получает
// её, все последующие — ErrPendingSelectionNotFound.
func (s *pendingSelectionStoreInMemory) Consume(attemptID string) (domain.PendingSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, ok := s.items[attemptID]
	if !ok {
		return domain.PendingSelection{}, domain.ErrPendingSelectionNotFound
	}
	delete(s.items, attemptID)
	return clonePending(sel), nil
}

// DeleteExpired удаляет протухшие записи, не более limit за вызов.
func (s *pendingSelectionStoreInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sel := range s.items {
		if sel.TTLAt.After(before) {
			continue
		}
		delete(s.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

func clonePending(sel domain.PendingSelection) domain.PendingSelection {
	clone := sel
	clone.ItemIDs = make([]string, len(sel.ItemIDs))
	copy(clone.ItemIDs, sel.ItemIDs)
	return clone
}

var _ domain.PendingSelectionStore = (*pendingSelectionStoreInMemory)(nil)
