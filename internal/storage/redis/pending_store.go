package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pavelgordeev/ocms/internal/domain"
)

const (
	// keyPrefix повторяет ключ клиентского durable-хранилища.
	keyPrefix = "pendingCheckoutSelection:"

	opTimeout  = 3 * time.Second
	defaultTTL = 24 * time.Hour
)

// PendingStore — Redis-реализация PendingSelectionStore. Протухание записей
// делегировано Redis TTL; атомарность Consume обеспечивает GETDEL.
type PendingStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPendingStore создаёт хранилище поверх готового клиента Redis.
func NewPendingStore(client *redis.Client) *PendingStore {
	return &PendingStore{client: client, ttl: defaultTTL}
}

func (s *PendingStore) Put(sel domain.PendingSelection) error {
	if sel.AttemptID == "" {
		return domain.ErrAttemptIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if sel.CreatedAt.IsZero() {
		sel.CreatedAt = now
	}
	if sel.TTLAt.IsZero() {
		sel.TTLAt = sel.CreatedAt.Add(s.ttl)
	}

	payload, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("marshal pending selection: %w", err)
	}

	ttl := time.Until(sel.TTLAt)
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := s.client.Set(ctx, keyPrefix+sel.AttemptID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set pending selection: %w", err)
	}
	return nil
}

func (s *PendingStore) Get(attemptID string) (domain.PendingSelection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, keyPrefix+attemptID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingSelection{}, domain.ErrPendingSelectionNotFound
	}
	if err != nil {
		return domain.PendingSelection{}, fmt.Errorf("redis get pending selection: %w", err)
	}

	return unmarshalPending(data)
}

// Consume атомарно читает и удаляет запись через GETDEL: ровно один
// вызывающий получает её, остальные — ErrPendingSelectionNotFound.
func (s *PendingStore) Consume(attemptID string) (domain.PendingSelection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := s.client.GetDel(ctx, keyPrefix+attemptID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingSelection{}, domain.ErrPendingSelectionNotFound
	}
	if err != nil {
		return domain.PendingSelection{}, fmt.Errorf("redis consume pending selection: %w", err)
	}

	return unmarshalPending(data)
}

// DeleteExpired — no-op: Redis удаляет записи сам по TTL, выставленному в Put.
func (s *PendingStore) DeleteExpired(time.Time, int) (int, error) {
	return 0, nil
}

func unmarshalPending(data []byte) (domain.PendingSelection, error) {
	var sel domain.PendingSelection
	if err := json.Unmarshal(data, &sel); err != nil {
		return domain.PendingSelection{}, fmt.Errorf("unmarshal pending selection: %w", err)
	}
	return sel, nil
}

var _ domain.PendingSelectionStore = (*PendingStore)(nil)
