package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelgordeev/ocms/internal/domain"
)

type pendingRepository struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPendingSelectionStore создаёт PostgreSQL-реализацию PendingSelectionStore.
func NewPendingSelectionStore(store *Store) domain.PendingSelectionStore {
	return &pendingRepository{db: store.DB(), ttl: 24 * time.Hour}
}

func (r *pendingRepository) Put(sel domain.PendingSelection) error {
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
		sel.TTLAt = sel.CreatedAt.Add(r.ttl)
	}

	itemIDs, err := json.Marshal(sel.ItemIDs)
	if err != nil {
		return fmt.Errorf("marshal pending item ids: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_selections (attempt_id, customer_id, item_ids, payment_method, created_at, ttl_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (attempt_id) DO UPDATE
		SET customer_id = EXCLUDED.customer_id,
		    item_ids = EXCLUDED.item_ids,
		    payment_method = EXCLUDED.payment_method,
		    created_at = EXCLUDED.created_at,
		    ttl_at = EXCLUDED.ttl_at
	`, sel.AttemptID, sel.CustomerID, itemIDs, sel.PaymentMethod, sel.CreatedAt, sel.TTLAt); err != nil {
		return fmt.Errorf("insert pending selection: %w", err)
	}

	return nil
}

func (r *pendingRepository) Get(attemptID string) (domain.PendingSelection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT attempt_id, customer_id, item_ids, payment_method, created_at, ttl_at
		FROM pending_selections
		WHERE attempt_id = $1
	`, attemptID)

	return scanPending(row)
}

// Consume атомарно читает и удаляет запись: DELETE ... RETURNING гарантирует,
// что запись достанется ровно одному вызывающему.
func (r *pendingRepository) Consume(attemptID string) (domain.PendingSelection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		DELETE FROM pending_selections
		WHERE attempt_id = $1
		RETURNING attempt_id, customer_id, item_ids, payment_method, created_at, ttl_at
	`, attemptID)

	return scanPending(row)
}

func (r *pendingRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 500
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_selections
		WHERE attempt_id IN (
			SELECT attempt_id FROM pending_selections
			WHERE ttl_at < $1
			ORDER BY ttl_at ASC
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending selections: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func scanPending(row *sql.Row) (domain.PendingSelection, error) {
	var (
		sel     domain.PendingSelection
		itemIDs []byte
	)
	if err := row.Scan(&sel.AttemptID, &sel.CustomerID, &itemIDs, &sel.PaymentMethod, &sel.CreatedAt, &sel.TTLAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PendingSelection{}, domain.ErrPendingSelectionNotFound
		}
		return domain.PendingSelection{}, fmt.Errorf("scan pending selection: %w", err)
	}
	if err := json.Unmarshal(itemIDs, &sel.ItemIDs); err != nil {
		return domain.PendingSelection{}, fmt.Errorf("unmarshal pending item ids: %w", err)
	}
	return sel, nil
}

var _ domain.PendingSelectionStore = (*pendingRepository)(nil)
