package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelgordeev/ocms/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) Get(customerID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	cart := domain.Cart{CustomerID: customerID}

	err := r.db.QueryRowContext(ctx, `
		SELECT version, updated_at
		FROM carts
		WHERE customer_id = $1
	`, customerID).Scan(&cart.Version, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Отсутствие записи — пустая корзина.
			return cart, nil
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, name, qty, price_minor, created_at, updated_at
		FROM cart_items
		WHERE customer_id = $1
		ORDER BY created_at ASC, id ASC
	`, customerID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.Name, &item.Qty,
			&item.PriceMinor, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart items: %w", err)
	}

	return cart, nil
}

func (r *cartRepository) AddItem(customerID string, item domain.CartItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.mutate(ctx, customerID, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now

		// Позиция того же товара сливается: qty суммируется.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (id, customer_id, product_id, name, qty, price_minor, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (customer_id, product_id) DO UPDATE
			SET qty = cart_items.qty + EXCLUDED.qty,
			    price_minor = EXCLUDED.price_minor,
			    updated_at = EXCLUDED.updated_at
		`,
			item.ID, customerID, item.ProductID, item.Name,
			item.Qty, item.PriceMinor, item.CreatedAt, item.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
		return nil
	})
}

func (r *cartRepository) UpdateQty(customerID, itemID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.mutate(ctx, customerID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE cart_items
			SET qty = $1, updated_at = NOW()
			WHERE customer_id = $2 AND id = $3
		`, qty, customerID, itemID)
		if err != nil {
			return fmt.Errorf("update cart item qty: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrCartItemNotFound
		}
		return nil
	})
}

func (r *cartRepository) RemoveItems(customerID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.mutate(ctx, customerID, func(tx *sql.Tx) error {
		placeholders := make([]string, 0, len(itemIDs))
		args := make([]interface{}, 0, len(itemIDs)+1)
		args = append(args, customerID)
		for i, id := range itemIDs {
			placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
			args = append(args, id)
		}

		// Неизвестные идентификаторы молча пропускаются.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM cart_items
			WHERE customer_id = $1 AND id IN (%s)
		`, strings.Join(placeholders, ",")), args...); err != nil {
			return fmt.Errorf("remove cart items: %w", err)
		}
		return nil
	})
}

// mutate выполняет мутацию корзины и инкремент её версии одной транзакцией.
func (r *cartRepository) mutate(ctx context.Context, customerID string, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cart tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO carts (customer_id, version, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (customer_id) DO UPDATE
		SET version = carts.version + 1, updated_at = NOW()
	`, customerID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("bump cart version: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cart mutation: %w", err)
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
