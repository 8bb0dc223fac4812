package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pavelgordeev/ocms/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	orderColumns = `
		id, customer_id, status, prior_status, currency,
		subtotal_minor, shipping_minor, discount_minor, freeship_minor, total_minor,
		ship_name, ship_phone, ship_address,
		payment_method, payment_status, tracking_number,
		cancel_reason, cancel_requested_at,
		version, created_at, updated_at`
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		order.ID, order.CustomerID, string(order.Status), string(order.PriorStatus), order.Currency,
		order.SubtotalMinor, order.ShippingMinor, order.DiscountMinor, order.FreeshipMinor, order.TotalMinor,
		order.Shipping.Name, order.Shipping.Phone, order.Shipping.Address,
		order.PaymentMethod, string(order.PaymentStatus), order.TrackingNumber,
		order.CancelReason, order.CancelRequestedAt,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrStaleState
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, name, qty,
				price_minor, original_price_minor, line_total_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			item.ID, order.ID, item.ProductID, item.Name, item.Qty,
			item.PriceMinor, item.OriginalPriceMinor, item.LineTotalMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    prior_status = $2,
		    payment_method = $3,
		    payment_status = $4,
		    tracking_number = $5,
		    cancel_reason = $6,
		    cancel_requested_at = $7,
		    version = version + 1,
		    updated_at = $8
		WHERE id = $9
		  AND version = $10
	`,
		string(order.Status), string(order.PriorStatus),
		order.PaymentMethod, string(order.PaymentStatus), order.TrackingNumber,
		order.CancelReason, order.CancelRequestedAt,
		order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrStaleState
	}

	return nil
}

func (r *orderRepository) ListByCustomer(customerID string, filter domain.StatusFilter, page, pageSize int) (domain.OrderPage, error) {
	where := `customer_id = $1`
	args := []interface{}{customerID}
	if filter != "" && filter != domain.StatusFilterAll {
		where += ` AND status = $2`
		args = append(args, string(filter))
	}
	return r.queryPage(where, args, page, pageSize)
}

func (r *orderRepository) SearchByCustomer(customerID, query string, filter domain.StatusFilter, page, pageSize int) (domain.OrderPage, error) {
	where := `customer_id = $1`
	args := []interface{}{customerID}
	if filter != "" && filter != domain.StatusFilterAll {
		where += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, string(filter))
	}
	where += fmt.Sprintf(` AND (id ILIKE $%d OR EXISTS (
		SELECT 1 FROM order_items oi
		WHERE oi.order_id = orders.id AND oi.name ILIKE $%d
	))`, len(args)+1, len(args)+1)
	args = append(args, "%"+query+"%")
	return r.queryPage(where, args, page, pageSize)
}

func (r *orderRepository) StatsByCustomer(customerID string) (map[domain.OrderStatus]int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM orders
		WHERE customer_id = $1
		GROUP BY status
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query order stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.OrderStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan order stats: %w", err)
		}
		stats[domain.OrderStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order stats: %w", err)
	}

	return stats, nil
}

func (r *orderRepository) queryPage(where string, args []interface{}, page, pageSize int) (domain.OrderPage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE `+where, args...,
	).Scan(&total); err != nil {
		return domain.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	pageArgs := append(append([]interface{}{}, args...), pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM orders
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, orderColumns, where, limitPos, offsetPos), pageArgs...)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, fmt.Errorf("scan order row: %w", err)
		}
		items, err := r.loadItems(ctx, order.ID)
		if err != nil {
			return domain.OrderPage{}, err
		}
		order.Items = items
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, fmt.Errorf("iterate order rows: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	return domain.OrderPage{
		Orders:     orders,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, name, qty, price_minor, original_price_minor, line_total_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.Name, &item.Qty,
			&item.PriceMinor, &item.OriginalPriceMinor, &item.LineTotalMinor, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order             domain.Order
		status            string
		priorStatus       string
		paymentStatus     string
		cancelRequestedAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.CustomerID, &status, &priorStatus, &order.Currency,
		&order.SubtotalMinor, &order.ShippingMinor, &order.DiscountMinor, &order.FreeshipMinor, &order.TotalMinor,
		&order.Shipping.Name, &order.Shipping.Phone, &order.Shipping.Address,
		&order.PaymentMethod, &paymentStatus, &order.TrackingNumber,
		&order.CancelReason, &cancelRequestedAt,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PriorStatus = domain.OrderStatus(priorStatus)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if cancelRequestedAt.Valid {
		t := cancelRequestedAt.Time
		order.CancelRequestedAt = &t
	}
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
