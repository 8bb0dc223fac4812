package domain

import "context"

// OrderQueryAPI — читающая сторона API заказов, потребляемая query-бриджем.
// Реализуется сервисом orderapi; в тестах подменяется фейками.
type OrderQueryAPI interface {
	// GetOrder возвращает заказ по идентификатору или ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID string) (Order, error)
	// ListOrders возвращает страницу заказов клиента вместе со статистикой по статусам.
	ListOrders(ctx context.Context, customerID string, filter StatusFilter, page, pageSize int) (OrderPage, map[OrderStatus]int, error)
	// SearchOrders возвращает страницу заказов по свободнотекстовому запросу.
	SearchOrders(ctx context.Context, customerID, query string, filter StatusFilter, page, pageSize int) (OrderPage, error)
}
