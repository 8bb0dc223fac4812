package domain

import "time"

// StatusFilter задаёт фильтр листинга заказов: конкретный статус или все.
type StatusFilter string

// StatusFilterAll отключает фильтрацию по статусу.
const StatusFilterAll StatusFilter = "all"

// Matches сообщает, проходит ли статус через фильтр.
func (f StatusFilter) Matches(status OrderStatus) bool {
	if f == "" || f == StatusFilterAll {
		return true
	}
	return OrderStatus(f) == status
}

// OrderPage — страница выдачи заказов с метаданными пагинации.
type OrderPage struct {
	Orders     []Order
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking;
	// конфликт версий возвращается как ErrStaleState.
	Save(order Order) error
	// ListByCustomer возвращает страницу заказов клиента, новые первыми.
	ListByCustomer(customerID string, filter StatusFilter, page, pageSize int) (OrderPage, error)
	// SearchByCustomer ищет заказы клиента по подстроке в id и названиях позиций.
	SearchByCustomer(customerID, query string, filter StatusFilter, page, pageSize int) (OrderPage, error)
	// StatsByCustomer возвращает количество заказов клиента по статусам.
	StatsByCustomer(customerID string) (map[OrderStatus]int, error)
}

// CartRepository — источник истины по корзине покупателя.
// Все мутации идут сюда; in-memory копии сверяются через Get (reload).
type CartRepository interface {
	// Get возвращает корзину клиента; отсутствие корзины — это пустая корзина.
	Get(customerID string) (Cart, error)
	// AddItem добавляет позицию либо увеличивает qty существующей позиции того же товара.
	AddItem(customerID string, item CartItem) error
	// UpdateQty меняет количество позиции; ErrCartItemNotFound, если позиции нет.
	UpdateQty(customerID, itemID string, qty int32) error
	// RemoveItems удаляет перечисленные позиции за один вызов.
	// Неизвестные идентификаторы молча пропускаются.
	RemoveItems(customerID string, itemIDs []string) error
}

// PendingSelectionStore — durable key-value хранилище записей о выборе позиций
// перед уходом на платёжный шлюз. Единственная точка координации между
// загрузками страницы, поэтому Consume обязан быть атомарным.
type PendingSelectionStore interface {
	// Put сохраняет запись попытки чекаута.
	Put(sel PendingSelection) error
	// Get возвращает запись без её удаления (для диагностики).
	Get(attemptID string) (PendingSelection, error)
	// Consume атомарно читает и удаляет запись. Ровно один вызывающий
	// получает запись; остальные — ErrPendingSelectionNotFound.
	Consume(attemptID string) (PendingSelection, error)
	// DeleteExpired удаляет протухшие записи, не более limit за вызов.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}
