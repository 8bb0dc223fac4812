package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/pavelgordeev/ocms/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrStaleState
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrStaleState
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// ListByCustomer возвращает страницу заказов клиента, новые первыми.
func (r *orderRepositoryInMemory) ListByCustomer(customerID string, filter domain.StatusFilter, page, pageSize int) (domain.OrderPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.collect(customerID, filter, "")
	return paginate(matched, page, pageSize), nil
}

// SearchByCustomer ищет по подстроке в id заказа и названиях позиций.
func (r *orderRepositoryInMemory) SearchByCustomer(customerID, query string, filter domain.StatusFilter, page, pageSize int) (domain.OrderPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.collect(customerID, filter, strings.ToLower(strings.TrimSpace(query)))
	return paginate(matched, page, pageSize), nil
}

// StatsByCustomer возвращает количество заказов клиента по статусам.
func (r *orderRepositoryInMemory) StatsByCustomer(customerID string) (map[domain.OrderStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[domain.OrderStatus]int)
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		stats[order.Status]++
	}
	return stats, nil
}

// collect выбирает и сортирует заказы под защитой уже взятого RLock.
func (r *orderRepositoryInMemory) collect(customerID string, filter domain.StatusFilter, loweredQuery string) []domain.Order {
	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		if !filter.Matches(order.Status) {
			continue
		}
		if loweredQuery != "" && !orderMatchesQuery(order, loweredQuery) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result
}

func orderMatchesQuery(order domain.Order, loweredQuery string) bool {
	if strings.Contains(strings.ToLower(order.ID), loweredQuery) {
		return true
	}
	for _, item := range order.Items {
		if strings.Contains(strings.ToLower(item.Name), loweredQuery) {
			return true
		}
	}
	return false
}

func paginate(orders []domain.Order, page, pageSize int) domain.OrderPage {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	total := len(orders)
	totalPages := (total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return domain.OrderPage{
		Orders:     orders[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	clone.Items = make([]domain.OrderItem, len(order.Items))
	copy(clone.Items, order.Items)
	if order.CancelRequestedAt != nil {
		ts := *order.CancelRequestedAt
		clone.CancelRequestedAt = &ts
	}
	return clone
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
