package memory

import (
	"sync"
	"time"

	"github.com/pavelgordeev/ocms/internal/domain"
)

// cartRepositoryInMemory — in-memory источник истины по корзинам.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

// NewCartRepository создаёт in-memory реализацию CartRepository.
func NewCartRepository() domain.CartRepository {
	return &cartRepositoryInMemory{carts: make(map[string]domain.Cart)}
}

// Get возвращает корзину клиента; отсутствие записи — это пустая корзина.
func (r *cartRepositoryInMemory) Get(customerID string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[customerID]
	if !ok {
		return domain.Cart{CustomerID: customerID}, nil
	}
	return cloneCart(cart), nil
}

// AddItem добавляет позицию либо увеличивает qty позиции того же товара.
func (r *cartRepositoryInMemory) AddItem(customerID string, item domain.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart := r.carts[customerID]
	cart.CustomerID = customerID

	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == item.ProductID {
			cart.Items[i].Qty += item.Qty
			cart.Items[i].UpdatedAt = time.Now().UTC()
			merged = true
			break
		}
	}
	if !merged {
		now := time.Now().UTC()
		item.CreatedAt = now
		item.UpdatedAt = now
		cart.Items = append(cart.Items, item)
	}

	cart.Version++
	cart.UpdatedAt = time.Now().UTC()
	r.carts[customerID] = cart
	return nil
}

// UpdateQty меняет количество позиции.
func (r *cartRepositoryInMemory) UpdateQty(customerID, itemID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[customerID]
	if !ok {
		return domain.ErrCartNotFound
	}

	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items[i].Qty = qty
			cart.Items[i].UpdatedAt = time.Now().UTC()
			cart.Version++
			cart.UpdatedAt = time.Now().UTC()
			r.carts[customerID] = cart
			return nil
		}
	}
	return domain.ErrCartItemNotFound
}

// RemoveItems удаляет перечисленные позиции одним вызовом.
// Неизвестные идентификаторы молча пропускаются.
func (r *cartRepositoryInMemory) RemoveItems(customerID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}

	drop := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		drop[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[customerID]
	if !ok {
		return nil
	}

	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if _, gone := drop[item.ID]; gone {
			continue
		}
		kept = append(kept, item)
	}
	cart.Items = kept
	cart.Version++
	cart.UpdatedAt = time.Now().UTC()
	r.carts[customerID] = cart
	return nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	clone := cart
	clone.Items = make([]domain.CartItem, len(cart.Items))
	copy(clone.Items, cart.Items)
	return clone
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
