package checkout

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/domain"
)

// Bridge владеет in-memory представлением корзины и выбором позиций для
// чекаута. Все мутации корзины идут через него в CartRepository (источник
// истины); локальная копия обновляется оптимистично и сверяется через
// reload при любой ошибке синхронизации.
type Bridge struct {
	carts  domain.CartRepository
	logger *log.Entry

	mu sync.Mutex
	// held — текущий выбор позиций в рамках сессии, по клиентам.
	held map[string][]string
	// local — последние загруженные копии корзин.
	local map[string]domain.Cart
	// itemLocks сериализует перекрывающиеся мутации одной позиции.
	itemLocks map[string]*sync.Mutex
}

// NewBridge создаёт bridge поверх репозитория корзин.
func NewBridge(carts domain.CartRepository, logger *log.Entry) *Bridge {
	if logger == nil {
		logger = log.WithField("component", "checkout-bridge")
	}
	return &Bridge{
		carts:     carts,
		logger:    logger,
		held:      make(map[string][]string),
		local:     make(map[string]domain.Cart),
		itemLocks: make(map[string]*sync.Mutex),
	}
}

// ResolveSelection возвращает первый непустой набор из: carried (выбор,
// пронесённый через редирект), held (текущий выбор сессии), вся корзина.
// Если все три пусты — ErrNoItemsSelected: чекаут с нулём позиций запрещён,
// вызывающий обязан вернуть покупателя в корзину.
func ResolveSelection(carried, held []string, cart domain.Cart) ([]string, error) {
	if len(carried) > 0 {
		return carried, nil
	}
	if len(held) > 0 {
		return held, nil
	}
	if ids := cart.ItemIDs(); len(ids) > 0 {
		return ids, nil
	}
	return nil, domain.ErrNoItemsSelected
}

// Resolve определяет состав следующей попытки чекаута для клиента,
// подставляя held-выбор сессии и актуальную корзину.
func (b *Bridge) Resolve(customerID string, carried []string) ([]string, error) {
	cart, err := b.Reload(customerID)
	if err != nil {
		return nil, err
	}
	return ResolveSelection(carried, b.HeldSelection(customerID), cart)
}

// SetHeldSelection запоминает выбор позиций в рамках сессии.
func (b *Bridge) SetHeldSelection(customerID string, itemIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(itemIDs) == 0 {
		delete(b.held, customerID)
		return
	}
	ids := make([]string, len(itemIDs))
	copy(ids, itemIDs)
	b.held[customerID] = ids
}

// HeldSelection возвращает текущий выбор сессии.
func (b *Bridge) HeldSelection(customerID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	held := b.held[customerID]
	ids := make([]string, len(held))
	copy(ids, held)
	return ids
}

// Cart возвращает локальную копию корзины, загружая её при первом обращении.
func (b *Bridge) Cart(customerID string) (domain.Cart, error) {
	b.mu.Lock()
	cart, ok := b.local[customerID]
	b.mu.Unlock()
	if ok {
		return cart, nil
	}
	return b.Reload(customerID)
}

// Reload перечитывает корзину из источника истины и обновляет локальную копию.
func (b *Bridge) Reload(customerID string) (domain.Cart, error) {
	cart, err := b.carts.Get(customerID)
	if err != nil {
		return domain.Cart{}, err
	}
	b.mu.Lock()
	b.local[customerID] = cart
	b.mu.Unlock()
	return cart, nil
}

// ConsumeSelected удаляет из корзины ровно те позиции, что вошли в успешно
// созданный заказ: один вызов мутации, затем обязательный reload, чтобы
// локальная копия не разошлась с источником истины.
func (b *Bridge) ConsumeSelected(customerID string, itemIDs []string) (domain.Cart, error) {
	if len(itemIDs) == 0 {
		return domain.Cart{}, domain.ErrNoItemsSelected
	}

	if err := b.carts.RemoveItems(customerID, itemIDs); err != nil {
		b.logger.WithError(err).WithField("customer_id", customerID).Error("cart consume failed")
		// Локальная копия недостоверна; принудительный reload.
		if _, rerr := b.Reload(customerID); rerr != nil {
			b.logger.WithError(rerr).Warn("cart reload after failed consume also failed")
		}
		return domain.Cart{}, domain.ErrCartSyncFailure
	}

	// Выбор сессии исчерпан этой попыткой.
	b.SetHeldSelection(customerID, nil)

	return b.Reload(customerID)
}

// AddItem оптимистично добавляет позицию: локальная копия мутируется сразу,
// затем изменение уходит в источник истины; при ошибке — reload.
func (b *Bridge) AddItem(customerID string, item domain.CartItem) (domain.Cart, error) {
	unlock := b.lockItem(customerID, item.ProductID)
	defer unlock()

	b.mu.Lock()
	cart := b.local[customerID]
	cart.CustomerID = customerID
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	applied := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == item.ProductID {
			cart.Items[i].Qty += item.Qty
			applied = true
			break
		}
	}
	if !applied {
		cart.Items = append(cart.Items, item)
	}
	b.local[customerID] = cart
	b.mu.Unlock()

	if err := b.carts.AddItem(customerID, item); err != nil {
		return b.reconcile(customerID, err)
	}
	return b.Reload(customerID)
}

// UpdateQty оптимистично меняет количество позиции.
func (b *Bridge) UpdateQty(customerID, itemID string, qty int32) (domain.Cart, error) {
	unlock := b.lockItem(customerID, itemID)
	defer unlock()

	b.mu.Lock()
	cart := b.local[customerID]
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items[i].Qty = qty
			break
		}
	}
	b.local[customerID] = cart
	b.mu.Unlock()

	if err := b.carts.UpdateQty(customerID, itemID, qty); err != nil {
		return b.reconcile(customerID, err)
	}
	return b.Reload(customerID)
}

// RemoveItem оптимистично удаляет одну позицию (прямое действие покупателя).
func (b *Bridge) RemoveItem(customerID, itemID string) (domain.Cart, error) {
	unlock := b.lockItem(customerID, itemID)
	defer unlock()

	b.mu.Lock()
	cart := b.local[customerID]
	// Свежий слайс: компактация in-place затронула бы выданные
	// ранее снапшоты, разделяющие backing array.
	kept := make([]domain.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	cart.Items = kept
	b.local[customerID] = cart
	b.mu.Unlock()

	if err := b.carts.RemoveItems(customerID, []string{itemID}); err != nil {
		return b.reconcile(customerID, err)
	}
	return b.Reload(customerID)
}

// reconcile откатывает оптимистичную мутацию: перечитывает корзину из
// источника истины и возвращает ошибку синхронизации.
func (b *Bridge) reconcile(customerID string, cause error) (domain.Cart, error) {
	b.logger.WithError(cause).WithField("customer_id", customerID).Warn("cart mutation failed, reconciling from source of truth")
	cart, err := b.Reload(customerID)
	if err != nil {
		return domain.Cart{}, domain.ErrCartSyncFailure
	}
	return cart, domain.ErrCartSyncFailure
}

// lockItem сериализует мутации одной позиции корзины.
func (b *Bridge) lockItem(customerID, itemKey string) func() {
	key := customerID + "/" + itemKey

	b.mu.Lock()
	lock, ok := b.itemLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		b.itemLocks[key] = lock
	}
	b.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
