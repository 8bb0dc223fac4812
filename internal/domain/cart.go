package domain

import "time"

// CartItem — позиция активной корзины покупателя.
// В отличие от OrderItem ссылается на живой товар каталога и живёт
// независимо от заказов, пока её не поглотит чекаут.
type CartItem struct {
	ID         string
	ProductID  string
	Name       string
	Qty        int32
	PriceMinor int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Cart — активная корзина ровно одного покупателя.
// Version растёт при каждой мутации и служит признаком того, что in-memory
// копия разошлась с источником истины и требует reload.
type Cart struct {
	CustomerID string
	Items      []CartItem
	Version    int64
	UpdatedAt  time.Time
}

// ItemIDs возвращает идентификаторы всех позиций корзины в их текущем порядке.
func (c *Cart) ItemIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// Item возвращает позицию корзины по идентификатору.
func (c *Cart) Item(id string) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ID == id {
			return item, true
		}
	}
	return CartItem{}, false
}
