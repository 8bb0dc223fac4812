package domain

import "time"

// OrderStatus описывает жизненный цикл заказа на маркетплейсе.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, продавец ещё не подтвердил его.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — продавец подтвердил заказ.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing — заказ собирается/упаковывается.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен покупателю (терминальный).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled — заказ отменён (терминальный).
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusCancelRequest — покупатель запросил отмену, решение за продавцом.
	OrderStatusCancelRequest OrderStatus = "cancel_request"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCanceled,
		OrderStatusCancelRequest:
		return true
	default:
		return false
	}
}

// Terminal сообщает, является ли статус конечным: такой заказ больше
// не мутирует, кроме audit-полей.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// ActorRole определяет, от чьего имени выполняется переход статуса.
type ActorRole string

const (
	ActorBuyer  ActorRole = "buyer"
	ActorSeller ActorRole = "seller"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// OrderItem — позиция заказа, снапшот товара на момент покупки.
// Позиции никогда не пересинхронизируются с каталогом: изменение цены или
// названия товара не затрагивает исторические заказы.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// ProductID — идентификатор товара в каталоге на момент покупки.
	ProductID string
	// Name — название товара на момент покупки.
	Name string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// OriginalPriceMinor — цена до скидки; равна PriceMinor, если скидки не было.
	OriginalPriceMinor int64
	// LineTotalMinor — сумма по позиции: Qty * PriceMinor.
	LineTotalMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// ShippingInfo — адрес и контакты доставки, снапшот на момент оформления.
type ShippingInfo struct {
	Name    string
	Phone   string
	Address string
}

// Order агрегирует состояние заказа и его позиции.
// Статус меняется только через lifecycle.StateMachine; прямые записи
// в Status из других компонентов запрещены.
type Order struct {
	ID         string
	CustomerID string
	Status     OrderStatus
	// PriorStatus хранит статус, из которого заказ ушёл в cancel_request.
	// Заполнен только пока Status == cancel_request.
	PriorStatus   OrderStatus
	Currency      string
	Items         []OrderItem
	SubtotalMinor int64
	ShippingMinor int64
	DiscountMinor int64
	FreeshipMinor int64
	TotalMinor    int64
	Shipping      ShippingInfo
	PaymentMethod string
	PaymentStatus PaymentStatus
	// TrackingNumber появляется после перехода в shipped.
	TrackingNumber string
	// CancelReason обязателен для cancel_request и пуст для прямой отмены.
	CancelReason      string
	CancelRequestedAt *time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем subtotal с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.LineTotalMinor != int64(item.Qty)*item.PriceMinor {
			errs = append(errs, ErrLineTotalMismatch)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.SubtotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.SubtotalMinor+o.ShippingMinor-o.DiscountMinor-o.FreeshipMinor != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Age возвращает возраст заказа относительно now.
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}
