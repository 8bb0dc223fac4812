package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderCreated         EventType = "order.created"
	EventTypeOrderStatusChanged   EventType = "order.status_changed"
	EventTypeOrderCancelRequested EventType = "order.cancel_requested"
	EventTypeOrderCancelRejected  EventType = "order.cancel_rejected"
	EventTypeOrderCanceled        EventType = "order.canceled"

	// Checkout события
	EventTypeCheckoutFinalized EventType = "checkout.finalized"
	EventTypeCheckoutFailed    EventType = "checkout.failed"
)

// Topics для Kafka
const (
	TopicOrderEvents    = "ocms.order.events"
	TopicCheckoutEvents = "ocms.checkout.events"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType  EventType              `json:"event_type"`
	OrderID    string                 `json:"order_id"`
	CustomerID string                 `json:"customer_id"`
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// CheckoutEvent представляет исход попытки чекаута через внешний шлюз
type CheckoutEvent struct {
	EventType  EventType `json:"event_type"`
	AttemptID  string    `json:"attempt_id"`
	CustomerID string    `json:"customer_id"`
	OrderID    string    `json:"order_id,omitempty"`
	ItemIDs    []string  `json:"item_ids,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, customerID, status string) OrderEvent {
	return OrderEvent{
		EventType:  eventType,
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     status,
		Timestamp:  time.Now().UTC(),
	}
}

// NewCheckoutEvent создает новое событие чекаута
func NewCheckoutEvent(eventType EventType, attemptID, customerID, orderID string, itemIDs []string) CheckoutEvent {
	return CheckoutEvent{
		EventType:  eventType,
		AttemptID:  attemptID,
		CustomerID: customerID,
		OrderID:    orderID,
		ItemIDs:    itemIDs,
		Timestamp:  time.Now().UTC(),
	}
}
