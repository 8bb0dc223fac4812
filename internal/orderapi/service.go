package orderapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/lifecycle"
	"github.com/pavelgordeev/ocms/internal/messaging/kafka"
)

const (
	timelineEventCreated = "OrderCreated"
	timelineEventReorder = "OrderReordered"

	defaultCurrency = "VND"
)

// Service — серверная реализация операций над заказами. Все проверки здесь
// авторитетны: клиентская оценка политики отмены носит рекомендательный
// характер и на исход не влияет.
type Service struct {
	orders   domain.OrderRepository
	carts    domain.CartRepository
	timeline domain.TimelineRepository
	sm       *lifecycle.StateMachine
	logger   *log.Entry
	producer *kafka.Producer
	now      func() time.Time

	currency string
	// shippingMinor — плоская стоимость доставки.
	shippingMinor int64
	// freeshipThresholdMinor — порог подытога, с которого доставка
	// компенсируется (0 — фриш отключён).
	freeshipThresholdMinor int64
}

// Option настраивает Service.
type Option func(*Service)

// WithProducer подключает публикацию событий в Kafka.
func WithProducer(p *kafka.Producer) Option {
	return func(s *Service) { s.producer = p }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCurrency задаёт валюту создаваемых заказов.
func WithCurrency(currency string) Option {
	return func(s *Service) { s.currency = currency }
}

// WithShipping задаёт плоскую стоимость доставки и порог бесплатной доставки.
func WithShipping(shippingMinor, freeshipThresholdMinor int64) Option {
	return func(s *Service) {
		s.shippingMinor = shippingMinor
		s.freeshipThresholdMinor = freeshipThresholdMinor
	}
}

// New создаёт сервис заказов.
func New(orders domain.OrderRepository, carts domain.CartRepository, timeline domain.TimelineRepository, sm *lifecycle.StateMachine, logger *log.Entry, opts ...Option) *Service {
	if logger == nil {
		logger = log.WithField("component", "orderapi")
	}
	s := &Service{
		orders:   orders,
		carts:    carts,
		timeline: timeline,
		sm:       sm,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		currency: defaultCurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	return s.orders.Get(orderID)
}

// GetOrderDetails возвращает заказ вместе с его timeline.
func (s *Service) GetOrderDetails(ctx context.Context, orderID string) (domain.Order, []domain.TimelineEvent, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	if s.timeline == nil {
		return order, nil, nil
	}
	events, err := s.timeline.List(orderID)
	if err != nil {
		// Timeline — вспомогательные данные, их отсутствие не блокирует заказ.
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to load order timeline")
		return order, nil, nil
	}
	return order, events, nil
}

// ListOrders возвращает страницу заказов клиента и статистику по статусам.
func (s *Service) ListOrders(ctx context.Context, customerID string, filter domain.StatusFilter, page, pageSize int) (domain.OrderPage, map[domain.OrderStatus]int, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderPage{}, nil, err
	}
	result, err := s.orders.ListByCustomer(customerID, filter, page, pageSize)
	if err != nil {
		return domain.OrderPage{}, nil, err
	}
	stats, err := s.orders.StatsByCustomer(customerID)
	if err != nil {
		return domain.OrderPage{}, nil, err
	}
	return result, stats, nil
}

// SearchOrders возвращает страницу заказов по свободнотекстовому запросу.
func (s *Service) SearchOrders(ctx context.Context, customerID, query string, filter domain.StatusFilter, page, pageSize int) (domain.OrderPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderPage{}, err
	}
	return s.orders.SearchByCustomer(customerID, query, filter, page, pageSize)
}

// RequestCancellation маршрутизирует запрос покупателя по политике отмены:
// внутри окна — прямая отмена без причины, вне окна и для processing —
// cancel_request с обязательной причиной. Для остальных статусов —
// ErrCancellationNotAllowed.
func (s *Service) RequestCancellation(ctx context.Context, orderID, reason string) (domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	opts := domain.EvaluateCancellation(order.Status, order.CreatedAt, s.now())
	switch {
	case opts.DirectCancel:
		return s.sm.Cancel(ctx, orderID)
	case opts.RequestCancel:
		return s.sm.RequestCancellation(ctx, orderID, reason)
	default:
		return domain.Order{}, domain.ErrCancellationNotAllowed
	}
}

// AdvanceStatus — операция продавца. Одобрение запроса на отмену идёт через
// выделенный метод state machine, остальные переходы — по таблице.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, to domain.OrderStatus, trackingNumber string) (domain.Order, error) {
	if !to.Valid() {
		return domain.Order{}, domain.ErrInvalidTransition
	}
	if to == domain.OrderStatusCanceled {
		order, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if order.Status == domain.OrderStatusCancelRequest {
			return s.sm.ApproveCancellation(ctx, orderID)
		}
	}
	return s.sm.Advance(ctx, orderID, to, trackingNumber)
}

// RejectCancellation — продавец отклоняет запрос на отмену; заказ
// возвращается в статус, из которого ушёл в cancel_request.
func (s *Service) RejectCancellation(ctx context.Context, orderID string) (domain.Order, error) {
	return s.sm.RejectCancellation(ctx, orderID)
}

// Reorder возвращает позиции доставленного или отменённого заказа в корзину.
func (s *Service) Reorder(ctx context.Context, orderID string) (domain.Cart, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Cart{}, err
	}

	opts := domain.EvaluateCancellation(order.Status, order.CreatedAt, s.now())
	if !opts.Reorder {
		return domain.Cart{}, domain.ErrReorderNotAllowed
	}

	for _, item := range order.Items {
		cartItem := domain.CartItem{
			ID:         uuid.NewString(),
			ProductID:  item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		}
		if err := s.carts.AddItem(order.CustomerID, cartItem); err != nil {
			return domain.Cart{}, fmt.Errorf("reorder %s: %w", orderID, err)
		}
	}

	s.appendTimeline(orderID, timelineEventReorder, "")
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"items":    len(order.Items),
	}).Info("order items pushed back to cart")

	return s.carts.Get(order.CustomerID)
}

// CreateOrder собирает заказ из выбранных позиций корзины. Позиции
// снапшотятся: дальнейшие изменения каталога заказ не затрагивают.
// Корзину метод не трогает — консистентное изъятие позиций остаётся
// за чекаут-бриджем.
func (s *Service) CreateOrder(ctx context.Context, customerID string, itemIDs []string, shipping domain.ShippingInfo, paymentMethod string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if len(itemIDs) == 0 {
		return domain.Order{}, domain.ErrNoItemsSelected
	}

	cart, err := s.carts.Get(customerID)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	items := make([]domain.OrderItem, 0, len(itemIDs))
	var subtotal int64
	for _, id := range itemIDs {
		cartItem, ok := cart.Item(id)
		if !ok {
			return domain.Order{}, fmt.Errorf("cart item %s: %w", id, domain.ErrCartItemNotFound)
		}
		lineTotal := int64(cartItem.Qty) * cartItem.PriceMinor
		items = append(items, domain.OrderItem{
			ID:                 uuid.NewString(),
			ProductID:          cartItem.ProductID,
			Name:               cartItem.Name,
			Qty:                cartItem.Qty,
			PriceMinor:         cartItem.PriceMinor,
			OriginalPriceMinor: cartItem.PriceMinor,
			LineTotalMinor:     lineTotal,
			CreatedAt:          now,
		})
		subtotal += lineTotal
	}

	var freeship int64
	if s.freeshipThresholdMinor > 0 && subtotal >= s.freeshipThresholdMinor {
		freeship = s.shippingMinor
	}

	order := domain.Order{
		ID:            uuid.NewString(),
		CustomerID:    customerID,
		Status:        domain.OrderStatusPending,
		Currency:      s.currency,
		Items:         items,
		SubtotalMinor: subtotal,
		ShippingMinor: s.shippingMinor,
		FreeshipMinor: freeship,
		TotalMinor:    subtotal + s.shippingMinor - freeship,
		Shipping:      shipping,
		PaymentMethod: paymentMethod,
		PaymentStatus: domain.PaymentStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if err := s.orders.Create(order); err != nil {
		return domain.Order{}, err
	}

	s.appendTimeline(order.ID, timelineEventCreated, string(domain.OrderStatusPending))
	s.publishCreated(order)

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": customerID,
		"total_minor": order.TotalMinor,
	}).Info("order created")

	return order, nil
}

// CreateFromSelection создаёт заказ после успешного возврата с платёжного
// шлюза: оплата уже прошла, заказ сразу помечается оплаченным.
//
// Пока покупатель находился на шлюзе, корзина могла измениться в другой
// вкладке. Идентификаторы, которых в корзине уже нет, отбрасываются;
// если не осталось ни одного — ErrNoItemsSelected.
func (s *Service) CreateFromSelection(ctx context.Context, customerID string, itemIDs []string, paymentMethod string) (domain.Order, error) {
	cart, err := s.carts.Get(customerID)
	if err != nil {
		return domain.Order{}, err
	}
	kept := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if _, ok := cart.Item(id); ok {
			kept = append(kept, id)
		}
	}
	if dropped := len(itemIDs) - len(kept); dropped > 0 {
		s.logger.WithFields(log.Fields{
			"customer_id": customerID,
			"dropped":     dropped,
		}).Warn("selected cart items vanished while at the gateway")
	}
	if len(kept) == 0 {
		return domain.Order{}, domain.ErrNoItemsSelected
	}

	order, err := s.CreateOrder(ctx, customerID, kept, domain.ShippingInfo{}, paymentMethod)
	if err != nil {
		return domain.Order{}, err
	}

	order.PaymentStatus = domain.PaymentStatusPaid
	order.UpdatedAt = s.now()
	if err := s.orders.Save(order); err != nil {
		return domain.Order{}, err
	}
	order.Version++
	return order, nil
}

func (s *Service) appendTimeline(orderID, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: s.now(),
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
	}
}

func (s *Service) publishCreated(order domain.Order) {
	if s.producer == nil {
		return
	}
	event := kafka.NewOrderEvent(kafka.EventTypeOrderCreated, order.ID, order.CustomerID, string(order.Status))
	if err := s.producer.PublishOrderEvent(event); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to publish order event")
	}
}
