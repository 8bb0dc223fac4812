package lifecycle

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/messaging/kafka"
	"github.com/pavelgordeev/ocms/internal/metrics"
)

// transitionTable перечисляет допустимые рёбра статусов и роль,
// которой разрешён переход. Статусы вне таблицы терминальны.
var transitionTable = map[domain.OrderStatus]map[domain.OrderStatus]domain.ActorRole{
	domain.OrderStatusPending: {
		domain.OrderStatusConfirmed:     domain.ActorSeller,
		domain.OrderStatusCanceled:      domain.ActorBuyer,
		domain.OrderStatusCancelRequest: domain.ActorBuyer,
	},
	domain.OrderStatusConfirmed: {
		domain.OrderStatusProcessing:    domain.ActorSeller,
		domain.OrderStatusCanceled:      domain.ActorBuyer,
		domain.OrderStatusCancelRequest: domain.ActorBuyer,
	},
	domain.OrderStatusProcessing: {
		domain.OrderStatusShipped:       domain.ActorSeller,
		domain.OrderStatusCancelRequest: domain.ActorBuyer,
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusDelivered: domain.ActorSeller,
	},
	domain.OrderStatusCancelRequest: {
		domain.OrderStatusCanceled: domain.ActorSeller,
	},
}

const (
	timelineEventStatusChanged   = "OrderStatusChanged"
	timelineEventCanceled        = "OrderCanceled"
	timelineEventCancelRequested = "OrderCancelRequested"
	timelineEventCancelRejected  = "OrderCancelRejected"
)

// StateMachine — единственный компонент, которому разрешено менять статус
// заказа. Каждый переход — одна атомарная запись: конкурирующие попытки
// сериализуются через optimistic locking репозитория, проигравшая получает
// ErrStaleState.
type StateMachine struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
	producer *kafka.Producer // опциональный Kafka producer
	now      func() time.Time
}

// Option настраивает StateMachine.
type Option func(*StateMachine)

// WithMetrics подключает Prometheus-метрики переходов.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(sm *StateMachine) { sm.metrics = m }
}

// WithProducer подключает публикацию событий жизненного цикла в Kafka.
func WithProducer(p *kafka.Producer) Option {
	return func(sm *StateMachine) { sm.producer = p }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(sm *StateMachine) { sm.now = now }
}

// New создаёт state machine поверх репозиториев заказов и timeline.
func New(orders domain.OrderRepository, timeline domain.TimelineRepository, logger *log.Entry, opts ...Option) *StateMachine {
	if logger == nil {
		logger = log.WithField("component", "lifecycle")
	}
	sm := &StateMachine{
		orders:   orders,
		timeline: timeline,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Transition валидирует и применяет переход (orderID, to, actor).
// Возвращает сохранённый заказ либо ErrInvalidTransition / ErrForbidden /
// ErrStaleState / ErrOrderNotFound.
func (sm *StateMachine) Transition(ctx context.Context, orderID string, to domain.OrderStatus, actor domain.ActorRole) (domain.Order, error) {
	return sm.apply(ctx, orderID, to, actor, nil)
}

// Advance — продавец двигает заказ по happy path. Для перехода в shipped
// можно передать трек-номер.
func (sm *StateMachine) Advance(ctx context.Context, orderID string, to domain.OrderStatus, trackingNumber string) (domain.Order, error) {
	return sm.apply(ctx, orderID, to, domain.ActorSeller, func(o *domain.Order) {
		if to == domain.OrderStatusShipped && trackingNumber != "" {
			o.TrackingNumber = trackingNumber
		}
	})
}

// Cancel — прямая отмена покупателем. Разрешена только внутри окна политики
// (pending/confirmed, возраст ≤ 30 минут); причина не требуется.
func (sm *StateMachine) Cancel(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := sm.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	// Авторитетная серверная проверка политики; клиентская носит
	// рекомендательный характер и здесь не учитывается.
	opts := domain.EvaluateCancellation(order.Status, order.CreatedAt, sm.now())
	if !opts.DirectCancel {
		sm.recordFailed("cancellation_not_allowed")
		return domain.Order{}, domain.ErrCancellationNotAllowed
	}

	saved, err := sm.apply(ctx, orderID, domain.OrderStatusCanceled, domain.ActorBuyer, nil)
	if err != nil {
		return domain.Order{}, err
	}
	if sm.metrics != nil {
		sm.metrics.RecordDirectCancel()
	}
	return saved, nil
}

// RequestCancellation — запрос отмены вне окна прямой отмены либо для
// processing. Требует непустую причину; ставит cancel_requested_at и
// запоминает статус, из которого заказ ушёл в cancel_request.
func (sm *StateMachine) RequestCancellation(ctx context.Context, orderID, reason string) (domain.Order, error) {
	if err := domain.ValidateCancelReason(reason); err != nil {
		return domain.Order{}, err
	}

	order, err := sm.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	opts := domain.EvaluateCancellation(order.Status, order.CreatedAt, sm.now())
	if !opts.RequestCancel {
		sm.recordFailed("cancellation_not_allowed")
		return domain.Order{}, domain.ErrCancellationNotAllowed
	}

	prior := order.Status
	saved, err := sm.apply(ctx, orderID, domain.OrderStatusCancelRequest, domain.ActorBuyer, func(o *domain.Order) {
		now := sm.now()
		o.PriorStatus = prior
		o.CancelReason = reason
		o.CancelRequestedAt = &now
	})
	if err != nil {
		return domain.Order{}, err
	}
	if sm.metrics != nil {
		sm.metrics.RecordCancelRequest()
	}
	return saved, nil
}

// ApproveCancellation — продавец одобряет запрос на отмену.
func (sm *StateMachine) ApproveCancellation(ctx context.Context, orderID string) (domain.Order, error) {
	return sm.apply(ctx, orderID, domain.OrderStatusCanceled, domain.ActorSeller, func(o *domain.Order) {
		o.PriorStatus = ""
	})
}

// RejectCancellation — продавец отклоняет запрос на отмену. Наблюдаемое
// поведение исходной системы не определяет этот переход; здесь заказ
// возвращается в статус, зафиксированный при входе в cancel_request.
func (sm *StateMachine) RejectCancellation(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := sm.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusCancelRequest {
		sm.recordFailed("invalid_transition")
		return domain.Order{}, domain.ErrInvalidTransition
	}

	prior := order.PriorStatus
	if !prior.Valid() {
		// PriorStatus обязан быть заполнен, пока заказ в cancel_request.
		sm.logger.WithField("order_id", orderID).Error("cancel_request without prior status")
		return domain.Order{}, domain.ErrInvalidTransition
	}

	order.Status = prior
	order.PriorStatus = ""
	order.CancelReason = ""
	order.CancelRequestedAt = nil
	order.UpdatedAt = sm.now()

	if err := sm.orders.Save(order); err != nil {
		return domain.Order{}, err
	}
	order.Version++

	sm.appendTimeline(order.ID, timelineEventCancelRejected, string(prior))
	sm.publish(kafka.EventTypeOrderCancelRejected, order)
	if sm.metrics != nil {
		sm.metrics.RecordTransition(string(prior))
	}

	sm.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"restored": prior,
	}).Info("cancellation request rejected")

	return order, nil
}

// apply загружает заказ, валидирует ребро и права, применяет mutate и
// сохраняет результат одной записью.
func (sm *StateMachine) apply(ctx context.Context, orderID string, to domain.OrderStatus, actor domain.ActorRole, mutate func(*domain.Order)) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	start := sm.now()

	order, err := sm.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	edges, ok := transitionTable[order.Status]
	if !ok {
		sm.recordFailed("terminal_status")
		return domain.Order{}, domain.ErrInvalidTransition
	}
	allowed, ok := edges[to]
	if !ok {
		sm.recordFailed("invalid_transition")
		return domain.Order{}, domain.ErrInvalidTransition
	}
	if allowed != actor {
		sm.recordFailed("forbidden")
		return domain.Order{}, domain.ErrForbidden
	}

	from := order.Status
	order.Status = to
	order.UpdatedAt = sm.now()
	if mutate != nil {
		mutate(&order)
	}

	if err := sm.orders.Save(order); err != nil {
		if domain.IsStaleState(err) {
			sm.recordFailed("stale_state")
		}
		return domain.Order{}, err
	}
	// Репозиторий инкрементирует версию при сохранении; отражаем это
	// в возвращаемом снапшоте.
	order.Version++

	timelineType := timelineEventStatusChanged
	eventType := kafka.EventTypeOrderStatusChanged
	switch to {
	case domain.OrderStatusCanceled:
		timelineType = timelineEventCanceled
		eventType = kafka.EventTypeOrderCanceled
	case domain.OrderStatusCancelRequest:
		timelineType = timelineEventCancelRequested
		eventType = kafka.EventTypeOrderCancelRequested
	}

	sm.appendTimeline(order.ID, timelineType, string(from)+"->"+string(to))
	sm.publish(eventType, order)

	if sm.metrics != nil {
		sm.metrics.RecordTransition(string(to))
		sm.metrics.RecordTransitionDuration(sm.now().Sub(start))
	}

	sm.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     from,
		"to":       to,
		"actor":    actor,
	}).Info("order status transition applied")

	return order, nil
}

func (sm *StateMachine) appendTimeline(orderID, eventType, reason string) {
	if sm.timeline == nil {
		return
	}
	if err := sm.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: sm.now(),
	}); err != nil {
		sm.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
	}
}

func (sm *StateMachine) publish(eventType kafka.EventType, order domain.Order) {
	if sm.producer == nil {
		return
	}
	event := kafka.NewOrderEvent(eventType, order.ID, order.CustomerID, string(order.Status))
	if err := sm.producer.PublishOrderEvent(event); err != nil {
		sm.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to publish order event")
	}
}

func (sm *StateMachine) recordFailed(reason string) {
	if sm.metrics != nil {
		sm.metrics.RecordTransitionFailed(reason)
	}
}
