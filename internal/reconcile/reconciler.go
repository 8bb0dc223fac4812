package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/checkout"
	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/messaging/kafka"
	"github.com/pavelgordeev/ocms/internal/metrics"
)

// Query-параметры, по которым возврат со шлюза распознаётся как таковой.
// Отсутствие всех трёх означает "это не возврат со шлюза".
const (
	ParamAttemptID = "attempt_id"
	ParamSuccess   = "success"
	ParamTxnID     = "txn_id"
	ParamOrderID   = "order_id"
)

// defaultPendingTTL ограничивает жизнь записи о выборе: брошенная попытка
// чекаута не должна жить в хранилище вечно.
const defaultPendingTTL = 24 * time.Hour

// GatewayReturn — разобранный callback платёжного шлюза.
type GatewayReturn struct {
	AttemptID string
	// Success — явный флаг результата, если шлюз его прислал.
	Success *bool
	// TxnID — идентификатор транзакции провайдера.
	TxnID string
	// OrderID — идентификатор заказа, который эхом вернул шлюз.
	OrderID string
}

// Succeeded интерпретирует исход: явный флаг главнее; без флага успехом
// считается присутствие идентификатора транзакции провайдера.
func (r GatewayReturn) Succeeded() bool {
	if r.Success != nil {
		return *r.Success
	}
	return r.TxnID != ""
}

// Outcome — результат финализации попытки чекаута. Кэшируется, чтобы
// повторная загрузка страницы возврата могла отрисовать уже известный
// исход без побочных эффектов.
type Outcome struct {
	AttemptID string
	Success   bool
	OrderID   string
	// Duplicate выставлен, если финализация этой попытки уже происходила.
	Duplicate bool
	// Known=false — исход неизвестен этому процессу (запись consumed
	// другим процессом/вкладкой до нас).
	Known bool
}

// OrderCreator создаёт заказ из выбранных позиций корзины.
// Реализуется сервисом orderapi; интерфейс разрывает циклическую зависимость.
type OrderCreator interface {
	CreateFromSelection(ctx context.Context, customerID string, itemIDs []string, paymentMethod string) (domain.Order, error)
}

// Reconciler сопоставляет уход на внешний платёжный шлюз с возвратом.
// PendingSelectionStore — единственная точка координации между загрузками
// страницы: кто успешно consumed запись, тот и выполняет побочные эффекты.
type Reconciler struct {
	pending  domain.PendingSelectionStore
	orders   OrderCreator
	bridge   *checkout.Bridge
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
	producer *kafka.Producer

	ttl time.Duration

	mu       sync.Mutex
	outcomes map[string]Outcome
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithMetrics подключает Prometheus-метрики финализаций.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithProducer подключает публикацию checkout-событий в Kafka.
func WithProducer(p *kafka.Producer) Option {
	return func(r *Reconciler) { r.producer = p }
}

// WithPendingTTL задаёт время жизни записи о выборе.
func WithPendingTTL(ttl time.Duration) Option {
	return func(r *Reconciler) { r.ttl = ttl }
}

// New создаёт Reconciler.
func New(pending domain.PendingSelectionStore, orders OrderCreator, bridge *checkout.Bridge, logger *log.Entry, opts ...Option) *Reconciler {
	if logger == nil {
		logger = log.WithField("component", "gateway-reconciler")
	}
	r := &Reconciler{
		pending:  pending,
		orders:   orders,
		bridge:   bridge,
		logger:   logger,
		ttl:      defaultPendingTTL,
		outcomes: make(map[string]Outcome),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin фиксирует состав попытки чекаута перед уходом на шлюз:
// разрешает выбор позиций и пишет durable-запись под новым attempt id.
func (r *Reconciler) Begin(ctx context.Context, customerID string, carried []string, paymentMethod string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	itemIDs, err := r.bridge.Resolve(customerID, carried)
	if err != nil {
		return "", err
	}

	attemptID := uuid.NewString()
	now := time.Now().UTC()
	sel := domain.PendingSelection{
		AttemptID:     attemptID,
		CustomerID:    customerID,
		ItemIDs:       itemIDs,
		PaymentMethod: paymentMethod,
		CreatedAt:     now,
		TTLAt:         now.Add(r.ttl),
	}
	if err := r.pending.Put(sel); err != nil {
		return "", err
	}

	if r.metrics != nil {
		r.metrics.RecordPendingCreated()
	}
	r.logger.WithFields(log.Fields{
		"attempt_id":  attemptID,
		"customer_id": customerID,
		"items":       len(itemIDs),
	}).Info("pending gateway selection persisted")

	return attemptID, nil
}

// Classify разбирает query-параметры возврата. Второй результат false
// означает "это не возврат со шлюза" — вызывающий продолжает обычное
// поведение страницы чекаута.
func Classify(params map[string]string) (GatewayReturn, bool) {
	ret := GatewayReturn{
		AttemptID: strings.TrimSpace(params[ParamAttemptID]),
		TxnID:     strings.TrimSpace(params[ParamTxnID]),
		OrderID:   strings.TrimSpace(params[ParamOrderID]),
	}

	if raw, ok := params[ParamSuccess]; ok {
		success := raw == "1" || strings.EqualFold(raw, "true")
		ret.Success = &success
	}

	if ret.Success == nil && ret.TxnID == "" && ret.OrderID == "" {
		return GatewayReturn{}, false
	}
	return ret, true
}

// Finalize разрешает исход попытки. Атомарный Consume записи — единственная
// точка принятия решения: проигравший гонку (вторая вкладка, reload) не
// выполняет побочных эффектов и получает уже известный исход.
func (r *Reconciler) Finalize(ctx context.Context, ret GatewayReturn) (Outcome, error) {
	if ret.AttemptID == "" {
		return Outcome{}, domain.ErrAttemptIDRequired
	}

	sel, err := r.pending.Consume(ret.AttemptID)
	if err != nil {
		// Запись уже consumed: DuplicateFinalize проглатывается по
		// контракту идемпотентности — никаких повторных заказов и
		// повторной очистки корзины.
		if errors.Is(err, domain.ErrPendingSelectionNotFound) {
			r.recordFinalized("duplicate")
			return r.knownOutcome(ret.AttemptID), nil
		}
		// Сбой хранилища — не вердикт по попытке: ошибка уходит наверх,
		// чтобы следующая загрузка страницы повторила финализацию.
		r.recordFinalized("error")
		return Outcome{}, fmt.Errorf("consume pending selection %s: %w", ret.AttemptID, err)
	}

	if !ret.Succeeded() {
		outcome := Outcome{AttemptID: ret.AttemptID, Success: false, Known: true}
		r.storeOutcome(outcome)
		r.recordFinalized("failure")
		r.publishCheckout(kafka.EventTypeCheckoutFailed, ret.AttemptID, sel.CustomerID, "", sel.ItemIDs)
		r.logger.WithField("attempt_id", ret.AttemptID).Info("gateway checkout failed, cart left untouched")
		return outcome, nil
	}

	order, err := r.orders.CreateFromSelection(ctx, sel.CustomerID, sel.ItemIDs, sel.PaymentMethod)
	if err != nil {
		// Выбранных позиций больше нет в корзине целиком: повтор не
		// поможет, запись не восстанавливаем — иначе каждая загрузка
		// страницы возврата крутила бы один и тот же отказ до TTL.
		if errors.Is(err, domain.ErrNoItemsSelected) {
			r.recordFinalized("error")
			r.logger.WithField("attempt_id", ret.AttemptID).Error("paid selection no longer satisfiable, giving up")
			return Outcome{}, err
		}
		// Внутренний сбой, а не ответ шлюза: возвращаем запись на место,
		// чтобы следующая загрузка страницы могла повторить финализацию.
		if perr := r.pending.Put(sel); perr != nil {
			r.logger.WithError(perr).WithField("attempt_id", ret.AttemptID).Error("failed to restore pending selection")
		}
		r.recordFinalized("error")
		return Outcome{}, err
	}

	if _, err := r.bridge.ConsumeSelected(sel.CustomerID, sel.ItemIDs); err != nil {
		// Заказ уже создан; рассинхрон корзины чинится reload'ом внутри
		// bridge, здесь только фиксируем факт.
		r.logger.WithError(err).WithField("order_id", order.ID).Warn("cart consume after order creation failed")
	}

	outcome := Outcome{AttemptID: ret.AttemptID, Success: true, OrderID: order.ID, Known: true}
	r.storeOutcome(outcome)
	r.recordFinalized("success")
	if r.metrics != nil {
		r.metrics.RecordPendingConsumed()
	}
	r.publishCheckout(kafka.EventTypeCheckoutFinalized, ret.AttemptID, sel.CustomerID, order.ID, sel.ItemIDs)

	r.logger.WithFields(log.Fields{
		"attempt_id": ret.AttemptID,
		"order_id":   order.ID,
	}).Info("gateway checkout finalized")

	return outcome, nil
}

func (r *Reconciler) storeOutcome(outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome.AttemptID] = outcome
}

// knownOutcome возвращает кэшированный исход попытки; если его нет
// (финализировал другой процесс), исход помечается как неизвестный.
func (r *Reconciler) knownOutcome(attemptID string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if outcome, ok := r.outcomes[attemptID]; ok {
		outcome.Duplicate = true
		return outcome
	}
	return Outcome{AttemptID: attemptID, Duplicate: true, Known: false}
}

func (r *Reconciler) recordFinalized(result string) {
	if r.metrics != nil {
		r.metrics.RecordCheckoutFinalized(result)
	}
}

func (r *Reconciler) publishCheckout(eventType kafka.EventType, attemptID, customerID, orderID string, itemIDs []string) {
	if r.producer == nil {
		return
	}
	event := kafka.NewCheckoutEvent(eventType, attemptID, customerID, orderID, itemIDs)
	if err := r.producer.PublishCheckoutEvent(event); err != nil {
		r.logger.WithError(err).WithField("attempt_id", attemptID).Warn("failed to publish checkout event")
	}
}
