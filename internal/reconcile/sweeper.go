package reconcile

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/metrics"
)

const (
	defaultSweepInterval  = 10 * time.Minute
	defaultSweepBatchSize = 500
)

// SweeperOptions задает параметры фоновой очистки протухших pending-записей.
type SweeperOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Metrics   *metrics.OrderMetrics
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*SweeperOptions)

// WithSweepLogger задает logger для воркера.
func WithSweepLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) { opts.Logger = logger }
}

// WithSweepInterval задает интервал между циклами очистки.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) { opts.Interval = interval }
}

// WithSweepBatchSize задает размер batch для одного удаления.
func WithSweepBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) { opts.BatchSize = batchSize }
}

// WithSweepMetrics подключает метрики очистки.
func WithSweepMetrics(m *metrics.OrderMetrics) SweeperOption {
	return func(opts *SweeperOptions) { opts.Metrics = m }
}

// Sweeper периодически удаляет протухшие PendingSelection: брошенные попытки
// чекаута, за которыми покупатель так и не вернулся со шлюза.
type Sweeper struct {
	store     domain.PendingSelectionStore
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	metrics   *metrics.OrderMetrics
}

// NewSweeper создаёт воркер очистки.
func NewSweeper(store domain.PendingSelectionStore, opts ...SweeperOption) *Sweeper {
	options := SweeperOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = log.WithField("component", "pending-sweeper")
	}
	if options.Interval <= 0 {
		options.Interval = defaultSweepInterval
	}
	if options.BatchSize <= 0 {
		options.BatchSize = defaultSweepBatchSize
	}
	return &Sweeper{
		store:     store,
		logger:    options.Logger,
		interval:  options.Interval,
		batchSize: options.BatchSize,
		metrics:   options.Metrics,
	}
}

// Run запускает цикл очистки до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval).Info("pending selection sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pending selection sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce выполняет один цикл очистки и возвращает число удалённых записей.
func (s *Sweeper) SweepOnce() int {
	removed, err := s.store.DeleteExpired(time.Now().UTC(), s.batchSize)
	if err != nil {
		s.logger.WithError(err).Warn("pending selection sweep failed")
		return 0
	}
	if removed > 0 {
		if s.metrics != nil {
			s.metrics.RecordPendingSweepDeleted(removed)
		}
		s.logger.WithField("removed", removed).Info("expired pending selections deleted")
	}
	return removed
}
