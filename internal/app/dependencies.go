package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/messaging/kafka"
	"github.com/pavelgordeev/ocms/internal/storage/memory"
	"github.com/pavelgordeev/ocms/internal/storage/postgres"
	"github.com/pavelgordeev/ocms/internal/storage/redis"
)

// Dependencies содержит хранилища и внешние подключения приложения.
type Dependencies struct {
	Orders   domain.OrderRepository
	Carts    domain.CartRepository
	Timeline domain.TimelineRepository
	Pending  domain.PendingSelectionStore

	Store       *postgres.Store
	RedisClient *goredis.Client
	Producer    *kafka.Producer

	Logger *log.Entry
}

// NewDependencies инициализирует хранилища по конфигурации: postgres при
// наличии DSN, иначе in-memory; pending-записи уходят в Redis, если задан
// его адрес. Kafka подключается опционально и не блокирует запуск.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{Logger: logger}

	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		deps.Store = store
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Carts = postgres.NewCartRepository(store)
		deps.Timeline = postgres.NewTimelineRepository(store)
		deps.Pending = postgres.NewPendingSelectionStore(store)
		logger.Info("postgres storage initialized")
	} else {
		deps.Orders = memory.NewOrderRepository()
		deps.Carts = memory.NewCartRepository()
		deps.Timeline = memory.NewTimelineRepository()
		deps.Pending = memory.NewPendingSelectionStore()
		logger.Info("in-memory storage initialized")
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			deps.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		deps.RedisClient = client
		deps.Pending = redis.NewPendingStore(client)
		logger.WithField("addr", cfg.RedisAddr).Info("redis pending store initialized")
	}

	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		producer, err := kafka.NewProducer(brokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			deps.Producer = producer
			logger.WithField("brokers", brokers).Info("kafka producer initialized")
		}
	}

	return deps, nil
}

// Close освобождает внешние подключения в обратном порядке инициализации.
func (d *Dependencies) Close() {
	if d.Producer != nil {
		if err := d.Producer.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close kafka producer")
		}
	}
	if d.RedisClient != nil {
		if err := d.RedisClient.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
