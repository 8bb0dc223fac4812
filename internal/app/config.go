// Package app связывает компоненты сервиса: конфигурацию, хранилища,
// HTTP-серверы и фоновые воркеры.
package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config описывает настройки запуска сервиса. Все значения
// переопределяются переменными окружения с префиксом OCMS_.
type Config struct {
	// HTTPAddr — адрес основного API.
	HTTPAddr string
	// MetricsAddr — адрес метрик и health-проверок.
	MetricsAddr string

	// PostgresDSN включает postgres-хранилище; пустое значение означает in-memory.
	PostgresDSN string
	// RedisAddr включает Redis-хранилище pending-записей.
	RedisAddr string
	// KafkaBrokers включает публикацию событий (список через запятую).
	KafkaBrokers string

	// GatewayURL — базовый адрес платёжного шлюза для redirect-ссылок.
	GatewayURL string

	Currency               string
	ShippingMinor          int64
	FreeshipThresholdMinor int64

	// PendingTTL — время жизни записи о выборе позиций перед уходом на шлюз.
	PendingTTL time.Duration
	// SweepInterval — период фоновой очистки протухших записей.
	SweepInterval time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних
// зависимостей: in-memory хранилища, без Kafka и Redis.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:               ":8080",
		MetricsAddr:            ":9090",
		GatewayURL:             "https://gateway.example.com/pay",
		Currency:               "VND",
		ShippingMinor:          30000,
		FreeshipThresholdMinor: 500000,
		PendingTTL:             24 * time.Hour,
		SweepInterval:          time.Hour,
	}
}

// LoadConfig читает конфигурацию из окружения поверх дефолтов.
// Файл .env подхватывается, если присутствует.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg := DefaultConfig()
	readString(&cfg.HTTPAddr, "OCMS_HTTP_ADDR")
	readString(&cfg.MetricsAddr, "OCMS_METRICS_ADDR")
	readString(&cfg.PostgresDSN, "OCMS_POSTGRES_DSN")
	readString(&cfg.RedisAddr, "OCMS_REDIS_ADDR")
	readString(&cfg.KafkaBrokers, "OCMS_KAFKA_BROKERS")
	readString(&cfg.GatewayURL, "OCMS_GATEWAY_URL")
	readString(&cfg.Currency, "OCMS_CURRENCY")
	readInt64(&cfg.ShippingMinor, "OCMS_SHIPPING_MINOR")
	readInt64(&cfg.FreeshipThresholdMinor, "OCMS_FREESHIP_THRESHOLD_MINOR")
	readDuration(&cfg.PendingTTL, "OCMS_PENDING_TTL")
	readDuration(&cfg.SweepInterval, "OCMS_SWEEP_INTERVAL")
	return cfg
}

func readString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func readInt64(dst *int64, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid integer in environment, using default")
		return
	}
	*dst = v
}

func readDuration(dst *time.Duration, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid duration in environment, using default")
		return
	}
	*dst = v
}
