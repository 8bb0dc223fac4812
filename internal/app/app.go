package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/checkout"
	"github.com/pavelgordeev/ocms/internal/health"
	"github.com/pavelgordeev/ocms/internal/lifecycle"
	"github.com/pavelgordeev/ocms/internal/metrics"
	"github.com/pavelgordeev/ocms/internal/orderapi"
	"github.com/pavelgordeev/ocms/internal/reconcile"
	transport "github.com/pavelgordeev/ocms/internal/transport/http"
	"github.com/pavelgordeev/ocms/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run собирает сервис по конфигурации и работает до отмены контекста.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	orderMetrics := metrics.NewOrderMetrics()

	sm := lifecycle.New(deps.Orders, deps.Timeline, nil,
		lifecycle.WithMetrics(orderMetrics),
		lifecycle.WithProducer(deps.Producer),
	)

	svcOpts := []orderapi.Option{
		orderapi.WithCurrency(cfg.Currency),
		orderapi.WithShipping(cfg.ShippingMinor, cfg.FreeshipThresholdMinor),
	}
	if deps.Producer != nil {
		svcOpts = append(svcOpts, orderapi.WithProducer(deps.Producer))
	}
	svc := orderapi.New(deps.Orders, deps.Carts, deps.Timeline, sm, nil, svcOpts...)

	bridge := checkout.NewBridge(deps.Carts, nil)

	recOpts := []reconcile.Option{
		reconcile.WithMetrics(orderMetrics),
		reconcile.WithPendingTTL(cfg.PendingTTL),
	}
	if deps.Producer != nil {
		recOpts = append(recOpts, reconcile.WithProducer(deps.Producer))
	}
	reconciler := reconcile.New(deps.Pending, svc, bridge, nil, recOpts...)

	sweeper := reconcile.NewSweeper(deps.Pending,
		reconcile.WithSweepInterval(cfg.SweepInterval),
	)
	go sweeper.Run(ctx)

	healthHandler := health.NewHandler(version.GetVersion())
	if deps.Store != nil {
		healthHandler.RegisterChecker("postgres", health.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.Store.Ping(pingCtx)
		}))
	}
	if deps.RedisClient != nil {
		healthHandler.RegisterChecker("redis", health.NewSimpleChecker("redis", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.RedisClient.Ping(pingCtx).Err()
		}))
	}

	httpServer := transport.NewServer(svc, reconciler, nil,
		transport.WithHealth(healthHandler),
		transport.WithGatewayURL(cfg.GatewayURL),
	)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpServer.Router()}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP-сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
