// Package http собирает HTTP-слой сервиса: маршрутизацию, DTO и
// маппинг доменных ошибок на коды ответов.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/health"
	"github.com/pavelgordeev/ocms/internal/orderapi"
	"github.com/pavelgordeev/ocms/internal/reconcile"
)

// headerCustomerID передаёт идентификатор покупателя. Аутентификация
// вынесена за пределы сервиса: заголовок проставляет API-gateway.
const headerCustomerID = "X-Customer-ID"

// Server агрегирует зависимости HTTP-обработчиков.
type Server struct {
	orders     *orderapi.Service
	reconciler *reconcile.Reconciler
	health     *health.Handler
	logger     *log.Entry
	gatewayURL string
}

// Option настраивает Server.
type Option func(*Server)

// WithHealth подключает health-эндпоинты к роутеру.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithGatewayURL задаёт базовый адрес платёжного шлюза для redirect-ссылок.
func WithGatewayURL(url string) Option {
	return func(s *Server) { s.gatewayURL = url }
}

// NewServer создаёт HTTP-слой поверх сервиса заказов и реконсилера.
func NewServer(orders *orderapi.Service, reconciler *reconcile.Reconciler, logger *log.Entry, opts ...Option) *Server {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	s := &Server{
		orders:     orders,
		reconciler: reconciler,
		logger:     logger,
		gatewayURL: "https://gateway.example.com/pay",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router собирает gin-роутер со всеми маршрутами сервиса.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, headerCustomerID)
	router.Use(cors.New(corsCfg))

	api := router.Group("/api/v1")
	{
		api.GET("/orders", s.listOrders)
		api.GET("/orders/search", s.searchOrders)
		api.GET("/orders/:id", s.getOrder)
		api.POST("/orders", s.createOrder)
		api.POST("/orders/:id/cancel", s.requestCancellation)
		api.POST("/orders/:id/advance", s.advanceStatus)
		api.POST("/orders/:id/reject-cancel", s.rejectCancellation)
		api.POST("/orders/:id/reorder", s.reorder)
	}

	router.POST("/checkout/redirect", s.checkoutRedirect)
	router.GET("/checkout/return", s.checkoutReturn)

	if s.health != nil {
		router.GET("/healthz", gin.WrapF(health.LivenessHandler))
		router.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))
		router.GET("/health", gin.WrapH(s.health))
	}

	return router
}

// requestLogger пишет одну строку на запрос в стиле остальных компонентов.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request failed")
			return
		}
		entry.Info("request handled")
	}
}
