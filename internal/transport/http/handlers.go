package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/reconcile"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// errorResponse — единый формат ошибок API.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError маппит доменные ошибки на HTTP-коды. Неопознанные ошибки
// не просачиваются наружу текстом — клиент получает generic 500.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrCartItemNotFound),
		errors.Is(err, domain.ErrPendingSelectionNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case domain.IsStaleState(err):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case domain.IsInvalidTransition(err),
		errors.Is(err, domain.ErrCancellationNotAllowed),
		errors.Is(err, domain.ErrReorderNotAllowed):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrCancelReasonRequired),
		errors.Is(err, domain.ErrCancelReasonTooLong),
		errors.Is(err, domain.ErrNoItemsSelected),
		errors.Is(err, domain.ErrAttemptIDRequired):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		s.logger.WithError(err).Error("unhandled error in http layer")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// customerID извлекает идентификатор покупателя из заголовка запроса.
func customerID(c *gin.Context) (string, bool) {
	id := c.GetHeader(headerCustomerID)
	if id == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("%s header is required", headerCustomerID)})
		return "", false
	}
	return id, true
}

// pagination читает page/page_size из query с дефолтами и верхней границей.
func pagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func (s *Server) getOrder(c *gin.Context) {
	order, events, err := s.orders.GetOrderDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":    toOrderDTO(order),
		"timeline": toTimelineDTO(events),
	})
}

func (s *Server) listOrders(c *gin.Context) {
	customer, ok := customerID(c)
	if !ok {
		return
	}
	page, pageSize := pagination(c)
	filter := domain.StatusFilter(c.DefaultQuery("filter", string(domain.StatusFilterAll)))

	result, stats, err := s.orders.ListOrders(c.Request.Context(), customer, filter, page, pageSize)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderPageDTO(result, stats))
}

func (s *Server) searchOrders(c *gin.Context) {
	customer, ok := customerID(c)
	if !ok {
		return
	}
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "q parameter is required"})
		return
	}
	page, pageSize := pagination(c)
	filter := domain.StatusFilter(c.DefaultQuery("filter", string(domain.StatusFilterAll)))

	result, err := s.orders.SearchOrders(c.Request.Context(), customer, query, filter, page, pageSize)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderPageDTO(result, nil))
}

// createOrderRequest — тело POST /api/v1/orders.
type createOrderRequest struct {
	ItemIDs       []string    `json:"item_ids"`
	Shipping      shippingDTO `json:"shipping"`
	PaymentMethod string      `json:"payment_method"`
}

func (s *Server) createOrder(c *gin.Context) {
	customer, ok := customerID(c)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	shipping := domain.ShippingInfo{
		Name:    req.Shipping.Name,
		Phone:   req.Shipping.Phone,
		Address: req.Shipping.Address,
	}
	order, err := s.orders.CreateOrder(c.Request.Context(), customer, req.ItemIDs, shipping, req.PaymentMethod)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderDTO(order))
}

// cancelRequest — тело POST /api/v1/orders/:id/cancel. Причина обязательна
// только вне окна прямой отмены; валидацию выполняет сервис.
type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) requestCancellation(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	order, err := s.orders.RequestCancellation(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderDTO(order))
}

// advanceRequest — тело POST /api/v1/orders/:id/advance (операция продавца).
type advanceRequest struct {
	To             string `json:"to"`
	TrackingNumber string `json:"tracking_number"`
}

func (s *Server) advanceStatus(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	order, err := s.orders.AdvanceStatus(c.Request.Context(), c.Param("id"), domain.OrderStatus(req.To), req.TrackingNumber)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderDTO(order))
}

func (s *Server) rejectCancellation(c *gin.Context) {
	order, err := s.orders.RejectCancellation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderDTO(order))
}

func (s *Server) reorder(c *gin.Context) {
	cart, err := s.orders.Reorder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartDTO(cart))
}

// checkoutRedirectRequest — тело POST /checkout/redirect.
type checkoutRedirectRequest struct {
	ItemIDs       []string `json:"item_ids"`
	PaymentMethod string   `json:"payment_method"`
}

// checkoutRedirect фиксирует состав попытки чекаута и возвращает адрес
// ухода на платёжный шлюз с attempt_id в query.
func (s *Server) checkoutRedirect(c *gin.Context) {
	customer, ok := customerID(c)
	if !ok {
		return
	}
	var req checkoutRedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	attemptID, err := s.reconciler.Begin(c.Request.Context(), customer, req.ItemIDs, req.PaymentMethod)
	if err != nil {
		s.writeError(c, err)
		return
	}

	redirect := fmt.Sprintf("%s?%s=%s", s.gatewayURL, reconcile.ParamAttemptID, url.QueryEscape(attemptID))
	c.JSON(http.StatusOK, gin.H{
		"attempt_id":   attemptID,
		"redirect_url": redirect,
	})
}

// checkoutReturn обрабатывает возврат с платёжного шлюза. Запрос без
// параметров шлюза не является возвратом и отвечает 204.
func (s *Server) checkoutReturn(c *gin.Context) {
	params := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	ret, ok := reconcile.Classify(params)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	outcome, err := s.reconciler.Finalize(c.Request.Context(), ret)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attempt_id": outcome.AttemptID,
		"success":    outcome.Success,
		"order_id":   outcome.OrderID,
		"duplicate":  outcome.Duplicate,
		"known":      outcome.Known,
	})
}
