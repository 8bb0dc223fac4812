package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelgordeev/ocms/internal/checkout"
	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/lifecycle"
	"github.com/pavelgordeev/ocms/internal/orderapi"
	"github.com/pavelgordeev/ocms/internal/reconcile"
	"github.com/pavelgordeev/ocms/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	carts  domain.CartRepository
	orders domain.OrderRepository
	now    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := &base
	clock := func() time.Time { return *now }

	orders := memory.NewOrderRepository()
	carts := memory.NewCartRepository()
	timeline := memory.NewTimelineRepository()
	pending := memory.NewPendingSelectionStore()

	sm := lifecycle.New(orders, timeline, nil, lifecycle.WithClock(clock))
	svc := orderapi.New(orders, carts, timeline, sm, nil, orderapi.WithClock(clock))
	bridge := checkout.NewBridge(carts, nil)
	rec := reconcile.New(pending, svc, bridge, nil)

	server := NewServer(svc, rec, nil)
	return &fixture{router: server.Router(), carts: carts, orders: orders, now: now}
}

func (f *fixture) seedCart(t *testing.T, customerID string) {
	t.Helper()
	items := []domain.CartItem{
		{ID: "ci-a", ProductID: "p-1", Name: "Кружка", Qty: 2, PriceMinor: 15000},
		{ID: "ci-b", ProductID: "p-2", Name: "Футболка", Qty: 1, PriceMinor: 120000},
	}
	for _, item := range items {
		require.NoError(t, f.carts.AddItem(customerID, item))
	}
}

func (f *fixture) do(t *testing.T, method, path, customer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if customer != "" {
		req.Header.Set(headerCustomerID, customer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (f *fixture) createOrder(t *testing.T, customer string, itemIDs []string) orderDTO {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/orders", customer, createOrderRequest{
		ItemIDs:       itemIDs,
		Shipping:      shippingDTO{Name: "Иван", Phone: "+84-000", Address: "Hà Nội"},
		PaymentMethod: "cod",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[orderDTO](t, rec)
}

func TestCreateOrderEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")

	order := f.createOrder(t, "cust-1", []string{"ci-a", "ci-b"})

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, int64(2*15000+120000), order.SubtotalMinor)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Кружка", order.Items[0].Name)
}

func TestCreateOrderRequiresCustomerHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/orders", "", createOrderRequest{ItemIDs: []string{"ci-a"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderEmptySelectionRejected(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/orders", "cust-1", createOrderRequest{ItemIDs: nil})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetOrderReturnsTimeline(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")
	order := f.createOrder(t, "cust-1", []string{"ci-a"})

	rec := f.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Order    orderDTO           `json:"order"`
		Timeline []timelineEventDTO `json:"timeline"`
	}](t, rec)
	assert.Equal(t, order.ID, body.Order.ID)
	assert.NotEmpty(t, body.Timeline)
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrdersWithStats(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")
	f.createOrder(t, "cust-1", []string{"ci-a"})
	f.createOrder(t, "cust-1", []string{"ci-b"})

	rec := f.do(t, http.MethodGet, "/api/v1/orders?page=1&page_size=10", "cust-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decode[orderPageDTO](t, rec)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 2, page.Stats["pending"])
}

func TestSearchOrdersByItemName(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")
	f.createOrder(t, "cust-1", []string{"ci-a"})
	f.createOrder(t, "cust-1", []string{"ci-b"})

	rec := f.do(t, http.MethodGet, "/api/v1/orders/search?q=Футболка", "cust-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decode[orderPageDTO](t, rec)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, "Футболка", page.Orders[0].Items[0].Name)
}

func TestSearchOrdersRequiresQuery(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/orders/search", "cust-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelInsideWindowCancelsDirectly(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")
	order := f.createOrder(t, "cust-1", []string{"ci-a"})

	*f.now = f.now.Add(10 * time.Minute)
	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[orderDTO](t, rec)
	assert.Equal(t, "canceled", updated.Status)
}

func TestCancelOutsideWindowRequiresReason(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")
	order := f.createOrder(t, "cust-1", []string{"ci-a"})

	*f.now = f.now.Add(45 * time.Minute)

	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "",
		cancelRequest{Reason: "передумал"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[orderDTO](t, rec)
	assert.Equal(t, "cancel_request", updated.Status)
	assert.Equal(t, "передумал", updated.CancelReason)
}

func TestAdvanceStatusAndRejectCancellation(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")
	order := f.createOrder(t, "cust-1", []string{"ci-a"})

	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/advance", "",
		advanceRequest{To: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	*f.now = f.now.Add(45 * time.Minute)
	rec = f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "",
		cancelRequest{Reason: "не подходит размер"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/reject-cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[orderDTO](t, rec)
	assert.Equal(t, "confirmed", updated.Status)
}

func TestAdvanceStatusInvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")
	order := f.createOrder(t, "cust-1", []string{"ci-a"})

	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/advance", "",
		advanceRequest{To: "delivered"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReorderPushesItemsBackToCart(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")
	order := f.createOrder(t, "cust-1", []string{"ci-a"})

	for _, to := range []string{"confirmed", "processing", "shipped", "delivered"} {
		rec := f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/advance", "",
			advanceRequest{To: to, TrackingNumber: "TRK-1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/reorder", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cart := decode[cartDTO](t, rec)
	found := false
	for _, item := range cart.Items {
		if item.ProductID == "p-1" && item.Qty >= 2 {
			found = true
		}
	}
	assert.True(t, found, "reordered items must be back in the cart")
}

func TestReorderRejectedForPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")
	order := f.createOrder(t, "cust-1", []string{"ci-a"})

	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/reorder", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckoutRedirectAndSuccessfulReturn(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")

	rec := f.do(t, http.MethodPost, "/checkout/redirect", "cust-1",
		checkoutRedirectRequest{ItemIDs: []string{"ci-a", "ci-b"}, PaymentMethod: "gateway"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	redirect := decode[struct {
		AttemptID   string `json:"attempt_id"`
		RedirectURL string `json:"redirect_url"`
	}](t, rec)
	require.NotEmpty(t, redirect.AttemptID)
	assert.Contains(t, redirect.RedirectURL, redirect.AttemptID)

	rec = f.do(t, http.MethodGet,
		"/checkout/return?attempt_id="+redirect.AttemptID+"&success=1&txn_id=txn-42", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	outcome := decode[struct {
		Success bool   `json:"success"`
		OrderID string `json:"order_id"`
	}](t, rec)
	assert.True(t, outcome.Success)
	require.NotEmpty(t, outcome.OrderID)

	// Заказ создан и оплачен, корзина очищена от выбранных позиций.
	order, err := f.orders.Get(outcome.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)

	cart, err := f.carts.Get("cust-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestCheckoutReturnDuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")

	rec := f.do(t, http.MethodPost, "/checkout/redirect", "cust-1",
		checkoutRedirectRequest{ItemIDs: []string{"ci-a"}, PaymentMethod: "gateway"})
	require.Equal(t, http.StatusOK, rec.Code)
	redirect := decode[struct {
		AttemptID string `json:"attempt_id"`
	}](t, rec)

	returnPath := "/checkout/return?attempt_id=" + redirect.AttemptID + "&success=1&txn_id=txn-1"
	first := decode[struct {
		OrderID   string `json:"order_id"`
		Duplicate bool   `json:"duplicate"`
	}](t, f.do(t, http.MethodGet, returnPath, "", nil))
	require.NotEmpty(t, first.OrderID)
	assert.False(t, first.Duplicate)

	second := decode[struct {
		OrderID   string `json:"order_id"`
		Duplicate bool   `json:"duplicate"`
	}](t, f.do(t, http.MethodGet, returnPath, "", nil))
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.OrderID, second.OrderID)

	page, err := f.orders.ListByCustomer("cust-1", domain.StatusFilterAll, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

func TestCheckoutReturnFailureLeavesCartIntact(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t, "cust-1")

	rec := f.do(t, http.MethodPost, "/checkout/redirect", "cust-1",
		checkoutRedirectRequest{ItemIDs: []string{"ci-a"}, PaymentMethod: "gateway"})
	require.Equal(t, http.StatusOK, rec.Code)
	redirect := decode[struct {
		AttemptID string `json:"attempt_id"`
	}](t, rec)

	rec = f.do(t, http.MethodGet,
		"/checkout/return?attempt_id="+redirect.AttemptID+"&success=0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	outcome := decode[struct {
		Success bool   `json:"success"`
		OrderID string `json:"order_id"`
	}](t, rec)
	assert.False(t, outcome.Success)
	assert.Empty(t, outcome.OrderID)

	cart, err := f.carts.Get("cust-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestCheckoutReturnWithoutGatewayParams(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/checkout/return", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
