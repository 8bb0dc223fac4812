package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/checkout"
	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/reconcile"
	"github.com/pavelgordeev/ocms/internal/storage/memory"
)

// fakeCreator считает вызовы и создаёт заказ из переданных позиций.
type fakeCreator struct {
	calls   int
	fail    bool
	failErr error
}

func (f *fakeCreator) CreateFromSelection(_ context.Context, customerID string, itemIDs []string, paymentMethod string) (domain.Order, error) {
	f.calls++
	if f.failErr != nil {
		return domain.Order{}, f.failErr
	}
	if f.fail {
		return domain.Order{}, errors.New("storage unavailable")
	}
	items := make([]domain.OrderItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		items = append(items, domain.OrderItem{ID: "oi-" + id, ProductID: id, Qty: 1, PriceMinor: 100, LineTotalMinor: 100})
	}
	return domain.Order{
		ID:            "order-" + customerID,
		CustomerID:    customerID,
		Status:        domain.OrderStatusPending,
		Items:         items,
		PaymentMethod: paymentMethod,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func boolPtr(v bool) *bool { return &v }

func newFixture(t *testing.T) (*reconcile.Reconciler, domain.PendingSelectionStore, domain.CartRepository, *fakeCreator) {
	t.Helper()
	carts := memory.NewCartRepository()
	for _, p := range []string{"a", "b", "c"} {
		if err := carts.AddItem("customer-1", domain.CartItem{ID: "ci-" + p, ProductID: "product-" + p, Qty: 1, PriceMinor: 100}); err != nil {
			t.Fatalf("seed cart failed: %v", err)
		}
	}
	bridge := checkout.NewBridge(carts, log.WithField("component", "reconcile-test"))
	pending := memory.NewPendingSelectionStore()
	creator := &fakeCreator{}
	r := reconcile.New(pending, creator, bridge, log.WithField("component", "reconcile-test"))
	return r, pending, carts, creator
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		params      map[string]string
		isReturn    bool
		wantSuccess bool
	}{
		{
			name:     "no gateway params",
			params:   map[string]string{"utm_source": "mail"},
			isReturn: false,
		},
		{
			name:        "explicit success flag",
			params:      map[string]string{reconcile.ParamAttemptID: "at-1", reconcile.ParamSuccess: "true"},
			isReturn:    true,
			wantSuccess: true,
		},
		{
			name:        "explicit failure flag wins over txn id",
			params:      map[string]string{reconcile.ParamAttemptID: "at-1", reconcile.ParamSuccess: "0", reconcile.ParamTxnID: "txn-9"},
			isReturn:    true,
			wantSuccess: false,
		},
		{
			name:        "txn id alone implies success",
			params:      map[string]string{reconcile.ParamAttemptID: "at-1", reconcile.ParamTxnID: "txn-9"},
			isReturn:    true,
			wantSuccess: true,
		},
		{
			name:        "order id alone is a failed return",
			params:      map[string]string{reconcile.ParamAttemptID: "at-1", reconcile.ParamOrderID: "order-7"},
			isReturn:    true,
			wantSuccess: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ret, ok := reconcile.Classify(tc.params)
			if ok != tc.isReturn {
				t.Fatalf("expected isReturn=%v, got %v", tc.isReturn, ok)
			}
			if ok && ret.Succeeded() != tc.wantSuccess {
				t.Fatalf("expected success=%v, got %v", tc.wantSuccess, ret.Succeeded())
			}
		})
	}
}

func TestBegin_PersistsResolvedSelection(t *testing.T) {
	r, pending, _, _ := newFixture(t)

	attemptID, err := r.Begin(context.Background(), "customer-1", []string{"ci-a", "ci-c"}, "gateway")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	sel, err := pending.Get(attemptID)
	if err != nil {
		t.Fatalf("pending record missing: %v", err)
	}
	if len(sel.ItemIDs) != 2 || sel.ItemIDs[0] != "ci-a" || sel.ItemIDs[1] != "ci-c" {
		t.Fatalf("unexpected selection: %v", sel.ItemIDs)
	}
	if sel.TTLAt.IsZero() {
		t.Fatal("pending record must carry a TTL")
	}
}

func TestBegin_EmptyCartRejected(t *testing.T) {
	carts := memory.NewCartRepository()
	bridge := checkout.NewBridge(carts, nil)
	r := reconcile.New(memory.NewPendingSelectionStore(), &fakeCreator{}, bridge, nil)

	if _, err := r.Begin(context.Background(), "customer-1", nil, "gateway"); err != domain.ErrNoItemsSelected {
		t.Fatalf("expected ErrNoItemsSelected, got %v", err)
	}
}

func TestFinalize_SuccessCreatesOrderAndClearsSelection(t *testing.T) {
	r, pending, carts, creator := newFixture(t)
	ctx := context.Background()

	attemptID, err := r.Begin(ctx, "customer-1", []string{"ci-a", "ci-c"}, "gateway")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	outcome, err := r.Finalize(ctx, reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(true), TxnID: "txn-1"})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if !outcome.Success || outcome.OrderID == "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if creator.calls != 1 {
		t.Fatalf("expected exactly one order creation, got %d", creator.calls)
	}

	// Корзина очищена ровно от consumed позиций.
	cart, err := carts.Get("customer-1")
	if err != nil {
		t.Fatalf("cart get failed: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ID != "ci-b" {
		t.Fatalf("expected only ci-b to remain, got %+v", cart.Items)
	}

	// Запись о выборе удалена.
	if _, err := pending.Get(attemptID); err != domain.ErrPendingSelectionNotFound {
		t.Fatalf("expected pending record gone, got %v", err)
	}
}

func TestFinalize_ReloadIsSideEffectFree(t *testing.T) {
	r, _, carts, creator := newFixture(t)
	ctx := context.Background()

	attemptID, err := r.Begin(ctx, "customer-1", []string{"ci-a"}, "gateway")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	ret := reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(true), TxnID: "txn-1"}
	first, err := r.Finalize(ctx, ret)
	if err != nil {
		t.Fatalf("first finalize failed: %v", err)
	}

	// Повторный визит на страницу возврата (reload / back-navigation).
	second, err := r.Finalize(ctx, ret)
	if err != nil {
		t.Fatalf("duplicate finalize must be swallowed: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate outcome")
	}
	if !second.Known || second.OrderID != first.OrderID {
		t.Fatalf("expected already-known outcome, got %+v", second)
	}
	if creator.calls != 1 {
		t.Fatalf("expected zero additional order creations, got %d", creator.calls)
	}

	cart, _ := carts.Get("customer-1")
	if len(cart.Items) != 2 {
		t.Fatalf("expected cart untouched by duplicate finalize, got %+v", cart.Items)
	}
}

func TestFinalize_FailureLeavesCartUntouched(t *testing.T) {
	r, pending, carts, creator := newFixture(t)
	ctx := context.Background()

	attemptID, err := r.Begin(ctx, "customer-1", []string{"ci-a"}, "gateway")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	outcome, err := r.Finalize(ctx, reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(false)})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if outcome.Success {
		t.Fatal("expected failed outcome")
	}
	if creator.calls != 0 {
		t.Fatalf("failed return must not create orders, got %d", creator.calls)
	}

	cart, _ := carts.Get("customer-1")
	if len(cart.Items) != 3 {
		t.Fatalf("expected cart untouched, got %+v", cart.Items)
	}
	if _, err := pending.Get(attemptID); err != domain.ErrPendingSelectionNotFound {
		t.Fatalf("pending record must be deleted on failure, got %v", err)
	}
}

func TestFinalize_InternalErrorRestoresPending(t *testing.T) {
	r, pending, _, creator := newFixture(t)
	creator.fail = true
	ctx := context.Background()

	attemptID, err := r.Begin(ctx, "customer-1", []string{"ci-a"}, "gateway")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if _, err := r.Finalize(ctx, reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(true)}); err == nil {
		t.Fatal("expected internal error to surface")
	}

	// Запись возвращена: следующая загрузка страницы может повторить финализацию.
	if _, err := pending.Get(attemptID); err != nil {
		t.Fatalf("pending record must be restored after internal error: %v", err)
	}

	creator.fail = false
	outcome, err := r.Finalize(ctx, reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(true)})
	if err != nil {
		t.Fatalf("retry finalize failed: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success on retry, got %+v", outcome)
	}
}

// flakyPendingStore ломает Consume, имитируя недоступное хранилище.
type flakyPendingStore struct {
	domain.PendingSelectionStore
	consumeErr error
}

func (s *flakyPendingStore) Consume(attemptID string) (domain.PendingSelection, error) {
	if s.consumeErr != nil {
		return domain.PendingSelection{}, s.consumeErr
	}
	return s.PendingSelectionStore.Consume(attemptID)
}

func TestFinalize_StoreFailureSurfacesError(t *testing.T) {
	carts := memory.NewCartRepository()
	if err := carts.AddItem("customer-1", domain.CartItem{ID: "ci-a", ProductID: "product-a", Qty: 1, PriceMinor: 100}); err != nil {
		t.Fatalf("seed cart failed: %v", err)
	}
	bridge := checkout.NewBridge(carts, nil)
	pending := &flakyPendingStore{PendingSelectionStore: memory.NewPendingSelectionStore()}
	r := reconcile.New(pending, &fakeCreator{}, bridge, nil)
	ctx := context.Background()

	attemptID, err := r.Begin(ctx, "customer-1", []string{"ci-a"}, "gateway")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	// Сбой хранилища — не повторная финализация: ошибка обязана уйти
	// наверх, а не превратиться в исход с nil-ошибкой.
	pending.consumeErr = errors.New("connection refused")
	outcome, err := r.Finalize(ctx, reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(true)})
	if err == nil {
		t.Fatalf("expected store failure to surface, got outcome %+v", outcome)
	}
	if outcome.Duplicate || outcome.Known {
		t.Fatalf("store failure must not be reported as a verdict: %+v", outcome)
	}

	// Запись цела: после восстановления хранилища финализация проходит.
	pending.consumeErr = nil
	outcome, err = r.Finalize(ctx, reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(true)})
	if err != nil {
		t.Fatalf("retry finalize failed: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success on retry, got %+v", outcome)
	}

	// Повторный возврат после успеха по-прежнему проглатывается.
	outcome, err = r.Finalize(ctx, reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(true)})
	if err != nil {
		t.Fatalf("duplicate finalize must not error: %v", err)
	}
	if !outcome.Duplicate {
		t.Fatalf("expected duplicate outcome, got %+v", outcome)
	}
}

func TestFinalize_UnsatisfiableSelectionNotRestored(t *testing.T) {
	r, pending, _, creator := newFixture(t)
	ctx := context.Background()

	attemptID, err := r.Begin(ctx, "customer-1", []string{"ci-a"}, "gateway")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	// Все выбранные позиции исчезли из корзины: повтор не поможет,
	// запись не возвращается на место.
	creator.failErr = domain.ErrNoItemsSelected
	if _, err := r.Finalize(ctx, reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(true)}); !errors.Is(err, domain.ErrNoItemsSelected) {
		t.Fatalf("expected ErrNoItemsSelected, got %v", err)
	}
	if _, err := pending.Get(attemptID); !errors.Is(err, domain.ErrPendingSelectionNotFound) {
		t.Fatalf("pending record must not be restored for an unsatisfiable selection, got %v", err)
	}

	calls := creator.calls
	if _, err := r.Finalize(ctx, reconcile.GatewayReturn{AttemptID: attemptID, Success: boolPtr(true)}); err != nil {
		t.Fatalf("subsequent reload must not error: %v", err)
	}
	if creator.calls != calls {
		t.Fatal("subsequent reload must not retry order creation")
	}
}

func TestFinalize_MissingAttemptID(t *testing.T) {
	r, _, _, _ := newFixture(t)
	if _, err := r.Finalize(context.Background(), reconcile.GatewayReturn{}); err != domain.ErrAttemptIDRequired {
		t.Fatalf("expected ErrAttemptIDRequired, got %v", err)
	}
}
