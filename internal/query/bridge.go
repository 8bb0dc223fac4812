package query

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/metrics"
)

const (
	// DefaultPageSize — размер страницы листинга.
	DefaultPageSize = 10
	// DefaultDebounce — окно коалесцирования поискового ввода.
	DefaultDebounce = 600 * time.Millisecond
)

// Mode — режим выдачи: обычный листинг или поиск.
type Mode string

const (
	ModeBrowse Mode = "browse"
	ModeSearch Mode = "search"
)

// View — консистентный снапшот выдачи для рендера.
type View struct {
	// Orders — накопленные страницы; при deep link закреплённый заказ
	// всегда первый и встречается ровно один раз.
	Orders     []domain.Order
	Pinned     *domain.Order
	Mode       Mode
	Query      string
	Filter     domain.StatusFilter
	Page       int
	TotalPages int
	Stats      map[domain.OrderStatus]int
	// CanLoadMore — открыт ли infinite scroll (выключен, пока не завершён
	// deep-link fetch, и на последней странице).
	CanLoadMore bool
}

// Bridge объединяет три режима чтения заказов — пагинацию, debounce-поиск и
// deep link на конкретный заказ — в одну упорядоченную выдачу без гонок.
//
// Любой сетевой ответ перед применением сверяется с монотонным токеном
// запроса: ответ, пережитый более новым запросом, отбрасывается. Смена
// фильтра или поискового текста всегда сбрасывает накопленные страницы и
// отменяет in-flight запрос через context.
type Bridge struct {
	api        domain.OrderQueryAPI
	customerID string
	logger     *log.Entry
	metrics    *metrics.OrderMetrics
	debounce   time.Duration
	pageSize   int

	mu sync.Mutex
	// seq — монотонный токен текущего запроса выдачи.
	seq    uint64
	cancel context.CancelFunc

	mode   Mode
	filter domain.StatusFilter
	query  string

	pinned *domain.Order
	// pinnedDone — двухфазный гейт: infinite scroll закрыт, пока
	// deep-link fetch не завершился.
	pinnedDone bool

	orders     []domain.Order
	page       int
	totalPages int
	stats      map[domain.OrderStatus]int
	loading    bool

	debounceTimer *time.Timer
}

// Option настраивает Bridge.
type Option func(*Bridge)

// WithMetrics подключает метрики запросов.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithDebounce задаёт окно debounce для поиска.
func WithDebounce(d time.Duration) Option {
	return func(b *Bridge) { b.debounce = d }
}

// WithPageSize задаёт размер страницы.
func WithPageSize(size int) Option {
	return func(b *Bridge) { b.pageSize = size }
}

// NewBridge создаёт query bridge для одного клиента.
func NewBridge(api domain.OrderQueryAPI, customerID string, logger *log.Entry, opts ...Option) *Bridge {
	if logger == nil {
		logger = log.WithField("component", "order-query")
	}
	b := &Bridge{
		api:        api,
		customerID: customerID,
		logger:     logger,
		debounce:   DefaultDebounce,
		pageSize:   DefaultPageSize,
		mode:       ModeBrowse,
		filter:     domain.StatusFilterAll,
		pinnedDone: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open инициализирует выдачу. Непустой deepLinkOrderID закрепляет заказ
// наверху списка: его fetch строго предшествует первой странице листинга,
// а infinite scroll удерживается закрытым до его завершения.
func (b *Bridge) Open(ctx context.Context, deepLinkOrderID string) error {
	if deepLinkOrderID == "" {
		return b.browse(ctx, 1, true)
	}

	b.mu.Lock()
	b.pinnedDone = false
	b.pinned = nil
	b.mu.Unlock()

	order, err := b.api.GetOrder(ctx, deepLinkOrderID)

	b.mu.Lock()
	if err == nil {
		b.pinned = &order
	}
	// Гейт открывается и при NotFound: deep link на чужой/несуществующий
	// заказ не должен замораживать листинг.
	b.pinnedDone = true
	b.mu.Unlock()

	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		return err
	}
	return b.browse(ctx, 1, true)
}

// LoadMore подгружает следующую страницу (триггер infinite scroll) в
// текущем режиме: листинг продолжает листинг, поиск — поисковую выдачу.
// Пока deep-link fetch не завершён или запрос уже в полёте — no-op.
func (b *Bridge) LoadMore(ctx context.Context) error {
	b.mu.Lock()
	if !b.pinnedDone || b.loading {
		b.mu.Unlock()
		return nil
	}
	if b.totalPages > 0 && b.page >= b.totalPages {
		b.mu.Unlock()
		return nil
	}
	next := b.page + 1
	mode := b.mode
	query := b.query
	b.mu.Unlock()

	if mode == ModeSearch {
		return b.searchPage(ctx, query, next, false)
	}
	return b.browse(ctx, next, false)
}

// SetFilter переключает вкладку статуса: накопленные страницы сбрасываются,
// выдача перезапускается с первой страницы.
func (b *Bridge) SetFilter(ctx context.Context, filter domain.StatusFilter) error {
	b.mu.Lock()
	b.filter = filter
	b.mode = ModeBrowse
	b.query = ""
	b.stopDebounceLocked()
	b.mu.Unlock()

	return b.browse(ctx, 1, true)
}

// Search коалесцирует поисковый ввод: запрос уходит в сеть только после
// паузы в debounce-окно. Пустой текст возвращает выдачу в режим листинга.
func (b *Bridge) Search(ctx context.Context, text string) {
	b.mu.Lock()
	b.query = text
	b.stopDebounceLocked()

	if text == "" {
		b.mu.Unlock()
		// Немедленный выход из поиска, debounce не нужен.
		if err := b.SetFilter(ctx, b.Filter()); err != nil {
			b.logger.WithError(err).Warn("browse reload after search clear failed")
		}
		return
	}

	b.debounceTimer = time.AfterFunc(b.debounce, func() {
		if err := b.runSearch(ctx, text); err != nil {
			b.logger.WithError(err).WithField("query", text).Warn("search request failed")
		}
	})
	b.mu.Unlock()
}

// SearchNow выполняет поиск без debounce (для тестов и программных вызовов).
func (b *Bridge) SearchNow(ctx context.Context, text string) error {
	b.mu.Lock()
	b.query = text
	b.stopDebounceLocked()
	b.mu.Unlock()
	return b.runSearch(ctx, text)
}

// Snapshot возвращает копию текущей выдачи.
func (b *Bridge) Snapshot() View {
	b.mu.Lock()
	defer b.mu.Unlock()

	view := View{
		Mode:       b.mode,
		Query:      b.query,
		Filter:     b.filter,
		Page:       b.page,
		TotalPages: b.totalPages,
	}

	if b.stats != nil {
		view.Stats = make(map[domain.OrderStatus]int, len(b.stats))
		for k, v := range b.stats {
			view.Stats[k] = v
		}
	}

	if b.pinned != nil && b.mode == ModeBrowse {
		pinned := *b.pinned
		view.Pinned = &pinned
		view.Orders = append(view.Orders, pinned)
	}
	view.Orders = append(view.Orders, b.orders...)

	view.CanLoadMore = b.pinnedDone && !b.loading &&
		(b.totalPages == 0 || b.page < b.totalPages)

	return view
}

// Filter возвращает текущий фильтр статуса.
func (b *Bridge) Filter() domain.StatusFilter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filter
}

// browse загружает страницу листинга; reset=true отбрасывает накопленное.
func (b *Bridge) browse(ctx context.Context, page int, reset bool) error {
	reqCtx, token, filter := b.beginRequest(ctx)
	defer b.endRequest(token)

	if b.metrics != nil {
		b.metrics.RecordQueryRequest(string(ModeBrowse))
	}

	result, stats, err := b.api.ListOrders(reqCtx, b.customerID, filter, page, b.pageSize)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if token != b.seq {
		// Ответ пережит более новым запросом.
		b.dropStaleLocked()
		return nil
	}

	if reset {
		b.orders = nil
	}
	b.appendOrdersLocked(result.Orders)
	b.page = result.Page
	b.totalPages = result.TotalPages
	b.stats = stats
	b.mode = ModeBrowse
	return nil
}

// runSearch выполняет новый поисковый запрос с первой страницы.
func (b *Bridge) runSearch(ctx context.Context, text string) error {
	b.mu.Lock()
	// Запрос устарел ещё до отправки: пользователь продолжил ввод.
	if b.query != text {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return b.searchPage(ctx, text, 1, true)
}

// searchPage загружает страницу поисковой выдачи; reset=true отбрасывает
// накопленное.
func (b *Bridge) searchPage(ctx context.Context, text string, page int, reset bool) error {
	reqCtx, token, filter := b.beginRequest(ctx)
	defer b.endRequest(token)

	if b.metrics != nil {
		b.metrics.RecordQueryRequest(string(ModeSearch))
	}

	result, err := b.api.SearchOrders(reqCtx, b.customerID, text, filter, page, b.pageSize)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if token != b.seq {
		b.dropStaleLocked()
		return nil
	}

	b.mode = ModeSearch
	if reset {
		// Новый поиск сбрасывает пагинацию и закреплённый заказ.
		b.pinned = nil
		b.orders = nil
	}
	b.appendOrdersLocked(result.Orders)
	b.page = result.Page
	b.totalPages = result.TotalPages
	return nil
}

// beginRequest выдаёт новый токен, отменяя предыдущий in-flight запрос.
func (b *Bridge) beginRequest(ctx context.Context) (context.Context, uint64, domain.StatusFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.seq++
	b.loading = true
	return reqCtx, b.seq, b.filter
}

func (b *Bridge) endRequest(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if token == b.seq {
		b.loading = false
	}
}

// appendOrdersLocked добавляет заказы, исключая дубликаты и закреплённый заказ.
func (b *Bridge) appendOrdersLocked(orders []domain.Order) {
	seen := make(map[string]struct{}, len(b.orders)+1)
	for _, existing := range b.orders {
		seen[existing.ID] = struct{}{}
	}
	if b.pinned != nil {
		seen[b.pinned.ID] = struct{}{}
	}
	for _, order := range orders {
		if _, dup := seen[order.ID]; dup {
			continue
		}
		seen[order.ID] = struct{}{}
		b.orders = append(b.orders, order)
	}
}

func (b *Bridge) dropStaleLocked() {
	if b.metrics != nil {
		b.metrics.RecordStaleResponseDropped()
	}
	b.logger.Debug("stale response dropped")
}

func (b *Bridge) stopDebounceLocked() {
	if b.debounceTimer != nil {
		b.debounceTimer.Stop()
		b.debounceTimer = nil
	}
}
