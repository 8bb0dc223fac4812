package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия line_total и qty*price.
	ErrLineTotalMismatch = errors.New("item line total does not match qty*price")
	// Ошибка несоответствия subtotal и сумм позиций.
	ErrAmountMismatch = errors.New("order subtotal does not match items sum")
	// Ошибка несоответствия total и слагаемых subtotal/shipping/discount/freeship.
	ErrTotalMismatch = errors.New("order total does not match its components")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStaleState сигнализирует о проигранной гонке на заказе:
	// конкурирующий переход успел сохраниться первым.
	ErrStaleState = errors.New("order state is stale")
	// ErrInvalidTransition — запрошенного ребра нет в таблице переходов
	// для текущего статуса заказа.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrForbidden — у актора нет прав на этот переход.
	ErrForbidden = errors.New("actor is not allowed to perform this transition")
	// ErrCancelReasonRequired — запрос на отмену требует непустую причину.
	ErrCancelReasonRequired = errors.New("cancellation reason is required")
	// ErrCancelReasonTooLong — причина отмены превышает лимит.
	ErrCancelReasonTooLong = errors.New("cancellation reason exceeds 500 characters")
	// ErrCancellationNotAllowed — политика отмены не разрешает ни одно действие.
	ErrCancellationNotAllowed = errors.New("cancellation is not allowed for this order")
	// ErrReorderNotAllowed — повторный заказ доступен только для завершённых заказов.
	ErrReorderNotAllowed = errors.New("reorder is not allowed for this order")

	// ErrCartNotFound возвращается, если корзина клиента не найдена.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartItemNotFound возвращается, если позиция корзины не найдена.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrNoItemsSelected — чекаут без единой выбранной позиции запрещён.
	ErrNoItemsSelected = errors.New("no cart items selected for checkout")
	// ErrCartSyncFailure — мутация корзины не применилась к источнику истины.
	ErrCartSyncFailure = errors.New("cart mutation failed to sync")

	// ErrPendingSelectionNotFound — запись о выборе отсутствует или уже consumed.
	ErrPendingSelectionNotFound = errors.New("pending gateway selection not found")
	// ErrDuplicateFinalize — повторная финализация той же попытки чекаута.
	// По контракту идемпотентности проглатывается, а не показывается пользователю.
	ErrDuplicateFinalize = errors.New("checkout attempt already finalized")
	// ErrAttemptIDRequired — идентификатор попытки чекаута обязателен.
	ErrAttemptIDRequired = errors.New("attempt_id is required")
)

// IsStaleState проверяет, является ли ошибка проигранной гонкой на заказе.
func IsStaleState(err error) bool {
	return errors.Is(err, ErrStaleState)
}

// IsInvalidTransition проверяет, является ли ошибка запрещённым переходом.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsDuplicateFinalize проверяет, является ли ошибка повторной финализацией.
func IsDuplicateFinalize(err error) bool {
	return errors.Is(err, ErrDuplicateFinalize)
}
