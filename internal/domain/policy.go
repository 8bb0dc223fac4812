package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DirectCancelWindow — окно после создания заказа, в течение которого
// покупатель может отменить заказ без согласия продавца.
const DirectCancelWindow = 30 * time.Minute

// MaxCancelReasonLen — максимальная длина причины отмены в символах.
const MaxCancelReasonLen = 500

// CancellationOptions перечисляет действия, доступные покупателю по заказу
// в конкретный момент времени.
type CancellationOptions struct {
	// DirectCancel — немедленная отмена без причины и без решения продавца.
	DirectCancel bool
	// RequestCancel — запрос на отмену, требующий причину и решение продавца.
	RequestCancel bool
	// Reorder — повторный заказ тех же позиций.
	Reorder bool
}

// EvaluateCancellation — чистая функция политики отмены над снапшотом заказа
// и текущим временем. Клиентская проверка носит рекомендательный характер:
// авторитетная повторная проверка выполняется на стороне сервиса.
func EvaluateCancellation(status OrderStatus, createdAt, now time.Time) CancellationOptions {
	var opts CancellationOptions

	inWindow := now.Sub(createdAt) <= DirectCancelWindow

	switch status {
	case OrderStatusPending, OrderStatusConfirmed:
		if inWindow {
			opts.DirectCancel = true
		} else {
			opts.RequestCancel = true
		}
	case OrderStatusProcessing:
		opts.RequestCancel = true
	}

	if status == OrderStatusDelivered || status == OrderStatusCanceled {
		opts.Reorder = true
	}

	return opts
}

// ValidateCancelReason проверяет причину для запроса на отмену:
// непустая строка длиной не более MaxCancelReasonLen символов.
func ValidateCancelReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrCancelReasonRequired
	}
	if utf8.RuneCountInString(reason) > MaxCancelReasonLen {
		return ErrCancelReasonTooLong
	}
	return nil
}
