package http

import (
	"time"

	"github.com/pavelgordeev/ocms/internal/domain"
)

// orderItemDTO — позиция заказа в ответе API.
type orderItemDTO struct {
	ID                 string `json:"id"`
	ProductID          string `json:"product_id"`
	Name               string `json:"name"`
	Qty                int32  `json:"qty"`
	PriceMinor         int64  `json:"price_minor"`
	OriginalPriceMinor int64  `json:"original_price_minor"`
	LineTotalMinor     int64  `json:"line_total_minor"`
}

// shippingDTO — контакты и адрес доставки.
type shippingDTO struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// orderDTO — заказ в ответе API.
type orderDTO struct {
	ID                string         `json:"id"`
	CustomerID        string         `json:"customer_id"`
	Status            string         `json:"status"`
	Currency          string         `json:"currency"`
	Items             []orderItemDTO `json:"items"`
	SubtotalMinor     int64          `json:"subtotal_minor"`
	ShippingMinor     int64          `json:"shipping_minor"`
	DiscountMinor     int64          `json:"discount_minor"`
	FreeshipMinor     int64          `json:"freeship_minor"`
	TotalMinor        int64          `json:"total_minor"`
	Shipping          shippingDTO    `json:"shipping"`
	PaymentMethod     string         `json:"payment_method"`
	PaymentStatus     string         `json:"payment_status"`
	TrackingNumber    string         `json:"tracking_number,omitempty"`
	CancelReason      string         `json:"cancel_reason,omitempty"`
	CancelRequestedAt *time.Time     `json:"cancel_requested_at,omitempty"`
	Version           int64          `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// timelineEventDTO — событие жизненного цикла заказа.
type timelineEventDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// cartItemDTO — позиция корзины в ответе API.
type cartItemDTO struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// cartDTO — корзина в ответе API.
type cartDTO struct {
	CustomerID string        `json:"customer_id"`
	Items      []cartItemDTO `json:"items"`
	Version    int64         `json:"version"`
}

// orderPageDTO — страница листинга заказов.
type orderPageDTO struct {
	Orders     []orderDTO     `json:"orders"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalCount int            `json:"total_count"`
	TotalPages int            `json:"total_pages"`
	Stats      map[string]int `json:"stats,omitempty"`
}

func toOrderDTO(order domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDTO{
			ID:                 item.ID,
			ProductID:          item.ProductID,
			Name:               item.Name,
			Qty:                item.Qty,
			PriceMinor:         item.PriceMinor,
			OriginalPriceMinor: item.OriginalPriceMinor,
			LineTotalMinor:     item.LineTotalMinor,
		})
	}
	return orderDTO{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		Currency:      order.Currency,
		Items:         items,
		SubtotalMinor: order.SubtotalMinor,
		ShippingMinor: order.ShippingMinor,
		DiscountMinor: order.DiscountMinor,
		FreeshipMinor: order.FreeshipMinor,
		TotalMinor:    order.TotalMinor,
		Shipping: shippingDTO{
			Name:    order.Shipping.Name,
			Phone:   order.Shipping.Phone,
			Address: order.Shipping.Address,
		},
		PaymentMethod:     order.PaymentMethod,
		PaymentStatus:     string(order.PaymentStatus),
		TrackingNumber:    order.TrackingNumber,
		CancelReason:      order.CancelReason,
		CancelRequestedAt: order.CancelRequestedAt,
		Version:           order.Version,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

func toOrderPageDTO(page domain.OrderPage, stats map[domain.OrderStatus]int) orderPageDTO {
	orders := make([]orderDTO, 0, len(page.Orders))
	for _, order := range page.Orders {
		orders = append(orders, toOrderDTO(order))
	}
	dto := orderPageDTO{
		Orders:     orders,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
		TotalPages: page.TotalPages,
	}
	if stats != nil {
		dto.Stats = make(map[string]int, len(stats))
		for status, count := range stats {
			dto.Stats[string(status)] = count
		}
	}
	return dto
}

func toTimelineDTO(events []domain.TimelineEvent) []timelineEventDTO {
	dtos := make([]timelineEventDTO, 0, len(events))
	for _, event := range events {
		dtos = append(dtos, timelineEventDTO{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return dtos
}

func toCartDTO(cart domain.Cart) cartDTO {
	items := make([]cartItemDTO, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDTO{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return cartDTO{
		CustomerID: cart.CustomerID,
		Items:      items,
		Version:    cart.Version,
	}
}
