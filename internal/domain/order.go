package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа: NEW -> CONFIRMED | CANCELED.
type OrderStatus string

const (
	// OrderStatusNew — заказ создан агентом и ждёт подтверждения.
	OrderStatusNew OrderStatus = "NEW"
	// OrderStatusConfirmed — по заказу оформлена продажа, склад списан.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusCanceled — заказ отменён до подтверждения.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// MaxCancelReasonLen — максимальная длина причины отмены в символах.
const MaxCancelReasonLen = 300

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusCanceled
}

// OrderItem — снимок товара на момент создания заказа.
type OrderItem struct {
	// Line — номер позиции в запросе, начиная с 1.
	Line      int
	ProductID string
	Name      string
	Unit      string
	Currency  Currency
	Price     decimal.Decimal
	Qty       int64
	Subtotal  decimal.Decimal
}

// Order — заявка клиента, создаваемая торговым агентом.
type Order struct {
	ID           string
	CustomerID   string
	AgentID      string
	Items        []OrderItem
	Totals       Amounts
	Status       OrderStatus
	SaleID       string
	ConfirmedBy  string
	ConfirmedAt  time.Time
	CanceledBy   string
	CanceledAt   time.Time
	CancelReason string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Currencies возвращает валюты, встречающиеся в позициях, в порядке Currencies.
func (o Order) Currencies() []Currency {
	var out []Currency
	for _, c := range Currencies {
		for _, item := range o.Items {
			if item.Currency == c {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Confirm переводит заказ в CONFIRMED.
func (o *Order) Confirm(actor, saleID string, at time.Time) error {
	if o.Status != OrderStatusNew {
		return NewInvalidStateError("order", o.ID, "cannot confirm order in status %s", o.Status)
	}
	o.Status = OrderStatusConfirmed
	o.SaleID = saleID
	o.ConfirmedBy = actor
	o.ConfirmedAt = at
	o.UpdatedAt = at
	o.Version++
	return nil
}

// Cancel переводит заказ в CANCELED, обрезая причину до MaxCancelReasonLen.
func (o *Order) Cancel(actor, reason string, at time.Time) error {
	if o.Status != OrderStatusNew {
		return NewInvalidStateError("order", o.ID, "cannot cancel order in status %s", o.Status)
	}
	o.Status = OrderStatusCanceled
	o.CanceledBy = actor
	o.CanceledAt = at
	o.CancelReason = TruncateReason(reason)
	o.UpdatedAt = at
	o.Version++
	return nil
}

// TruncateReason обрезает пробелы и ограничивает длину причины.
func TruncateReason(reason string) string {
	reason = strings.TrimSpace(reason)
	runes := []rune(reason)
	if len(runes) > MaxCancelReasonLen {
		return string(runes[:MaxCancelReasonLen])
	}
	return reason
}

// CloneOrder возвращает копию без общих слайсов.
func CloneOrder(o Order) Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}
