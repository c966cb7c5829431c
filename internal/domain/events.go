package domain

// Имена уведомлений, публикуемых после фиксации транзакции.
const (
	EventOrderCreated   = "OrderCreated"
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCanceled  = "OrderCanceled"
	EventSaleReturned   = "SaleReturned"
	EventSaleCanceled   = "SaleCanceled"
)

// OrderCreatedEvent публикуется после создания заказа.
type OrderCreatedEvent struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
}

// OrderConfirmedEvent публикуется после оформления продажи.
type OrderConfirmedEvent struct {
	OrderID   string `json:"orderId"`
	SaleID    string `json:"saleId"`
	InvoiceNo string `json:"invoiceNo"`
}

// OrderCanceledEvent публикуется после отмены заказа.
type OrderCanceledEvent struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// SaleReturnedEvent публикуется после оформления возврата.
type SaleReturnedEvent struct {
	ReturnID     string       `json:"returnId"`
	SaleID       string       `json:"saleId"`
	ReturnStatus ReturnStatus `json:"returnStatus"`
}

// SaleCanceledEvent публикуется после отмены продажи.
type SaleCanceledEvent struct {
	SaleID  string `json:"saleId"`
	OrderID string `json:"orderId"`
}

// AggregateOf возвращает тип и идентификатор агрегата для известных событий.
func AggregateOf(payload any) (aggregateType, aggregateID string) {
	switch e := payload.(type) {
	case OrderCreatedEvent:
		return "order", e.OrderID
	case OrderConfirmedEvent:
		return "order", e.OrderID
	case OrderCanceledEvent:
		return "order", e.OrderID
	case SaleReturnedEvent:
		return "sale", e.SaleID
	case SaleCanceledEvent:
		return "sale", e.SaleID
	}
	return "unknown", ""
}
