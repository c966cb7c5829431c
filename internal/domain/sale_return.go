package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundType — способ компенсации клиенту при возврате.
type RefundType string

const (
	RefundCash     RefundType = "CASH"
	RefundBalance  RefundType = "BALANCE"
	RefundNoRefund RefundType = "NO_REFUND"
)

// Valid сообщает, известен ли способ возврата.
func (r RefundType) Valid() bool {
	return r == RefundCash || r == RefundBalance || r == RefundNoRefund
}

// ReturnItem — строка возврата по цене продажи.
type ReturnItem struct {
	ProductID string
	Qty       int64
	Price     decimal.Decimal
	Subtotal  decimal.Decimal
}

// SaleReturn — документ возврата по продаже. Записи только добавляются.
type SaleReturn struct {
	ID           string
	SaleID       string
	WarehouseID  string
	Currency     Currency
	Items        []ReturnItem
	RefundType   RefundType
	RefundAmount decimal.Decimal
	CreatedBy    string
	CreatedAt    time.Time
}

// Total — сумма строк возврата.
func (r SaleReturn) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}

// ReturnedQty агрегирует возвращённое количество по паре (товар, склад).
func ReturnedQty(returns []SaleReturn) map[StockKey]int64 {
	out := make(map[StockKey]int64)
	for _, r := range returns {
		for _, item := range r.Items {
			out[StockKey{ProductID: item.ProductID, WarehouseID: r.WarehouseID}] += item.Qty
		}
	}
	return out
}

// CloneSaleReturn возвращает копию без общих слайсов.
func CloneSaleReturn(r SaleReturn) SaleReturn {
	r.Items = append([]ReturnItem(nil), r.Items...)
	return r
}
