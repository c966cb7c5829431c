package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus — статус продажи. Отмена возвращает только складские остатки.
type SaleStatus string

const (
	SaleStatusActive   SaleStatus = "ACTIVE"
	SaleStatusCanceled SaleStatus = "CANCELED"
)

// ReturnStatus выводится из суммарного возвращённого количества.
type ReturnStatus string

const (
	ReturnStatusNone    ReturnStatus = "NO_RETURN"
	ReturnStatusPartial ReturnStatus = "PARTIAL_RETURN"
	ReturnStatusFull    ReturnStatus = "FULL_RETURN"
)

// SaleItem — зафиксированная строка продажи.
type SaleItem struct {
	Line        int
	ProductID   string
	Name        string
	Unit        string
	WarehouseID string
	Currency    Currency
	Qty         int64
	Price       decimal.Decimal
	Subtotal    decimal.Decimal
}

// Sale — неизменяемый документ продажи. Меняются только ReturnStatus и отмена.
type Sale struct {
	ID           string
	InvoiceNo    string
	OrderID      string
	CustomerID   string
	Items        []SaleItem
	Totals       CurrencyTotals
	ReturnStatus ReturnStatus
	Status       SaleStatus
	CreatedBy    string
	CreatedAt    time.Time
	CanceledBy   string
	CanceledAt   time.Time
}

// SoldQty суммирует проданное количество по паре (товар, склад).
func (s Sale) SoldQty() map[StockKey]int64 {
	out := make(map[StockKey]int64, len(s.Items))
	for _, item := range s.Items {
		out[StockKey{ProductID: item.ProductID, WarehouseID: item.WarehouseID}] += item.Qty
	}
	return out
}

// TotalQty — общее проданное количество по всем складам.
// Количества строк ограничены остатком склада на момент подтверждения.
func (s Sale) TotalQty() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.Qty
	}
	return total
}

// Line ищет первую строку продажи для пары (товар, склад).
func (s Sale) Line(key StockKey) (SaleItem, bool) {
	for _, item := range s.Items {
		if item.ProductID == key.ProductID && item.WarehouseID == key.WarehouseID {
			return item, true
		}
	}
	return SaleItem{}, false
}

// DeriveReturnStatus вычисляет статус возврата по суммам количества.
func DeriveReturnStatus(sold, returned int64) ReturnStatus {
	switch {
	case returned <= 0:
		return ReturnStatusNone
	case returned >= sold:
		return ReturnStatusFull
	default:
		return ReturnStatusPartial
	}
}

// FormatInvoiceNo строит номер накладной вида S-2024-000001.
func FormatInvoiceNo(year int, seq int64) string {
	return fmt.Sprintf("%s%06d", InvoicePrefix(year), seq)
}

// InvoicePrefix — общая часть номеров накладных года.
func InvoicePrefix(year int) string {
	return fmt.Sprintf("S-%d-", year)
}

// CloneSale возвращает копию без общих слайсов.
func CloneSale(s Sale) Sale {
	s.Items = append([]SaleItem(nil), s.Items...)
	return s
}
