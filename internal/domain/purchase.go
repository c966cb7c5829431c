package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus — статус закупки у поставщика.
type PurchaseStatus string

const (
	PurchaseStatusActive  PurchaseStatus = "ACTIVE"
	PurchaseStatusDeleted PurchaseStatus = "DELETED"
)

// PurchaseItem — строка закупки.
type PurchaseItem struct {
	ProductID string
	Name      string
	Qty       int64
	Price     decimal.Decimal
	Subtotal  decimal.Decimal
}

// Purchase — приход товара от поставщика на склад одной валюты.
type Purchase struct {
	ID          string
	SupplierID  string
	WarehouseID string
	Currency    Currency
	Items       []PurchaseItem
	Total       decimal.Decimal
	Status      PurchaseStatus
	CreatedBy   string
	CreatedAt   time.Time
	DeletedBy   string
	DeletedAt   time.Time
}

// ClonePurchase возвращает копию без общих слайсов.
func ClonePurchase(p Purchase) Purchase {
	p.Items = append([]PurchaseItem(nil), p.Items...)
	return p
}
