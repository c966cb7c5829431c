package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — складская позиция. Qty никогда не уходит ниже нуля.
type Product struct {
	ID        string
	Name      string
	Unit      string
	Qty       int64
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
	// Currency — валюта склада, на котором лежит товар.
	Currency  Currency
	IsActive  bool
	Version   int64
	UpdatedAt time.Time
}

// Warehouse — склад. На каждую валюту ровно один склад.
type Warehouse struct {
	ID       string
	Name     string
	Currency Currency
}

// StockKey адресует остаток товара на конкретном складе.
type StockKey struct {
	ProductID   string
	WarehouseID string
}
