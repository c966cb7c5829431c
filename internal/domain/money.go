package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency — валюта склада и денежного учёта. Курсы не конвертируются.
type Currency string

const (
	CurrencyUZS Currency = "UZS"
	CurrencyUSD Currency = "USD"
)

// Currencies перечисляет валюты в фиксированном порядке обхода.
var Currencies = []Currency{CurrencyUZS, CurrencyUSD}

// Valid сообщает, поддерживается ли валюта.
func (c Currency) Valid() bool {
	return c == CurrencyUZS || c == CurrencyUSD
}

// ParseCurrency нормализует код валюты.
func ParseCurrency(raw string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", WrapValidation(ErrCurrencyInvalid, "unknown currency %q", raw)
	}
	return c, nil
}

// Amounts хранит по одной сумме на каждую валюту.
type Amounts struct {
	UZS decimal.Decimal
	USD decimal.Decimal
}

// Get возвращает сумму в валюте c.
func (a Amounts) Get(c Currency) decimal.Decimal {
	switch c {
	case CurrencyUZS:
		return a.UZS
	case CurrencyUSD:
		return a.USD
	}
	return decimal.Zero
}

// Add прибавляет v к сумме в валюте c. Валюта должна быть валидной.
func (a *Amounts) Add(c Currency, v decimal.Decimal) {
	switch c {
	case CurrencyUZS:
		a.UZS = a.UZS.Add(v)
	case CurrencyUSD:
		a.USD = a.USD.Add(v)
	}
}

// Equal сравнивает суммы по обеим валютам.
func (a Amounts) Equal(b Amounts) bool {
	return a.UZS.Equal(b.UZS) && a.USD.Equal(b.USD)
}

// CurrencyTotal — итоги продажи в одной валюте.
type CurrencyTotal struct {
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	GrandTotal decimal.Decimal
	PaidAmount decimal.Decimal
	DebtAmount decimal.Decimal
}

// CurrencyTotals — итоги продажи по UZS и USD.
type CurrencyTotals struct {
	UZS CurrencyTotal
	USD CurrencyTotal
}

// Get возвращает итоги в валюте c.
func (t CurrencyTotals) Get(c Currency) CurrencyTotal {
	if c == CurrencyUSD {
		return t.USD
	}
	return t.UZS
}

// Set записывает итоги в валюте c.
func (t *CurrencyTotals) Set(c Currency, total CurrencyTotal) {
	switch c {
	case CurrencyUZS:
		t.UZS = total
	case CurrencyUSD:
		t.USD = total
	}
}

// NewUnpaidTotal строит итоги без скидки и оплаты: весь итог уходит в долг.
func NewUnpaidTotal(subtotal decimal.Decimal) CurrencyTotal {
	return CurrencyTotal{
		Subtotal:   subtotal,
		Discount:   decimal.Zero,
		GrandTotal: subtotal,
		PaidAmount: decimal.Zero,
		DebtAmount: subtotal,
	}
}
