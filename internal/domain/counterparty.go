package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CounterpartyKind различает клиентов и поставщиков.
type CounterpartyKind string

const (
	CounterpartyCustomer CounterpartyKind = "customer"
	CounterpartySupplier CounterpartyKind = "supplier"
)

// BalanceDirection — направление движения по балансу.
type BalanceDirection string

const (
	// DirectionPayment — поступление оплаты, уменьшает задолженность.
	DirectionPayment BalanceDirection = "PAYMENT"
	// DirectionDebt — новый долг, увеличивает задолженность.
	DirectionDebt BalanceDirection = "DEBT"
)

// BalanceEntry — запись истории баланса. Amount всегда неотрицательный.
type BalanceEntry struct {
	Seq       int64
	Currency  Currency
	Amount    decimal.Decimal
	Direction BalanceDirection
	Note      string
	Date      time.Time
}

// Signed возвращает сумму со знаком: оплата положительная, долг отрицательный.
func (e BalanceEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionDebt {
		return e.Amount.Neg()
	}
	return e.Amount
}

// NewBalanceEntry строит запись истории по сумме со знаком.
func NewBalanceEntry(currency Currency, signedAmount decimal.Decimal, note string, at time.Time) BalanceEntry {
	direction := DirectionPayment
	if signedAmount.IsNegative() {
		direction = DirectionDebt
	}
	return BalanceEntry{
		Currency:  currency,
		Amount:    signedAmount.Abs(),
		Direction: direction,
		Note:      note,
		Date:      at,
	}
}

// Counterparty — клиент или поставщик с балансом задолженности по валютам.
// Положительный баланс означает, что контрагент должен нам (для поставщика: мы должны ему).
type Counterparty struct {
	ID             string
	Kind           CounterpartyKind
	Name           string
	OpeningBalance Amounts
	Balance        Amounts
	History        []BalanceEntry
	Version        int64
}

// ReplayBalance восстанавливает баланс из начального значения и истории.
func ReplayBalance(opening Amounts, history []BalanceEntry) Amounts {
	balance := opening
	for _, entry := range history {
		balance.Add(entry.Currency, entry.Signed().Neg())
	}
	return balance
}

// CloneCounterparty возвращает копию без общих слайсов.
func CloneCounterparty(c Counterparty) Counterparty {
	c.History = append([]BalanceEntry(nil), c.History...)
	return c
}
