// Package fixtures наполняет in-memory хранилище справочниками для тестов.
package fixtures

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/storage/memory"
)

const (
	WarehouseUZS = "wh-uzs"
	WarehouseUSD = "wh-usd"
	ProductUZS   = "p-a"
	ProductUSD   = "p-b"
	Inactive     = "p-off"
	Customer     = "cust-1"
	Supplier     = "supp-1"
)

// NewStore возвращает хранилище со складами UZS/USD, двумя товарами по 10 штук,
// неактивным товаром, клиентом и поставщиком с нулевыми балансами.
func NewStore(t testing.TB) *memory.Store {
	t.Helper()

	store := memory.NewStore()
	ctx := context.Background()
	err := store.Do(ctx, func(tx domain.Tx) error {
		for _, w := range []domain.Warehouse{
			{ID: WarehouseUZS, Name: "Main UZS", Currency: domain.CurrencyUZS},
			{ID: WarehouseUSD, Name: "Main USD", Currency: domain.CurrencyUSD},
		} {
			if err := tx.Warehouses().Create(ctx, w); err != nil {
				return err
			}
		}
		for _, p := range []domain.Product{
			{ID: ProductUZS, Name: "Rice 50kg", Unit: "bag", Qty: 10, BuyPrice: decimal.NewFromInt(800), SellPrice: decimal.NewFromInt(1000), Currency: domain.CurrencyUZS, IsActive: true},
			{ID: ProductUSD, Name: "Oil 5L", Unit: "can", Qty: 10, BuyPrice: decimal.NewFromInt(4), SellPrice: decimal.NewFromInt(5), Currency: domain.CurrencyUSD, IsActive: true},
			{ID: Inactive, Name: "Discontinued", Unit: "pcs", Qty: 10, SellPrice: decimal.NewFromInt(1), Currency: domain.CurrencyUZS, IsActive: false},
		} {
			if err := tx.Products().Create(ctx, p); err != nil {
				return err
			}
		}
		if err := tx.Counterparties().Create(ctx, domain.Counterparty{ID: Customer, Kind: domain.CounterpartyCustomer, Name: "Shop #1"}); err != nil {
			return err
		}
		return tx.Counterparties().Create(ctx, domain.Counterparty{ID: Supplier, Kind: domain.CounterpartySupplier, Name: "Mill LLC"})
	})
	if err != nil {
		t.Fatalf("seed fixtures: %v", err)
	}
	return store
}

// SetQty выставляет остаток товара.
func SetQty(t testing.TB, store *memory.Store, productID string, qty int64) {
	t.Helper()
	ctx := context.Background()
	err := store.Do(ctx, func(tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, productID)
		if err != nil {
			return err
		}
		_, _, err = tx.Products().Increment(ctx, productID, qty-p.Qty)
		return err
	})
	if err != nil {
		t.Fatalf("set qty: %v", err)
	}
}

// Qty читает текущий остаток товара.
func Qty(t testing.TB, store *memory.Store, productID string) int64 {
	t.Helper()
	var qty int64
	ctx := context.Background()
	err := store.Do(ctx, func(tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, productID)
		qty = p.Qty
		return err
	})
	if err != nil {
		t.Fatalf("read qty: %v", err)
	}
	return qty
}

// Counterparty читает контрагента вместе с историей.
func Counterparty(t testing.TB, store *memory.Store, id string) domain.Counterparty {
	t.Helper()
	var c domain.Counterparty
	ctx := context.Background()
	err := store.Do(ctx, func(tx domain.Tx) error {
		var err error
		c, err = tx.Counterparties().Get(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("read counterparty: %v", err)
	}
	return c
}

// RecordingPublisher запоминает опубликованные события.
type RecordingPublisher struct {
	mu     sync.Mutex
	Err    error
	Events []Published
}

// Published — одно опубликованное событие.
type Published struct {
	Name    string
	Payload any
}

func (p *RecordingPublisher) Publish(_ context.Context, name string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, Published{Name: name, Payload: payload})
	return nil
}

// Names возвращает имена событий в порядке публикации.
func (p *RecordingPublisher) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.Events))
	for _, e := range p.Events {
		names = append(names, e.Name)
	}
	return names
}
