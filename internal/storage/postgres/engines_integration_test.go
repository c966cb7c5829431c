package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/service/balance"
	"github.com/vladislavdragonenkov/wholesale/internal/service/confirmation"
	"github.com/vladislavdragonenkov/wholesale/internal/service/inventory"
	"github.com/vladislavdragonenkov/wholesale/internal/service/order"
	"github.com/vladislavdragonenkov/wholesale/internal/service/returns"
)

var engineIsolationLevels = []struct {
	name  string
	level sql.IsolationLevel
}{
	{name: "read committed", level: sql.LevelReadCommitted},
	{name: "serializable", level: sql.LevelSerializable},
}

func createOrderForIntegrationTest(t *testing.T, store *Store, productID string, qty int64) domain.Order {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	o, err := order.NewService(store, nil, nil, nil).CreateOrder(ctx, order.CreateOrderRequest{
		CustomerID: "c-engine",
		AgentID:    "agent-1",
		Items:      []order.Line{{ProductID: productID, Qty: qty}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestConfirmationEngine_PostgresConcurrentConfirmSucceedsOnce(t *testing.T) {
	for _, tc := range engineIsolationLevels {
		t.Run(tc.name, func(t *testing.T) {
			store := openPostgresStoreForIntegrationTest(t, WithIsolation(tc.level))
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			seedCounterparty(t, store, "c-engine", domain.CounterpartyCustomer)
			seedProduct(t, store, "p-engine", domain.CurrencyUZS, 10)
			o := createOrderForIntegrationTest(t, store, "p-engine", 4)

			engine := confirmation.NewEngine(store, inventory.NewStockLedger(nil, nil), balance.NewLedger(nil, nil), nil, nil, nil)

			const workers = 8
			var (
				wg         sync.WaitGroup
				mu         sync.Mutex
				successes  int
				unexpected []error
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := engine.ConfirmOrder(ctx, o.ID, "manager")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict):
					default:
						unexpected = append(unexpected, err)
					}
				}()
			}
			wg.Wait()

			if len(unexpected) > 0 {
				t.Fatalf("unexpected confirm errors: %v", unexpected)
			}
			if successes != 1 {
				t.Fatalf("expected exactly one confirmation, got %d", successes)
			}

			var sales int
			if err := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sales WHERE order_id = $1`, o.ID).Scan(&sales); err != nil {
				t.Fatalf("count sales: %v", err)
			}
			if sales != 1 {
				t.Fatalf("expected one sale row, got %d", sales)
			}

			var status domain.OrderStatus
			err := store.Do(ctx, func(tx domain.Tx) error {
				got, err := tx.Orders().Get(ctx, o.ID)
				status = got.Status
				return err
			})
			if err != nil {
				t.Fatalf("get order: %v", err)
			}
			if status != domain.OrderStatusConfirmed {
				t.Fatalf("expected order CONFIRMED, got %s", status)
			}
			if qty := productQty(t, store, "p-engine"); qty != 6 {
				t.Fatalf("expected stock 6 after one confirmation, got %d", qty)
			}
		})
	}
}

func TestReturnsEngine_PostgresConcurrentReturnsNeverExceedSold(t *testing.T) {
	for _, tc := range engineIsolationLevels {
		t.Run(tc.name, func(t *testing.T) {
			store := openPostgresStoreForIntegrationTest(t, WithIsolation(tc.level))
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			seedCounterparty(t, store, "c-engine", domain.CounterpartyCustomer)
			seedProduct(t, store, "p-engine", domain.CurrencyUZS, 10)
			o := createOrderForIntegrationTest(t, store, "p-engine", 4)

			stock := inventory.NewStockLedger(nil, nil)
			balances := balance.NewLedger(nil, nil)
			sale, err := confirmation.NewEngine(store, stock, balances, nil, nil, nil).ConfirmOrder(ctx, o.ID, "manager")
			if err != nil {
				t.Fatalf("confirm order: %v", err)
			}
			engine := returns.NewEngine(store, stock, balances, nil, nil, nil)

			const workers = 10
			var (
				wg         sync.WaitGroup
				mu         sync.Mutex
				successes  int
				unexpected []error
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := engine.CreateReturn(ctx, returns.CreateReturnRequest{
						SaleID:      sale.ID,
						WarehouseID: "wh-uzs",
						Items:       []returns.ReturnLine{{ProductID: "p-engine", Qty: 1}},
						RefundType:  domain.RefundNoRefund,
						Actor:       "clerk",
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, domain.ErrOverReturn), errors.Is(err, domain.ErrConflict):
					default:
						unexpected = append(unexpected, err)
					}
				}()
			}
			wg.Wait()

			if len(unexpected) > 0 {
				t.Fatalf("unexpected return errors: %v", unexpected)
			}
			if tc.level == sql.LevelReadCommitted && successes != 4 {
				t.Fatalf("row locks should admit exactly the sold quantity, got %d returns", successes)
			}
			if successes > 4 {
				t.Fatalf("returned more than sold: %d", successes)
			}

			prior, err := engine.ListReturns(ctx, sale.ID)
			if err != nil {
				t.Fatalf("list returns: %v", err)
			}
			returned := domain.ReturnedQty(prior)[domain.StockKey{ProductID: "p-engine", WarehouseID: "wh-uzs"}]
			if returned != int64(successes) {
				t.Fatalf("stored returns %d do not match successful calls %d", returned, successes)
			}
			if returned > sale.TotalQty() {
				t.Fatalf("returned %d exceeds sold %d", returned, sale.TotalQty())
			}
			if qty := productQty(t, store, "p-engine"); qty != 6+returned {
				t.Fatalf("expected stock %d, got %d", 6+returned, qty)
			}
		})
	}
}

type fixedSequencer int64

func (s fixedSequencer) Next(context.Context, int) (int64, error) { return int64(s), nil }

func TestStore_PostgresMaxInvoiceSeq(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if seq, err := store.MaxInvoiceSeq(ctx, 2024); err != nil || seq != 0 {
		t.Fatalf("expected empty floor, got %d err=%v", seq, err)
	}

	if _, err := store.DB().ExecContext(ctx, `INSERT INTO invoice_counters (year, seq) VALUES (2024, 3)`); err != nil {
		t.Fatalf("seed invoice counter: %v", err)
	}
	if seq, err := store.MaxInvoiceSeq(ctx, 2024); err != nil || seq != 3 {
		t.Fatalf("expected counter floor 3, got %d err=%v", seq, err)
	}

	seedCounterparty(t, store, "c-engine", domain.CounterpartyCustomer)
	seedProduct(t, store, "p-engine", domain.CurrencyUZS, 10)
	o := createOrderForIntegrationTest(t, store, "p-engine", 1)

	engine := confirmation.NewEngine(store, inventory.NewStockLedger(nil, nil), balance.NewLedger(nil, nil), nil, nil, nil,
		confirmation.WithClock(func() time.Time { return time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC) }),
		confirmation.WithInvoiceSequencer(fixedSequencer(1234567)),
	)
	sale, err := engine.ConfirmOrder(ctx, o.ID, "manager")
	if err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	if sale.InvoiceNo != "S-2024-1234567" {
		t.Fatalf("unexpected invoice number %s", sale.InvoiceNo)
	}

	if seq, err := store.MaxInvoiceSeq(ctx, 2024); err != nil || seq != 1234567 {
		t.Fatalf("expected sales floor 1234567, got %d err=%v", seq, err)
	}
	if seq, err := store.MaxInvoiceSeq(ctx, 2025); err != nil || seq != 0 {
		t.Fatalf("other years must not leak into the floor, got %d err=%v", seq, err)
	}

	var nilStore *Store
	if _, err := nilStore.MaxInvoiceSeq(ctx, 2024); err == nil {
		t.Fatal("expected error for nil store MaxInvoiceSeq")
	}
}
