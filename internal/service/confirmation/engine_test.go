package confirmation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/service/balance"
	"github.com/vladislavdragonenkov/wholesale/internal/service/inventory"
	"github.com/vladislavdragonenkov/wholesale/internal/service/order"
	"github.com/vladislavdragonenkov/wholesale/internal/storage/memory"
	"github.com/vladislavdragonenkov/wholesale/internal/testutil/fixtures"
)

var fixedNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func newEngine(store *memory.Store, pub domain.EventPublisher, opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewEngine(
		store,
		inventory.NewStockLedger(nil, nil),
		balance.NewLedger(nil, nil, balance.WithClock(func() time.Time { return fixedNow })),
		pub,
		nil,
		nil,
		opts...,
	)
}

func createOrder(t *testing.T, store *memory.Store, lines ...order.Line) domain.Order {
	t.Helper()
	o, err := order.NewService(store, nil, nil, nil).CreateOrder(context.Background(), order.CreateOrderRequest{
		CustomerID: fixtures.Customer,
		AgentID:    "agent-1",
		Items:      lines,
	})
	require.NoError(t, err)
	return o
}

func loadOrder(t *testing.T, store *memory.Store, id string) domain.Order {
	t.Helper()
	o, err := order.NewService(store, nil, nil, nil).GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestConfirmOrder_MixedCurrencies(t *testing.T) {
	store := fixtures.NewStore(t)
	pub := &fixtures.RecordingPublisher{}
	engine := newEngine(store, pub, WithIDGenerator(func() string { return "sale-1" }))

	o := createOrder(t, store,
		order.Line{ProductID: fixtures.ProductUZS, Qty: 3},
		order.Line{ProductID: fixtures.ProductUSD, Qty: 2},
	)

	sale, err := engine.ConfirmOrder(context.Background(), o.ID, "manager")
	require.NoError(t, err)

	assert.Equal(t, "S-2024-000001", sale.InvoiceNo)
	assert.Equal(t, domain.ReturnStatusNone, sale.ReturnStatus)
	assert.Equal(t, domain.SaleStatusActive, sale.Status)
	require.Len(t, sale.Items, 2)
	assert.Equal(t, fixtures.WarehouseUZS, sale.Items[0].WarehouseID)
	assert.Equal(t, fixtures.WarehouseUSD, sale.Items[1].WarehouseID)

	uzs := sale.Totals.Get(domain.CurrencyUZS)
	assert.True(t, uzs.Subtotal.Equal(decimal.NewFromInt(3000)))
	assert.True(t, uzs.GrandTotal.Equal(decimal.NewFromInt(3000)))
	assert.True(t, uzs.DebtAmount.Equal(decimal.NewFromInt(3000)))
	assert.True(t, uzs.PaidAmount.IsZero())
	usd := sale.Totals.Get(domain.CurrencyUSD)
	assert.True(t, usd.GrandTotal.Equal(decimal.NewFromInt(10)))
	assert.True(t, usd.DebtAmount.Equal(decimal.NewFromInt(10)))

	assert.Equal(t, int64(7), fixtures.Qty(t, store, fixtures.ProductUZS))
	assert.Equal(t, int64(8), fixtures.Qty(t, store, fixtures.ProductUSD))

	confirmed := loadOrder(t, store, o.ID)
	assert.Equal(t, domain.OrderStatusConfirmed, confirmed.Status)
	assert.Equal(t, "sale-1", confirmed.SaleID)
	assert.Equal(t, "manager", confirmed.ConfirmedBy)
	assert.Equal(t, fixedNow, confirmed.ConfirmedAt)

	customer := fixtures.Counterparty(t, store, fixtures.Customer)
	assert.True(t, customer.Balance.UZS.Equal(decimal.NewFromInt(3000)))
	assert.True(t, customer.Balance.USD.Equal(decimal.NewFromInt(10)))
	require.Len(t, customer.History, 2)
	assert.Equal(t, domain.DirectionDebt, customer.History[0].Direction)
	assert.Equal(t, "sale S-2024-000001", customer.History[0].Note)

	assert.Equal(t, []string{domain.EventOrderConfirmed}, pub.Names())
	assert.Equal(t, domain.OrderConfirmedEvent{OrderID: o.ID, SaleID: "sale-1", InvoiceNo: "S-2024-000001"}, pub.Events[0].Payload)
}

func TestConfirmOrder_InsufficientStockRollsBackEverything(t *testing.T) {
	store := fixtures.NewStore(t)
	pub := &fixtures.RecordingPublisher{}
	engine := newEngine(store, pub)

	o := createOrder(t, store,
		order.Line{ProductID: fixtures.ProductUZS, Qty: 1},
		order.Line{ProductID: fixtures.ProductUSD, Qty: 2},
	)
	fixtures.SetQty(t, store, fixtures.ProductUSD, 1)

	_, err := engine.ConfirmOrder(context.Background(), o.ID, "manager")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 2, de.Line)
	assert.Equal(t, fixtures.ProductUSD, de.ID)

	assert.Equal(t, domain.OrderStatusNew, loadOrder(t, store, o.ID).Status)
	assert.Equal(t, int64(10), fixtures.Qty(t, store, fixtures.ProductUZS))
	assert.Equal(t, int64(1), fixtures.Qty(t, store, fixtures.ProductUSD))
	assert.Empty(t, fixtures.Counterparty(t, store, fixtures.Customer).History)
	assert.Empty(t, pub.Events)

	// номер накладной не израсходован
	fixtures.SetQty(t, store, fixtures.ProductUSD, 10)
	sale, err := engine.ConfirmOrder(context.Background(), o.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, "S-2024-000001", sale.InvoiceNo)
}

func TestConfirmOrder_ConcurrentConfirmSucceedsOnce(t *testing.T) {
	store := fixtures.NewStore(t)
	engine := newEngine(store, nil)
	o := createOrder(t, store, order.Line{ProductID: fixtures.ProductUZS, Qty: 4})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		invalid   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.ConfirmOrder(context.Background(), o.ID, "manager")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrInvalidState):
				invalid++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, invalid)
	assert.Equal(t, int64(6), fixtures.Qty(t, store, fixtures.ProductUZS))
	assert.Len(t, fixtures.Counterparty(t, store, fixtures.Customer).History, 1)
}

func TestConfirmOrder_InvoiceNumbersIncrease(t *testing.T) {
	store := fixtures.NewStore(t)
	engine := newEngine(store, nil)

	var invoices []string
	for i := 0; i < 3; i++ {
		o := createOrder(t, store, order.Line{ProductID: fixtures.ProductUZS, Qty: 1})
		sale, err := engine.ConfirmOrder(context.Background(), o.ID, "manager")
		require.NoError(t, err)
		invoices = append(invoices, sale.InvoiceNo)
	}
	assert.Equal(t, []string{"S-2024-000001", "S-2024-000002", "S-2024-000003"}, invoices)
}

type stubSequencer struct {
	next int64
	err  error
}

func (s *stubSequencer) Next(context.Context, int) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.next++
	return s.next, nil
}

func TestConfirmOrder_ExternalSequencer(t *testing.T) {
	store := fixtures.NewStore(t)
	engine := newEngine(store, nil, WithInvoiceSequencer(&stubSequencer{next: 41}))
	o := createOrder(t, store, order.Line{ProductID: fixtures.ProductUSD, Qty: 1})

	sale, err := engine.ConfirmOrder(context.Background(), o.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, "S-2024-000042", sale.InvoiceNo)
}

func TestConfirmOrder_SequencerFailureIsInternal(t *testing.T) {
	store := fixtures.NewStore(t)
	engine := newEngine(store, nil, WithInvoiceSequencer(&stubSequencer{err: errors.New("redis down")}))
	o := createOrder(t, store, order.Line{ProductID: fixtures.ProductUSD, Qty: 1})

	_, err := engine.ConfirmOrder(context.Background(), o.ID, "manager")
	require.ErrorIs(t, err, domain.ErrInternal)
	assert.Equal(t, int64(10), fixtures.Qty(t, store, fixtures.ProductUSD))
}

func TestConfirmOrder_Rejections(t *testing.T) {
	store := fixtures.NewStore(t)
	engine := newEngine(store, nil)

	_, err := engine.ConfirmOrder(context.Background(), "missing", "manager")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	o := createOrder(t, store, order.Line{ProductID: fixtures.ProductUZS, Qty: 1})
	_, err = engine.ConfirmOrder(context.Background(), o.ID, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = engine.CancelOrder(context.Background(), o.ID, "manager", "client changed mind")
	require.NoError(t, err)
	_, err = engine.ConfirmOrder(context.Background(), o.ID, "manager")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConfirmOrder_MissingWarehouse(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		if err := tx.Products().Create(ctx, domain.Product{
			ID: "p", Name: "Sugar", Qty: 5, SellPrice: decimal.NewFromInt(7), Currency: domain.CurrencyUSD, IsActive: true,
		}); err != nil {
			return err
		}
		return tx.Counterparties().Create(ctx, domain.Counterparty{ID: fixtures.Customer, Kind: domain.CounterpartyCustomer})
	}))
	engine := newEngine(store, nil)
	o := createOrder(t, store, order.Line{ProductID: "p", Qty: 1})

	_, err := engine.ConfirmOrder(ctx, o.ID, "manager")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "warehouse")
}

func TestCancelOrder(t *testing.T) {
	store := fixtures.NewStore(t)
	pub := &fixtures.RecordingPublisher{}
	engine := newEngine(store, pub)
	o := createOrder(t, store, order.Line{ProductID: fixtures.ProductUZS, Qty: 2})

	reason := "  " + strings.Repeat("я", 350) + "  "
	canceled, err := engine.CancelOrder(context.Background(), o.ID, "manager", reason)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCanceled, canceled.Status)
	assert.Equal(t, domain.MaxCancelReasonLen, len([]rune(canceled.CancelReason)))
	assert.Equal(t, "manager", canceled.CanceledBy)
	assert.Equal(t, fixedNow, canceled.CanceledAt)
	assert.Equal(t, int64(10), fixtures.Qty(t, store, fixtures.ProductUZS))
	assert.Equal(t, []string{domain.EventOrderCanceled}, pub.Names())

	_, err = engine.CancelOrder(context.Background(), o.ID, "manager", "again")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelOrder_ConfirmedOrderIsTerminal(t *testing.T) {
	store := fixtures.NewStore(t)
	engine := newEngine(store, nil)
	o := createOrder(t, store, order.Line{ProductID: fixtures.ProductUZS, Qty: 2})

	_, err := engine.ConfirmOrder(context.Background(), o.ID, "manager")
	require.NoError(t, err)

	_, err = engine.CancelOrder(context.Background(), o.ID, "manager", "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.OrderStatusConfirmed, loadOrder(t, store, o.ID).Status)
}

func TestCancelSale_RestocksUnreturnedQuantity(t *testing.T) {
	store := fixtures.NewStore(t)
	pub := &fixtures.RecordingPublisher{}
	engine := newEngine(store, pub)
	o := createOrder(t, store,
		order.Line{ProductID: fixtures.ProductUZS, Qty: 5},
		order.Line{ProductID: fixtures.ProductUSD, Qty: 2},
	)
	sale, err := engine.ConfirmOrder(context.Background(), o.ID, "manager")
	require.NoError(t, err)

	// два мешка уже вернули
	ctx := context.Background()
	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		if _, _, err := tx.Products().Increment(ctx, fixtures.ProductUZS, 2); err != nil {
			return err
		}
		return tx.Returns().Create(ctx, domain.SaleReturn{
			ID:          "ret-1",
			SaleID:      sale.ID,
			WarehouseID: fixtures.WarehouseUZS,
			Currency:    domain.CurrencyUZS,
			Items:       []domain.ReturnItem{{ProductID: fixtures.ProductUZS, Qty: 2}},
			RefundType:  domain.RefundNoRefund,
		})
	}))
	balanceBefore := fixtures.Counterparty(t, store, fixtures.Customer).Balance

	canceled, err := engine.CancelSale(ctx, sale.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCanceled, canceled.Status)
	assert.Equal(t, "manager", canceled.CanceledBy)

	assert.Equal(t, int64(10), fixtures.Qty(t, store, fixtures.ProductUZS))
	assert.Equal(t, int64(10), fixtures.Qty(t, store, fixtures.ProductUSD))
	assert.True(t, balanceBefore.Equal(fixtures.Counterparty(t, store, fixtures.Customer).Balance))
	assert.Equal(t, []string{domain.EventOrderConfirmed, domain.EventSaleCanceled}, pub.Names())

	_, err = engine.CancelSale(ctx, sale.ID, "manager")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, int64(10), fixtures.Qty(t, store, fixtures.ProductUZS))
}

func TestCancelSale_NotFound(t *testing.T) {
	engine := newEngine(fixtures.NewStore(t), nil)

	_, err := engine.CancelSale(context.Background(), "missing", "manager")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
