package order

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/testutil/fixtures"
)

func TestCreateOrder_SnapshotsPricesAndTotals(t *testing.T) {
	store := fixtures.NewStore(t)
	pub := &fixtures.RecordingPublisher{}
	svc := NewService(store, pub, nil, nil, WithIDGenerator(func() string { return "order-1" }))

	order, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: fixtures.Customer,
		AgentID:    "agent-7",
		Items: []Line{
			{ProductID: fixtures.ProductUZS, Qty: 3},
			{ProductID: fixtures.ProductUSD, Qty: 2},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, domain.OrderStatusNew, order.Status)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 1, order.Items[0].Line)
	assert.Equal(t, "Rice 50kg", order.Items[0].Name)
	assert.True(t, order.Items[0].Subtotal.Equal(decimal.NewFromInt(3000)))
	assert.True(t, order.Totals.UZS.Equal(decimal.NewFromInt(3000)))
	assert.True(t, order.Totals.USD.Equal(decimal.NewFromInt(10)))

	// создание заказа не трогает склад
	assert.Equal(t, int64(10), fixtures.Qty(t, store, fixtures.ProductUZS))

	assert.Equal(t, []string{domain.EventOrderCreated}, pub.Names())
	assert.Equal(t, domain.OrderCreatedEvent{OrderID: "order-1", CustomerID: fixtures.Customer}, pub.Events[0].Payload)

	stored, err := svc.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.Items, stored.Items)
}

func TestCreateOrder_InvalidLineRejectsWholeOrder(t *testing.T) {
	cases := []struct {
		name     string
		items    []Line
		wantLine int
	}{
		{name: "unknown product", items: []Line{{ProductID: fixtures.ProductUZS, Qty: 1}, {ProductID: "nope", Qty: 1}}, wantLine: 2},
		{name: "inactive product", items: []Line{{ProductID: fixtures.Inactive, Qty: 1}}, wantLine: 1},
		{name: "zero qty", items: []Line{{ProductID: fixtures.ProductUZS, Qty: 1}, {ProductID: fixtures.ProductUSD, Qty: 0}}, wantLine: 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := fixtures.NewStore(t)
			pub := &fixtures.RecordingPublisher{}
			svc := NewService(store, pub, nil, nil, WithIDGenerator(func() string { return "order-x" }))

			_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
				CustomerID: fixtures.Customer,
				AgentID:    "agent-7",
				Items:      tc.items,
			})
			require.ErrorIs(t, err, domain.ErrValidation)

			var de *domain.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tc.wantLine, de.Line)
			assert.Empty(t, pub.Events)

			_, err = svc.GetOrder(context.Background(), "order-x")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestCreateOrder_ZeroSellPrice(t *testing.T) {
	store := fixtures.NewStore(t)
	ctx := context.Background()
	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		return tx.Products().Create(ctx, domain.Product{ID: "free", Currency: domain.CurrencyUSD, IsActive: true, Qty: 1})
	}))
	svc := NewService(store, nil, nil, nil)

	_, err := svc.CreateOrder(ctx, CreateOrderRequest{
		CustomerID: fixtures.Customer,
		AgentID:    "agent-1",
		Items:      []Line{{ProductID: "free", Qty: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	svc := NewService(fixtures.NewStore(t), nil, nil, nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{CustomerID: fixtures.Customer, AgentID: "a"})
	assert.ErrorIs(t, err, domain.ErrItemsRequired)
}

func TestCreateOrder_CustomerChecks(t *testing.T) {
	svc := NewService(fixtures.NewStore(t), nil, nil, nil)
	items := []Line{{ProductID: fixtures.ProductUZS, Qty: 1}}

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{CustomerID: "ghost", AgentID: "a", Items: items})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.CreateOrder(context.Background(), CreateOrderRequest{CustomerID: fixtures.Supplier, AgentID: "a", Items: items})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateOrder_PublisherFailureDoesNotFailOperation(t *testing.T) {
	store := fixtures.NewStore(t)
	pub := &fixtures.RecordingPublisher{Err: errors.New("broker unavailable")}
	svc := NewService(store, pub, nil, nil)

	order, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: fixtures.Customer,
		AgentID:    "agent-1",
		Items:      []Line{{ProductID: fixtures.ProductUSD, Qty: 1}},
	})
	require.NoError(t, err)

	_, err = svc.GetOrder(context.Background(), order.ID)
	assert.NoError(t, err)
}
