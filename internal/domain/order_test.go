package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

// helper для создания заказа с позициями в обеих валютах.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:         "order-1",
		CustomerID: "customer-1",
		AgentID:    "agent-1",
		Status:     domain.OrderStatusNew,
		Items: []domain.OrderItem{
			{Line: 1, ProductID: "p-a", Currency: domain.CurrencyUZS, Qty: 3, Price: decimal.NewFromInt(1000), Subtotal: decimal.NewFromInt(3000)},
			{Line: 2, ProductID: "p-b", Currency: domain.CurrencyUSD, Qty: 2, Price: decimal.NewFromInt(5), Subtotal: decimal.NewFromInt(10)},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderConfirm_FromNew(t *testing.T) {
	order := makeOrder()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := order.Confirm("manager-1", "sale-1", at); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", order.Status)
	}
	if order.SaleID != "sale-1" || order.ConfirmedBy != "manager-1" || !order.ConfirmedAt.Equal(at) {
		t.Fatalf("confirmation fields not recorded: %+v", order)
	}
	if order.Version != 1 {
		t.Fatalf("expected version 1, got %d", order.Version)
	}
}

func TestOrderTransitions_FromTerminalRejected(t *testing.T) {
	cases := []struct {
		name   string
		status domain.OrderStatus
		act    func(o *domain.Order) error
	}{
		{
			name:   "confirm confirmed",
			status: domain.OrderStatusConfirmed,
			act:    func(o *domain.Order) error { return o.Confirm("m", "s", time.Now()) },
		},
		{
			name:   "confirm canceled",
			status: domain.OrderStatusCanceled,
			act:    func(o *domain.Order) error { return o.Confirm("m", "s", time.Now()) },
		},
		{
			name:   "cancel confirmed",
			status: domain.OrderStatusConfirmed,
			act:    func(o *domain.Order) error { return o.Cancel("m", "late", time.Now()) },
		},
		{
			name:   "cancel canceled",
			status: domain.OrderStatusCanceled,
			act:    func(o *domain.Order) error { return o.Cancel("m", "twice", time.Now()) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			order.Status = tc.status
			err := tc.act(&order)
			if !errors.Is(err, domain.ErrInvalidState) {
				t.Fatalf("expected invalid state, got %v", err)
			}
			if order.Status != tc.status {
				t.Fatalf("status must not change, got %s", order.Status)
			}
		})
	}
}

func TestOrderCancel_TruncatesReason(t *testing.T) {
	order := makeOrder()
	reason := "  " + strings.Repeat("я", domain.MaxCancelReasonLen+50) + "  "

	if err := order.Cancel("manager-1", reason, time.Now()); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got := len([]rune(order.CancelReason)); got != domain.MaxCancelReasonLen {
		t.Fatalf("expected reason of %d runes, got %d", domain.MaxCancelReasonLen, got)
	}
	if order.CanceledBy != "manager-1" {
		t.Fatalf("expected actor recorded, got %q", order.CanceledBy)
	}
}

func TestOrderCurrencies_FixedOrder(t *testing.T) {
	order := makeOrder()
	order.Items[0], order.Items[1] = order.Items[1], order.Items[0]

	got := order.Currencies()
	if len(got) != 2 || got[0] != domain.CurrencyUZS || got[1] != domain.CurrencyUSD {
		t.Fatalf("unexpected currencies %v", got)
	}
}

func TestCloneOrder_DoesNotShareItems(t *testing.T) {
	order := makeOrder()
	clone := domain.CloneOrder(order)
	clone.Items[0].Qty = 99

	if order.Items[0].Qty == 99 {
		t.Fatal("clone shares items with original")
	}
}
