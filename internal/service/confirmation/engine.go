package confirmation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/messaging/events"
	"github.com/vladislavdragonenkov/wholesale/internal/metrics"
	"github.com/vladislavdragonenkov/wholesale/internal/service/balance"
	"github.com/vladislavdragonenkov/wholesale/internal/service/inventory"
)

// Engine превращает заказ в продажу и отменяет заказы и продажи.
// Каждая операция выполняется в одной единице работы: всё или ничего.
type Engine struct {
	uow       domain.UnitOfWork
	stock     *inventory.StockLedger
	balances  *balance.Ledger
	emitter   *events.Emitter
	logger    *log.Entry
	metrics   *metrics.LedgerMetrics
	sequencer domain.InvoiceSequencer
	now       func() time.Time
	newID     func() string
}

// Option настраивает Engine.
type Option func(*Engine)

// WithInvoiceSequencer задаёт внешний счётчик номеров накладных вместо счётчика хранилища.
func WithInvoiceSequencer(seq domain.InvoiceSequencer) Option {
	return func(e *Engine) { e.sequencer = seq }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов продаж.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine создаёт движок подтверждения. publisher и metrics могут быть nil.
func NewEngine(
	uow domain.UnitOfWork,
	stock *inventory.StockLedger,
	balances *balance.Ledger,
	publisher domain.EventPublisher,
	logger *log.Entry,
	m *metrics.LedgerMetrics,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "confirmation")
	}
	e := &Engine{
		uow:      uow,
		stock:    stock,
		balances: balances,
		emitter:  events.NewEmitter(publisher, logger, m),
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ConfirmOrder списывает товар по каждой позиции, оформляет продажу с номером накладной,
// начисляет долг клиенту и переводит заказ в CONFIRMED.
func (e *Engine) ConfirmOrder(ctx context.Context, orderID, actor string) (sale domain.Sale, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("confirm_order", started, err) }()

	if strings.TrimSpace(actor) == "" {
		return domain.Sale{}, domain.NewValidationError("actor is required")
	}

	err = e.uow.Do(ctx, func(tx domain.Tx) error {
		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusNew {
			return domain.NewInvalidStateError("order", order.ID, "cannot confirm order in status %s", order.Status)
		}
		if len(order.Items) == 0 {
			return domain.WrapValidation(domain.ErrItemsRequired, "order %s", order.ID)
		}

		items := make([]domain.SaleItem, 0, len(order.Items))
		for _, item := range order.Items {
			if _, err := e.stock.ReserveAndDecrement(ctx, tx, item.ProductID, item.Qty); err != nil {
				return domain.AtLine(err, item.Line)
			}
			items = append(items, domain.SaleItem{
				Line:      item.Line,
				ProductID: item.ProductID,
				Name:      item.Name,
				Unit:      item.Unit,
				Currency:  item.Currency,
				Qty:       item.Qty,
				Price:     item.Price,
				Subtotal:  item.Subtotal,
			})
		}

		currencies := order.Currencies()
		warehouses := make(map[domain.Currency]string, len(currencies))
		for _, c := range currencies {
			w, err := tx.Warehouses().ByCurrency(ctx, c)
			if err != nil {
				if domain.KindOf(err) == domain.KindNotFound {
					return &domain.Error{Kind: domain.KindNotFound, Entity: "warehouse", ID: string(c), Msg: "warehouse missing for currency"}
				}
				return err
			}
			warehouses[c] = w.ID
		}
		for i := range items {
			items[i].WarehouseID = warehouses[items[i].Currency]
		}

		now := e.now()
		seq, err := e.sequencerFor(tx).Next(ctx, now.Year())
		if err != nil {
			return err
		}

		sale = domain.Sale{
			ID:           e.newID(),
			InvoiceNo:    domain.FormatInvoiceNo(now.Year(), seq),
			OrderID:      order.ID,
			CustomerID:   order.CustomerID,
			Items:        items,
			Totals:       totalsOf(items, currencies),
			ReturnStatus: domain.ReturnStatusNone,
			Status:       domain.SaleStatusActive,
			CreatedBy:    actor,
			CreatedAt:    now,
		}
		if err := tx.Sales().Create(ctx, sale); err != nil {
			return err
		}

		if err := order.Confirm(actor, sale.ID, now); err != nil {
			return err
		}
		if err := tx.Orders().UpdateStatus(ctx, order, domain.OrderStatusNew); err != nil {
			return err
		}

		for _, c := range currencies {
			debt := sale.Totals.Get(c).DebtAmount
			if !debt.IsPositive() {
				continue
			}
			if _, err := e.balances.ApplyDelta(ctx, tx, order.CustomerID, c, debt.Neg(), "sale "+sale.InvoiceNo); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = domain.Classify(err)
		e.metrics.RecordConfirmFailure(string(domain.KindOf(err)))
		e.logger.WithError(err).WithField("order_id", orderID).Warn("order confirmation rejected")
		return domain.Sale{}, err
	}

	e.metrics.RecordOrderConfirmed()
	e.logger.WithFields(log.Fields{
		"order_id":   orderID,
		"sale_id":    sale.ID,
		"invoice_no": sale.InvoiceNo,
		"actor":      actor,
	}).Info("order confirmed")
	e.emitter.Emit(ctx, domain.EventOrderConfirmed, domain.OrderConfirmedEvent{
		OrderID:   orderID,
		SaleID:    sale.ID,
		InvoiceNo: sale.InvoiceNo,
	})
	return sale, nil
}

// CancelOrder отменяет заказ в статусе NEW. Склад не меняется.
func (e *Engine) CancelOrder(ctx context.Context, orderID, actor, reason string) (order domain.Order, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("cancel_order", started, err) }()

	if strings.TrimSpace(actor) == "" {
		return domain.Order{}, domain.NewValidationError("actor is required")
	}

	err = e.uow.Do(ctx, func(tx domain.Tx) error {
		var err error
		order, err = tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := order.Cancel(actor, reason, e.now()); err != nil {
			return err
		}
		return tx.Orders().UpdateStatus(ctx, order, domain.OrderStatusNew)
	})
	if err != nil {
		return domain.Order{}, domain.Classify(err)
	}

	e.metrics.RecordOrderCanceled()
	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"actor":    actor,
	}).Info("order canceled")
	e.emitter.Emit(ctx, domain.EventOrderCanceled, domain.OrderCanceledEvent{
		OrderID: order.ID,
		Reason:  order.CancelReason,
	})
	return order, nil
}

// CancelSale отменяет продажу и возвращает на склад непроданный возвратами остаток.
// Балансы клиента не меняются.
func (e *Engine) CancelSale(ctx context.Context, saleID, actor string) (sale domain.Sale, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("cancel_sale", started, err) }()

	if strings.TrimSpace(actor) == "" {
		return domain.Sale{}, domain.NewValidationError("actor is required")
	}

	err = e.uow.Do(ctx, func(tx domain.Tx) error {
		var err error
		sale, err = tx.Sales().GetForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusActive {
			return domain.NewInvalidStateError("sale", sale.ID, "cannot cancel sale in status %s", sale.Status)
		}

		prior, err := tx.Returns().ListBySale(ctx, sale.ID)
		if err != nil {
			return err
		}
		returned := domain.ReturnedQty(prior)
		sold := sale.SoldQty()

		seen := make(map[domain.StockKey]bool, len(sold))
		for _, item := range sale.Items {
			key := domain.StockKey{ProductID: item.ProductID, WarehouseID: item.WarehouseID}
			if seen[key] {
				continue
			}
			seen[key] = true
			remaining := sold[key] - returned[key]
			if remaining <= 0 {
				continue
			}
			if _, _, err := e.stock.Restock(ctx, tx, item.ProductID, remaining); err != nil {
				return err
			}
		}

		now := e.now()
		if err := tx.Sales().MarkCanceled(ctx, sale.ID, actor, now); err != nil {
			return err
		}
		sale.Status = domain.SaleStatusCanceled
		sale.CanceledBy = actor
		sale.CanceledAt = now
		return nil
	})
	if err != nil {
		return domain.Sale{}, domain.Classify(err)
	}

	e.metrics.RecordSaleCanceled()
	e.logger.WithFields(log.Fields{
		"sale_id":    sale.ID,
		"invoice_no": sale.InvoiceNo,
		"actor":      actor,
	}).Info("sale canceled")
	e.emitter.Emit(ctx, domain.EventSaleCanceled, domain.SaleCanceledEvent{
		SaleID:  sale.ID,
		OrderID: sale.OrderID,
	})
	return sale, nil
}

func (e *Engine) sequencerFor(tx domain.Tx) domain.InvoiceSequencer {
	if e.sequencer != nil {
		return e.sequencer
	}
	return tx.Invoices()
}

func totalsOf(items []domain.SaleItem, currencies []domain.Currency) domain.CurrencyTotals {
	var totals domain.CurrencyTotals
	for _, c := range currencies {
		subtotal := decimal.Zero
		for _, item := range items {
			if item.Currency == c {
				subtotal = subtotal.Add(item.Subtotal)
			}
		}
		totals.Set(c, domain.NewUnpaidTotal(subtotal))
	}
	return totals
}
