package returns

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/messaging/events"
	"github.com/vladislavdragonenkov/wholesale/internal/metrics"
	"github.com/vladislavdragonenkov/wholesale/internal/service/balance"
	"github.com/vladislavdragonenkov/wholesale/internal/service/inventory"
	"github.com/vladislavdragonenkov/wholesale/internal/service/validation"
)

// CreateReturnRequest — возврат части товара по продаже на один склад.
type CreateReturnRequest struct {
	SaleID       string       `validate:"required"`
	WarehouseID  string       `validate:"required"`
	Items        []ReturnLine `validate:"required,min=1,dive"`
	RefundType   domain.RefundType
	RefundAmount decimal.Decimal
	Actor        string `validate:"required"`
}

// ReturnLine — одна позиция возврата.
type ReturnLine struct {
	ProductID string `validate:"required"`
	Qty       int64  `validate:"gt=0"`
}

// Engine оформляет возвраты, не допуская возврата больше проданного.
type Engine struct {
	uow      domain.UnitOfWork
	stock    *inventory.StockLedger
	balances *balance.Ledger
	emitter  *events.Emitter
	logger   *log.Entry
	metrics  *metrics.LedgerMetrics
	now      func() time.Time
	newID    func() string
}

// Option настраивает Engine.
type Option func(*Engine)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов возвратов.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine создаёт движок возвратов. publisher и metrics могут быть nil.
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
		logger = log.New().WithField("component", "returns")
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

// CreateReturn проверяет позиции против проданного и уже возвращённого количества,
// возвращает товар на склад, пересчитывает статус возврата продажи и при возврате
// на баланс уменьшает долг клиента.
func (e *Engine) CreateReturn(ctx context.Context, req CreateReturnRequest) (ret domain.SaleReturn, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveOperation("create_return", started, err) }()

	if len(req.Items) == 0 {
		return domain.SaleReturn{}, domain.WrapValidation(domain.ErrItemsRequired, "return for sale %s", req.SaleID)
	}
	if err := validation.Struct(req); err != nil {
		return domain.SaleReturn{}, err
	}
	if !req.RefundType.Valid() {
		return domain.SaleReturn{}, domain.NewValidationError("unknown refund type %q", req.RefundType)
	}

	var returnStatus domain.ReturnStatus
	err = e.uow.Do(ctx, func(tx domain.Tx) error {
		sale, err := tx.Sales().GetForUpdate(ctx, req.SaleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusActive {
			return domain.NewInvalidStateError("sale", sale.ID, "cannot return goods of sale in status %s", sale.Status)
		}
		warehouse, err := tx.Warehouses().Get(ctx, req.WarehouseID)
		if err != nil {
			return err
		}

		prior, err := tx.Returns().ListBySale(ctx, sale.ID)
		if err != nil {
			return err
		}
		sold := sale.SoldQty()
		returned := domain.ReturnedQty(prior)

		items := make([]domain.ReturnItem, 0, len(req.Items))
		total := decimal.Zero
		for i, line := range req.Items {
			key := domain.StockKey{ProductID: line.ProductID, WarehouseID: warehouse.ID}
			saleLine, ok := sale.Line(key)
			if !ok {
				return domain.NewValidationError("product %s was not sold from warehouse %s", line.ProductID, warehouse.ID).AtLine(i + 1)
			}
			if line.Qty > sold[key]-returned[key] {
				return domain.WrapValidation(domain.ErrOverReturn,
					"product %s: sold %d, already returned %d, requested %d",
					line.ProductID, sold[key], returned[key], line.Qty).AtLine(i + 1)
			}
			returned[key] += line.Qty

			subtotal := saleLine.Price.Mul(decimal.NewFromInt(line.Qty))
			items = append(items, domain.ReturnItem{
				ProductID: line.ProductID,
				Qty:       line.Qty,
				Price:     saleLine.Price,
				Subtotal:  subtotal,
			})
			total = total.Add(subtotal)
		}

		if err := checkRefund(req.RefundType, req.RefundAmount, total); err != nil {
			return err
		}

		ret = domain.SaleReturn{
			ID:           e.newID(),
			SaleID:       sale.ID,
			WarehouseID:  warehouse.ID,
			Currency:     warehouse.Currency,
			Items:        items,
			RefundType:   req.RefundType,
			RefundAmount: req.RefundAmount,
			CreatedBy:    req.Actor,
			CreatedAt:    e.now(),
		}
		if err := tx.Returns().Create(ctx, ret); err != nil {
			return err
		}
		for _, item := range items {
			if _, _, err := e.stock.Restock(ctx, tx, item.ProductID, item.Qty); err != nil {
				return err
			}
		}

		// returned[key] не превышает sold[key], поэтому сумма ограничена проданным количеством.
		var totalReturned int64
		for _, qty := range returned {
			totalReturned += qty
		}
		returnStatus = domain.DeriveReturnStatus(sale.TotalQty(), totalReturned)
		if err := tx.Sales().UpdateReturnStatus(ctx, sale.ID, returnStatus); err != nil {
			return err
		}

		if req.RefundType == domain.RefundBalance && req.RefundAmount.IsPositive() {
			note := "return " + sale.InvoiceNo
			if _, err := e.balances.ApplyDelta(ctx, tx, sale.CustomerID, warehouse.Currency, req.RefundAmount, note); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = domain.Classify(err)
		e.metrics.RecordReturnRejected(string(domain.KindOf(err)))
		e.logger.WithError(err).WithField("sale_id", req.SaleID).Info("return rejected")
		return domain.SaleReturn{}, err
	}

	e.metrics.RecordReturnCreated()
	e.logger.WithFields(log.Fields{
		"return_id":     ret.ID,
		"sale_id":       ret.SaleID,
		"warehouse_id":  ret.WarehouseID,
		"refund_type":   ret.RefundType,
		"return_status": returnStatus,
	}).Info("sale return created")
	e.emitter.Emit(ctx, domain.EventSaleReturned, domain.SaleReturnedEvent{
		ReturnID:     ret.ID,
		SaleID:       ret.SaleID,
		ReturnStatus: returnStatus,
	})
	return ret, nil
}

// ListReturns возвращает все возвраты по продаже.
func (e *Engine) ListReturns(ctx context.Context, saleID string) ([]domain.SaleReturn, error) {
	var out []domain.SaleReturn
	err := e.uow.Do(ctx, func(tx domain.Tx) error {
		if _, err := tx.Sales().Get(ctx, saleID); err != nil {
			return err
		}
		var err error
		out, err = tx.Returns().ListBySale(ctx, saleID)
		return err
	})
	return out, domain.Classify(err)
}

func checkRefund(refundType domain.RefundType, amount, total decimal.Decimal) error {
	if refundType == domain.RefundNoRefund {
		if !amount.IsZero() {
			return domain.WrapValidation(domain.ErrRefundAmountInvalid, "NO_REFUND requires zero amount, got %s", amount)
		}
		return nil
	}
	if amount.IsNegative() || amount.GreaterThan(total) {
		return domain.WrapValidation(domain.ErrRefundAmountInvalid, "amount %s must be between 0 and %s", amount, total)
	}
	return nil
}
