package purchase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/metrics"
	"github.com/vladislavdragonenkov/wholesale/internal/service/balance"
	"github.com/vladislavdragonenkov/wholesale/internal/service/inventory"
	"github.com/vladislavdragonenkov/wholesale/internal/service/validation"
)

// CreatePurchaseRequest — приход товара от поставщика на склад.
type CreatePurchaseRequest struct {
	SupplierID  string `validate:"required"`
	WarehouseID string `validate:"required"`
	Items       []Line `validate:"required,min=1,dive"`
	Actor       string `validate:"required"`
}

// Line — позиция закупки с ценой закупки.
type Line struct {
	ProductID string `validate:"required"`
	Qty       int64  `validate:"gt=0"`
	Price     decimal.Decimal
}

// Service оформляет и удаляет закупки. Склад и долг перед поставщиком
// меняются в одной единице работы с документом.
type Service struct {
	uow      domain.UnitOfWork
	stock    *inventory.StockLedger
	balances *balance.Ledger
	logger   *log.Entry
	metrics  *metrics.LedgerMetrics
	now      func() time.Time
	newID    func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов закупок.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService создаёт сервис закупок. metrics может быть nil.
func NewService(
	uow domain.UnitOfWork,
	stock *inventory.StockLedger,
	balances *balance.Ledger,
	logger *log.Entry,
	m *metrics.LedgerMetrics,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "purchase-service")
	}
	s := &Service{
		uow:      uow,
		stock:    stock,
		balances: balances,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePurchase приходует товар, обновляет закупочные цены и начисляет долг перед поставщиком.
func (s *Service) CreatePurchase(ctx context.Context, req CreatePurchaseRequest) (p domain.Purchase, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation("create_purchase", started, err) }()

	if len(req.Items) == 0 {
		return domain.Purchase{}, domain.WrapValidation(domain.ErrItemsRequired, "purchase from %s", req.SupplierID)
	}
	if err := validation.Struct(req); err != nil {
		return domain.Purchase{}, err
	}
	for i, line := range req.Items {
		if !line.Price.IsPositive() {
			return domain.Purchase{}, domain.NewValidationError("price must be positive, got %s", line.Price).AtLine(i + 1)
		}
	}

	err = s.uow.Do(ctx, func(tx domain.Tx) error {
		supplier, err := tx.Counterparties().Get(ctx, req.SupplierID)
		if err != nil {
			return err
		}
		if supplier.Kind != domain.CounterpartySupplier {
			return domain.NewValidationError("counterparty %s is not a supplier", supplier.ID)
		}
		warehouse, err := tx.Warehouses().Get(ctx, req.WarehouseID)
		if err != nil {
			return err
		}

		p = domain.Purchase{
			ID:          s.newID(),
			SupplierID:  supplier.ID,
			WarehouseID: warehouse.ID,
			Currency:    warehouse.Currency,
			Items:       make([]domain.PurchaseItem, 0, len(req.Items)),
			Total:       decimal.Zero,
			Status:      domain.PurchaseStatusActive,
			CreatedBy:   req.Actor,
			CreatedAt:   s.now(),
		}
		for i, line := range req.Items {
			product, err := tx.Products().Get(ctx, line.ProductID)
			if err != nil {
				return domain.AtLine(err, i+1)
			}
			if product.Currency != warehouse.Currency {
				return domain.NewValidationError("product %s is kept in %s warehouse, not %s",
					product.ID, product.Currency, warehouse.Currency).AtLine(i + 1)
			}
			subtotal := line.Price.Mul(decimal.NewFromInt(line.Qty))
			p.Items = append(p.Items, domain.PurchaseItem{
				ProductID: product.ID,
				Name:      product.Name,
				Qty:       line.Qty,
				Price:     line.Price,
				Subtotal:  subtotal,
			})
			p.Total = p.Total.Add(subtotal)
		}

		if err := tx.Purchases().Create(ctx, p); err != nil {
			return err
		}
		for _, item := range p.Items {
			if _, _, err := s.stock.Restock(ctx, tx, item.ProductID, item.Qty); err != nil {
				return err
			}
			if err := tx.Products().SetBuyPrice(ctx, item.ProductID, item.Price); err != nil {
				return err
			}
		}
		_, err = s.balances.ApplyDelta(ctx, tx, supplier.ID, p.Currency, p.Total.Neg(), "purchase "+p.ID)
		return err
	})
	if err != nil {
		return domain.Purchase{}, domain.Classify(err)
	}

	s.metrics.RecordPurchase("create")
	s.logger.WithFields(log.Fields{
		"purchase_id": p.ID,
		"supplier_id": p.SupplierID,
		"currency":    p.Currency,
		"total":       p.Total.String(),
	}).Info("purchase created")
	return p, nil
}

// DeletePurchase списывает приход обратно и снимает долг перед поставщиком.
// Остаток, ушедший в минус из-за уже проданного товара, обрезается до нуля.
func (s *Service) DeletePurchase(ctx context.Context, purchaseID, actor string) (p domain.Purchase, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation("delete_purchase", started, err) }()

	if strings.TrimSpace(actor) == "" {
		return domain.Purchase{}, domain.NewValidationError("actor is required")
	}

	var clamped []string
	err = s.uow.Do(ctx, func(tx domain.Tx) error {
		var err error
		p, err = tx.Purchases().Get(ctx, purchaseID)
		if err != nil {
			return err
		}
		if p.Status != domain.PurchaseStatusActive {
			return domain.NewInvalidStateError("purchase", p.ID, "cannot delete purchase in status %s", p.Status)
		}

		for _, item := range p.Items {
			_, wasClamped, err := s.stock.Restock(ctx, tx, item.ProductID, -item.Qty)
			if err != nil {
				return err
			}
			if wasClamped {
				clamped = append(clamped, item.ProductID)
			}
		}
		if p.Total.IsPositive() {
			if _, err := s.balances.ApplyDelta(ctx, tx, p.SupplierID, p.Currency, p.Total, "purchase deleted "+p.ID); err != nil {
				return err
			}
		}

		now := s.now()
		if err := tx.Purchases().MarkDeleted(ctx, p.ID, actor, now); err != nil {
			return err
		}
		p.Status = domain.PurchaseStatusDeleted
		p.DeletedBy = actor
		p.DeletedAt = now
		return nil
	})
	if err != nil {
		return domain.Purchase{}, domain.Classify(err)
	}

	s.metrics.RecordPurchase("delete")
	entry := s.logger.WithFields(log.Fields{
		"purchase_id": p.ID,
		"supplier_id": p.SupplierID,
		"actor":       actor,
	})
	if len(clamped) > 0 {
		entry = entry.WithField("clamped_products", clamped)
	}
	entry.Info("purchase deleted")
	return p, nil
}

// GetPurchase возвращает закупку по идентификатору.
func (s *Service) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	var p domain.Purchase
	err := s.uow.Do(ctx, func(tx domain.Tx) error {
		var err error
		p, err = tx.Purchases().Get(ctx, id)
		return err
	})
	return p, domain.Classify(err)
}
