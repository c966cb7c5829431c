package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/messaging/events"
	"github.com/vladislavdragonenkov/wholesale/internal/metrics"
	"github.com/vladislavdragonenkov/wholesale/internal/service/validation"
)

// CreateOrderRequest — заявка агента на товары.
type CreateOrderRequest struct {
	CustomerID string `validate:"required"`
	AgentID    string `validate:"required"`
	Items      []Line `validate:"required,min=1,dive"`
}

// Line — одна позиция заявки.
type Line struct {
	ProductID string `validate:"required"`
	Qty       int64  `validate:"gt=0"`
}

// Service создаёт заказы со снимком цен и названий товаров.
type Service struct {
	uow     domain.UnitOfWork
	emitter *events.Emitter
	logger  *log.Entry
	metrics *metrics.LedgerMetrics
	now     func() time.Time
	newID   func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService создаёт сервис заказов. publisher и metrics могут быть nil.
func NewService(uow domain.UnitOfWork, publisher domain.EventPublisher, logger *log.Entry, m *metrics.LedgerMetrics, opts ...Option) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	s := &Service{
		uow:     uow,
		emitter: events.NewEmitter(publisher, logger, m),
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder проверяет позиции, фиксирует снимок товаров и сохраняет заказ в статусе NEW.
// Любая некорректная позиция отклоняет весь заказ с указанием номера строки.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (order domain.Order, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation("create_order", started, err) }()

	if len(req.Items) == 0 {
		return domain.Order{}, domain.WrapValidation(domain.ErrItemsRequired, "order for customer %s", req.CustomerID)
	}
	if err := validation.Struct(req); err != nil {
		return domain.Order{}, err
	}

	err = s.uow.Do(ctx, func(tx domain.Tx) error {
		customer, err := tx.Counterparties().Get(ctx, req.CustomerID)
		if err != nil {
			return err
		}
		if customer.Kind != domain.CounterpartyCustomer {
			return domain.NewValidationError("counterparty %s is not a customer", customer.ID)
		}

		now := s.now()
		order = domain.Order{
			ID:         s.newID(),
			CustomerID: req.CustomerID,
			AgentID:    req.AgentID,
			Items:      make([]domain.OrderItem, 0, len(req.Items)),
			Status:     domain.OrderStatusNew,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		for i, line := range req.Items {
			item, err := snapshotLine(ctx, tx, i+1, line)
			if err != nil {
				return err
			}
			order.Items = append(order.Items, item)
			order.Totals.Add(item.Currency, item.Subtotal)
		}
		return tx.Orders().Create(ctx, order)
	})
	if err != nil {
		err = domain.Classify(err)
		s.logger.WithError(err).WithField("customer_id", req.CustomerID).Info("order rejected")
		return domain.Order{}, err
	}

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"items":       len(order.Items),
	}).Info("order created")
	s.emitter.Emit(ctx, domain.EventOrderCreated, domain.OrderCreatedEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
	})
	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := s.uow.Do(ctx, func(tx domain.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, id)
		return err
	})
	return order, domain.Classify(err)
}

func snapshotLine(ctx context.Context, tx domain.Tx, line int, req Line) (domain.OrderItem, error) {
	product, err := tx.Products().Get(ctx, req.ProductID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return domain.OrderItem{}, domain.NewValidationError("product %s not found", req.ProductID).AtLine(line)
		}
		return domain.OrderItem{}, err
	}
	if !product.IsActive {
		return domain.OrderItem{}, domain.NewValidationError("product %s is inactive", product.ID).AtLine(line)
	}
	if !product.Currency.Valid() {
		return domain.OrderItem{}, domain.WrapValidation(domain.ErrCurrencyInvalid, "product %s", product.ID).AtLine(line)
	}
	if !product.SellPrice.IsPositive() {
		return domain.OrderItem{}, domain.NewValidationError("product %s has no sell price", product.ID).AtLine(line)
	}

	return domain.OrderItem{
		Line:      line,
		ProductID: product.ID,
		Name:      product.Name,
		Unit:      product.Unit,
		Currency:  product.Currency,
		Price:     product.SellPrice,
		Qty:       req.Qty,
		Subtotal:  product.SellPrice.Mul(decimal.NewFromInt(req.Qty)),
	}, nil
}
