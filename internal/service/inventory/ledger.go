package inventory

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/metrics"
)

// StockLedger меняет остатки товаров внутри единицы работы вызывающего.
// Списание идёт одним условным обновлением строки, без внешних блокировок.
type StockLedger struct {
	logger  *log.Entry
	metrics *metrics.LedgerMetrics
}

// NewStockLedger создаёт складской журнал. metrics может быть nil.
func NewStockLedger(logger *log.Entry, m *metrics.LedgerMetrics) *StockLedger {
	if logger == nil {
		logger = log.New().WithField("component", "stock-ledger")
	}
	return &StockLedger{logger: logger, metrics: m}
}

// ReserveAndDecrement списывает qty, только если остаток не меньше qty.
// Возвращает обновлённый товар, ErrInsufficientStock или ErrNotFound.
func (l *StockLedger) ReserveAndDecrement(ctx context.Context, tx domain.Tx, productID string, qty int64) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, domain.WrapValidation(domain.ErrQtyInvalid, "product %s", productID)
	}

	product, err := tx.Products().DecrementIfAvailable(ctx, productID, qty)
	if err != nil {
		if domain.KindOf(err) == domain.KindInsufficientStock {
			l.logger.WithFields(log.Fields{
				"product_id": productID,
				"requested":  qty,
			}).Debug("stock decrement rejected")
		}
		return domain.Product{}, err
	}
	return product, nil
}

// Restock прибавляет delta к остатку. Отрицательный итог обрезается до нуля,
// что логируется и учитывается в метриках; clamped сообщает об этом вызывающему.
func (l *StockLedger) Restock(ctx context.Context, tx domain.Tx, productID string, delta int64) (domain.Product, bool, error) {
	if delta == 0 {
		product, err := tx.Products().Get(ctx, productID)
		return product, false, err
	}

	product, clamped, err := tx.Products().Increment(ctx, productID, delta)
	if err != nil {
		return domain.Product{}, false, err
	}
	if clamped {
		l.metrics.RecordStockClamp()
		l.logger.WithFields(log.Fields{
			"product_id": productID,
			"delta":      delta,
		}).Warn("restock would drive stock negative, clamped at zero")
	}
	return product, clamped, nil
}
