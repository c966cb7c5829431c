package memory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

func duplicate(entity, id string) error {
	return domain.NewConflictError(fmt.Errorf("%s %s already exists", entity, id))
}

type productRepository struct{ rows *staged[domain.Product] }

func (r productRepository) Create(_ context.Context, p domain.Product) error {
	if _, ok := r.rows.get(p.ID); ok {
		return duplicate("product", p.ID)
	}
	r.rows.put(p.ID, p)
	return nil
}

func (r productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	p, ok := r.rows.get(id)
	if !ok {
		return domain.Product{}, domain.NewNotFoundError("product", id)
	}
	return p, nil
}

// DecrementIfAvailable сравнивает и списывает под блокировкой единицы работы.
func (r productRepository) DecrementIfAvailable(_ context.Context, id string, qty int64) (domain.Product, error) {
	p, ok := r.rows.get(id)
	if !ok {
		return domain.Product{}, domain.NewNotFoundError("product", id)
	}
	if p.Qty < qty {
		return domain.Product{}, domain.NewInsufficientStockError(id, qty, p.Qty)
	}
	p.Qty -= qty
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	r.rows.put(id, p)
	return p, nil
}

func (r productRepository) Increment(_ context.Context, id string, delta int64) (domain.Product, bool, error) {
	p, ok := r.rows.get(id)
	if !ok {
		return domain.Product{}, false, domain.NewNotFoundError("product", id)
	}
	if delta > 0 && p.Qty > math.MaxInt64-delta {
		return domain.Product{}, false, domain.NewValidationError("product %s: qty %d cannot grow by %d", id, p.Qty, delta)
	}
	clamped := false
	p.Qty += delta
	if p.Qty < 0 {
		p.Qty = 0
		clamped = true
	}
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	r.rows.put(id, p)
	return p, clamped, nil
}

func (r productRepository) SetBuyPrice(_ context.Context, id string, price decimal.Decimal) error {
	p, ok := r.rows.get(id)
	if !ok {
		return domain.NewNotFoundError("product", id)
	}
	p.BuyPrice = price
	p.UpdatedAt = time.Now().UTC()
	r.rows.put(id, p)
	return nil
}

type warehouseRepository struct{ rows *staged[domain.Warehouse] }

func (r warehouseRepository) Create(ctx context.Context, w domain.Warehouse) error {
	if _, ok := r.rows.get(w.ID); ok {
		return duplicate("warehouse", w.ID)
	}
	if _, err := r.ByCurrency(ctx, w.Currency); err == nil {
		return domain.NewValidationError("warehouse for %s already exists", w.Currency)
	}
	r.rows.put(w.ID, w)
	return nil
}

func (r warehouseRepository) Get(_ context.Context, id string) (domain.Warehouse, error) {
	w, ok := r.rows.get(id)
	if !ok {
		return domain.Warehouse{}, domain.NewNotFoundError("warehouse", id)
	}
	return w, nil
}

func (r warehouseRepository) ByCurrency(_ context.Context, c domain.Currency) (domain.Warehouse, error) {
	var (
		found domain.Warehouse
		ok    bool
	)
	r.rows.scan(func(w domain.Warehouse) bool {
		if w.Currency == c {
			found, ok = w, true
			return false
		}
		return true
	})
	if !ok {
		return domain.Warehouse{}, domain.NewNotFoundError("warehouse", string(c))
	}
	return found, nil
}

type orderRepository struct{ rows *staged[domain.Order] }

func (r orderRepository) Create(_ context.Context, o domain.Order) error {
	if _, ok := r.rows.get(o.ID); ok {
		return duplicate("order", o.ID)
	}
	r.rows.put(o.ID, o)
	return nil
}

func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	o, ok := r.rows.get(id)
	if !ok {
		return domain.Order{}, domain.NewNotFoundError("order", id)
	}
	return o, nil
}

// GetForUpdate совпадает с Get: единицы работы уже выполняются по одной.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepository) UpdateStatus(_ context.Context, o domain.Order, from domain.OrderStatus) error {
	current, ok := r.rows.get(o.ID)
	if !ok {
		return domain.NewNotFoundError("order", o.ID)
	}
	if current.Status != from {
		return domain.NewInvalidStateError("order", o.ID, "expected status %s, got %s", from, current.Status)
	}
	r.rows.put(o.ID, o)
	return nil
}

type saleRepository struct{ rows *staged[domain.Sale] }

func (r saleRepository) Create(_ context.Context, s domain.Sale) error {
	if _, ok := r.rows.get(s.ID); ok {
		return duplicate("sale", s.ID)
	}
	dup := false
	r.rows.scan(func(existing domain.Sale) bool {
		dup = existing.InvoiceNo == s.InvoiceNo
		return !dup
	})
	if dup {
		return duplicate("invoice", s.InvoiceNo)
	}
	r.rows.put(s.ID, s)
	return nil
}

func (r saleRepository) Get(_ context.Context, id string) (domain.Sale, error) {
	s, ok := r.rows.get(id)
	if !ok {
		return domain.Sale{}, domain.NewNotFoundError("sale", id)
	}
	return s, nil
}

// GetForUpdate совпадает с Get: единицы работы уже выполняются по одной.
func (r saleRepository) GetForUpdate(ctx context.Context, id string) (domain.Sale, error) {
	return r.Get(ctx, id)
}

func (r saleRepository) UpdateReturnStatus(_ context.Context, id string, status domain.ReturnStatus) error {
	s, ok := r.rows.get(id)
	if !ok {
		return domain.NewNotFoundError("sale", id)
	}
	s.ReturnStatus = status
	r.rows.put(id, s)
	return nil
}

func (r saleRepository) MarkCanceled(_ context.Context, id, actor string, at time.Time) error {
	s, ok := r.rows.get(id)
	if !ok {
		return domain.NewNotFoundError("sale", id)
	}
	if s.Status != domain.SaleStatusActive {
		return domain.NewInvalidStateError("sale", id, "cannot cancel sale in status %s", s.Status)
	}
	s.Status = domain.SaleStatusCanceled
	s.CanceledBy = actor
	s.CanceledAt = at
	r.rows.put(id, s)
	return nil
}

type returnRepository struct{ rows *staged[domain.SaleReturn] }

func (r returnRepository) Create(_ context.Context, ret domain.SaleReturn) error {
	if _, ok := r.rows.get(ret.ID); ok {
		return duplicate("return", ret.ID)
	}
	r.rows.put(ret.ID, ret)
	return nil
}

func (r returnRepository) ListBySale(_ context.Context, saleID string) ([]domain.SaleReturn, error) {
	var out []domain.SaleReturn
	r.rows.scan(func(ret domain.SaleReturn) bool {
		if ret.SaleID == saleID {
			out = append(out, ret)
		}
		return true
	})
	return out, nil
}

type counterpartyRepository struct{ rows *staged[domain.Counterparty] }

func (r counterpartyRepository) Create(_ context.Context, c domain.Counterparty) error {
	if _, ok := r.rows.get(c.ID); ok {
		return duplicate("counterparty", c.ID)
	}
	if len(c.History) == 0 {
		c.Balance = c.OpeningBalance
	}
	r.rows.put(c.ID, c)
	return nil
}

func (r counterpartyRepository) Get(_ context.Context, id string) (domain.Counterparty, error) {
	c, ok := r.rows.get(id)
	if !ok {
		return domain.Counterparty{}, domain.NewNotFoundError("counterparty", id)
	}
	return c, nil
}

func (r counterpartyRepository) AppendEntry(_ context.Context, id string, entry domain.BalanceEntry) (domain.Amounts, error) {
	c, ok := r.rows.get(id)
	if !ok {
		return domain.Amounts{}, domain.NewNotFoundError("counterparty", id)
	}
	entry.Seq = int64(len(c.History)) + 1
	c.Balance.Add(entry.Currency, entry.Signed().Neg())
	c.History = append(c.History, entry)
	c.Version++
	r.rows.put(id, c)
	return c.Balance, nil
}

type purchaseRepository struct{ rows *staged[domain.Purchase] }

func (r purchaseRepository) Create(_ context.Context, p domain.Purchase) error {
	if _, ok := r.rows.get(p.ID); ok {
		return duplicate("purchase", p.ID)
	}
	r.rows.put(p.ID, p)
	return nil
}

func (r purchaseRepository) Get(_ context.Context, id string) (domain.Purchase, error) {
	p, ok := r.rows.get(id)
	if !ok {
		return domain.Purchase{}, domain.NewNotFoundError("purchase", id)
	}
	return p, nil
}

func (r purchaseRepository) MarkDeleted(_ context.Context, id, actor string, at time.Time) error {
	p, ok := r.rows.get(id)
	if !ok {
		return domain.NewNotFoundError("purchase", id)
	}
	if p.Status != domain.PurchaseStatusActive {
		return domain.NewInvalidStateError("purchase", id, "cannot delete purchase in status %s", p.Status)
	}
	p.Status = domain.PurchaseStatusDeleted
	p.DeletedBy = actor
	p.DeletedAt = at
	r.rows.put(id, p)
	return nil
}

var (
	_ domain.ProductRepository      = productRepository{}
	_ domain.WarehouseRepository    = warehouseRepository{}
	_ domain.OrderRepository        = orderRepository{}
	_ domain.SaleRepository         = saleRepository{}
	_ domain.ReturnRepository       = returnRepository{}
	_ domain.CounterpartyRepository = counterpartyRepository{}
	_ domain.PurchaseRepository     = purchaseRepository{}
)
