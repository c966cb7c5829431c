package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

// Store — in-memory хранилище для локальной разработки и тестов.
// Единицы работы выполняются строго по одной, записи видны другим только после фиксации.
type Store struct {
	mu sync.Mutex

	products       *table[domain.Product]
	warehouses     *table[domain.Warehouse]
	orders         *table[domain.Order]
	sales          *table[domain.Sale]
	returns        *table[domain.SaleReturn]
	counterparties *table[domain.Counterparty]
	purchases      *table[domain.Purchase]
	invoiceSeq     map[int]int64
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		products:       newTable(func(p domain.Product) domain.Product { return p }),
		warehouses:     newTable(func(w domain.Warehouse) domain.Warehouse { return w }),
		orders:         newTable(domain.CloneOrder),
		sales:          newTable(domain.CloneSale),
		returns:        newTable(domain.CloneSaleReturn),
		counterparties: newTable(domain.CloneCounterparty),
		purchases:      newTable(domain.ClonePurchase),
		invoiceSeq:     make(map[int]int64),
	}
}

// Do выполняет fn в единице работы. Ошибка из fn отбрасывает все записи.
func (s *Store) Do(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &memTx{
		products:       s.products.stage(),
		warehouses:     s.warehouses.stage(),
		orders:         s.orders.stage(),
		sales:          s.sales.stage(),
		returns:        s.returns.stage(),
		counterparties: s.counterparties.stage(),
		purchases:      s.purchases.stage(),
		invoiceBase:    s.invoiceSeq,
		invoiceSeq:     make(map[int]int64),
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.commit()
	return nil
}

// Ping всегда успешен: хранилище в памяти процесса.
func (s *Store) Ping(context.Context) error { return nil }

type memTx struct {
	products       *staged[domain.Product]
	warehouses     *staged[domain.Warehouse]
	orders         *staged[domain.Order]
	sales          *staged[domain.Sale]
	returns        *staged[domain.SaleReturn]
	counterparties *staged[domain.Counterparty]
	purchases      *staged[domain.Purchase]
	invoiceBase    map[int]int64
	invoiceSeq     map[int]int64
}

func (t *memTx) Products() domain.ProductRepository { return productRepository{t.products} }
func (t *memTx) Warehouses() domain.WarehouseRepository { return warehouseRepository{t.warehouses} }
func (t *memTx) Orders() domain.OrderRepository { return orderRepository{t.orders} }
func (t *memTx) Sales() domain.SaleRepository { return saleRepository{t.sales} }
func (t *memTx) Returns() domain.ReturnRepository { return returnRepository{t.returns} }
func (t *memTx) Counterparties() domain.CounterpartyRepository { return counterpartyRepository{t.counterparties} }
func (t *memTx) Purchases() domain.PurchaseRepository { return purchaseRepository{t.purchases} }
func (t *memTx) Invoices() domain.InvoiceSequencer { return invoiceSequencer{t} }

func (t *memTx) commit() {
	t.products.commit()
	t.warehouses.commit()
	t.orders.commit()
	t.sales.commit()
	t.returns.commit()
	t.counterparties.commit()
	t.purchases.commit()
	for year, seq := range t.invoiceSeq {
		t.invoiceBase[year] = seq
	}
}

type invoiceSequencer struct{ t *memTx }

// Next увеличивает счётчик года; при откате единицы работы номер не расходуется.
func (s invoiceSequencer) Next(_ context.Context, year int) (int64, error) {
	seq, ok := s.t.invoiceSeq[year]
	if !ok {
		seq = s.t.invoiceBase[year]
	}
	seq++
	s.t.invoiceSeq[year] = seq
	return seq, nil
}

var (
	_ domain.UnitOfWork       = (*Store)(nil)
	_ domain.Tx               = (*memTx)(nil)
	_ domain.InvoiceSequencer = invoiceSequencer{}
)
