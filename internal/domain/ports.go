package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UnitOfWork выполняет fn атомарно: либо фиксируются все записи, либо ни одна.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(tx Tx) error) error
}

// Tx даёт доступ к репозиториям внутри одной единицы работы.
type Tx interface {
	Products() ProductRepository
	Warehouses() WarehouseRepository
	Orders() OrderRepository
	Sales() SaleRepository
	Returns() ReturnRepository
	Counterparties() CounterpartyRepository
	Purchases() PurchaseRepository
	Invoices() InvoiceSequencer
}

// ProductRepository хранит товары и остатки.
type ProductRepository interface {
	Create(ctx context.Context, p Product) error
	Get(ctx context.Context, id string) (Product, error)
	// DecrementIfAvailable атомарно списывает qty, только если остаток >= qty.
	// Возвращает ErrInsufficientStock или ErrNotFound.
	DecrementIfAvailable(ctx context.Context, id string, qty int64) (Product, error)
	// Increment прибавляет delta (может быть отрицательной), обрезая остаток на нуле.
	Increment(ctx context.Context, id string, delta int64) (p Product, clamped bool, err error)
	SetBuyPrice(ctx context.Context, id string, price decimal.Decimal) error
}

// WarehouseRepository хранит склады.
type WarehouseRepository interface {
	Create(ctx context.Context, w Warehouse) error
	Get(ctx context.Context, id string) (Warehouse, error)
	ByCurrency(ctx context.Context, c Currency) (Warehouse, error)
}

// OrderRepository хранит заказы.
type OrderRepository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// UpdateStatus сохраняет поля статуса, только если текущий статус равен from.
	UpdateStatus(ctx context.Context, o Order, from OrderStatus) error
}

// SaleRepository хранит продажи.
type SaleRepository interface {
	Create(ctx context.Context, s Sale) error
	Get(ctx context.Context, id string) (Sale, error)
	// GetForUpdate читает продажу с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Sale, error)
	UpdateReturnStatus(ctx context.Context, id string, status ReturnStatus) error
	// MarkCanceled отменяет продажу, только если она ACTIVE.
	MarkCanceled(ctx context.Context, id, actor string, at time.Time) error
}

// ReturnRepository хранит возвраты по продажам.
type ReturnRepository interface {
	Create(ctx context.Context, r SaleReturn) error
	ListBySale(ctx context.Context, saleID string) ([]SaleReturn, error)
}

// CounterpartyRepository хранит клиентов, поставщиков и историю их балансов.
type CounterpartyRepository interface {
	Create(ctx context.Context, c Counterparty) error
	Get(ctx context.Context, id string) (Counterparty, error)
	// AppendEntry атомарно применяет запись к балансу и добавляет её в историю.
	AppendEntry(ctx context.Context, id string, entry BalanceEntry) (Amounts, error)
}

// PurchaseRepository хранит закупки.
type PurchaseRepository interface {
	Create(ctx context.Context, p Purchase) error
	Get(ctx context.Context, id string) (Purchase, error)
	// MarkDeleted помечает закупку удалённой, только если она ACTIVE.
	MarkDeleted(ctx context.Context, id, actor string, at time.Time) error
}

// InvoiceSequencer выдаёт следующий номер накладной за год. Пропуски допустимы, повторы нет.
type InvoiceSequencer interface {
	Next(ctx context.Context, year int) (int64, error)
}

// EventPublisher отправляет уведомления наружу. Доставка не гарантируется.
type EventPublisher interface {
	Publish(ctx context.Context, name string, payload any) error
}

// OutboxPublisher публикует события из outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// DeleteProcessed удаляет до limit отправленных или отклонённых сообщений,
	// обновлённых не позже before. Pending-сообщения не трогает.
	DeleteProcessed(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
