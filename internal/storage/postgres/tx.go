package postgres

import (
	"context"
	"database/sql"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

// querier — общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgTx struct {
	q querier
}

func (t *pgTx) Products() domain.ProductRepository { return productRepository{q: t.q} }
func (t *pgTx) Warehouses() domain.WarehouseRepository { return warehouseRepository{q: t.q} }
func (t *pgTx) Orders() domain.OrderRepository { return orderRepository{q: t.q} }
func (t *pgTx) Sales() domain.SaleRepository { return saleRepository{q: t.q} }
func (t *pgTx) Returns() domain.ReturnRepository { return returnRepository{q: t.q} }
func (t *pgTx) Counterparties() domain.CounterpartyRepository { return counterpartyRepository{q: t.q} }
func (t *pgTx) Purchases() domain.PurchaseRepository { return purchaseRepository{q: t.q} }
func (t *pgTx) Invoices() domain.InvoiceSequencer { return invoiceSequencer{q: t.q} }

// exists проверяет наличие строки по первичному ключу.
func exists(ctx context.Context, q querier, table, id string) (bool, error) {
	var found bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&found)
	if err != nil {
		return false, err
	}
	return found, nil
}

var _ domain.Tx = (*pgTx)(nil)
