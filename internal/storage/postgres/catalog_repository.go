package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

const productColumns = `id, name, unit, qty, buy_price, sell_price, currency, is_active, version, updated_at`

type productRepository struct {
	q querier
}

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var (
		p        domain.Product
		currency string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Unit, &p.Qty, &p.BuyPrice, &p.SellPrice,
		&currency, &p.IsActive, &p.Version, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.Currency = domain.Currency(currency)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r productRepository) Create(ctx context.Context, p domain.Product) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
	`, p.ID, p.Name, p.Unit, p.Qty, p.BuyPrice, p.SellPrice, string(p.Currency), p.IsActive, p.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("product", p.ID)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.NewNotFoundError("product", id)
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

// DecrementIfAvailable списывает остаток одним условным UPDATE.
// Строка блокируется до конца транзакции, поэтому параллельные списания не уходят в минус.
func (r productRepository) DecrementIfAvailable(ctx context.Context, id string, qty int64) (domain.Product, error) {
	p, err := scanProduct(r.q.QueryRowContext(ctx, `
		UPDATE products
		SET qty = qty - $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND qty >= $2
		RETURNING `+productColumns, id, qty))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("decrement product qty: %w", err)
	}

	var available int64
	err = r.q.QueryRowContext(ctx, `SELECT qty FROM products WHERE id = $1`, id).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.NewNotFoundError("product", id)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("select product qty: %w", err)
	}
	return domain.Product{}, domain.NewInsufficientStockError(id, qty, available)
}

func (r productRepository) Increment(ctx context.Context, id string, delta int64) (domain.Product, bool, error) {
	var clamped bool
	row := r.q.QueryRowContext(ctx, `
		WITH cur AS (
			SELECT id, qty FROM products WHERE id = $1 FOR UPDATE
		)
		UPDATE products p
		SET qty = GREATEST(cur.qty + $2, 0),
		    version = p.version + 1,
		    updated_at = NOW()
		FROM cur
		WHERE p.id = cur.id
		RETURNING p.id, p.name, p.unit, p.qty, p.buy_price, p.sell_price, p.currency,
		          p.is_active, p.version, p.updated_at, (cur.qty + $2) < 0
	`, id, delta)

	var (
		p        domain.Product
		currency string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Unit, &p.Qty, &p.BuyPrice, &p.SellPrice,
		&currency, &p.IsActive, &p.Version, &p.UpdatedAt, &clamped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, false, domain.NewNotFoundError("product", id)
		}
		return domain.Product{}, false, fmt.Errorf("increment product qty: %w", err)
	}
	p.Currency = domain.Currency(currency)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, clamped, nil
}

func (r productRepository) SetBuyPrice(ctx context.Context, id string, price decimal.Decimal) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE products SET buy_price = $2, updated_at = NOW() WHERE id = $1
	`, id, price)
	if err != nil {
		return fmt.Errorf("update buy price: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewNotFoundError("product", id)
	}
	return nil
}

type warehouseRepository struct {
	q querier
}

func (r warehouseRepository) Create(ctx context.Context, w domain.Warehouse) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO warehouses (id, name, currency) VALUES ($1,$2,$3)
	`, w.ID, w.Name, string(w.Currency))
	if err != nil {
		switch violatedConstraint(err) {
		case "":
			return fmt.Errorf("insert warehouse: %w", err)
		case "warehouses_currency_key":
			return domain.NewValidationError("warehouse for %s already exists", w.Currency)
		default:
			return duplicate("warehouse", w.ID)
		}
	}
	return nil
}

func (r warehouseRepository) Get(ctx context.Context, id string) (domain.Warehouse, error) {
	return r.one(ctx, `SELECT id, name, currency FROM warehouses WHERE id = $1`, "warehouse", id)
}

func (r warehouseRepository) ByCurrency(ctx context.Context, c domain.Currency) (domain.Warehouse, error) {
	return r.one(ctx, `SELECT id, name, currency FROM warehouses WHERE currency = $1`, "warehouse", string(c))
}

func (r warehouseRepository) one(ctx context.Context, query, entity, key string) (domain.Warehouse, error) {
	var (
		w        domain.Warehouse
		currency string
	)
	if err := r.q.QueryRowContext(ctx, query, key).Scan(&w.ID, &w.Name, &currency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Warehouse{}, domain.NewNotFoundError(entity, key)
		}
		return domain.Warehouse{}, fmt.Errorf("select warehouse: %w", err)
	}
	w.Currency = domain.Currency(currency)
	return w, nil
}

var (
	_ domain.ProductRepository   = productRepository{}
	_ domain.WarehouseRepository = warehouseRepository{}
)
