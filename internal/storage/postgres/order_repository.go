package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

const orderColumns = `id, customer_id, agent_id, total_uzs, total_usd, status, sale_id,
	confirmed_by, confirmed_at, canceled_by, canceled_at, cancel_reason, version, created_at, updated_at`

type orderRepository struct {
	q querier
}

func (r orderRepository) Create(ctx context.Context, o domain.Order) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		o.ID, o.CustomerID, o.AgentID, o.Totals.UZS, o.Totals.USD, string(o.Status), o.SaleID,
		o.ConfirmedBy, nullTime(o.ConfirmedAt), o.CanceledBy, nullTime(o.CanceledAt), o.CancelReason,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("order", o.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, line, product_id, name, unit, currency, price, qty, subtotal
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			o.ID, item.Line, item.ProductID, item.Name, item.Unit, string(item.Currency),
			item.Price, item.Qty, item.Subtotal,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, "")
}

func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r orderRepository) get(ctx context.Context, id, lock string) (domain.Order, error) {
	var (
		o                       domain.Order
		status                  string
		confirmedAt, canceledAt sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+lock, id).Scan(
		&o.ID, &o.CustomerID, &o.AgentID, &o.Totals.UZS, &o.Totals.USD, &status, &o.SaleID,
		&o.ConfirmedBy, &confirmedAt, &o.CanceledBy, &canceledAt, &o.CancelReason,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.NewNotFoundError("order", id)
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	o.ConfirmedAt = timeOf(confirmedAt)
	o.CanceledAt = timeOf(canceledAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()

	items, err := r.loadItems(ctx, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items
	return o, nil
}

// UpdateStatus сохраняет переход статуса условным UPDATE по ожидаемому статусу.
func (r orderRepository) UpdateStatus(ctx context.Context, o domain.Order, from domain.OrderStatus) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    sale_id = $3,
		    confirmed_by = $4,
		    confirmed_at = $5,
		    canceled_by = $6,
		    canceled_at = $7,
		    cancel_reason = $8,
		    version = $9,
		    updated_at = $10
		WHERE id = $1
		  AND status = $11
	`,
		o.ID, string(o.Status), o.SaleID, o.ConfirmedBy, nullTime(o.ConfirmedAt),
		o.CanceledBy, nullTime(o.CanceledAt), o.CancelReason, o.Version, o.UpdatedAt, string(from),
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	found, err := exists(ctx, r.q, "orders", o.ID)
	if err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !found {
		return domain.NewNotFoundError("order", o.ID)
	}
	return domain.NewInvalidStateError("order", o.ID, "expected status %s", from)
}

func (r orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT line, product_id, name, unit, currency, price, qty, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY line
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var (
			item     domain.OrderItem
			currency string
		)
		if err := rows.Scan(
			&item.Line, &item.ProductID, &item.Name, &item.Unit, &currency,
			&item.Price, &item.Qty, &item.Subtotal,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.Currency = domain.Currency(currency)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

var _ domain.OrderRepository = orderRepository{}
