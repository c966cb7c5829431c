package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

type purchaseRepository struct {
	q querier
}

func (r purchaseRepository) Create(ctx context.Context, p domain.Purchase) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO purchases (
			id, supplier_id, warehouse_id, currency, total, status, created_by, created_at, deleted_by, deleted_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		p.ID, p.SupplierID, p.WarehouseID, string(p.Currency), p.Total, string(p.Status),
		p.CreatedBy, p.CreatedAt, p.DeletedBy, nullTime(p.DeletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("purchase", p.ID)
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	for i, item := range p.Items {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO purchase_items (purchase_id, line, product_id, name, qty, price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, p.ID, i+1, item.ProductID, item.Name, item.Qty, item.Price, item.Subtotal); err != nil {
			return fmt.Errorf("insert purchase item: %w", err)
		}
	}
	return nil
}

func (r purchaseRepository) Get(ctx context.Context, id string) (domain.Purchase, error) {
	var (
		p                domain.Purchase
		currency, status string
		deletedAt        sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, supplier_id, warehouse_id, currency, total, status, created_by, created_at, deleted_by, deleted_at
		FROM purchases
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.SupplierID, &p.WarehouseID, &currency, &p.Total, &status,
		&p.CreatedBy, &p.CreatedAt, &p.DeletedBy, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Purchase{}, domain.NewNotFoundError("purchase", id)
		}
		return domain.Purchase{}, fmt.Errorf("select purchase: %w", err)
	}
	p.Currency = domain.Currency(currency)
	p.Status = domain.PurchaseStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.DeletedAt = timeOf(deletedAt)

	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, name, qty, price, subtotal
		FROM purchase_items
		WHERE purchase_id = $1
		ORDER BY line
	`, id)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("load purchase items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.PurchaseItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Qty, &item.Price, &item.Subtotal); err != nil {
			return domain.Purchase{}, fmt.Errorf("scan purchase item: %w", err)
		}
		p.Items = append(p.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Purchase{}, fmt.Errorf("iterate purchase items: %w", err)
	}
	return p, nil
}

func (r purchaseRepository) MarkDeleted(ctx context.Context, id, actor string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE purchases
		SET status = 'DELETED', deleted_by = $2, deleted_at = $3
		WHERE id = $1
		  AND status = 'ACTIVE'
	`, id, actor, at)
	if err != nil {
		return fmt.Errorf("delete purchase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	found, err := exists(ctx, r.q, "purchases", id)
	if err != nil {
		return fmt.Errorf("check purchase exists: %w", err)
	}
	if !found {
		return domain.NewNotFoundError("purchase", id)
	}
	return domain.NewInvalidStateError("purchase", id, "purchase is already deleted")
}

type invoiceSequencer struct {
	q querier
}

// Next увеличивает годовой счётчик в той же транзакции: откат не расходует номер.
func (s invoiceSequencer) Next(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO invoice_counters (year, seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET seq = invoice_counters.seq + 1
		RETURNING seq
	`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next invoice seq: %w", err)
	}
	return seq, nil
}

var (
	_ domain.PurchaseRepository = purchaseRepository{}
	_ domain.InvoiceSequencer   = invoiceSequencer{}
)
