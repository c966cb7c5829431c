package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

const saleColumns = `id, invoice_no, order_id, customer_id, return_status, status,
	created_by, created_at, canceled_by, canceled_at`

type saleRepository struct {
	q querier
}

func (r saleRepository) Create(ctx context.Context, s domain.Sale) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		s.ID, s.InvoiceNo, s.OrderID, s.CustomerID, string(s.ReturnStatus), string(s.Status),
		s.CreatedBy, s.CreatedAt, s.CanceledBy, nullTime(s.CanceledAt),
	)
	if err != nil {
		switch violatedConstraint(err) {
		case "":
			return fmt.Errorf("insert sale: %w", err)
		case "sales_invoice_no_key":
			return duplicate("invoice", s.InvoiceNo)
		case "sales_order_id_key":
			return duplicate("sale for order", s.OrderID)
		default:
			return duplicate("sale", s.ID)
		}
	}

	for _, item := range s.Items {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, line, product_id, name, unit, warehouse_id, currency, qty, price, subtotal
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			s.ID, item.Line, item.ProductID, item.Name, item.Unit, item.WarehouseID,
			string(item.Currency), item.Qty, item.Price, item.Subtotal,
		); err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}

	for _, c := range domain.Currencies {
		t := s.Totals.Get(c)
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO sale_totals (
				sale_id, currency, subtotal, discount, grand_total, paid_amount, debt_amount
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, s.ID, string(c), t.Subtotal, t.Discount, t.GrandTotal, t.PaidAmount, t.DebtAmount); err != nil {
			return fmt.Errorf("insert sale totals: %w", err)
		}
	}
	return nil
}

func (r saleRepository) Get(ctx context.Context, id string) (domain.Sale, error) {
	return r.get(ctx, id, "")
}

func (r saleRepository) GetForUpdate(ctx context.Context, id string) (domain.Sale, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r saleRepository) get(ctx context.Context, id, lock string) (domain.Sale, error) {
	var (
		s                    domain.Sale
		returnStatus, status string
		canceledAt           sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`+lock, id).Scan(
		&s.ID, &s.InvoiceNo, &s.OrderID, &s.CustomerID, &returnStatus, &status,
		&s.CreatedBy, &s.CreatedAt, &s.CanceledBy, &canceledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.NewNotFoundError("sale", id)
		}
		return domain.Sale{}, fmt.Errorf("select sale: %w", err)
	}
	s.ReturnStatus = domain.ReturnStatus(returnStatus)
	s.Status = domain.SaleStatus(status)
	s.CreatedAt = s.CreatedAt.UTC()
	s.CanceledAt = timeOf(canceledAt)

	if s.Items, err = r.loadItems(ctx, s.ID); err != nil {
		return domain.Sale{}, err
	}
	if s.Totals, err = r.loadTotals(ctx, s.ID); err != nil {
		return domain.Sale{}, err
	}
	return s, nil
}

func (r saleRepository) UpdateReturnStatus(ctx context.Context, id string, status domain.ReturnStatus) error {
	res, err := r.q.ExecContext(ctx, `UPDATE sales SET return_status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update sale return status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewNotFoundError("sale", id)
	}
	return nil
}

func (r saleRepository) MarkCanceled(ctx context.Context, id, actor string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE sales
		SET status = 'CANCELED', canceled_by = $2, canceled_at = $3
		WHERE id = $1
		  AND status = 'ACTIVE'
	`, id, actor, at)
	if err != nil {
		return fmt.Errorf("cancel sale: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	found, err := exists(ctx, r.q, "sales", id)
	if err != nil {
		return fmt.Errorf("check sale exists: %w", err)
	}
	if !found {
		return domain.NewNotFoundError("sale", id)
	}
	return domain.NewInvalidStateError("sale", id, "sale is not active")
}

func (r saleRepository) loadItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT line, product_id, name, unit, warehouse_id, currency, qty, price, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0)
	for rows.Next() {
		var (
			item     domain.SaleItem
			currency string
		)
		if err := rows.Scan(
			&item.Line, &item.ProductID, &item.Name, &item.Unit, &item.WarehouseID,
			&currency, &item.Qty, &item.Price, &item.Subtotal,
		); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		item.Currency = domain.Currency(currency)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}
	return items, nil
}

func (r saleRepository) loadTotals(ctx context.Context, saleID string) (domain.CurrencyTotals, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT currency, subtotal, discount, grand_total, paid_amount, debt_amount
		FROM sale_totals
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return domain.CurrencyTotals{}, fmt.Errorf("load sale totals: %w", err)
	}
	defer rows.Close()

	var totals domain.CurrencyTotals
	for rows.Next() {
		var (
			currency string
			t        domain.CurrencyTotal
		)
		if err := rows.Scan(&currency, &t.Subtotal, &t.Discount, &t.GrandTotal, &t.PaidAmount, &t.DebtAmount); err != nil {
			return domain.CurrencyTotals{}, fmt.Errorf("scan sale totals: %w", err)
		}
		totals.Set(domain.Currency(currency), t)
	}
	if err := rows.Err(); err != nil {
		return domain.CurrencyTotals{}, fmt.Errorf("iterate sale totals: %w", err)
	}
	return totals, nil
}

type returnRepository struct {
	q querier
}

func (r returnRepository) Create(ctx context.Context, ret domain.SaleReturn) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sale_returns (
			id, sale_id, warehouse_id, currency, refund_type, refund_amount, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		ret.ID, ret.SaleID, ret.WarehouseID, string(ret.Currency), string(ret.RefundType),
		ret.RefundAmount, ret.CreatedBy, ret.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("return", ret.ID)
		}
		return fmt.Errorf("insert sale return: %w", err)
	}

	for i, item := range ret.Items {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO sale_return_items (return_id, line, product_id, qty, price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ret.ID, i+1, item.ProductID, item.Qty, item.Price, item.Subtotal); err != nil {
			return fmt.Errorf("insert sale return item: %w", err)
		}
	}
	return nil
}

// ListBySale читает возвраты в порядке создания. Строки грузятся вторым запросом:
// соединение транзакции не допускает вложенных открытых курсоров.
func (r returnRepository) ListBySale(ctx context.Context, saleID string) ([]domain.SaleReturn, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, sale_id, warehouse_id, currency, refund_type, refund_amount, created_by, created_at
		FROM sale_returns
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("list sale returns: %w", err)
	}

	var (
		out   []domain.SaleReturn
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			ret                  domain.SaleReturn
			currency, refundType string
		)
		if err := rows.Scan(
			&ret.ID, &ret.SaleID, &ret.WarehouseID, &currency, &refundType,
			&ret.RefundAmount, &ret.CreatedBy, &ret.CreatedAt,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan sale return: %w", err)
		}
		ret.Currency = domain.Currency(currency)
		ret.RefundType = domain.RefundType(refundType)
		ret.CreatedAt = ret.CreatedAt.UTC()
		index[ret.ID] = len(out)
		out = append(out, ret)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate sale returns: %w", err)
	}
	_ = rows.Close()
	if len(out) == 0 {
		return nil, nil
	}

	itemRows, err := r.q.QueryContext(ctx, `
		SELECT i.return_id, i.product_id, i.qty, i.price, i.subtotal
		FROM sale_return_items i
		JOIN sale_returns r ON r.id = i.return_id
		WHERE r.sale_id = $1
		ORDER BY i.return_id, i.line
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale return items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			returnID string
			item     domain.ReturnItem
		)
		if err := itemRows.Scan(&returnID, &item.ProductID, &item.Qty, &item.Price, &item.Subtotal); err != nil {
			return nil, fmt.Errorf("scan sale return item: %w", err)
		}
		if i, ok := index[returnID]; ok {
			out[i].Items = append(out[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale return items: %w", err)
	}
	return out, nil
}

var (
	_ domain.SaleRepository   = saleRepository{}
	_ domain.ReturnRepository = returnRepository{}
)
