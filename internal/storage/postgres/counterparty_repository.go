package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

type counterpartyRepository struct {
	q querier
}

func (r counterpartyRepository) Create(ctx context.Context, c domain.Counterparty) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO counterparties (
			id, kind, name, opening_uzs, opening_usd, balance_uzs, balance_usd, version
		) VALUES ($1,$2,$3,$4,$5,$4,$5,$6)
	`, c.ID, string(c.Kind), c.Name, c.OpeningBalance.UZS, c.OpeningBalance.USD, c.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("counterparty", c.ID)
		}
		return fmt.Errorf("insert counterparty: %w", err)
	}
	return nil
}

func (r counterpartyRepository) Get(ctx context.Context, id string) (domain.Counterparty, error) {
	var (
		c    domain.Counterparty
		kind string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, kind, name, opening_uzs, opening_usd, balance_uzs, balance_usd, version
		FROM counterparties
		WHERE id = $1
	`, id).Scan(
		&c.ID, &kind, &c.Name, &c.OpeningBalance.UZS, &c.OpeningBalance.USD,
		&c.Balance.UZS, &c.Balance.USD, &c.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Counterparty{}, domain.NewNotFoundError("counterparty", id)
		}
		return domain.Counterparty{}, fmt.Errorf("select counterparty: %w", err)
	}
	c.Kind = domain.CounterpartyKind(kind)

	history, err := r.loadHistory(ctx, id)
	if err != nil {
		return domain.Counterparty{}, err
	}
	c.History = history
	return c, nil
}

// AppendEntry сначала обновляет баланс, беря блокировку строки контрагента,
// и только потом вычисляет номер записи: под блокировкой MAX(seq) стабилен.
func (r counterpartyRepository) AppendEntry(ctx context.Context, id string, entry domain.BalanceEntry) (domain.Amounts, error) {
	var (
		balance domain.Amounts
		delta   = entry.Signed().Neg()
	)
	err := r.q.QueryRowContext(ctx, `
		UPDATE counterparties
		SET balance_uzs = balance_uzs + CASE WHEN $2 = 'UZS' THEN $3::NUMERIC ELSE 0 END,
		    balance_usd = balance_usd + CASE WHEN $2 = 'USD' THEN $3::NUMERIC ELSE 0 END,
		    version = version + 1
		WHERE id = $1
		RETURNING balance_uzs, balance_usd
	`, id, string(entry.Currency), delta).Scan(&balance.UZS, &balance.USD)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Amounts{}, domain.NewNotFoundError("counterparty", id)
		}
		return domain.Amounts{}, fmt.Errorf("update counterparty balance: %w", err)
	}

	if err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM balance_entries WHERE counterparty_id = $1
	`, id).Scan(&entry.Seq); err != nil {
		return domain.Amounts{}, fmt.Errorf("next balance entry seq: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO balance_entries (
			counterparty_id, seq, currency, amount, direction, note, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		id, entry.Seq, string(entry.Currency), entry.Amount, string(entry.Direction), entry.Note, entry.Date,
	); err != nil {
		return domain.Amounts{}, fmt.Errorf("insert balance entry: %w", err)
	}
	return balance, nil
}

func (r counterpartyRepository) loadHistory(ctx context.Context, id string) ([]domain.BalanceEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT seq, currency, amount, direction, note, created_at
		FROM balance_entries
		WHERE counterparty_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load balance history: %w", err)
	}
	defer rows.Close()

	var history []domain.BalanceEntry
	for rows.Next() {
		var (
			e                   domain.BalanceEntry
			currency, direction string
		)
		if err := rows.Scan(&e.Seq, &currency, &e.Amount, &direction, &e.Note, &e.Date); err != nil {
			return nil, fmt.Errorf("scan balance entry: %w", err)
		}
		e.Currency = domain.Currency(currency)
		e.Direction = domain.BalanceDirection(direction)
		e.Date = e.Date.UTC()
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance history: %w", err)
	}
	return history, nil
}

var _ domain.CounterpartyRepository = counterpartyRepository{}
