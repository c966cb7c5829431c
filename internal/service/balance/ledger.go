package balance

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/metrics"
)

// Ledger ведёт балансы контрагентов как журнал только на добавление.
//
// Знак суммы: положительная сумма означает поступившую оплату и уменьшает задолженность;
// отрицательная означает новый долг и увеличивает её. balance[cur] -= signedAmount.
type Ledger struct {
	logger  *log.Entry
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger создаёт журнал балансов. metrics может быть nil.
func NewLedger(logger *log.Entry, m *metrics.LedgerMetrics, opts ...Option) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "balance-ledger")
	}
	l := &Ledger{logger: logger, metrics: m, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyDelta добавляет запись в историю и меняет баланс в той же единице работы.
// Вызывается только с открытой транзакцией: отдельно от бизнес-операции баланс не меняется.
func (l *Ledger) ApplyDelta(ctx context.Context, tx domain.Tx, counterpartyID string, currency domain.Currency, signedAmount decimal.Decimal, note string) (domain.Amounts, error) {
	if tx == nil {
		return domain.Amounts{}, domain.NewInternalError(errNoTx)
	}
	if !currency.Valid() {
		return domain.Amounts{}, domain.WrapValidation(domain.ErrCurrencyInvalid, "counterparty %s", counterpartyID)
	}
	if signedAmount.IsZero() {
		return domain.Amounts{}, domain.NewValidationError("balance delta for %s must be non-zero", counterpartyID)
	}

	entry := domain.NewBalanceEntry(currency, signedAmount, strings.TrimSpace(note), l.now())
	balance, err := tx.Counterparties().AppendEntry(ctx, counterpartyID, entry)
	if err != nil {
		return domain.Amounts{}, err
	}

	l.metrics.RecordBalanceEntry(string(currency), string(entry.Direction))
	l.logger.WithFields(log.Fields{
		"counterparty_id": counterpartyID,
		"currency":        currency,
		"direction":       entry.Direction,
		"amount":          entry.Amount.String(),
		"balance":         balance.Get(currency).String(),
	}).Debug("balance entry appended")

	return balance, nil
}

// Replay восстанавливает баланс из начального значения и истории.
func Replay(opening domain.Amounts, history []domain.BalanceEntry) domain.Amounts {
	return domain.ReplayBalance(opening, history)
}

// Verify проверяет, что сохранённый баланс совпадает с историей.
func Verify(c domain.Counterparty) error {
	replayed := Replay(c.OpeningBalance, c.History)
	if !replayed.Equal(c.Balance) {
		return domain.NewInternalError(&driftError{id: c.ID, stored: c.Balance, replayed: replayed})
	}
	return nil
}
