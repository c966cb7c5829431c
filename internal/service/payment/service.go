package payment

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/metrics"
	"github.com/vladislavdragonenkov/wholesale/internal/service/balance"
)

// Receipt — результат проведения оплаты.
type Receipt struct {
	CounterpartyID string
	Currency       domain.Currency
	Amount         decimal.Decimal
	Balance        domain.Amounts
}

// Service проводит денежные оплаты от клиентов и поставщикам через журнал балансов.
type Service struct {
	uow      domain.UnitOfWork
	balances *balance.Ledger
	logger   *log.Entry
	metrics  *metrics.LedgerMetrics
}

// NewService создаёт сервис оплат. metrics может быть nil.
func NewService(uow domain.UnitOfWork, balances *balance.Ledger, logger *log.Entry, m *metrics.LedgerMetrics) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "payment-service")
	}
	return &Service{uow: uow, balances: balances, logger: logger, metrics: m}
}

// RecordCustomerPayment проводит оплату от клиента; долг клиента уменьшается.
func (s *Service) RecordCustomerPayment(ctx context.Context, customerID string, currency domain.Currency, amount decimal.Decimal, note string) (Receipt, error) {
	return s.record(ctx, "customer_payment", domain.CounterpartyCustomer, customerID, currency, amount, note)
}

// RecordSupplierPayment проводит оплату поставщику; наш долг перед ним уменьшается.
func (s *Service) RecordSupplierPayment(ctx context.Context, supplierID string, currency domain.Currency, amount decimal.Decimal, note string) (Receipt, error) {
	return s.record(ctx, "supplier_payment", domain.CounterpartySupplier, supplierID, currency, amount, note)
}

func (s *Service) record(
	ctx context.Context,
	operation string,
	kind domain.CounterpartyKind,
	counterpartyID string,
	currency domain.Currency,
	amount decimal.Decimal,
	note string,
) (receipt Receipt, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(operation, started, err) }()

	if strings.TrimSpace(counterpartyID) == "" {
		return Receipt{}, domain.NewValidationError("counterparty id is required")
	}
	if !amount.IsPositive() {
		return Receipt{}, domain.NewValidationError("payment amount must be positive, got %s", amount)
	}
	if !currency.Valid() {
		return Receipt{}, domain.WrapValidation(domain.ErrCurrencyInvalid, "payment from %s", counterpartyID)
	}
	if strings.TrimSpace(note) == "" {
		note = "payment"
	}

	err = s.uow.Do(ctx, func(tx domain.Tx) error {
		c, err := tx.Counterparties().Get(ctx, counterpartyID)
		if err != nil {
			return err
		}
		if c.Kind != kind {
			return domain.NewValidationError("counterparty %s is a %s, expected %s", c.ID, c.Kind, kind)
		}
		balance, err := s.balances.ApplyDelta(ctx, tx, c.ID, currency, amount, note)
		if err != nil {
			return err
		}
		receipt = Receipt{CounterpartyID: c.ID, Currency: currency, Amount: amount, Balance: balance}
		return nil
	})
	if err != nil {
		return Receipt{}, domain.Classify(err)
	}

	s.logger.WithFields(log.Fields{
		"counterparty_id": counterpartyID,
		"kind":            kind,
		"currency":        currency,
		"amount":          amount.String(),
	}).Info("payment recorded")
	return receipt, nil
}
