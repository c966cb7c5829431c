package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/testutil/fixtures"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestApplyDelta_PaymentThenDebt(t *testing.T) {
	ctx := context.Background()
	store := fixtures.NewStore(t)
	ledger := NewLedger(nil, nil)

	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		_, err := ledger.ApplyDelta(ctx, tx, fixtures.Customer, domain.CurrencyUZS, dec(-1000), "opening debt")
		return err
	}))
	before := fixtures.Counterparty(t, store, fixtures.Customer)
	require.True(t, before.Balance.UZS.Equal(dec(1000)))

	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		if _, err := ledger.ApplyDelta(ctx, tx, fixtures.Customer, domain.CurrencyUZS, dec(500), "cash"); err != nil {
			return err
		}
		_, err := ledger.ApplyDelta(ctx, tx, fixtures.Customer, domain.CurrencyUZS, dec(-200), "sale")
		return err
	}))

	c := fixtures.Counterparty(t, store, fixtures.Customer)
	assert.True(t, c.Balance.UZS.Equal(dec(700)), "balance %s", c.Balance.UZS)
	require.Len(t, c.History, 3)

	payment, debt := c.History[1], c.History[2]
	assert.Equal(t, domain.DirectionPayment, payment.Direction)
	assert.True(t, payment.Amount.Equal(dec(500)))
	assert.Equal(t, domain.DirectionDebt, debt.Direction)
	assert.True(t, debt.Amount.Equal(dec(200)))

	assert.NoError(t, Verify(c))
	assert.True(t, Replay(c.OpeningBalance, c.History).UZS.Equal(dec(700)))
}

func TestApplyDelta_OpeningBalanceReplay(t *testing.T) {
	ctx := context.Background()
	store := fixtures.NewStore(t)
	ledger := NewLedger(nil, nil)

	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		return tx.Counterparties().Create(ctx, domain.Counterparty{
			ID:             "cust-opening",
			Kind:           domain.CounterpartyCustomer,
			OpeningBalance: domain.Amounts{UZS: dec(1000)},
		})
	}))
	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		if _, err := ledger.ApplyDelta(ctx, tx, "cust-opening", domain.CurrencyUZS, dec(500), ""); err != nil {
			return err
		}
		_, err := ledger.ApplyDelta(ctx, tx, "cust-opening", domain.CurrencyUZS, dec(-200), "")
		return err
	}))

	c := fixtures.Counterparty(t, store, "cust-opening")
	assert.True(t, c.Balance.UZS.Equal(dec(700)))
	assert.Len(t, c.History, 2)
	assert.True(t, c.Balance.USD.IsZero())
}

func TestApplyDelta_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		id       string
		currency domain.Currency
		amount   decimal.Decimal
		want     error
	}{
		{name: "zero amount", id: fixtures.Customer, currency: domain.CurrencyUZS, amount: decimal.Zero, want: domain.ErrValidation},
		{name: "bad currency", id: fixtures.Customer, currency: "EUR", amount: dec(1), want: domain.ErrCurrencyInvalid},
		{name: "unknown counterparty", id: "ghost", currency: domain.CurrencyUSD, amount: dec(1), want: domain.ErrNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := fixtures.NewStore(t)
			ledger := NewLedger(nil, nil)

			err := store.Do(ctx, func(tx domain.Tx) error {
				_, err := ledger.ApplyDelta(ctx, tx, tc.id, tc.currency, tc.amount, "")
				return err
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestApplyDelta_RolledBackWithUnitOfWork(t *testing.T) {
	ctx := context.Background()
	store := fixtures.NewStore(t)
	ledger := NewLedger(nil, nil)
	boom := errors.New("later step failed")

	err := store.Do(ctx, func(tx domain.Tx) error {
		if _, err := ledger.ApplyDelta(ctx, tx, fixtures.Supplier, domain.CurrencyUSD, dec(-40), "purchase"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	c := fixtures.Counterparty(t, store, fixtures.Supplier)
	assert.Empty(t, c.History)
	assert.True(t, c.Balance.USD.IsZero())
}

func TestApplyDelta_RequiresTx(t *testing.T) {
	ledger := NewLedger(nil, nil)
	_, err := ledger.ApplyDelta(context.Background(), nil, fixtures.Customer, domain.CurrencyUZS, dec(1), "")
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestVerify_DetectsDrift(t *testing.T) {
	c := domain.Counterparty{ID: "x", Balance: domain.Amounts{UZS: dec(5)}}
	assert.ErrorIs(t, Verify(c), domain.ErrInternal)
}
