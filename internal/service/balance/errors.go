package balance

import (
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

var errNoTx = errors.New("balance change requires an open unit of work")

type driftError struct {
	id       string
	stored   domain.Amounts
	replayed domain.Amounts
}

func (e *driftError) Error() string {
	return fmt.Sprintf("counterparty %s balance drift: stored UZS=%s USD=%s, history UZS=%s USD=%s",
		e.id, e.stored.UZS, e.stored.USD, e.replayed.UZS, e.replayed.USD)
}
