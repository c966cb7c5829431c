package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind классифицирует ошибки ядра.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindInvalidState      ErrorKind = "invalid_state"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindConflict          ErrorKind = "conflict"
	KindInternal          ErrorKind = "internal"
)

var (
	// ErrValidation — входные данные нарушают бизнес-правила.
	ErrValidation = errors.New("validation error")
	// ErrNotFound — сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState — операция недопустима в текущем статусе.
	ErrInvalidState = errors.New("invalid state")
	// ErrInsufficientStock — на складе не хватает товара.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict — конкурентная транзакция помешала фиксации.
	ErrConflict = errors.New("conflict")
	// ErrInternal — непредвиденная ошибка хранилища или инфраструктуры.
	ErrInternal = errors.New("internal error")

	// Ошибка пустого списка позиций.
	ErrItemsRequired = errors.New("at least one item is required")
	// Ошибка некорректного количества (<= 0).
	ErrQtyInvalid = errors.New("qty must be greater than zero")
	// Ошибка неизвестной валюты.
	ErrCurrencyInvalid = errors.New("currency must be UZS or USD")
	// Ошибка некорректной суммы возврата денег.
	ErrRefundAmountInvalid = errors.New("refund amount is out of range")
	// Ошибка превышения проданного количества при возврате.
	ErrOverReturn = errors.New("return exceeds sold quantity")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:        ErrValidation,
	KindNotFound:          ErrNotFound,
	KindInvalidState:      ErrInvalidState,
	KindInsufficientStock: ErrInsufficientStock,
	KindConflict:          ErrConflict,
	KindInternal:          ErrInternal,
}

// Error — типизированная ошибка с указанием сущности и строки запроса.
// errors.Is(err, ErrNotFound) и т.п. сравнивает по Kind.
type Error struct {
	Kind   ErrorKind
	Entity string
	ID     string
	// Line — номер позиции запроса (с 1), 0 если не относится к позиции.
	Line int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Line > 0 {
		fmt.Fprintf(&b, ": line %d", e.Line)
	}
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is сопоставляет ошибку с sentinel-ошибкой её вида.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// AtLine возвращает копию ошибки с номером позиции.
func (e *Error) AtLine(line int) *Error {
	cp := *e
	cp.Line = line
	return &cp
}

// NewValidationError создаёт ошибку валидации.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// WrapValidation оборачивает конкретную причину валидации.
func WrapValidation(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// NewNotFoundError сообщает об отсутствии сущности.
func NewNotFoundError(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Msg: "not found"}
}

// NewInvalidStateError сообщает о недопустимом переходе статуса.
func NewInvalidStateError(entity, id, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Entity: entity, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// NewInsufficientStockError сообщает о нехватке остатка товара.
func NewInsufficientStockError(productID string, requested, available int64) *Error {
	return &Error{
		Kind:   KindInsufficientStock,
		Entity: "product",
		ID:     productID,
		Msg:    fmt.Sprintf("requested %d, available %d", requested, available),
	}
}

// NewConflictError сообщает о конфликте конкурентных транзакций.
func NewConflictError(cause error) *Error {
	return &Error{Kind: KindConflict, Msg: "concurrent update, transaction aborted", Err: cause}
}

// NewInternalError оборачивает непредвиденную ошибку.
func NewInternalError(cause error) *Error {
	return &Error{Kind: KindInternal, Err: cause}
}

// KindOf возвращает вид ошибки; неизвестные ошибки считаются internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Classify гарантирует, что наружу уходит *Error.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return NewInternalError(err)
}

// AtLine добавляет номер позиции к *Error; остальные ошибки возвращаются как есть.
func AtLine(err error, line int) error {
	var de *Error
	if errors.As(err, &de) && de.Line == 0 {
		return de.AtLine(line)
	}
	return err
}
