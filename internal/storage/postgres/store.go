package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	opTimeout              = 5 * time.Second
)

var errNotInitialized = errors.New("postgres store is not initialized")

// Store оборачивает SQL-подключение к PostgreSQL и реализует domain.UnitOfWork.
type Store struct {
	db        *sql.DB
	isolation sql.IsolationLevel
}

// Option настраивает Store.
type Option func(*Store)

// WithIsolation задаёт уровень изоляции единиц работы.
// По умолчанию READ COMMITTED: конкурентный доступ к заказу и продаже
// упорядочивают блокировки строк (SELECT ... FOR UPDATE).
func WithIsolation(level sql.IsolationLevel) Option {
	return func(s *Store) { s.isolation = level }
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db, isolation: sql.LevelReadCommitted}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB возвращает raw SQL DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Do выполняет fn в одной SQL-транзакции. Ошибка fn или отмена ctx откатывают все записи.
// Конфликты сериализации и дедлоки возвращаются как domain.ErrConflict.
func (s *Store) Do(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.isolation})
	if err != nil {
		return mapTxError(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgTx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return mapTxError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapTxError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// MaxInvoiceSeq возвращает наибольший порядковый номер накладной года:
// из счётчика invoice_counters или из уже записанных продаж.
func (s *Store) MaxInvoiceSeq(ctx context.Context, year int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	prefix := domain.InvoicePrefix(year)
	var seq int64
	err := s.db.QueryRowContext(queryCtx, `
		SELECT GREATEST(
			COALESCE((SELECT seq FROM invoice_counters WHERE year = $1), 0),
			COALESCE((
				SELECT MAX(CAST(substr(invoice_no, $3) AS BIGINT))
				FROM sales
				WHERE starts_with(invoice_no, $2)
			), 0)
		)
	`, year, prefix, len(prefix)+1).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max invoice seq %d: %w", year, err)
	}
	return seq, nil
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.UnitOfWork = (*Store)(nil)
