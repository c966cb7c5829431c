package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	"github.com/vladislavdragonenkov/wholesale/internal/service/outbox"
)

const (
	defaultPingTimeout = 3 * time.Second
	invoiceKeyPrefix   = "invoice:seq:"
)

var errNotInitialized = errors.New("redis store is not initialized")

// Store держит клиента Redis и клиента распределённых блокировок.
type Store struct {
	client redis.UniversalClient
	locker *redislock.Client
}

// Open подключается к Redis и проверяет доступность.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client), nil
}

// New оборачивает готового клиента.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client, locker: redislock.New(client)}
}

// Ping проверяет доступность Redis.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errNotInitialized
	}
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиента.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// InvoiceSequencer возвращает счётчик номеров накладных на INCR.
// floor может быть nil: тогда счётчик не сверяется с хранилищем.
func (s *Store) InvoiceSequencer(floor InvoiceFloor) *InvoiceSequencer {
	return &InvoiceSequencer{client: s.client, floor: floor}
}

// Locker возвращает блокировку цикла outbox.
func (s *Store) Locker() *Locker {
	return &Locker{client: s.locker}
}

// InvoiceFloor сообщает наибольший номер накладной года, уже записанный в хранилище.
type InvoiceFloor interface {
	MaxInvoiceSeq(ctx context.Context, year int) (int64, error)
}

// raiseInvoiceSeq поднимает счётчик до ARGV[1], никогда не опуская его.
var raiseInvoiceSeq = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call('SET', KEYS[1], floor)
	return floor
end
return current
`)

// InvoiceSequencer выдаёт номера накладных атомарным INCR по ключу года.
// Номер, взятый в откатившейся транзакции, не возвращается: пропуски допустимы.
// Если ключ пропал (FLUSHALL, Redis без persistence), счётчик поднимается
// до номера из floor, чтобы не выдать уже занятую накладную.
type InvoiceSequencer struct {
	client redis.UniversalClient
	floor  InvoiceFloor
}

func (s *InvoiceSequencer) Next(ctx context.Context, year int) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errNotInitialized
	}
	seq, err := s.client.Incr(ctx, invoiceKey(year)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr invoice seq %d: %w", year, err)
	}
	if seq != 1 || s.floor == nil {
		return seq, nil
	}

	// Ключ создан этим INCR: счётчик мог потеряться.
	floor, err := s.raise(ctx, year)
	if err != nil {
		return 0, err
	}
	if floor < seq {
		return seq, nil
	}
	seq, err = s.client.Incr(ctx, invoiceKey(year)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr invoice seq %d: %w", year, err)
	}
	return seq, nil
}

// Seed поднимает счётчик года до последнего номера в хранилище.
// Вызывается при старте; существующий больший счётчик не меняется.
func (s *InvoiceSequencer) Seed(ctx context.Context, year int) error {
	if s == nil || s.client == nil {
		return errNotInitialized
	}
	if s.floor == nil {
		return nil
	}
	_, err := s.raise(ctx, year)
	return err
}

// raise возвращает номер из хранилища, до которого поднят счётчик.
func (s *InvoiceSequencer) raise(ctx context.Context, year int) (int64, error) {
	floor, err := s.floor.MaxInvoiceSeq(ctx, year)
	if err != nil {
		return 0, fmt.Errorf("load invoice floor %d: %w", year, err)
	}
	if err := raiseInvoiceSeq.Run(ctx, s.client, []string{invoiceKey(year)}, floor).Err(); err != nil {
		return 0, fmt.Errorf("raise invoice seq %d: %w", year, err)
	}
	return floor, nil
}

func invoiceKey(year int) string {
	return invoiceKeyPrefix + strconv.Itoa(year)
}

// Locker реализует outbox.Locker поверх redislock.
type Locker struct {
	client *redislock.Client
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (outbox.Lock, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, errNotInitialized
	}
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return lock, true, nil
}

var (
	_ domain.InvoiceSequencer = (*InvoiceSequencer)(nil)
	_ outbox.Locker           = (*Locker)(nil)
)
