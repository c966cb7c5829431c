package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/wholesale/internal/health"
	"github.com/vladislavdragonenkov/wholesale/internal/messaging/events"
	"github.com/vladislavdragonenkov/wholesale/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/wholesale/internal/metrics"
	"github.com/vladislavdragonenkov/wholesale/internal/service/balance"
	"github.com/vladislavdragonenkov/wholesale/internal/service/confirmation"
	"github.com/vladislavdragonenkov/wholesale/internal/service/inventory"
	"github.com/vladislavdragonenkov/wholesale/internal/service/order"
	"github.com/vladislavdragonenkov/wholesale/internal/service/outbox"
	"github.com/vladislavdragonenkov/wholesale/internal/service/payment"
	"github.com/vladislavdragonenkov/wholesale/internal/service/purchase"
	"github.com/vladislavdragonenkov/wholesale/internal/service/returns"
	"github.com/vladislavdragonenkov/wholesale/internal/storage/memory"
	"github.com/vladislavdragonenkov/wholesale/internal/storage/postgres"
	"github.com/vladislavdragonenkov/wholesale/internal/storage/redisstore"
)

// Services — операции торгового ядра поверх одного хранилища.
type Services struct {
	Orders       *order.Service
	Confirmation *confirmation.Engine
	Returns      *returns.Engine
	Payments     *payment.Service
	Purchases    *purchase.Service
}

type namedCloser struct {
	name   string
	closer io.Closer
}

type runtimeDependencies struct {
	uow          domain.UnitOfWork
	outboxRepo   domain.OutboxRepository
	invoiceFloor redisstore.InvoiceFloor
	publisher    domain.EventPublisher
	producer     *kafka.Producer
	relay        *outbox.Worker
	cleaner      *outbox.Cleaner
	services     Services
	checkers     map[string]healthcheck.Checker
	closers      []namedCloser
}

// defaultWarehouses — склады, которые миграции создают в Postgres.
// In-memory хранилище получает их при старте.
var defaultWarehouses = []domain.Warehouse{
	{ID: "wh-uzs", Name: "Main UZS", Currency: domain.CurrencyUZS},
	{ID: "wh-usd", Name: "Main USD", Currency: domain.CurrencyUSD},
}

// initRuntimeDependencies собирает хранилище, брокер и сервисы по конфигурации.
// При ошибке уже открытые ресурсы закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (_ *runtimeDependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close(logger)
		}
	}()

	if err := deps.initStorage(ctx, cfg, logger); err != nil {
		return nil, err
	}

	var (
		locker    outbox.Locker
		sequencer domain.InvoiceSequencer
	)
	if cfg.RedisAddr != "" {
		redisStore, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		deps.closers = append(deps.closers, namedCloser{name: "redis", closer: redisStore})
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", redisStore)
		locker = redisStore.Locker()
		redisSequencer := redisStore.InvoiceSequencer(deps.invoiceFloor)
		if err := redisSequencer.Seed(ctx, time.Now().Year()); err != nil {
			return nil, fmt.Errorf("seed invoice sequence: %w", err)
		}
		sequencer = redisSequencer
		logger.WithField("addr", cfg.RedisAddr).Info("redis connected")
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
	}
	if producer != nil {
		deps.producer = producer
		deps.publisher = outbox.NewPublisher(deps.outboxRepo)

		workerOpts := []outbox.Option{
			outbox.WithLogger(logger.WithField("component", "outbox-relay")),
			outbox.WithDLQPublisher(kafka.NewDeadLetterPublisher(producer, cfg.KafkaDLQTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		}
		if locker != nil {
			workerOpts = append(workerOpts, outbox.WithLocker(locker))
		}
		deps.relay = outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(producer, cfg.KafkaTopic), workerOpts...)
		deps.cleaner = outbox.NewCleaner(deps.outboxRepo,
			outbox.WithCleanerLogger(logger.WithField("component", "outbox-cleaner")),
			outbox.WithRetention(cfg.OutboxRetention),
		)
		deps.checkers["outbox"] = healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPendingAge)
	} else {
		deps.publisher = events.NewLogPublisher(logger.WithField("component", "events"))
	}

	deps.services = newServices(deps.uow, deps.publisher, sequencer, logger)
	return deps, nil
}

func (d *runtimeDependencies) initStorage(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		level, _ := isolationLevel(cfg.PostgresIsolation)
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithIsolation(level))
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		d.closers = append(d.closers, namedCloser{name: "postgres", closer: store})
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		d.uow = store
		d.outboxRepo = postgres.NewOutboxRepository(store)
		d.invoiceFloor = store
		d.checkers["storage"] = healthcheck.NewPingChecker("postgres", store)
		logger.WithField("isolation", cfg.PostgresIsolation).Info("postgres storage initialized")
	default:
		store := memory.NewStore()
		if err := seedWarehouses(ctx, store); err != nil {
			return fmt.Errorf("seed warehouses: %w", err)
		}
		d.uow = store
		d.outboxRepo = memory.NewOutboxRepository()
		d.checkers["storage"] = healthcheck.NewPingChecker("memory", store)
		logger.Info("in-memory storage initialized")
	}
	return nil
}

func seedWarehouses(ctx context.Context, uow domain.UnitOfWork) error {
	return uow.Do(ctx, func(tx domain.Tx) error {
		for _, w := range defaultWarehouses {
			if err := tx.Warehouses().Create(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

// newServices связывает сервисы общими леджерами остатков и балансов.
// sequencer может быть nil: тогда номер счёта выдаёт хранилище в транзакции.
func newServices(uow domain.UnitOfWork, publisher domain.EventPublisher, sequencer domain.InvoiceSequencer, logger *log.Entry) Services {
	m := metrics.NewLedgerMetrics()
	stock := inventory.NewStockLedger(logger.WithField("component", "stock"), m)
	balances := balance.NewLedger(logger.WithField("component", "balance"), m)

	var confirmOpts []confirmation.Option
	if sequencer != nil {
		confirmOpts = append(confirmOpts, confirmation.WithInvoiceSequencer(sequencer))
	}

	return Services{
		Orders:       order.NewService(uow, publisher, logger.WithField("component", "order-service"), m),
		Confirmation: confirmation.NewEngine(uow, stock, balances, publisher, logger.WithField("component", "confirmation"), m, confirmOpts...),
		Returns:      returns.NewEngine(uow, stock, balances, publisher, logger.WithField("component", "returns"), m),
		Payments:     payment.NewService(uow, balances, logger.WithField("component", "payment-service"), m),
		Purchases:    purchase.NewService(uow, stock, balances, logger.WithField("component", "purchase-service"), m),
	}
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) error {
	closeKafka(d.producer, logger)
	d.producer = nil

	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.closer.Close(); err != nil {
			logger.WithError(err).WithField("resource", c.name).Warn("failed to close resource")
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
