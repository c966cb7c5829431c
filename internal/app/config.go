package app

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Уровни изоляции, которые принимает WHS_POSTGRES_ISOLATION.
const (
	IsolationReadCommitted  = "read_committed"
	IsolationRepeatableRead = "repeatable_read"
	IsolationSerializable   = "serializable"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresIsolation   string

	// RedisAddr пустой: номера накладных выдаёт хранилище, outbox работает без межрепликовой блокировки.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KafkaBrokers пустой: уведомления пишутся в лог без outbox.
	KafkaBrokers       string
	KafkaTopic         string
	KafkaDLQTopic      string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPendingAge — возраст backlog, после которого /healthz отвечает degraded.
	OutboxMaxPendingAge time.Duration
	// OutboxRetention — сколько хранить отправленные и отклонённые сообщения.
	OutboxRetention time.Duration

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresIsolation:   IsolationReadCommitted,
		KafkaTopic:          "wholesale.events",
		KafkaDLQTopic:       "wholesale.dlq",
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    50 * time.Millisecond,
		OutboxMaxPendingAge: 5 * time.Minute,
		OutboxRetention:     72 * time.Hour,
		ShutdownTimeout:     5 * time.Second,
	}
}

// Validate проверяет согласованность настроек до открытия подключений.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage requires WHS_POSTGRES_DSN")
		}
		if _, err := isolationLevel(c.PostgresIsolation); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis db must be >= 0, got %d", c.RedisDB)
	}
	return nil
}

func isolationLevel(name string) (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", IsolationReadCommitted:
		return sql.LevelReadCommitted, nil
	case IsolationRepeatableRead:
		return sql.LevelRepeatableRead, nil
	case IsolationSerializable:
		return sql.LevelSerializable, nil
	default:
		return 0, fmt.Errorf("unsupported postgres isolation %q", name)
	}
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
