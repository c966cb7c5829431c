package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Схема описана встроенными файлами NNNN_name.up.sql / NNNN_name.down.sql.
// Журнал применённых версий лежит в schema_migrations, изменения схемы
// выполняются под advisory lock, каждая версия в своей транзакции.

const (
	schemaFilesGlob = "sql/migrations/*.sql"
	schemaLockKey   = int64(0x77686c73)
	schemaJournal   = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	schemaFiles embed.FS

	schemaFileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

// schemaStep — одна версия схемы с SQL обоих направлений.
type schemaStep struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (s schemaStep) label() string {
	return fmt.Sprintf("%04d_%s", s.Version, s.Name)
}

// MigrationState описывает положение базы относительно встроенных миграций.
type MigrationState struct {
	Version int64
	Applied int
	Pending []string
}

// schemaPlan сопоставляет встроенные версии с журналом базы.
type schemaPlan struct {
	steps   []schemaStep
	applied []int64
}

func newSchemaPlan(steps []schemaStep, applied []int64) schemaPlan {
	sorted := append([]int64(nil), applied...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return schemaPlan{steps: steps, applied: sorted}
}

func (p schemaPlan) isApplied(version int64) bool {
	i := sort.Search(len(p.applied), func(i int) bool { return p.applied[i] >= version })
	return i < len(p.applied) && p.applied[i] == version
}

func (p schemaPlan) state() MigrationState {
	st := MigrationState{Applied: len(p.applied)}
	if n := len(p.applied); n > 0 {
		st.Version = p.applied[n-1]
	}
	for _, step := range p.steps {
		if !p.isApplied(step.Version) {
			st.Pending = append(st.Pending, step.label())
		}
	}
	return st
}

// next возвращает очередные шаги в порядке выполнения.
// Для up limit<=0 означает все неприменённые версии, для down — одну.
func (p schemaPlan) next(direction migrationDirection, limit int) ([]schemaStep, error) {
	switch direction {
	case migrationUp:
		var batch []schemaStep
		for _, step := range p.steps {
			if p.isApplied(step.Version) {
				continue
			}
			batch = append(batch, step)
			if limit > 0 && len(batch) == limit {
				break
			}
		}
		return batch, nil
	case migrationDown:
		if limit <= 0 {
			limit = 1
		}
		byVersion := make(map[int64]schemaStep, len(p.steps))
		for _, step := range p.steps {
			byVersion[step.Version] = step
		}
		var batch []schemaStep
		for i := len(p.applied) - 1; i >= 0 && len(batch) < limit; i-- {
			step, ok := byVersion[p.applied[i]]
			if !ok {
				return nil, fmt.Errorf("applied migration %d has no embedded down file", p.applied[i])
			}
			batch = append(batch, step)
		}
		return batch, nil
	default:
		return nil, fmt.Errorf("unsupported migration direction %q", direction)
	}
}

// MigrateUp применяет up-миграции. steps=0 применяет все доступные.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции, steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationState возвращает текущую версию, число применённых
// и список ожидающих миграций. Журнал не создаётся и не блокируется.
func (s *Store) MigrationState(ctx context.Context) (MigrationState, error) {
	var state MigrationState
	err := s.withSchemaPlan(ctx, false, func(_ *sql.Conn, plan schemaPlan) error {
		state = plan.state()
		return nil
	})
	return state, err
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	return s.withSchemaPlan(ctx, true, func(conn *sql.Conn, plan schemaPlan) error {
		batch, err := plan.next(direction, steps)
		if err != nil {
			return err
		}
		for _, step := range batch {
			if err := runSchemaStep(ctx, conn, step, direction); err != nil {
				return err
			}
		}
		return nil
	})
}

// withSchemaPlan загружает встроенные миграции и журнал на одном соединении.
// exclusive берёт advisory lock и создаёт журнал при отсутствии.
func (s *Store) withSchemaPlan(ctx context.Context, exclusive bool, fn func(*sql.Conn, schemaPlan) error) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	steps, err := loadSchemaSteps(schemaFiles)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if exclusive {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, schemaLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			_, _ = conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaLockKey)
		}()

		if _, err := conn.ExecContext(ctx, schemaJournal); err != nil {
			return fmt.Errorf("ensure schema_migrations: %w", err)
		}
	}

	applied, err := readSchemaJournal(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, newSchemaPlan(steps, applied))
}

func readSchemaJournal(ctx context.Context, conn *sql.Conn) ([]int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := conn.QueryRowContext(queryCtx, `SELECT to_regclass('schema_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check schema_migrations: %w", err)
	}
	if !exists {
		return nil, nil
	}

	rows, err := conn.QueryContext(queryCtx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var applied []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied = append(applied, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return applied, nil
}

func runSchemaStep(ctx context.Context, conn *sql.Conn, step schemaStep, direction migrationDirection) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s %s: %w", step.label(), direction, err)
	}
	defer func() { _ = tx.Rollback() }()

	body, record := step.Up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`
	args := []any{step.Version, step.Name}
	if direction == migrationDown {
		body, record = step.Down, `DELETE FROM schema_migrations WHERE version = $1`
		args = args[:1]
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("migration %s %s: %w", step.label(), direction, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record migration %s %s: %w", step.label(), direction, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s %s: %w", step.label(), direction, err)
	}
	return nil
}

// loadSchemaSteps собирает пары up/down из fsys по возрастанию версии.
func loadSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	files, err := fs.Glob(fsys, schemaFilesGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations match %s", schemaFilesGlob)
	}

	byVersion := make(map[int64]*schemaStep)
	for _, file := range files {
		base := path.Base(file)
		match := schemaFileName.FindStringSubmatch(base)
		if match == nil {
			return nil, fmt.Errorf("migration file %q does not match NNNN_name.(up|down).sql", base)
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration file %q has invalid version", base)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", base, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file %q is empty", base)
		}

		step, ok := byVersion[version]
		if !ok {
			step = &schemaStep{Version: version, Name: match[2]}
			byVersion[version] = step
		} else if step.Name != match[2] {
			return nil, fmt.Errorf("migration version %d is named both %q and %q", version, step.Name, match[2])
		}
		if migrationDirection(match[3]) == migrationUp {
			step.Up = body
		} else {
			step.Down = body
		}
	}

	steps := make([]schemaStep, 0, len(byVersion))
	for _, step := range byVersion {
		switch {
		case step.Up == "":
			return nil, fmt.Errorf("migration %s has no up file", step.label())
		case step.Down == "":
			return nil, fmt.Errorf("migration %s has no down file", step.label())
		}
		steps = append(steps, *step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}
