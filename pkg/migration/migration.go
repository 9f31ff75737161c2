// Package migration применяет встроенные SQL миграции через golang-migrate.
package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

const defaultMigrationsTable = "schema_migrations"

// Config описывает источник миграций.
type Config struct {
	FS    fs.FS
	Dir   string
	Table string // по умолчанию schema_migrations
}

// Migrator применяет миграции к базе из пула pgx.
type Migrator struct {
	config Config
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewMigrator(config Config, pool *pgxpool.Pool, logger zerolog.Logger) *Migrator {
	if config.Table == "" {
		config.Table = defaultMigrationsTable
	}
	return &Migrator{config: config, pool: pool, logger: logger.With().Str("component", "migrator").Logger()}
}

// Up применяет все новые миграции. Отсутствие изменений ошибкой не считается.
func (m *Migrator) Up() error {
	migrator, err := m.open()
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, verr := migrator.Version(); verr == nil {
			m.logger.Error().Uint("version", version).Bool("dirty", dirty).Err(err).Msg("migration failed")
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, _, _ := migrator.Version()
	m.logger.Info().Uint("version", version).Msg("database migrations applied")
	return nil
}

// Down откатывает все миграции.
func (m *Migrator) Down() error {
	migrator, err := m.open()
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	m.logger.Info().Msg("database migrations rolled back")
	return nil
}

// Version возвращает текущую версию схемы. Для пустой базы - 0.
func (m *Migrator) Version() (uint, bool, error) {
	migrator, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer migrator.Close()

	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	db := stdlib.OpenDBFromPool(m.pool)
	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable:       m.config.Table,
		MigrationsTableQuoted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(m.config.FS, m.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	migrator.LockTimeout = 30 * time.Second
	return migrator, nil
}
