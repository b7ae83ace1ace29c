package infra

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	postgres_wrapper "github.com/joripage/brokerlink/pkg/infra/postgres"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultMigrationSource holds the journal schema.
const DefaultMigrationSource = "file://migration/sql"

// IMigrateTool runs schema migrations.
type IMigrateTool interface {
	// OpenAndMigrate connects with backoff and brings the schema up to date.
	OpenAndMigrate(cfg *postgres_wrapper.PostgresConfig, source string) (*gorm.DB, error)

	// Migrate applies every pending up migration of source.
	Migrate(source string, connStr string) error
}

type migrateTool struct {
	mu sync.Mutex
}

var (
	once      sync.Once
	singleton IMigrateTool
)

func GetMigrateTool() IMigrateTool {
	once.Do(func() {
		singleton = &migrateTool{}
	})
	return singleton
}

// Migrate is serialized so concurrent test packages do not race on the schema table.
// A dirty version is forced back one step and re-applied.
func (mt *migrateTool) Migrate(source string, connStr string) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if source == "" {
		source = DefaultMigrationSource
	}
	mg, err := migrate.New(source, connStr)
	if err != nil {
		return fmt.Errorf("create migration: %w", err)
	}
	defer mg.Close()

	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	if dirty {
		zap.S().Warnf("schema version %d is dirty, retrying it", version)
		if err := mg.Force(int(version) - 1); err != nil {
			return err
		}
	}

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	after, _, _ := mg.Version()
	zap.S().Infof("schema at version %d", after)
	return nil
}

func (mt *migrateTool) OpenAndMigrate(cfg *postgres_wrapper.PostgresConfig, source string) (*gorm.DB, error) {
	db, err := postgres_wrapper.InitPostgresWithBackoff(cfg)
	if err != nil {
		return nil, err
	}
	if err := mt.Migrate(source, cfg.MigrationConnURL); err != nil {
		return nil, err
	}
	return db, nil
}
