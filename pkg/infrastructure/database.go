package infrastructure

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseConfig selects the relational store backing the analytical
// projection and the consumer checkpoints.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

// NewDatabase opens a GORM connection for the configured driver. SQLite uses
// the pure-Go dialector so tests and local runs need no cgo.
func NewDatabase(config DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch config.Driver {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres":
		dialector = postgres.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// MigrateProjectionTables creates or updates every relational table this
// process owns: the four analytical projection tables and the consumer's
// shard checkpoints. Projections are derived state; dropping and replaying
// them from the log is always safe.
func MigrateProjectionTables(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&AccountRecord{},
		&TransactionRecord{},
		&AccountSummaryRecord{},
		&DailyBalanceRecord{},
		&ShardCheckpointRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate projection tables: %w", err)
	}
	return nil
}
