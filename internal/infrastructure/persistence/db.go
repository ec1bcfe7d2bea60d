package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ag3nt-run/ag3nt/internal/infrastructure/config"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/persistence/models"
)

// DBConfig names the SQL backend backing the learning store, the
// event-bus dead-letter queue, and goal rate-limit counters.
type DBConfig struct {
	Type string // sqlite, postgres
	DSN  string
}

// NewDBConnection opens the SQL backend and migrates every model this
// module persists.
func NewDBConnection(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "ag3nt.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// autoMigrate migrates the persisted learning-store, DLQ, and goal-counter
// tables.
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ActionRecordModel{},
		&models.DLQRecordModel{},
		&models.GoalCounterModel{},
	)
}
