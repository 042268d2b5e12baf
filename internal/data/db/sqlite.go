package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/nexston/bekola-backend/internal/platform/logger"
)

// OpenSQLite opens a SQLite database for local runs and tests. Row locking
// clauses are ignored by the driver; a single connection serialises writers
// instead.
func OpenSQLite(dsn string, logg *logger.Logger, silent bool) (*gorm.DB, error) {
	cfg := gormConfig()
	if silent {
		cfg.Logger = gormLogger.Default.LogMode(gormLogger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA foreign_keys = OFF").Error; err != nil {
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	if logg != nil {
		logg.With("service", "SQLite").Info("Opened SQLite database", "dsn", dsn)
	}
	return db, nil
}
