package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/platform/envutil"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	// AutoMigrate runs schema migration on open.
	AutoMigrate bool `yaml:"auto_migrate"`
}

func ConfigFromEnv() Config {
	return Config{
		Driver:      strings.ToLower(envutil.String("DB_DRIVER", DriverPostgres)),
		SQLitePath:  envutil.String("SQLITE_PATH", "bekola.db"),
		AutoMigrate: envutil.Bool("DB_AUTO_MIGRATE", true),
	}
}

// Open connects to the configured database and migrates it when asked.
func Open(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	var (
		conn *gorm.DB
		err  error
	)
	switch cfg.Driver {
	case DriverPostgres, "":
		pg, perr := NewPostgresService(log)
		if perr != nil {
			return nil, perr
		}
		conn = pg.DB()
	case DriverSQLite:
		conn, err = OpenSQLite(cfg.SQLitePath, log, false)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER=%q (allowed: postgres, sqlite)", cfg.Driver)
	}
	if cfg.AutoMigrate {
		if err := AutoMigrateAll(conn); err != nil {
			return nil, err
		}
	}
	return conn, nil
}
