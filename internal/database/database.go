package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DriverPostgres selects the Postgres dialector.
	DriverPostgres = "postgres"
	// DriverSQLite selects the pure-Go SQLite dialector.
	DriverSQLite = "sqlite"

	sqliteForeignKeysPragma = "_pragma=foreign_keys(1)"
)

var (
	// ErrUnsupportedDriver indicates a driver name other than postgres or sqlite.
	ErrUnsupportedDriver = errors.New("database: unsupported driver")
	errMissingDSN        = errors.New("database: dsn is required")
)

// Options configures the connection pool and the gorm logger.
type Options struct {
	Driver                 string
	DSN                    string
	MaxOpenConns           int
	MaxIdleConns           int
	ConnMaxLifetimeMinutes int
	LogLevel               string
}

// Open connects to the configured store and brings its schema up to date.
func Open(options Options, zapLogger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(options.DSN) == "" {
		return nil, errMissingDSN
	}

	driver := strings.ToLower(strings.TrimSpace(options.Driver))
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(options.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(sqliteDSN(options.DSN))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, options.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(options.LogLevel)),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection also keeps in-memory databases alive.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if options.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(options.MaxOpenConns)
		}
		if options.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(options.MaxIdleConns)
		}
	}
	if options.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(options.ConnMaxLifetimeMinutes) * time.Minute)
	}

	if err := Migrate(db, zapLogger); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if zapLogger != nil {
		zapLogger.Info("database initialized", zap.String("driver", driver))
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + sqliteForeignKeysPragma
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
