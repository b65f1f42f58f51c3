package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sujalbistaa/skyarchive/internal/store"
	"github.com/sujalbistaa/skyarchive/internal/store/mongostore"
)

const defaultMongoDB = "skyarchive"

// Open connects to the backend selected by the DATABASE_URL prefix:
// postgres://, sqlite:// or mongodb:// (mongodb+srv:// also accepted).
func Open(ctx context.Context, dbURL string, log zerolog.Logger) (store.Store, error) {
	switch {
	case strings.HasPrefix(dbURL, "mongodb://"), strings.HasPrefix(dbURL, "mongodb+srv://"):
		name := mongoDatabase(dbURL)
		log.Info().Str("database", name).Msg("connecting to MongoDB")
		st, err := mongostore.Connect(ctx, dbURL, name)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("database connection established")
		return st, nil
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		log.Info().Msg("connecting to PostgreSQL database")
		gdb, err := openGorm(postgres.Open(dbURL), 10, 100)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("database connection established")
		return store.NewGormStore(gdb), nil
	case strings.HasPrefix(dbURL, "sqlite://"):
		dsn := strings.TrimPrefix(dbURL, "sqlite://")
		log.Info().Str("path", dsn).Msg("connecting to SQLite database")
		// SQLite serialises writers; one connection avoids "database is locked".
		gdb, err := openGorm(sqlite.Open(withBusyTimeout(dsn)), 1, 1)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("database connection established")
		return store.NewGormStore(gdb), nil
	default:
		return nil, fmt.Errorf("invalid DATABASE_URL prefix %q: must start with postgres://, sqlite:// or mongodb://", prefixOf(dbURL))
	}
}

// OpenSQLite opens a SQLite file directly; used by tests and tools.
func OpenSQLite(path string) (*store.GormStore, error) {
	gdb, err := openGorm(sqlite.Open(withBusyTimeout(path)), 1, 1)
	if err != nil {
		return nil, err
	}
	return store.NewGormStore(gdb), nil
}

func openGorm(dialector gorm.Dialector, maxIdle, maxOpen int) (*gorm.DB, error) {
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return gdb, nil
}

func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

func mongoDatabase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return defaultMongoDB
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDB
}

func prefixOf(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		return raw[:i+3]
	}
	return raw
}
