package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/observability"
	"github.com/MarkoPoloResearchLab/pointsledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/pointsledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// ledgerRuntime bundles the service with the connections it owns.
type ledgerRuntime struct {
	service  *ledger.Service
	clock    func() int64
	driver   string
	cleanups []func()
}

func (runtime *ledgerRuntime) Close() {
	for index := len(runtime.cleanups) - 1; index >= 0; index-- {
		runtime.cleanups[index]()
	}
}

// openRuntime opens the database, prepares the schema on sqlite and wires the service with a zap operation logger.
func openRuntime(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger, options ...ledger.ServiceOption) (*ledgerRuntime, error) {
	gormDB, closeDB, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	runtime := &ledgerRuntime{
		clock:    func() int64 { return time.Now().UTC().Unix() },
		driver:   driver,
		cleanups: []func(){func() { _ = closeDB() }},
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		runtime.Close()
		return nil, err
	}

	var store ledger.Store = gormstore.New(gormDB)
	if cfg.StoreKind == storeKindPgx {
		if driver != driverPostgres {
			runtime.Close()
			return nil, fmt.Errorf("store %q requires a postgres database url", storeKindPgx)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			runtime.Close()
			return nil, fmt.Errorf("pgx pool: %w", err)
		}
		runtime.cleanups = append(runtime.cleanups, pool.Close)
		store = pgstore.New(pool)
	}

	serviceOptions := append([]ledger.ServiceOption{
		ledger.WithOperationLogger(observability.NewZapOperationLogger(logger)),
		ledger.WithMatchingWindow(cfg.MatchingWindow),
	}, options...)
	service, err := ledger.NewService(store, runtime.clock, serviceOptions...)
	if err != nil {
		runtime.Close()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	runtime.service = service
	return runtime, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == driverSQLite {
		// sqlite allows one writer; a single connection keeps row locks meaningful.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "pointsd.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// prepareSchema migrates sqlite on startup; postgres schemas are applied with `pointsd migrate`.
func prepareSchema(db *gorm.DB, driver string) error {
	if driver != driverSQLite {
		return nil
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
