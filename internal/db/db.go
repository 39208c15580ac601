package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"showcased/internal/models"
)

// Open opens (creating if necessary) the SQLite database at dbPath and runs
// migrations. WAL mode and a busy timeout keep short synchronous calls from
// tripping over the background indexing writer.
func Open(dbPath string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer connection; SQLite serializes writes anyway and a single
	// connection avoids SQLITE_BUSY churn between the indexer and callers.
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(
		&models.ConfigEntry{},
		&models.Showcase{},
		&models.IndexedMessage{},
		&models.IndexingRun{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return gdb, nil
}
