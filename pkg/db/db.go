// Package db opens the application's SQLite store.
package db

import (
	"fmt"
	"net/url"

	"github.com/glebarez/sqlite"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Module provides the shared gorm handle.
var Module = fx.Provide(Open)

// Open opens the SQLite database in WAL mode so the scheduler's writer
// transactions do not block concurrent request-path readers.
func Open(cfg config.Config) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(DSN(cfg.DBPath)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	// One writer at a time in SQLite; a small pool still lets WAL readers
	// proceed during a write.
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(4)

	return conn, nil
}

// DSN builds the connection string with the pragmas every handle needs.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	return fmt.Sprintf("file:%s?%s", path, q.Encode())
}
