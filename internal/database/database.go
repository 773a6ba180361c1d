package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"ai-trader-go/internal/models"
)

// NewDatabase opens the order audit database and performs auto-migration.
// The schema is additive; existing order rows survive restarts.
func NewDatabase(dsn string) (*gorm.DB, error) {
	if dir := dsnDir(dsn); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.Order{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return db, nil
}

// dsnDir extracts the parent directory from a file-backed sqlite DSN.
// In-memory DSNs have no directory.
func dsnDir(dsn string) string {
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return ""
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return ""
	}
	return dir
}
