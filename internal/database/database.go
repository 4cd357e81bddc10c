// Package database manages the sqlite connection shared by all modules.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var db *gorm.DB

// Initialize opens the sqlite database at the given path, creating parent
// directories as needed.
func Initialize(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db = conn
	return nil
}

// InitializeInMemory opens an in-memory database. Intended for tests.
func InitializeInMemory() error {
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open in-memory database: %w", err)
	}

	db = conn
	return nil
}

// GetDB returns the shared database handle, or nil before Initialize.
func GetDB() *gorm.DB {
	return db
}
