// Package storage provides the local key-value store backing entity caches
// and the sync queue.
//
// Each logical key is an independent row; the queue blob additionally uses
// the version column for compare-and-swap writes so two concurrent
// load-modify-persist cycles cannot silently drop each other's changes.
//
// # Usage
//
//	store, err := storage.Open("./syncbridge.db")
//	value, err := store.Get("userData")
package storage

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrVersionConflict is returned by SetVersioned when the stored version no
// longer matches the expected one.
var ErrVersionConflict = errors.New("storage: version conflict")

// Entry is a single persisted key-value pair.
type Entry struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     string
	Version   int64
	UpdatedAt time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (Entry) TableName() string { return "kv_entries" }

// Store handles all key-value persistence operations.
type Store struct {
	db *gorm.DB
}

// Open creates a store backed by a SQLite database at the given path,
// migrating the schema if needed.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage database: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate storage schema: %w", err)
	}

	log.Printf("Local store initialized at %s", path)
	return &Store{db: db}, nil
}

// NewStore wraps an existing gorm connection. Used by tests.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Get retrieves the value for a key. A missing key yields "" with no error.
func (s *Store) Get(key string) (string, error) {
	var entry Entry
	err := s.db.Where("key = ?", key).First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// GetVersioned retrieves a value along with its version. A missing key
// yields ("", 0, nil); version 0 is reserved for "not present".
func (s *Store) GetVersioned(key string) (string, int64, error) {
	var entry Entry
	err := s.db.Where("key = ?", key).First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return entry.Value, entry.Version, nil
}

// Set creates or overwrites a key unconditionally.
func (s *Store) Set(key, value string) error {
	var entry Entry
	result := s.db.Where("key = ?", key).First(&entry)

	if result.Error == gorm.ErrRecordNotFound {
		entry = Entry{
			Key:     key,
			Value:   value,
			Version: 1,
		}
		return s.db.Create(&entry).Error
	} else if result.Error != nil {
		return result.Error
	}

	entry.Value = value
	entry.Version++
	return s.db.Save(&entry).Error
}

// SetVersioned writes a key only if its stored version still equals
// expected. Pass expected == 0 to create a key that must not exist yet.
// Returns ErrVersionConflict when another writer got there first.
func (s *Store) SetVersioned(key, value string, expected int64) error {
	if expected == 0 {
		entry := Entry{
			Key:     key,
			Value:   value,
			Version: 1,
		}
		if err := s.db.Create(&entry).Error; err != nil {
			// A duplicate key means the row appeared since we read version 0.
			return ErrVersionConflict
		}
		return nil
	}

	result := s.db.Model(&Entry{}).
		Where("key = ? AND version = ?", key, expected).
		Updates(map[string]any{
			"value":      value,
			"version":    expected + 1,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Remove deletes a key. Removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	return s.db.Where("key = ?", key).Delete(&Entry{}).Error
}

// Clear deletes every key. Destructive; used for full app-data reset.
func (s *Store) Clear() error {
	return s.db.Where("1 = 1").Delete(&Entry{}).Error
}
