package kv

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/multierr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type entry struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func (entry) TableName() string { return "kv_entries" }

// SQLite keeps each key as one row in a local database file.
type SQLite struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("kv: sqlite path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, multierr.Append(fmt.Errorf("kv: sqlite %s: error setting PRAGMA: %w", path, err), closeDB(db))
		}
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, multierr.Append(fmt.Errorf("kv: sqlite %s: migrate: %w", path, err), closeDB(db))
	}
	return &SQLite{db: db}, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLite) Get(key string) (string, error) {
	var e entry
	err := s.db.Where("key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv: get %s: %w", key, err)
	}
	return e.Value, nil
}

func (s *SQLite) Set(key, value string) error {
	e := entry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return closeDB(s.db)
}
