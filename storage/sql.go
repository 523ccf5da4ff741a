package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// blockRecord is the relational row for a sealed block. Data holds the
// canonical JSON text exactly as it was hashed; jsonb would rewrite numbers.
type blockRecord struct {
	ID           int64  `gorm:"primaryKey;autoIncrement:false"`
	Hash         string `gorm:"size:64;not null;uniqueIndex"`
	PreviousHash string `gorm:"size:64;not null;uniqueIndex"`
	Data         string `gorm:"type:text;not null"`
	Timestamp    int64  `gorm:"type:integer;not null"`
	Nonce        int64  `gorm:"not null"`
}

func (blockRecord) TableName() string { return "blockchain_records" }

func (b blockRecord) toRecord() Record {
	return Record{
		ID:           b.ID,
		Hash:         b.Hash,
		PreviousHash: b.PreviousHash,
		Data:         []byte(b.Data),
		Timestamp:    b.Timestamp,
		Nonce:        b.Nonce,
	}
}

// SQLStore persists records through gorm against SQLite or PostgreSQL.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens a pure-Go SQLite database. dsn may be a path or a file: DSN.
func OpenSQLite(dsn string) (*SQLStore, error) {
	resolved, err := FileDSN(dsn)
	if err != nil {
		return nil, err
	}
	store, err := openSQL(sqlite.Open(resolved))
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	sqlDB, err := store.db.DB()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return store, nil
}

// OpenPostgres connects to PostgreSQL using a libpq style or URL DSN.
func OpenPostgres(dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	return openSQL(postgres.Open(dsn))
}

// NewSQLStore wraps an existing gorm handle and migrates the block table.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm handle required")
	}
	if err := db.AutoMigrate(&blockRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func openSQL(dialector gorm.Dialector) (*SQLStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	store, err := NewSQLStore(db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) CreateRecord(ctx context.Context, rec Record) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	row := blockRecord{
		Hash:         rec.Hash,
		PreviousHash: rec.PreviousHash,
		Data:         string(rec.Data),
		Timestamp:    rec.Timestamp,
		Nonce:        rec.Nonce,
	}
	// Positions are assigned inside the transaction rather than by a sequence
	// so a rejected insert never leaves a gap.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&blockRecord{}).Count(&count).Error; err != nil {
			return err
		}
		row.ID = count + 1
		return tx.Create(&row).Error
	})
	if err != nil {
		return Record{}, translateSQLError(err)
	}
	return row.toRecord(), nil
}

func (s *SQLStore) LatestRecord(ctx context.Context) (Record, error) {
	var row blockRecord
	if err := s.db.WithContext(ctx).Last(&row).Error; err != nil {
		return Record{}, translateSQLError(err)
	}
	return row.toRecord(), nil
}

func (s *SQLStore) RecordByHash(ctx context.Context, hash string) (Record, error) {
	var row blockRecord
	if err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&row).Error; err != nil {
		return Record{}, translateSQLError(err)
	}
	return row.toRecord(), nil
}

func (s *SQLStore) Record(ctx context.Context, position int64) (Record, error) {
	if position < 1 {
		return Record{}, ErrNotFound
	}
	var row blockRecord
	if err := s.db.WithContext(ctx).Where("id = ?", position).First(&row).Error; err != nil {
		return Record{}, translateSQLError(err)
	}
	return row.toRecord(), nil
}

func (s *SQLStore) RecordCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&blockRecord{}).Count(&count).Error; err != nil {
		return 0, translateSQLError(err)
	}
	return count, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translateSQLError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	// Older dialect versions do not translate constraint errors.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return ErrDuplicate
	}
	return err
}
