package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"votechain/storage"
)

// Store persists profiles and sessions through gorm.
type Store struct {
	db *gorm.DB
}

// OpenStore connects to the workflow database and migrates it. driver is
// "sqlite" or "postgres".
func OpenStore(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		resolved, err := storage.FileDSN(dsn)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(resolved)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported verification driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if dialector.Name() == "sqlite" {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return NewStore(db)
}

// NewStore wraps an existing handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("gorm handle required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) ProfileByUser(ctx context.Context, userID string) (*VoterProfile, error) {
	var profile VoterProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Store) CreateProfile(ctx context.Context, profile *VoterProfile) error {
	err := s.db.WithContext(ctx).Create(profile).Error
	if err == nil {
		return nil
	}
	if isDuplicate(err) {
		if _, lookupErr := s.ProfileByUser(ctx, profile.UserID); lookupErr == nil {
			return ErrProfileExists
		}
		return ErrVoterIDTaken
	}
	return err
}

// Sessions returns the user's sessions newest first.
func (s *Store) Sessions(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&sessions).Error
	return sessions, err
}

// RecentSessions returns up to limit sessions across all users, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	var sessions []Session
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&sessions).Error
	return sessions, err
}

// LatestSession returns the user's current session.
func (s *Store) LatestSession(ctx context.Context, userID string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Advance marks current with status (when non-empty) and inserts next (when
// non-nil) in one transaction.
func (s *Store) Advance(ctx context.Context, current *Session, status Status, next *Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if current != nil && status != "" {
			if err := tx.Model(&Session{}).Where("id = ?", current.ID).Update("status", status).Error; err != nil {
				return err
			}
			current.Status = status
		}
		if next != nil {
			if err := tx.Create(next).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveOTP stores the digest and expiry of the code issued for session.
func (s *Store) SaveOTP(ctx context.Context, session *Session) error {
	return s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", session.ID).Updates(map[string]any{
		"otp_digest":     session.OTPDigest,
		"otp_expires_at": session.OTPExpiresAt,
	}).Error
}

// CompleteOTP clears the stored code and marks the session verified.
func (s *Store) CompleteOTP(ctx context.Context, session *Session) error {
	err := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", session.ID).Updates(map[string]any{
		"status":         StatusVerified,
		"otp_digest":     "",
		"otp_expires_at": nil,
	}).Error
	if err != nil {
		return err
	}
	session.Status = StatusVerified
	session.OTPDigest = ""
	session.OTPExpiresAt = nil
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
