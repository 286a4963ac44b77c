package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// GormStore keeps tokens in a SQL database through gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// OpenGormStore connects to the configured database and migrates the schema.
func OpenGormStore(cfg *config.DatabaseConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("driver %q is not backed by gorm", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(logger.GetLogger()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == config.DriverSQLite {
		// sqlite allows a single writer; serializing at the pool avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}

	s, err := NewGormStore(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("Token store ready", zap.String("driver", string(cfg.Driver)))
	return s, nil
}

// NewGormStore wraps an open connection and migrates the token table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.EphemeralToken{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ephemeral_token: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Insert(ctx context.Context, token *models.EphemeralToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("insert ephemeral token: %w", err)
	}
	return nil
}

// TakeByValue reads and deletes the row in one transaction. The delete is
// keyed by id and only the transaction that removes the row returns it.
func (s *GormStore) TakeByValue(ctx context.Context, value string) (*models.EphemeralToken, error) {
	var token models.EphemeralToken

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("value = ?", value).Take(&token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("select ephemeral token: %w", err)
		}

		res := tx.Where("id = ?", token.ID).Delete(&models.EphemeralToken{})
		if res.Error != nil {
			return fmt.Errorf("delete ephemeral token: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *GormStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&models.EphemeralToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.EphemeralToken{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return n, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE 23505")
}
