// Package store persists ephemeral tokens.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/models"
)

var (
	// ErrNotFound is returned when no token holds the requested value, including
	// when a concurrent caller consumed it first.
	ErrNotFound = errors.New("ephemeral token not found")

	// ErrConflict is returned when an inserted value already exists.
	ErrConflict = errors.New("ephemeral token value already exists")
)

// Store is the persistence contract for ephemeral tokens.
//
// TakeByValue must be linearizable per value: among concurrent callers for the
// same value at most one receives the token, all others get ErrNotFound.
type Store interface {
	Insert(ctx context.Context, token *models.EphemeralToken) error
	TakeByValue(ctx context.Context, value string) (*models.EphemeralToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// New opens the backend selected by cfg.Driver.
func New(cfg *config.DatabaseConfig) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverSQLite, config.DriverPostgres:
		return OpenGormStore(cfg)
	case config.DriverRedis:
		return OpenRedisStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}
