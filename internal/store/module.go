package store

import (
	"context"

	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"go.uber.org/fx"
)

func provideStore(lc fx.Lifecycle, cfg *config.DatabaseConfig) (Store, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info("Closing token store")
			return s.Close()
		},
	})
	return s, nil
}

// Module provides the configured Store and closes it on shutdown.
var Module = fx.Module("store",
	fx.Provide(provideStore),
)
