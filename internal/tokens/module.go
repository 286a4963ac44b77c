package tokens

import (
	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/store"
	"go.uber.org/fx"
)

func provideService(v Verifier, st store.Store, cfg *config.TokenConfig) *Service {
	return NewService(v, st, cfg.TTL)
}

// Module provides the token Service. A Verifier and a store.Store must be
// supplied by other modules.
var Module = fx.Module("tokens",
	fx.Provide(provideService),
)
