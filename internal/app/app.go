// Package app wires the service's modules into one fx application.
package app

import (
	"github.com/evogenom/ephemeral-auth/internal/apidoc"
	"github.com/evogenom/ephemeral-auth/internal/auth"
	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/identity"
	"github.com/evogenom/ephemeral-auth/internal/janitor"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/server"
	"github.com/evogenom/ephemeral-auth/internal/store"
	"github.com/evogenom/ephemeral-auth/internal/tokens"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"
)

// Options returns the full serve graph for cfg.
func Options(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.GetLogger().Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		config.Module(cfg),
		store.Module,
		identity.Module,
		tokens.Module,
		auth.Module,
		apidoc.Module,
		server.Module,
		janitor.Module,
	)
}
