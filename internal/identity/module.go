package identity

import (
	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/tokens"
	"go.uber.org/fx"
)

// Module provides the OIDC verifier as the tokens.Verifier.
var Module = fx.Module("identity",
	fx.Provide(
		func(cfg *config.IdentityConfig) *OIDCVerifier {
			return NewOIDCVerifier(cfg)
		},
		fx.Annotate(
			func(v *OIDCVerifier) *OIDCVerifier { return v },
			fx.As(new(tokens.Verifier)),
		),
	),
)
