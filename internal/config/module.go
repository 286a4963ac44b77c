package config

import "go.uber.org/fx"

// Module exposes the loaded config and its sections to the fx graph.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
		fx.Provide(
			func(c *Config) *LoggingConfig { return &c.Logging },
			func(c *Config) *DatabaseConfig { return &c.Database },
			func(c *Config) *IdentityConfig { return &c.Identity },
			func(c *Config) *TokenConfig { return &c.Tokens },
			func(c *Config) *CORSConfig { return &c.CORS },
			func(c *Config) *ServerConfig { return &c.Server },
		),
	)
}
