package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("ephemeral-auth version %s, commit %s, built at %s", version, commit, date)
}

// Version returns the build version
func Version() string {
	return version
}

// EnvPrefix is prepended to every environment override, e.g. EPHEMERAL_AUTH_TOKENS_TTL.
const EnvPrefix = "EPHEMERAL_AUTH"

type Config struct {
	App      AppConfig      `mapstructure:"app" yaml:"app"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Tokens   TokenConfig    `mapstructure:"tokens" yaml:"tokens"`
	CORS     CORSConfig     `mapstructure:"cors" yaml:"cors"`
}

type AppConfig struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Debug bool   `mapstructure:"debug" yaml:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level             string `mapstructure:"level" yaml:"level"`
	Format            string `mapstructure:"format" yaml:"format"`
	Color             bool   `mapstructure:"color" yaml:"color"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace" yaml:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path" yaml:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file" yaml:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console" yaml:"disable_console"`
}

// DatabaseDriver selects the token store backend.
type DatabaseDriver string

const (
	DriverSQLite   DatabaseDriver = "sqlite"
	DriverPostgres DatabaseDriver = "postgres"
	DriverMemory   DatabaseDriver = "memory"
	DriverRedis    DatabaseDriver = "redis"
)

type DatabaseConfig struct {
	Driver       DatabaseDriver `mapstructure:"driver" yaml:"driver"`
	DSN          string         `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int            `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int            `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// Validate checks the store selection without touching the identity settings,
// so maintenance commands can run without a provider configured.
func (d DatabaseConfig) Validate() error {
	switch d.Driver {
	case DriverSQLite, DriverPostgres, DriverRedis:
		if d.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", d.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver: %q", d.Driver)
	}
	return nil
}

type IdentityConfig struct {
	// DiscoveryURL points at the provider's openid-configuration document.
	DiscoveryURL     string        `mapstructure:"discovery_url" yaml:"discovery_url"`
	EndpointCacheTTL time.Duration `mapstructure:"endpoint_cache_ttl" yaml:"endpoint_cache_ttl"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type TokenConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// SweepInterval enables the expired-token janitor when positive.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins" yaml:"allow_origins"`
	AllowMethods []string `mapstructure:"allow_methods" yaml:"allow_methods"`
	AllowHeaders []string `mapstructure:"allow_headers" yaml:"allow_headers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "EvogenomAI")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.driver", string(DriverSQLite))
	v.SetDefault("database.dsn", "file:ephemeral-auth.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("identity.discovery_url", "")
	v.SetDefault("identity.endpoint_cache_ttl", 300*time.Second)
	v.SetDefault("identity.request_timeout", 5*time.Second)

	v.SetDefault("tokens.ttl", 5*time.Minute)
	v.SetDefault("tokens.sweep_interval", time.Duration(0))

	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("cors.allow_methods", []string{"*"})
	v.SetDefault("cors.allow_headers", []string{"*"})
}

// InitFlags registers the command line overrides on the given flag set (without parsing)
func InitFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a config file (defaults to ./config.yaml or /etc/ephemeral-auth/config.yaml)")
	fs.String("env-file", "", "Path to a dotenv file loaded before reading the environment (defaults to ./.env when present)")
	fs.String("discovery-url", "", "OpenID discovery document URL")
	fs.Int("port", 0, "HTTP listen port")
	fs.String("database-driver", "", "Token store driver (sqlite|postgres|redis|memory)")
	fs.String("database-dsn", "", "Token store DSN")
}

// flagKeys maps CLI flag names onto their config keys.
var flagKeys = map[string]string{
	"discovery-url":   "identity.discovery_url",
	"port":            "server.port",
	"database-driver": "database.driver",
	"database-dsn":    "database.dsn",
}

// loadEnvFile exports the variables of a dotenv file into the process
// environment. Variables that are already set win.
func loadEnvFile(fs *pflag.FlagSet) error {
	if fs != nil {
		if f := fs.Lookup("env-file"); f != nil && f.Value.String() != "" {
			if err := godotenv.Load(f.Value.String()); err != nil {
				return fmt.Errorf("failed to load env file %s: %w", f.Value.String(), err)
			}
			return nil
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// Load builds the configuration from defaults, an optional YAML file,
// EPHEMERAL_AUTH_* environment variables (including a dotenv file) and
// explicitly set flags, in that order of precedence.
func Load(fs *pflag.FlagSet) (*Config, error) {
	if err := loadEnvFile(fs); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ephemeral-auth")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}

		// Mounted config overrides overlapping keys
		if _, err := os.Stat("/config/config.yaml"); err == nil {
			v.SetConfigFile("/config/config.yaml")
			if err := v.MergeInConfig(); err != nil {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.App.Debug {
		config.Logging.Level = "debug"
	}

	return &config, nil
}

// Validate checks everything the serve path needs.
func (c *Config) Validate() error {
	if c.Identity.DiscoveryURL == "" {
		return fmt.Errorf("identity.discovery_url is required, please adjust the config or pass --discovery-url or %s_IDENTITY_DISCOVERY_URL environment variable", EnvPrefix)
	}
	u, err := url.Parse(c.Identity.DiscoveryURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("identity.discovery_url must be an absolute URL: %q", c.Identity.DiscoveryURL)
	}
	if c.Identity.RequestTimeout <= 0 {
		return fmt.Errorf("identity.request_timeout must be positive")
	}
	if c.Identity.EndpointCacheTTL < 0 {
		return fmt.Errorf("identity.endpoint_cache_ttl must not be negative")
	}
	if c.Tokens.TTL <= 0 {
		return fmt.Errorf("tokens.ttl must be positive")
	}
	if c.Tokens.SweepInterval < 0 {
		return fmt.Errorf("tokens.sweep_interval must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return c.Database.Validate()
}

// Redacted returns a copy that is safe to print.
func (c Config) Redacted() Config {
	if c.Database.DSN != "" && (c.Database.Driver == DriverPostgres || c.Database.Driver == DriverRedis) {
		c.Database.DSN = redactDSN(c.Database.DSN)
	}
	return c
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return "[redacted]"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
