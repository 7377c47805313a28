// Package config loads the gateway configuration from layered sources:
// built-in defaults, an optional TOML file and VERTIGATE_-prefixed
// environment variables, each layer overriding the previous one.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/verticalgw/vertigate/internal/convcache"
)

// envPrefix namespaces the environment variable layer. A double underscore
// separates nesting levels, e.g. VERTIGATE_LOG__LEVEL=debug.
const envPrefix = "VERTIGATE_"

// Config is the fully resolved gateway configuration.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `koanf:"listen" validate:"required,hostname_port"`

	// UpstreamBaseURL is the root of the Vertical Studio deployment; the
	// prompt endpoint lives underneath it.
	UpstreamBaseURL string `koanf:"upstream_base_url" validate:"required,http_url"`

	// ModelsFile is the JSON model catalog mapping advertised model ids to
	// upstream bindings.
	ModelsFile string `koanf:"models_file" validate:"required"`

	// TokensFile holds the upstream credential pool, one token per line.
	TokensFile string `koanf:"tokens_file" validate:"required"`

	// ClientKeysFile holds the API keys clients of this gateway must
	// present. Empty disables the gateway's own auth check.
	ClientKeysFile string `koanf:"client_keys_file"`

	// MaxConversations bounds the conversation affinity cache.
	MaxConversations int `koanf:"max_conversations" validate:"gt=0"`

	// MaxRequestBytes bounds inbound request bodies.
	MaxRequestBytes int64 `koanf:"max_request_bytes" validate:"gt=0"`

	// ShutdownTimeout bounds how long a graceful shutdown drains in-flight
	// requests.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// Watch enables hot reload of the model catalog and credential files.
	Watch bool `koanf:"watch"`

	Log Log `koanf:"log"`
}

// Log configures the slog setup.
type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen":            "127.0.0.1:8080",
		"upstream_base_url": "https://app.verticalstudio.ai",
		"models_file":       "models.json",
		"tokens_file":       "tokens.txt",
		"client_keys_file":  "",
		"max_conversations": convcache.DefaultMaxConversations,
		"max_request_bytes": int64(10 << 20),
		"shutdown_timeout":  "5s",
		"watch":             false,
		"log.level":         "info",
		"log.format":        "text",
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and environment variables apply; a non-empty path must exist.
// environ is injected so tests can run hermetically.
func Load(path string, environ func() []string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix:      envPrefix,
		EnvironFunc: environ,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// SlogLevel parses the configured log level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}
