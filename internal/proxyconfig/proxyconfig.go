// Package proxyconfig holds the process-wide ambient settings this
// bridge needs beyond the per-named-server registry: log level, debug,
// and timeouts. Struct defaults are layered under an
// optional settings file and environment-variable overrides with
// koanf, trimmed to the small surface a transport bridge actually
// needs.
package proxyconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix every environment-variable override must
// carry, e.g. MCP_PROXY_LOG_LEVEL for LogLevel.
const EnvPrefix = "MCP_PROXY_"

// SettingsFileEnv names an optional YAML settings file layered between
// the built-in defaults and the environment overrides.
const SettingsFileEnv = "MCP_PROXY_SETTINGS"

// Config is the process-wide ambient configuration. Per-named-server
// settings live in internal/registry instead.
type Config struct {
	LogLevel            string        `koanf:"log_level"`
	Debug               bool          `koanf:"debug"`
	ChildGraceTimeout   time.Duration `koanf:"child_grace_timeout"`
	DrainDeadline       time.Duration `koanf:"drain_deadline"`
	HandshakeTimeout    time.Duration `koanf:"handshake_timeout"`
	OAuthRefreshTimeout time.Duration `koanf:"oauth_refresh_timeout"`
}

// Default returns the built-in defaults before any environment
// overrides are layered on.
func Default() Config {
	return Config{
		LogLevel:            "info",
		Debug:               false,
		ChildGraceTimeout:   5 * time.Second,
		DrainDeadline:       2 * time.Second,
		HandshakeTimeout:    30 * time.Second,
		OAuthRefreshTimeout: 30 * time.Second,
	}
}

// Load builds a Config by layering Default() under an optional YAML
// settings file (named by MCP_PROXY_SETTINGS) under environment
// variables prefixed with EnvPrefix (e.g. MCP_PROXY_LOG_LEVEL=debug).
func Load() (Config, error) {
	var file []byte
	if path := os.Getenv(SettingsFileEnv); path != "" {
		var err error
		file, err = os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("proxyconfig: read settings file: %w", err)
		}
	}
	return LoadBytes(file)
}

// LoadBytes is Load with the settings-file bytes supplied directly; a
// nil slice skips the file layer.
func LoadBytes(file []byte) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("proxyconfig: load defaults: %w", err)
	}

	if len(file) > 0 {
		if err := k.Load(rawbytes.Provider(file), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("proxyconfig: load settings file: %w", err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("proxyconfig: load env: %w", err)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       decodeHook,
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return Config{}, fmt.Errorf("proxyconfig: unmarshal: %w", err)
	}
	return cfg, nil
}
