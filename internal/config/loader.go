package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "STEWARD",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance,
// so CLI flag bindings participate in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "STEWARD",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (bound via viper.BindPFlag)
// 2. Environment variables (STEWARD_*)
// 3. Project config (.steward/config.yaml in current directory)
// 4. User config (~/.config/steward/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(filepath.Join(".", ".steward"))
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "steward"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("state.backend", "file")
	l.v.SetDefault("state.dir", ".steward/state")

	l.v.SetDefault("heartbeat.warning_after_seconds", 900)
	l.v.SetDefault("heartbeat.stale_after_seconds", 1200)
	l.v.SetDefault("heartbeat.interval_seconds", 60)

	l.v.SetDefault("lease.ttl_seconds", 900)
	l.v.SetDefault("lease.disabled", false)

	l.v.SetDefault("runtime.engine", "sequential")
	l.v.SetDefault("runtime.lane", "main")
	l.v.SetDefault("runtime.rework_limit", 3)

	l.v.SetDefault("dispatch.timeout_seconds", 600)

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("serve.addr", "127.0.0.1:7171")
	l.v.SetDefault("serve.allowed_origins", []string{"http://localhost:5173"})
}
