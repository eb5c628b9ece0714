// Package config loads memosweep application settings.
//
// Settings come from, in increasing precedence: built-in defaults, an
// optional memosweep.yaml, MEMOSWEEP_* environment variables, and runtime
// overrides supplied by the CLI. Job-specific settings live in the job
// manifest, not here.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "MEMOSWEEP"

// Config holds application settings.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Status      StatusConfig      `mapstructure:"status"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

// LogConfig configures the CLI logger and optional log file.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// File enables a rotated JSON log file when non-empty.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// StatusConfig configures the optional status endpoint.
type StatusConfig struct {
	// Addr is the listen address (e.g. "127.0.0.1:8089"). Empty disables it.
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CredentialsConfig configures credential discovery.
type CredentialsConfig struct {
	// Dotenv lists dotenv files loaded into the environment before
	// credentials are read. Missing files are skipped.
	Dotenv []string `mapstructure:"dotenv"`
}

// ErrConfigRead indicates the config file exists but could not be parsed.
var ErrConfigRead = errors.New("failed to read config file")

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envKeys lists every key that may be overridden from the environment.
var envKeys = []string{
	"log.level",
	"log.file",
	"log.max_size_mb",
	"log.max_backups",
	"log.max_age_days",
	"status.addr",
	"status.read_timeout",
	"status.shutdown_timeout",
	"credentials.dotenv",
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("status.addr", "")
	v.SetDefault("status.read_timeout", "10s")
	v.SetDefault("status.shutdown_timeout", "5s")

	v.SetDefault("credentials.dotenv", []string{".env"})
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load builds the configuration. path names an explicit config file; when
// empty, memosweep.yaml is searched in the working directory and the user
// config directory. overrides are applied last, in order.
func Load(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("memosweep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir + "/memosweep")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %v", ErrConfigRead, err)
		}
	}

	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// applyOverrides sets each leaf of m on v. Set values outrank env and file.
func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// LoadDotenv reads KEY=VALUE files into the process environment, keeping
// each key's case. Variables already set are left untouched and missing
// files are skipped. It returns
// the files that were read.
func LoadDotenv(paths ...string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return loaded, fmt.Errorf("dotenv %s: %w", p, err)
		}

		env, err := gotenv.Read(p)
		if err != nil {
			return loaded, fmt.Errorf("dotenv %s: %w", p, err)
		}
		for name, value := range env {
			if _, set := os.LookupEnv(name); set {
				continue
			}
			if err := os.Setenv(name, value); err != nil {
				return loaded, fmt.Errorf("dotenv %s: %w", p, err)
			}
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
