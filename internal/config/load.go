package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/rowjay/savekeep/internal/cryptoutil"
)

const (
	envPrefix = "SAVEKEEP"
	appName   = "savekeep"
	keyEnv    = envPrefix + "_CONFIG_KEY"
	pathEnv   = envPrefix + "_CONFIG"
)

// ErrNotWatchable is returned by Watch when there is no plain config file to follow.
var ErrNotWatchable = errors.New("config cannot be watched")

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	cfg, _, err := load(resolved)
	return cfg, err
}

func load(resolved string) (*Config, *viper.Viper, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	if resolved != "" {
		if isEncryptedPath(resolved) {
			data, readErr := os.ReadFile(resolved)
			if readErr != nil {
				return nil, nil, fmt.Errorf("read config: %w", readErr)
			}
			vp.SetConfigType(configTypeFromPath(resolved))
			key := os.Getenv(keyEnv)
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, nil, fmt.Errorf("config file is encrypted but %s is not set", keyEnv)
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, vp, nil
}

// Watch follows the config file and calls onChange with the reloaded config after every
// write. A reload that fails is passed as err and the previous config stays in effect.
// Encrypted files and env-only setups cannot be watched.
func Watch(path string, onChange func(cfg *Config, err error)) error {
	resolved, err := resolveConfigPath(path)
	if err != nil {
		return err
	}
	if resolved == "" || isEncryptedPath(resolved) {
		return ErrNotWatchable
	}
	_, vp, err := load(resolved)
	if err != nil {
		return err
	}
	vp.OnConfigChange(func(fsnotify.Event) {
		onChange(reload(resolved))
	})
	vp.WatchConfig()
	return nil
}

func reload(resolved string) (*Config, error) {
	cfg, _, err := load(resolved)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv(pathEnv); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		appName + ".yaml",
		appName + ".yml",
		appName + ".toml",
		appName + ".json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, appName)
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range candidates[:3] {
			p := filepath.Join(base, c+".enc")
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

// DefaultPath is where `config init` writes when no path is given.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName, appName+".toml")
	}
	return appName + ".toml"
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(path, ".enc"), ".encrypted")
	switch filepath.Ext(trimmed) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "console")
	vp.SetDefault("global.lock_file", "")
	vp.SetDefault("global.operation_timeout", "1m")
	vp.SetDefault("schedule.interval", 300)
	vp.SetDefault("schedule.time_unit", "seconds")
	vp.SetDefault("schedule.start_on_launch", false)
	vp.SetDefault("schedule.capture_on_start", true)
	vp.SetDefault("schedule.timezone", "")
	vp.SetDefault("schedule.window_start", "")
	vp.SetDefault("schedule.window_end", "")
	vp.SetDefault("retention.max_size_mb", 100)
	vp.SetDefault("retention.max_bytes", 0)
	vp.SetDefault("source.path", "")
	vp.SetDefault("source.read_timeout", "30s")
	vp.SetDefault("source.retry_count", 3)
	vp.SetDefault("source.retry_backoff", "2s")
	vp.SetDefault("archive.root", "./backups")
	vp.SetDefault("archive.watch", true)
	vp.SetDefault("archive.encryption", false)
	vp.SetDefault("archive.encryption_key", "")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = time.Minute
	}
	if cfg.Source.ReadTimeout == 0 {
		cfg.Source.ReadTimeout = 30 * time.Second
	}
	if cfg.Source.RetryBackoff == 0 {
		cfg.Source.RetryBackoff = 2 * time.Second
	}
	if cfg.Archive.Root == "" {
		cfg.Archive.Root = "./backups"
	}
	cfg.Schedule.TimeUnit = strings.ToLower(strings.TrimSpace(cfg.Schedule.TimeUnit))
	if cfg.Schedule.TimeUnit == "" {
		cfg.Schedule.TimeUnit = UnitSeconds
	}
	if cfg.Global.LockFile == "" {
		cfg.Global.LockFile = DefaultLockFile(cfg.Archive.Root)
	}
}

// DefaultLockFile is the process lock used when global.lock_file is not set.
func DefaultLockFile(root string) string {
	return filepath.Join(root, "."+appName+".lock")
}

func expandEnv(cfg *Config) {
	cfg.Source.Path = os.ExpandEnv(cfg.Source.Path)
	cfg.Archive.Root = os.ExpandEnv(cfg.Archive.Root)
	cfg.Archive.EncryptionKey = os.ExpandEnv(cfg.Archive.EncryptionKey)
	cfg.Global.LockFile = os.ExpandEnv(cfg.Global.LockFile)
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
