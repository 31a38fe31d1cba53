package config

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rowjay/savekeep/internal/retention"
	"github.com/rowjay/savekeep/internal/scheduler"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "savekeep.yaml", `
schedule:
  interval: 5
  time_unit: Minutes
retention:
  max_size_mb: 2
source:
  path: /saves/global-v35
  retry_backoff: 250ms
archive:
  root: /data/backups
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Interval(); got != 5*time.Minute {
		t.Fatalf("interval = %s", got)
	}
	if got := cfg.Budget(); got != 2*1024*1024 {
		t.Fatalf("budget = %d", got)
	}
	if cfg.Source.RetryBackoff != 250*time.Millisecond {
		t.Fatalf("retry backoff = %s", cfg.Source.RetryBackoff)
	}
	if cfg.Source.ReadTimeout != 30*time.Second {
		t.Fatalf("read timeout default = %s", cfg.Source.ReadTimeout)
	}
	if want := filepath.Join("/data/backups", ".savekeep.lock"); cfg.Global.LockFile != want {
		t.Fatalf("lock file = %s, want %s", cfg.Global.LockFile, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestMaxBytesWins(t *testing.T) {
	cfg := &Config{Retention: RetentionConfig{MaxSizeMB: 100, MaxBytes: 300}}
	if got := cfg.Budget(); got != 300 {
		t.Fatalf("budget = %d", got)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "savekeep.toml", `
[schedule]
interval = 10

[source]
path = "/saves/a"
`)
	t.Setenv("SAVEKEEP_SCHEDULE_INTERVAL", "42")
	t.Setenv("SAVEKEEP_RETENTION_MAX_BYTES", "1000")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Schedule.Interval != 42 {
		t.Fatalf("interval = %d", cfg.Schedule.Interval)
	}
	if cfg.Budget() != 1000 {
		t.Fatalf("budget = %d", cfg.Budget())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Global:    GlobalConfig{OperationTimeout: time.Minute},
			Schedule:  ScheduleConfig{Interval: 1, TimeUnit: UnitSeconds},
			Retention: RetentionConfig{MaxSizeMB: 1},
			Source:    SourceConfig{Path: "/saves/a", ReadTimeout: 30 * time.Second},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cfg := base()
	cfg.Schedule.Interval = 0
	if err := cfg.Validate(); !errors.Is(err, scheduler.ErrInvalidInterval) {
		t.Fatalf("zero interval: %v", err)
	}

	cfg = base()
	cfg.Retention.MaxSizeMB = 0
	if err := cfg.Validate(); !errors.Is(err, retention.ErrInvalidBudget) {
		t.Fatalf("zero budget: %v", err)
	}

	cfg = base()
	cfg.Retention.MaxBytes = -5
	if err := cfg.Validate(); !errors.Is(err, retention.ErrInvalidBudget) {
		t.Fatalf("negative budget: %v", err)
	}

	cfg = base()
	cfg.Schedule.TimeUnit = "hours"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "time_unit") {
		t.Fatalf("bad unit: %v", err)
	}

	cfg = base()
	cfg.Archive.Encryption = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for encryption without key")
	}

	for name, mutate := range map[string]func(*Config){
		"operation_timeout": func(c *Config) { c.Global.OperationTimeout = 0 },
		"read_timeout":      func(c *Config) { c.Source.ReadTimeout = -time.Second },
		"retry_backoff":     func(c *Config) { c.Source.RetryBackoff = -time.Second },
	} {
		cfg = base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), name) {
			t.Fatalf("bad %s: %v", name, err)
		}
	}

	cfg = base()
	cfg.Schedule.WindowStart = "25:99"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for bad window")
	}
}

func TestInitWritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "savekeep.toml")
	if err := Init(path, "/saves/global-v35", false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := Init(path, "/saves/global-v35", false); !errors.Is(err, ErrExists) {
		t.Fatalf("second init: %v", err)
	}
	if err := Init(path, "/saves/other", true); err != nil {
		t.Fatalf("forced init: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source.Path != "/saves/other" {
		t.Fatalf("source path = %q", cfg.Source.Path)
	}
	if cfg.Interval() != 300*time.Second || cfg.Budget() != 100*1024*1024 {
		t.Fatalf("defaults not applied: %s %d", cfg.Interval(), cfg.Budget())
	}
	if cfg.Source.RetryBackoff != 2*time.Second {
		t.Fatalf("retry backoff = %s", cfg.Source.RetryBackoff)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadEncryptedConfig(t *testing.T) {
	key := make([]byte, 32)
	key[3] = 7
	encoded := base64.StdEncoding.EncodeToString(key)

	plain := writeFile(t, "savekeep.toml", "[source]\npath = \"/saves/secret\"\n")
	sealed := plain + ".enc"
	if err := EncryptConfigFile(plain, sealed, encoded); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := Load(sealed); err == nil {
		t.Fatal("expected error without key")
	}

	t.Setenv(keyEnv, encoded)
	cfg, err := Load(sealed)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source.Path != "/saves/secret" {
		t.Fatalf("source path = %q", cfg.Source.Path)
	}
	if err := Watch(sealed, func(*Config, error) {}); !errors.Is(err, ErrNotWatchable) {
		t.Fatalf("watch encrypted: %v", err)
	}
}

func TestWatchReloads(t *testing.T) {
	path := writeFile(t, "savekeep.yaml", "source:\n  path: /saves/a\nschedule:\n  interval: 10\n")
	changes := make(chan *Config, 8)
	err := Watch(path, func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("source:\n  path: /saves/a\nschedule:\n  interval: 20\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Schedule.Interval == 20 {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
