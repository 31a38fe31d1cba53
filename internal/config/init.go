package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrExists is returned by Init when the target file is already there.
var ErrExists = errors.New("config file already exists")

// fileLayout mirrors Config with durations spelled as strings so the written file reads
// the way a person would type it.
type fileLayout struct {
	Global struct {
		LogLevel         string `toml:"log_level"`
		LogFormat        string `toml:"log_format"`
		OperationTimeout string `toml:"operation_timeout"`
	} `toml:"global"`
	Schedule struct {
		Interval       int    `toml:"interval"`
		TimeUnit       string `toml:"time_unit"`
		StartOnLaunch  bool   `toml:"start_on_launch"`
		CaptureOnStart bool   `toml:"capture_on_start"`
		WindowStart    string `toml:"window_start"`
		WindowEnd      string `toml:"window_end"`
		Timezone       string `toml:"timezone"`
	} `toml:"schedule"`
	Retention struct {
		MaxSizeMB int64 `toml:"max_size_mb"`
	} `toml:"retention"`
	Source struct {
		Path         string `toml:"path"`
		ReadTimeout  string `toml:"read_timeout"`
		RetryCount   int    `toml:"retry_count"`
		RetryBackoff string `toml:"retry_backoff"`
	} `toml:"source"`
	Archive struct {
		Root          string `toml:"root"`
		Watch         bool   `toml:"watch"`
		Encryption    bool   `toml:"encryption"`
		EncryptionKey string `toml:"encryption_key"`
	} `toml:"archive"`
}

func defaultLayout(sourcePath string) fileLayout {
	var f fileLayout
	f.Global.LogLevel = "info"
	f.Global.LogFormat = "console"
	f.Global.OperationTimeout = "1m"
	f.Schedule.Interval = 300
	f.Schedule.TimeUnit = UnitSeconds
	f.Schedule.CaptureOnStart = true
	f.Retention.MaxSizeMB = 100
	f.Source.Path = sourcePath
	f.Source.ReadTimeout = "30s"
	f.Source.RetryCount = 3
	f.Source.RetryBackoff = "2s"
	f.Archive.Root = "./backups"
	f.Archive.Watch = true
	return f
}

// Init writes a config file holding the defaults. An existing file is only replaced
// when force is set.
func Init(path, sourcePath string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := toml.NewEncoder(out).Encode(defaultLayout(sourcePath)); err != nil {
		_ = out.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return out.Close()
}
