package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global    GlobalConfig    `mapstructure:"global"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Retention RetentionConfig `mapstructure:"retention"`
	Source    SourceConfig    `mapstructure:"source"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`  // defaults to <archive.root>/.savekeep.lock
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

type ScheduleConfig struct {
	Interval       int    `mapstructure:"interval"`
	TimeUnit       string `mapstructure:"time_unit"` // seconds or minutes
	StartOnLaunch  bool   `mapstructure:"start_on_launch"`
	CaptureOnStart bool   `mapstructure:"capture_on_start"`
	WindowStart    string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd      string `mapstructure:"window_end"`
	Timezone       string `mapstructure:"timezone"`
}

type RetentionConfig struct {
	MaxSizeMB int64 `mapstructure:"max_size_mb"`
	MaxBytes  int64 `mapstructure:"max_bytes"` // wins over max_size_mb when set
}

type SourceConfig struct {
	Path         string        `mapstructure:"path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	RetryCount   int           `mapstructure:"retry_count"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type ArchiveConfig struct {
	Root          string `mapstructure:"root"`
	Watch         bool   `mapstructure:"watch"`
	Encryption    bool   `mapstructure:"encryption"`
	EncryptionKey string `mapstructure:"encryption_key"`
}
