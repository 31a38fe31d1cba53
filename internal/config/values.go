package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rowjay/savekeep/internal/retention"
	"github.com/rowjay/savekeep/internal/scheduler"
	"github.com/rowjay/savekeep/internal/util"
)

const (
	UnitSeconds = "seconds"
	UnitMinutes = "minutes"

	bytesPerMB = 1024 * 1024
)

// Interval converts schedule.interval and schedule.time_unit to a duration.
func (c *Config) Interval() time.Duration {
	unit := time.Second
	if c.Schedule.TimeUnit == UnitMinutes {
		unit = time.Minute
	}
	return time.Duration(c.Schedule.Interval) * unit
}

// Budget is the archive size limit in bytes. retention.max_bytes wins when set.
func (c *Config) Budget() int64 {
	if c.Retention.MaxBytes != 0 {
		return c.Retention.MaxBytes
	}
	return c.Retention.MaxSizeMB * bytesPerMB
}

// Location is the zone used for day folders and the capture window.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) Window() scheduler.Window {
	return scheduler.Window{Start: c.Schedule.WindowStart, End: c.Schedule.WindowEnd, Timezone: c.Schedule.Timezone}
}

// Validate rejects values the engine would refuse later. Nothing is clamped.
func (c *Config) Validate() error {
	var errs []error
	switch c.Schedule.TimeUnit {
	case UnitSeconds, UnitMinutes:
		if c.Schedule.Interval <= 0 {
			errs = append(errs, fmt.Errorf("schedule.interval: %w: got %d", scheduler.ErrInvalidInterval, c.Schedule.Interval))
		}
	default:
		errs = append(errs, fmt.Errorf("schedule.time_unit: must be %q or %q, got %q", UnitSeconds, UnitMinutes, c.Schedule.TimeUnit))
	}
	if c.Retention.MaxBytes < 0 || c.Budget() <= 0 {
		errs = append(errs, fmt.Errorf("retention: %w", retention.ErrInvalidBudget))
	}
	if c.Source.Path == "" {
		errs = append(errs, errors.New("source.path is required"))
	}
	if c.Source.RetryCount < 0 {
		errs = append(errs, errors.New("source.retry_count must not be negative"))
	}
	if c.Global.OperationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("global.operation_timeout must be positive, got %s", c.Global.OperationTimeout))
	}
	if c.Source.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("source.read_timeout must be positive, got %s", c.Source.ReadTimeout))
	}
	if c.Source.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("source.retry_backoff must not be negative, got %s", c.Source.RetryBackoff))
	}
	if c.Archive.Encryption && c.Archive.EncryptionKey == "" {
		errs = append(errs, errors.New("archive.encryption is on but archive.encryption_key is empty"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := util.InWindow(time.Now(), c.Schedule.WindowStart, c.Schedule.WindowEnd, c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule window: %w", err))
	}
	return errors.Join(errs...)
}
