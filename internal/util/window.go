package util

import (
	"fmt"
	"time"
)

// InWindow reports whether now falls inside the daily window [start, end], both given
// as HH:MM in tz (now's own zone when tz is empty). An empty bound is open, and a
// window whose end is before its start runs past midnight.
func InWindow(now time.Time, start, end, tz string) (bool, error) {
	if start == "" && end == "" {
		return true, nil
	}
	loc := now.Location()
	if tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return false, fmt.Errorf("invalid timezone: %w", err)
		}
	}
	from, err := minuteOfDay(start, 0)
	if err != nil {
		return false, fmt.Errorf("invalid window start: %w", err)
	}
	to, err := minuteOfDay(end, 24*60-1)
	if err != nil {
		return false, fmt.Errorf("invalid window end: %w", err)
	}

	local := now.In(loc)
	current := local.Hour()*60 + local.Minute()
	if from <= to {
		return current >= from && current <= to, nil
	}
	return current >= from || current <= to, nil
}

func minuteOfDay(hhmm string, open int) (int, error) {
	if hhmm == "" {
		return open, nil
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
