package archive

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DayLayout names day folders; lexical order equals calendar order.
	DayLayout = "2006-01-02"
	// StampLayout is the capture time embedded in backup file names.
	StampLayout = "2006-01-02-15-04-05"

	sealedSuffix = ".sio"
	tempPrefix   = ".tmp-"
	trashPrefix  = ".trash-"
	seqWidth     = 6
)

// Day is a calendar date in DayLayout form.
type Day string

// DayOf returns the calendar day of t in t's location.
func DayOf(t time.Time) Day {
	return Day(t.Format(DayLayout))
}

// ParseDay validates s as a day folder name.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	if t.Format(DayLayout) != s {
		return "", fmt.Errorf("invalid day %q", s)
	}
	return Day(s), nil
}

func (d Day) String() string { return string(d) }

// Entry is one stored copy of the save file. Values handed out by the index are copies.
type Entry struct {
	Day       Day
	Sequence  int
	Timestamp time.Time
	SizeBytes int64
	Source    string
	Encrypted bool
}

// Name is the file name of the stored copy inside its day folder.
func (e Entry) Name() string {
	name := fmt.Sprintf("%0*d-%s-%s", seqWidth, e.Sequence, e.Timestamp.Format(StampLayout), e.Source)
	if e.Encrypted {
		name += sealedSuffix
	}
	return name
}

// RelPath is the slash separated location of the stored copy below the archive root.
func (e Entry) RelPath() string {
	return path.Join(string(e.Day), e.Name())
}

func (e Entry) String() string {
	return fmt.Sprintf("%s #%d", e.Day, e.Sequence)
}

// parseName reverses Entry.Name. Capture times are read in loc.
func parseName(day Day, name string, loc *time.Location) (Entry, bool) {
	if strings.HasPrefix(name, ".") {
		return Entry{}, false
	}
	e := Entry{Day: day}
	if strings.HasSuffix(name, sealedSuffix) {
		e.Encrypted = true
		name = strings.TrimSuffix(name, sealedSuffix)
	}
	num, rest, ok := strings.Cut(name, "-")
	if !ok {
		return Entry{}, false
	}
	seq, err := strconv.Atoi(num)
	if err != nil || seq <= 0 {
		return Entry{}, false
	}
	if len(rest) < len(StampLayout)+2 || rest[len(StampLayout)] != '-' {
		return Entry{}, false
	}
	ts, err := time.ParseInLocation(StampLayout, rest[:len(StampLayout)], loc)
	if err != nil {
		return Entry{}, false
	}
	e.Sequence = seq
	e.Timestamp = ts
	e.Source = rest[len(StampLayout)+1:]
	return e, true
}

// sourceName reduces a save file path to a name safe to embed in a backup file name.
func sourceName(p string) string {
	base := filepath.Base(p)
	base = strings.TrimLeft(base, ".")
	if base == "" || base == string(filepath.Separator) {
		return "save"
	}
	if strings.HasSuffix(base, sealedSuffix) {
		base += "_"
	}
	return base
}
