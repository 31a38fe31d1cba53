package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryNameParsesBack(t *testing.T) {
	e := Entry{Day: day1, Sequence: 12, Timestamp: at, Source: "global-v35"}
	assert.Equal(t, "000012-2025-02-08-14-29-30-global-v35", e.Name())
	assert.Equal(t, "2025-02-08/000012-2025-02-08-14-29-30-global-v35", e.RelPath())

	parsed, ok := parseName(day1, e.Name(), time.UTC)
	require.True(t, ok)
	assert.Equal(t, e, parsed)

	e.Encrypted = true
	parsed, ok = parseName(day1, e.Name(), time.UTC)
	require.True(t, ok)
	assert.Equal(t, e, parsed)
}

func TestNamesSortInCaptureOrder(t *testing.T) {
	early := Entry{Day: day1, Sequence: 9, Timestamp: at, Source: "s"}
	late := Entry{Day: day1, Sequence: 10, Timestamp: at.Add(time.Minute), Source: "s"}
	assert.Less(t, early.Name(), late.Name())
}

func TestParseNameRejectsForeignFiles(t *testing.T) {
	for _, name := range []string{
		".tmp-4711",
		"notes.txt",
		"0-2025-02-08-14-29-30-save",
		"x-2025-02-08-14-29-30-save",
		"000001-2025-02-08-save",
		"000001-2025-02-08-14-29-30",
	} {
		_, ok := parseName(day1, name, time.UTC)
		assert.False(t, ok, name)
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2025-02-08")
	require.NoError(t, err)
	assert.Equal(t, day1, d)

	for _, bad := range []string{"2025-2-8", "2025-02-30", "yesterday"} {
		_, err := ParseDay(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, day1, DayOf(at))
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "global-v35", sourceName("/saves/Release/global-v35"))
	assert.Equal(t, "save", sourceName(""))
	assert.Equal(t, "hidden", sourceName("/x/.hidden"))
	assert.Equal(t, "odd.sio_", sourceName("odd.sio"))
}
