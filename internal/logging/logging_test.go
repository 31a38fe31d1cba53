package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "json")
	log.Debug().Int("seq", 3).Msg("backup written")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %v (%s)", err, buf.String())
	}
	if line["message"] != "backup written" || line["level"] != "debug" || line["seq"] != float64(3) {
		t.Fatalf("unexpected line: %v", line)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "chatty", "json")
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "console")
	log.Info().Msg("scheduler started")
	if !strings.Contains(buf.String(), "scheduler started") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}
