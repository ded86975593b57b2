package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
)

func TestNewProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "production", "warn")

	log.Info().Msg("dropped")
	log.Warn().Str("job_id", "job-1").Msg("kept")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "kept" || entry["job_id"] != "job-1" || entry["service"] != "visualization" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "production", "loud")

	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug should be filtered at info level, got %q", buf.String())
	}
	log.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Error("info should be written")
	}
}

func TestNewDevelopmentUsesConsole(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "development", "info")

	log.Debug().Msg("debug line")
	if !bytes.Contains(buf.Bytes(), []byte("debug line")) {
		t.Errorf("expected debug output in development, got %q", buf.String())
	}
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Error("development output should be human readable, not JSON")
	}
}

func TestAsynqLevel(t *testing.T) {
	tests := map[string]asynq.LogLevel{
		"debug": asynq.DebugLevel,
		"info":  asynq.InfoLevel,
		"warn":  asynq.WarnLevel,
		"error": asynq.ErrorLevel,
		"":      asynq.InfoLevel,
		"loud":  asynq.InfoLevel,
	}
	for level, want := range tests {
		if got := AsynqLevel(level); got != want {
			t.Errorf("AsynqLevel(%q) = %v, want %v", level, got, want)
		}
	}
}

func TestAsynqLoggerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	Asynq(newWithWriter(&buf, "production", "info")).Warn("lease ", "expired")

	out := buf.String()
	if !strings.Contains(out, `"message":"lease expired"`) || !strings.Contains(out, `"component":"asynq"`) {
		t.Errorf("unexpected output %s", out)
	}
}
