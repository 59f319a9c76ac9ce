package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("invalid log line %q: %v", line, err)
	}
	return m
}

func TestKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Info("Dataset created", "name", "lake", "resources", 2, "error", errors.New("partial"))

	m := decodeLine(t, &buf)
	if m["message"] != "Dataset created" {
		t.Errorf("Expected message, got %v", m["message"])
	}
	if m["name"] != "lake" {
		t.Errorf("Expected name field, got %v", m["name"])
	}
	if m["resources"] != float64(2) {
		t.Errorf("Expected resources=2, got %v", m["resources"])
	}
	if m["error"] != "partial" {
		t.Errorf("Expected error field, got %v", m["error"])
	}
}

func TestMapFields(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Warn("slow", map[string]interface{}{"elapsed_ms": 1200})

	m := decodeLine(t, &buf)
	if m["level"] != "warn" {
		t.Errorf("Expected warn level, got %v", m["level"])
	}
	if m["elapsed_ms"] != float64(1200) {
		t.Errorf("Expected elapsed_ms, got %v", m["elapsed_ms"])
	}
}

func TestNopDiscards(t *testing.T) {
	log := OrNop(nil)
	log.Error("ignored", "k", "v")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(LoggerConfig{Level: zerolog.WarnLevel, Output: &buf})

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered, got %q", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("Expected warn to be written, got %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDiscordHookForwardsErrors(t *testing.T) {
	var calls int32
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	log := NewWithConfig(LoggerConfig{Level: zerolog.DebugLevel, Output: &buf, DiscordURL: srv.URL})

	log.Info("routine")
	log.Error("upload failed")

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("Expected 1 webhook call, got %d", n)
	}
	if !strings.Contains(body, "upload failed") {
		t.Errorf("Expected alert body to carry the message, got %s", body)
	}
}
