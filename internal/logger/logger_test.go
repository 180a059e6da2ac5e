package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Fatalf("parseLevel(%q)=%v, want %v", raw, got, want)
		}
	}
}

func TestNewWritesRotatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: dir}})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	Named(log, "test").Info("hello")
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "chatkit-server.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}
}

func TestNamedNilBase(t *testing.T) {
	Named(nil, "x").Info("dropped")
}

func TestComponentLevels(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Config{
		Level:      "warn",
		File:       FileConfig{Enabled: true, Path: dir},
		Components: map[string]string{"Recorder": "debug"},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ws := Named(log, "ws")
	ws.Info("ws info dropped")
	ws.Warn("ws warn kept")
	Named(ws, "recorder").Debug("recorder debug kept")
	Named(log, "http").With().Debug("http debug dropped")
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, defaultFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	for _, want := range []string{"ws warn kept", "recorder debug kept"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %q:\n%s", want, out)
		}
	}
	for _, unwanted := range []string{"ws info dropped", "http debug dropped"} {
		if strings.Contains(out, unwanted) {
			t.Fatalf("log has %q:\n%s", unwanted, out)
		}
	}
}

func TestLevelForPrefersSpecificSegment(t *testing.T) {
	levels := newComponentLevels(Config{Level: "info", Components: map[string]string{"ws": "error", "recorder": "debug"}})
	if got := levels.levelFor("ws.recorder"); got != zapcore.DebugLevel {
		t.Fatalf("levelFor(ws.recorder)=%v, want debug", got)
	}
	if got := levels.levelFor("ws"); got != zapcore.ErrorLevel {
		t.Fatalf("levelFor(ws)=%v, want error", got)
	}
	if got := levels.levelFor("http"); got != zapcore.InfoLevel {
		t.Fatalf("levelFor(http)=%v, want info", got)
	}
	if got := levels.min(); got != zapcore.DebugLevel {
		t.Fatalf("min()=%v, want debug", got)
	}
}
