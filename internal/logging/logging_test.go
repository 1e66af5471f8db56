package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestApplyWritesConsoleAndFile(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "persistkit.log")
	logger := Apply("debug", Options{FilePath: path, Console: &console})
	logger.Debug().Str("environment", "dev").Msg("registry ready")

	if !strings.Contains(console.String(), "registry ready") {
		t.Fatalf("expected console output, got %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "registry ready") {
		t.Fatalf("expected file output, got %q", string(data))
	}
}

func TestApplyConsoleOnlyRespectsLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var console bytes.Buffer
	logger := Apply("warn", Options{Console: &console})
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	out := console.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}
