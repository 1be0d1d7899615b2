package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil)).With("service", "mirror")

	Component(base, "rpc").Info("hello")

	line := buf.String()
	if !strings.Contains(line, "service=mirror") || !strings.Contains(line, "component=rpc") {
		t.Fatalf("log line missing attrs: %q", line)
	}
}

func TestComponentNilBaseFallsBack(t *testing.T) {
	if Component(nil, "store") == nil {
		t.Fatal("nil base produced nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := parseLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("invalid level accepted")
	}
}
