package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		" warn ":  WARN,
		"warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
		"":        INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileOutputRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	if err := Init(path, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		Close()
		SetLevel(DEBUG)
	})
	SetLevel(WARN)

	Debugf("hidden %d", 1)
	Info("hidden too")
	Warnf("shown %s", "warning")
	Error("shown error")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below WARN were written: %q", out)
	}
	if !strings.Contains(out, "[WARN]") || !strings.Contains(out, "shown warning") {
		t.Errorf("warning missing: %q", out)
	}
	if !strings.Contains(out, "[ERROR]") || !strings.Contains(out, "shown error") {
		t.Errorf("error missing: %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Error("file output contains color codes")
	}
	if !strings.Contains(out, "logger_test.go") {
		t.Errorf("call site not recorded: %q", out)
	}
}

func TestInitRequiresOutput(t *testing.T) {
	if err := Init("", false); err == nil {
		t.Error("expected error without console or file")
	}
}
