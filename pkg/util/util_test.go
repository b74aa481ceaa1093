package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestUnix(t *testing.T) {
	c := FixedClock{T: time.Unix(1_700_000_000, 500)}
	if got := Unix(c); got != 1_700_000_000 {
		t.Errorf("Unix = %d", got)
	}
	if got := Unix(FixedClock{T: time.Unix(-5, 0)}); got != 0 {
		t.Errorf("pre-epoch Unix = %d, want 0", got)
	}
}

func TestLoggerLevels(t *testing.T) {
	if _, err := NewLogger("debug"); err != nil {
		t.Fatalf("debug: %v", err)
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, closeFn, err := NewLoggerWithFile(path, "")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Sugar().Infow("order_settled", "order", "0xabc")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"order_settled"`, `"order":"0xabc"`, `"ts":`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}
