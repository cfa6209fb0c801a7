package runnable

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewLogger(t *testing.T) {
	t.Run("OpenTelemetryKeys", func(t *testing.T) {
		var buffer bytes.Buffer
		logger, err := NewLogger(&buffer)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		logger.Info("hello")

		var record map[string]any
		if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
			t.Fatalf("expected json log line: %v", err)
		}
		if diff := cmp.Diff("hello", record["body"]); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("INFO", record["severitytext"]); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("Level", func(t *testing.T) {
		t.Setenv("GO_LOG", "warn")
		var buffer bytes.Buffer
		logger, err := NewLogger(&buffer)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		logger.Info("dropped")
		if buffer.Len() != 0 {
			t.Errorf("expected info to be filtered, got %s", buffer.String())
		}
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		t.Setenv("GO_LOG", "loud")
		if _, err := NewLogger(&bytes.Buffer{}); err == nil {
			t.Error("expected error for invalid level")
		}
	})
}
