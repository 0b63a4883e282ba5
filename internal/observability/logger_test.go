package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skyliftcoin/gemini-web-browser/pkg/config"
)

func TestLoggerWritesJSONFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "agent.log")
	logger := NewLogger(config.LoggingConfig{
		Level:      "debug",
		Format:     "json",
		File:       logFile,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})

	task := NewTaskLogger(logger, "task-123")
	task.Plan(3, false)
	task.PlanRejected("step 2: type requires text")
	task.Step(0, "navigate", "")
	task.StepResult(0, true, "navigated", 1)
	task.Resolve("search box", "#q", "role", 0.85)
	task.PolicyDeny("navigate", "host restricted")
	task.LLM(1200, 300, "test-model")
	task.Finished("succeeded", "all steps completed")
	Sync(logger)

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Log file not written: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 8 {
		t.Fatalf("Expected 8 event lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "plan rejected") || !strings.Contains(lines[1], "type requires text") {
		t.Errorf("Unexpected rejection event: %s", lines[1])
	}
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Log line is not JSON: %s", line)
		}
		if entry["task_id"] != "task-123" {
			t.Errorf("Missing task_id in %s", line)
		}
		if entry["event"] == "" {
			t.Errorf("Missing event type in %s", line)
		}
	}

	var resolve map[string]any
	if err := json.Unmarshal([]byte(lines[4]), &resolve); err != nil {
		t.Fatal(err)
	}
	if resolve["event"] != string(EventTypeResolve) || resolve["confidence"] != 0.85 {
		t.Errorf("Unexpected resolve event: %v", resolve)
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "agent.log")
	logger := NewLogger(config.LoggingConfig{Level: "chatty", Format: "json", File: logFile})

	logger.Debug("hidden")
	logger.Info("visible")
	Sync(logger)

	data, _ := os.ReadFile(logFile)
	if strings.Contains(string(data), "hidden") {
		t.Error("Debug should be suppressed at the fallback level")
	}
	if !strings.Contains(string(data), "visible") {
		t.Error("Info should be logged at the fallback level")
	}
}

func TestRuleWidth(t *testing.T) {
	rule := Rule()
	if len([]rune(rule)) == 0 || len([]rune(rule)) > 100 {
		t.Errorf("Rule length out of range: %d", len([]rune(rule)))
	}
}
