package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/stress"
)

func TestWriteJSONToFile(t *testing.T) {
	result := stress.StressRunResult{
		RunID:   "test-run",
		Verdict: stress.VerdictPass,
		Scenarios: []stress.ScenarioResult{
			{Name: "echo_only", CommandProfile: stress.ProfileEchoOnly, Sent: 10, Received: 10, Verdict: stress.VerdictPass},
		},
	}

	tmpDir := t.TempDir()
	outPath := filepath.Join(tmpDir, "result.json")

	if err := WriteJSON(result, outPath); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(data) < 10 {
		t.Error("output file too small")
	}

	content := string(data)
	if !containsStr(content, `"run_id": "test-run"`) {
		t.Error("output missing run_id")
	}
	if !containsStr(content, `"verdict": "PASS"`) {
		t.Error("output missing run-level verdict")
	}
}

func TestWriteJSONStdout(t *testing.T) {
	result := stress.StressRunResult{RunID: "test-run", Verdict: stress.VerdictWarn}

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := WriteJSON(result, "-")

	w.Close()
	os.Stdout = oldStdout

	if err != nil {
		t.Fatalf("WriteJSON to stdout: %v", err)
	}

	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	if n == 0 {
		t.Error("no output to stdout")
	}
}

func containsStr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
