package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/weiihann/smartdoor/bench"
	"github.com/weiihann/smartdoor/stats"
	"github.com/weiihann/smartdoor/store"
)

func sampleReport() *bench.Report {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r := &bench.Report{
		ID:         uuid.MustParse("5b0f0a2e-3c9d-4a57-9d0b-7b1e2f1f6a11"),
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Backend:    "memdoor",
		Account:    "0x1111111111111111111111111111111111111111",
		Confirm:    bench.ConfirmReceipt,
		Requests:   3,
		Results: []bench.Result{
			{
				Method: "getRole", Mutability: "view", Requests: 3,
				Samples: make([]bench.Sample, 3),
				Summary: stats.Summarize([]float64{1, 2, 3}),
			},
			{
				Method: "accessDoor", Mutability: "payable", Requests: 3,
				Failures: 1, TimedOut: true,
			},
		},
	}
	r.Summarize()

	return r
}

func TestGenerate(t *testing.T) {
	var buf bytes.Buffer
	if err := Generate(&buf, sampleReport()); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	output := buf.String()

	for _, want := range []string{
		"| getRole | view | 3/3 | 0 | 1.000 | 2.000 | 3.000 |",
		"| accessDoor **TIMEOUT** | payable | 0/3 | 1 | no data | no data | no data |",
		"| write | 0 | no data |",
		"| read | 1 | 2.000 |",
		"| all | 1 | 2.000 |",
		"Wall time: 1.50s",
		"5b0f0a2e-3c9d-4a57-9d0b-7b1e2f1f6a11",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestGenerateEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Generate(&buf, nil); err == nil {
		t.Error("expected error for nil report")
	}
	if err := Generate(&buf, &bench.Report{}); err == nil {
		t.Error("expected error for empty results")
	}
}

func TestGenerateJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateJSON(&buf, sampleReport()); err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}

	parsed, err := bench.ParseReport(&buf)
	if err != nil {
		t.Fatalf("output is not a valid report: %v", err)
	}

	if len(parsed.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(parsed.Results))
	}
	if parsed.Results[0].Method != "getRole" {
		t.Errorf("method = %q, want getRole", parsed.Results[0].Method)
	}
}

func TestGenerateGas(t *testing.T) {
	estimates := []bench.GasEstimate{
		{Method: "getRole", Mutability: "view", Gas: 23512},
		{Method: "requestAuthorisation", Mutability: "payable", Gas: 117480},
		{Method: "accessDoor", Mutability: "payable", Err: "transaction reverted"},
	}

	var buf bytes.Buffer
	if err := GenerateGas(&buf, estimates); err != nil {
		t.Fatalf("GenerateGas failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}

	col := strings.Index(lines[0], "23512")
	if col < 0 || strings.Index(lines[1], "117480") != col {
		t.Errorf("gas figures not aligned:\n%s", buf.String())
	}

	if !strings.HasPrefix(lines[0], "Estimated gas for 'getRole' (view):") {
		t.Errorf("unexpected line %q", lines[0])
	}
	if !strings.Contains(lines[2], "failed: transaction reverted") {
		t.Errorf("expected failure in %q", lines[2])
	}

	if err := GenerateGas(&buf, nil); err == nil {
		t.Error("expected error for no estimates")
	}
}

func TestGenerateRuns(t *testing.T) {
	runs := []store.RunSummary{
		{
			ID:        uuid.MustParse("5b0f0a2e-3c9d-4a57-9d0b-7b1e2f1f6a11"),
			StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			Backend:   "ethdoor",
			Confirm:   bench.ConfirmEvent,
			Requests:  25,
			Methods:   11,
			Failures:  4,
			All:       stats.Summarize([]float64{2.5}),
		},
	}

	var buf bytes.Buffer
	if err := GenerateRuns(&buf, runs); err != nil {
		t.Fatalf("GenerateRuns failed: %v", err)
	}

	want := "| 5b0f0a2e-3c9d-4a57-9d0b-7b1e2f1f6a11 | 2026-03-01T09:00:00Z | ethdoor | event | 25 | 11 | 4 | 0 | 2.500 |"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("expected %q in output:\n%s", want, buf.String())
	}

	buf.Reset()
	if err := GenerateRuns(&buf, nil); err != nil {
		t.Fatalf("GenerateRuns failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No runs") {
		t.Errorf("unexpected empty listing %q", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0ms"},
		{500 * time.Millisecond, "500ms"},
		{999 * time.Millisecond, "999ms"},
		{time.Second, "1.00s"},
		{1500 * time.Millisecond, "1.50s"},
		{time.Minute, "60.00s"},
	}

	for _, tt := range tests {
		got := formatDuration(tt.input)
		if got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestGenerateJSONAny(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateJSON(&buf, map[string]int{"gas": 1}); err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}

	var parsed map[string]int
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
}
