package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/weiihann/smartdoor/contract"
	"github.com/weiihann/smartdoor/stats"
)

// Confirm selects how write requests are considered answered.
type Confirm string

const (
	// ConfirmReceipt answers a write when its receipt is mined.
	ConfirmReceipt Confirm = "receipt"
	// ConfirmEvent answers a write when its notification arrives.
	ConfirmEvent Confirm = "event"
)

// ParseConfirm validates a confirmation mode name.
func ParseConfirm(s string) (Confirm, error) {
	switch c := Confirm(s); c {
	case ConfirmReceipt, ConfirmEvent:
		return c, nil
	default:
		return "", fmt.Errorf("unknown confirmation mode %q (want receipt or event)", s)
	}
}

// Result holds the outcome of one method's batch.
type Result struct {
	Method     string        `json:"method"`
	Mutability string        `json:"mutability"`
	Requests   int           `json:"requests"`
	Failures   int           `json:"failures"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Samples    []Sample      `json:"samples"`
	Summary    stats.Summary `json:"summary"`
}

// Write reports whether the batch exercised a state-changing method.
func (r Result) Write() bool {
	return r.Mutability == contract.Write.String()
}

// Report is a complete benchmark run.
type Report struct {
	ID         uuid.UUID    `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Backend    string       `json:"backend"`
	Account    string       `json:"account"`
	Confirm    Confirm      `json:"confirm"`
	Requests   int          `json:"requests"`
	Results    []Result     `json:"results"`
	Totals     stats.Totals `json:"totals"`
}

// Summarize recomputes the category totals from the results.
func (r *Report) Summarize() {
	var write, read []stats.Summary

	for _, res := range r.Results {
		if res.Write() {
			write = append(write, res.Summary)
		} else {
			read = append(read, res.Summary)
		}
	}

	r.Totals = stats.Combine(write, read)
}

// GasEstimate is the estimated cost of one call.
type GasEstimate struct {
	Method     string `json:"method"`
	Mutability string `json:"mutability"`
	Gas        uint64 `json:"gas"`
	Err        string `json:"error,omitempty"`
}

// ParseReport decodes a JSON report.
func ParseReport(r io.Reader) (*Report, error) {
	var report Report
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	if len(report.Results) == 0 {
		return nil, fmt.Errorf("report has no results")
	}

	return &report, nil
}
