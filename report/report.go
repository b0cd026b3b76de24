// Package report formats benchmark results into tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/weiihann/smartdoor/bench"
	"github.com/weiihann/smartdoor/stats"
	"github.com/weiihann/smartdoor/store"
)

// Generate writes a markdown latency table for r.
func Generate(w io.Writer, r *bench.Report) error {
	if r == nil || len(r.Results) == 0 {
		return fmt.Errorf("no results to report")
	}

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run `%s` on %s as %s, %d requests per method, confirmed by %s.\n",
		r.ID, r.Backend, r.Account, r.Requests, r.Confirm)
	fmt.Fprintf(w, "Wall time: %s\n", formatDuration(r.FinishedAt.Sub(r.StartedAt)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Method | Kind | Samples | Failures | Min (s) | Mean (s) | Max (s) |")
	fmt.Fprintln(w, "|--------|------|---------|----------|---------|----------|---------|")

	for _, res := range r.Results {
		method := res.Method
		if res.TimedOut {
			method += " **TIMEOUT**"
		}

		fmt.Fprintf(w, "| %s | %s | %d/%d | %d | %s | %s | %s |\n",
			method,
			res.Mutability,
			len(res.Samples), res.Requests,
			res.Failures,
			res.Summary.FormatMin(),
			res.Summary.FormatMean(),
			res.Summary.FormatMax(),
		)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Category | Methods | Mean of means (s) |")
	fmt.Fprintln(w, "|----------|---------|-------------------|")

	for _, row := range []struct {
		name string
		s    stats.Summary
	}{
		{"write", r.Totals.Write},
		{"read", r.Totals.Read},
		{"all", r.Totals.All},
	} {
		fmt.Fprintf(w, "| %s | %d | %s |\n", row.name, row.s.Count, row.s.FormatMean())
	}

	return nil
}

// GenerateJSON writes v as indented JSON to w.
func GenerateJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// GenerateGas writes one line per estimate, aligned on the gas figure.
func GenerateGas(w io.Writer, estimates []bench.GasEstimate) error {
	if len(estimates) == 0 {
		return fmt.Errorf("no estimates to report")
	}

	labels := make([]string, len(estimates))
	width := 0

	for i, e := range estimates {
		labels[i] = fmt.Sprintf("'%s' (%s):", e.Method, e.Mutability)
		width = max(width, len(labels[i]))
	}

	for i, e := range estimates {
		value := fmt.Sprintf("%d", e.Gas)
		if e.Err != "" {
			value = "failed: " + e.Err
		}

		fmt.Fprintf(w, "Estimated gas for %-*s %s\n", width, labels[i], value)
	}

	return nil
}

// GenerateRuns writes a markdown listing of stored runs.
func GenerateRuns(w io.Writer, runs []store.RunSummary) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	fmt.Fprintln(w, "| Run | Started | Backend | Confirm | Requests | Methods | Failures | Timeouts | Mean (s) |")
	fmt.Fprintln(w, "|-----|---------|---------|---------|----------|---------|----------|----------|----------|")

	for _, r := range runs {
		fmt.Fprintf(w, "| %s | %s | %s | %s | %d | %d | %d | %d | %s |\n",
			r.ID,
			r.StartedAt.UTC().Format(time.RFC3339),
			r.Backend,
			r.Confirm,
			r.Requests,
			r.Methods,
			r.Failures,
			r.TimedOut,
			r.All.FormatMean(),
		)
	}

	return nil
}

func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}

	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}
