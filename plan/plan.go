// Package plan describes which contract calls a benchmark issues and in
// what order. Plans are stored as JSONL, one call per line.
package plan

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/weiihann/smartdoor/contract"
)

// DefaultName is the authorization name used by the default plan.
const DefaultName = "test"

// Step is one benchmarked call.
type Step struct {
	Call contract.Call
}

// Plan is an ordered list of steps.
type Plan struct {
	Steps []Step
}

// line is the JSONL form of a step.
type line struct {
	Method string `json:"method"`
	Name   string `json:"name,omitempty"`
	Guest  string `json:"guest,omitempty"`
}

// Default exercises every contract method once per batch, with guest as
// the subject of the owner's administrative calls.
func Default(guest string) Plan {
	steps := make([]Step, 0, len(contract.Methods()))

	for _, m := range contract.Methods() {
		call := contract.Call{Method: m}

		for _, p := range m.Spec().Params {
			switch p {
			case contract.ParamName:
				call.Name = DefaultName
			case contract.ParamGuest:
				call.Guest = guest
			}
		}

		steps = append(steps, Step{Call: call})
	}

	return Plan{Steps: steps}
}

// Access benchmarks door access alone.
func Access() Plan {
	return Plan{Steps: []Step{{Call: contract.Call{Method: contract.AccessDoor}}}}
}

// Parse reads a JSONL plan. Blank lines are skipped; every call is
// validated.
func Parse(r io.Reader) (Plan, error) {
	var p Plan

	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			return Plan{}, fmt.Errorf("line %d: decode: %w", lineNum, err)
		}

		m, err := contract.ParseMethod(l.Method)
		if err != nil {
			return Plan{}, fmt.Errorf("line %d: %w", lineNum, err)
		}

		call := contract.Call{Method: m, Name: l.Name, Guest: l.Guest}
		if err := call.Validate(); err != nil {
			return Plan{}, fmt.Errorf("line %d: %w", lineNum, err)
		}

		p.Steps = append(p.Steps, Step{Call: call})
	}

	if err := scanner.Err(); err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}

	if len(p.Steps) == 0 {
		return Plan{}, fmt.Errorf("plan has no steps")
	}

	return p, nil
}

// Write encodes p as JSONL.
func (p Plan) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for _, s := range p.Steps {
		if err := enc.Encode(line{
			Method: s.Call.Method.String(),
			Name:   s.Call.Name,
			Guest:  s.Call.Guest,
		}); err != nil {
			return fmt.Errorf("encode %s: %w", s.Call.Method, err)
		}
	}

	return nil
}

// Filter keeps the steps whose method is named in names, preserving
// order. Names are report labels or ABI names.
func (p Plan) Filter(names []string) (Plan, error) {
	if len(names) == 0 {
		return p, nil
	}

	keep := make(map[contract.Method]bool, len(names))
	for _, n := range names {
		m, err := contract.ParseMethod(n)
		if err != nil {
			return Plan{}, err
		}
		keep[m] = true
	}

	var out Plan
	for _, s := range p.Steps {
		if keep[s.Call.Method] {
			out.Steps = append(out.Steps, s)
		}
	}

	if len(out.Steps) == 0 {
		return Plan{}, fmt.Errorf("no plan steps match %v", names)
	}

	return out, nil
}
