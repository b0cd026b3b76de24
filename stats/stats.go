// Package stats aggregates request latencies. Values are elapsed seconds.
package stats

import "strconv"

// NoData is reported in place of a figure computed over no samples.
const NoData = "no data"

// Summary describes one sample set.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// Summarize computes minimum, maximum and mean of values. An empty input
// yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	s := Summary{Count: len(values), Min: values[0], Max: values[0]}

	var sum float64
	for _, v := range values {
		sum += v
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}

	s.Mean = sum / float64(len(values))

	return s
}

// NoData reports whether the summary was computed over no samples.
func (s Summary) NoData() bool {
	return s.Count == 0
}

func (s Summary) format(v float64) string {
	if s.NoData() {
		return NoData
	}

	return strconv.FormatFloat(v, 'f', 3, 64)
}

func (s Summary) FormatMin() string  { return s.format(s.Min) }
func (s Summary) FormatMax() string  { return s.format(s.Max) }
func (s Summary) FormatMean() string { return s.format(s.Mean) }

// Totals holds category averages.
type Totals struct {
	Write Summary `json:"write"`
	Read  Summary `json:"read"`
	All   Summary `json:"all"`
}

// Combine averages per-method means. Each category summary is computed
// over the means of its methods; methods without samples are left out.
func Combine(write, read []Summary) Totals {
	w := means(write)
	r := means(read)

	return Totals{
		Write: Summarize(w),
		Read:  Summarize(r),
		All:   Summarize(append(append([]float64(nil), w...), r...)),
	}
}

func means(summaries []Summary) []float64 {
	out := make([]float64, 0, len(summaries))
	for _, s := range summaries {
		if !s.NoData() {
			out = append(out, s.Mean)
		}
	}

	return out
}
