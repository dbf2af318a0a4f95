package detect

import (
	"time"

	"github.com/breeze-rmm/toolguard/internal/platform"
	"github.com/breeze-rmm/toolguard/internal/probe"
)

// Exit codes shared by every toolguard command.
const (
	ExitClean = 0
	ExitFound = 1
	ExitError = 2
)

// Verdict is the compliance classification of a host.
type Verdict string

const (
	NotDetected Verdict = "not_detected"
	Detected    Verdict = "detected"
)

// Confidence grades a Detected verdict by how many core probes agreed.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceNone:
		return "None"
	case ConfidenceLow:
		return "Low"
	case ConfidenceMedium:
		return "Medium"
	case ConfidenceHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// MarshalText renders the confidence by name.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ConfidenceFor maps a count of core hits to a confidence grade.
func ConfidenceFor(coreHits int) Confidence {
	switch {
	case coreHits <= 0:
		return ConfidenceNone
	case coreHits == 1:
		return ConfidenceLow
	case coreHits == 2:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// Result pairs a probe with its outcome.
type Result struct {
	ProbeID     string         `json:"probe"`
	Description string         `json:"description"`
	Category    probe.Category `json:"category"`
	Outcome     probe.Outcome  `json:"outcome"`
	DurationMs  int64          `json:"durationMs"`
}

// Report is the outcome of one detection run. It is built once by NewReport
// and not modified afterwards.
type Report struct {
	Results         []Result      `json:"results"`
	Verdict         Verdict       `json:"verdict"`
	Confidence      Confidence    `json:"confidence"`
	ExecutionErrors int           `json:"executionErrors"`
	Host            platform.Info `json:"host"`
	StartedAt       time.Time     `json:"startedAt"`
	DurationMs      int64         `json:"durationMs"`
}

// NewReport derives the verdict, confidence and error tally from results.
// Only core results count toward the verdict.
func NewReport(host platform.Info, results []Result, startedAt time.Time, elapsed time.Duration) *Report {
	r := &Report{
		Results:    results,
		Host:       host,
		StartedAt:  startedAt,
		DurationMs: elapsed.Milliseconds(),
	}
	hits := 0
	for _, res := range results {
		if res.Outcome.Err != nil {
			r.ExecutionErrors++
			continue
		}
		if res.Category == probe.CategoryCore && res.Outcome.Found {
			hits++
		}
	}
	r.Confidence = ConfidenceFor(hits)
	r.Verdict = NotDetected
	if hits > 0 {
		r.Verdict = Detected
	}
	return r
}

// CoreDetections returns the core results that found the target, in report
// order. These are exactly the FOUND log lines of the run.
func (r *Report) CoreDetections() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Category == probe.CategoryCore && res.Outcome.Found && res.Outcome.Err == nil {
			out = append(out, res)
		}
	}
	return out
}

// SupplementaryFindings returns the informational hits.
func (r *Report) SupplementaryFindings() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Category == probe.CategorySupplementary && res.Outcome.Found && res.Outcome.Err == nil {
			out = append(out, res)
		}
	}
	return out
}

// Failures returns the results whose probe could not run.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Resources lists every resource located by any found probe, core or
// supplementary, deduplicated and in report order.
func (r *Report) Resources() []probe.Resource {
	seen := make(map[probe.Resource]bool)
	var out []probe.Resource
	for _, res := range r.Results {
		if !res.Outcome.Found || res.Outcome.Err != nil {
			continue
		}
		for _, rsc := range res.Outcome.Resources {
			if seen[rsc] {
				continue
			}
			seen[rsc] = true
			out = append(out, rsc)
		}
	}
	return out
}

// ExitCode is the only mapping from a detection run to a process exit code.
func ExitCode(r *Report, err error) int {
	if err != nil || r == nil {
		return ExitError
	}
	if r.Verdict == Detected {
		return ExitFound
	}
	return ExitClean
}
