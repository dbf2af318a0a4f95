// Package detect runs the probe registry against the host and turns the
// outcomes into a compliance verdict.
package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/toolguard/internal/logging"
	"github.com/breeze-rmm/toolguard/internal/platform"
	"github.com/breeze-rmm/toolguard/internal/probe"
	"github.com/breeze-rmm/toolguard/internal/workerpool"
)

var log = logging.L("detect")

// InitError means the orchestrator could not start reasoning about the host.
// It is the only detection failure that yields ExitError.
type InitError struct {
	Op  string
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("detect: %s: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// BuildFunc builds the probe registry for a detected host.
type BuildFunc func(host platform.Info) (*probe.Registry, error)

// Options tunes an Orchestrator.
type Options struct {
	// Platform identifies the host. Defaults to platform.Detect.
	Platform platform.Detector
	// Parallel > 0 runs probes on a worker pool of that size.
	Parallel int
	// DrainTimeout bounds how long a parallel phase may run. Defaults to
	// one minute.
	DrainTimeout time.Duration
}

// Orchestrator executes every applicable probe and builds a Report.
type Orchestrator struct {
	build BuildFunc
	opts  Options
}

// New returns an orchestrator that builds its registry with build.
func New(build BuildFunc, opts Options) *Orchestrator {
	if opts.Platform == nil {
		opts.Platform = platform.Detect
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = time.Minute
	}
	return &Orchestrator{build: build, opts: opts}
}

// Run detects the platform, resolves the registry once, then runs all core
// probes followed by all supplementary probes. It never stops early on a hit.
// Probe failures are tallied in the report; only initialization failures are
// returned as errors.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	runLog := log.With(logging.KeyRunID, uuid.NewString())
	ctx = logging.NewContext(ctx, runLog)

	host, err := o.opts.Platform(ctx)
	if err != nil {
		return nil, &InitError{Op: "detect platform", Err: err}
	}
	if o.build == nil {
		return nil, &InitError{Op: "build probes", Err: errors.New("no probe registry")}
	}
	reg, err := o.build(host)
	if err != nil {
		return nil, &InitError{Op: "build probes", Err: err}
	}

	core, supplementary := reg.Resolve(host.OS)
	runLog.Info("starting detection", "os", host.OS, "platform", host.Platform,
		"core", len(core), "supplementary", len(supplementary), "parallel", o.opts.Parallel)

	results := make([]Result, 0, len(core)+len(supplementary))
	results = append(results, o.runPhase(ctx, core)...)
	results = append(results, o.runPhase(ctx, supplementary)...)

	report := NewReport(host, results, started, time.Since(started))
	runLog.Info("detection complete", "verdict", report.Verdict, "confidence", report.Confidence,
		"executionErrors", report.ExecutionErrors, logging.KeyDurationMs, report.DurationMs)
	return report, nil
}

func (o *Orchestrator) runPhase(ctx context.Context, probes []probe.Probe) []Result {
	if len(probes) == 0 {
		return nil
	}
	if o.opts.Parallel > 0 {
		return o.runParallel(ctx, probes)
	}
	acc := newAccumulator(len(probes))
	for i, p := range probes {
		acc.set(i, execute(ctx, p))
	}
	return acc.collect(probes)
}

func (o *Orchestrator) runParallel(ctx context.Context, probes []probe.Probe) []Result {
	acc := newAccumulator(len(probes))
	pool := workerpool.New(o.opts.Parallel, len(probes))
	for i, p := range probes {
		i, p := i, p
		pool.Submit(func(taskCtx context.Context) {
			// Keep the run's logger and values; stop when the pool gives up.
			probeCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			stop := context.AfterFunc(taskCtx, cancel)
			defer stop()
			acc.set(i, execute(probeCtx, p))
		})
	}
	drainCtx, cancel := context.WithTimeout(ctx, o.opts.DrainTimeout)
	defer cancel()
	if !pool.Drain(drainCtx) {
		logging.FromContext(ctx).Warn("probes still running at deadline, cancelling them",
			"timeout", o.opts.DrainTimeout, "probes", len(probes))
	}
	return acc.collect(probes)
}

// execute runs one probe and logs its outcome. Core hits are logged at FOUND.
func execute(ctx context.Context, p probe.Probe) Result {
	l := logging.FromContext(ctx)
	start := time.Now()
	out := probe.Run(ctx, p)
	res := Result{
		ProbeID:     p.ID(),
		Description: p.Description(),
		Category:    p.Category(),
		Outcome:     out,
		DurationMs:  time.Since(start).Milliseconds(),
	}

	switch {
	case out.Err != nil:
		l.Error("probe failed", logging.KeyProbe, p.ID(), logging.KeyError, out.Err.Err)
	case out.Found && p.Category() == probe.CategoryCore:
		logging.Found(ctx, l, out.Evidence, logging.KeyProbe, p.ID())
	case out.Found:
		l.Info(out.Evidence, logging.KeyProbe, p.ID(), "category", p.Category())
	default:
		l.Debug("probe clear", logging.KeyProbe, p.ID(), logging.KeyDurationMs, res.DurationMs)
	}
	return res
}

// accumulator holds one slot per probe so report order is declared order
// regardless of completion order. Writes after collect are dropped.
type accumulator struct {
	mu     sync.Mutex
	slots  []*Result
	closed bool
}

func newAccumulator(n int) *accumulator {
	return &accumulator{slots: make([]*Result, n)}
}

func (a *accumulator) set(i int, r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.slots[i] = &r
}

// collect closes the accumulator. A probe that never reported (rejected by
// the pool or still running at the drain deadline) becomes a probe error.
func (a *accumulator) collect(probes []probe.Probe) []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true

	out := make([]Result, len(a.slots))
	for i, slot := range a.slots {
		if slot != nil {
			out[i] = *slot
			continue
		}
		p := probes[i]
		err := &probe.Error{ProbeID: p.ID(), Op: "execute", Err: errors.New("probe did not complete")}
		log.Error("probe did not complete", logging.KeyProbe, p.ID())
		out[i] = Result{ProbeID: p.ID(), Description: p.Description(), Category: p.Category(), Outcome: probe.Outcome{Err: err}}
	}
	return out
}
