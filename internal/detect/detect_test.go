package detect

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/toolguard/internal/platform"
	"github.com/breeze-rmm/toolguard/internal/probe"
)

type fakeProbe struct {
	id        string
	category  probe.Category
	platforms platform.Set
	found     bool
	err       error
	panics    bool
	delay     time.Duration
	calls     *atomic.Int32
	// cancelled, when set, makes Execute block until its context ends and
	// then closes the channel.
	cancelled chan struct{}
}

func (f *fakeProbe) ID() string               { return f.id }
func (f *fakeProbe) Description() string      { return f.id + " description" }
func (f *fakeProbe) Category() probe.Category { return f.category }
func (f *fakeProbe) Platforms() platform.Set  { return f.platforms }
func (f *fakeProbe) Execute(ctx context.Context) probe.Outcome {
	if f.calls != nil {
		f.calls.Add(1)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.cancelled != nil {
		<-ctx.Done()
		close(f.cancelled)
		return probe.Outcome{}
	}
	if f.panics {
		panic("probe exploded")
	}
	if f.err != nil {
		return probe.Outcome{Err: &probe.Error{ProbeID: f.id, Op: "test", Err: f.err}}
	}
	if !f.found {
		return probe.Outcome{}
	}
	return probe.Outcome{
		Found:     true,
		Evidence:  f.id + " found",
		Resources: []probe.Resource{{Kind: probe.ResourceFile, Location: "/" + f.id}},
	}
}

func core(id string, found bool) *fakeProbe {
	return &fakeProbe{id: id, category: probe.CategoryCore, found: found}
}

func supp(id string, found bool) *fakeProbe {
	return &fakeProbe{id: id, category: probe.CategorySupplementary, found: found}
}

var linuxHost = platform.Info{OS: platform.Linux, Arch: "amd64"}

func run(t *testing.T, opts Options, probes ...probe.Probe) *Report {
	t.Helper()
	if opts.Platform == nil {
		opts.Platform = platform.Static(linuxHost)
	}
	o := New(func(platform.Info) (*probe.Registry, error) {
		return probe.NewRegistry(probes...), nil
	}, opts)
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	return report
}

func TestConfidenceFor(t *testing.T) {
	assert.Equal(t, ConfidenceNone, ConfidenceFor(0))
	assert.Equal(t, ConfidenceLow, ConfidenceFor(1))
	assert.Equal(t, ConfidenceMedium, ConfidenceFor(2))
	assert.Equal(t, ConfidenceHigh, ConfidenceFor(3))
	assert.Equal(t, ConfidenceHigh, ConfidenceFor(10))
	for n := 0; n < 10; n++ {
		assert.LessOrEqual(t, ConfidenceFor(n), ConfidenceFor(n+1), "confidence must be monotonic")
	}
}

func TestNothingFound(t *testing.T) {
	report := run(t, Options{},
		core("cli-executable", false), core("state-directory", false), supp("running-process", false))

	assert.Equal(t, NotDetected, report.Verdict)
	assert.Equal(t, ConfidenceNone, report.Confidence)
	assert.Equal(t, ExitClean, ExitCode(report, nil))
	assert.Empty(t, report.CoreDetections())
}

func TestTwoCoreHits(t *testing.T) {
	report := run(t, Options{},
		core("cli-executable", true), core("state-directory", true), core("configuration", false),
		core("background-service", false), core("gateway-port", false), supp("running-process", false))

	assert.Equal(t, Detected, report.Verdict)
	assert.Equal(t, ConfidenceMedium, report.Confidence)
	assert.Equal(t, ExitFound, ExitCode(report, nil))

	hits := report.CoreDetections()
	require.Len(t, hits, 2)
	assert.Equal(t, "cli-executable", hits[0].ProbeID)
	assert.Equal(t, "state-directory", hits[1].ProbeID)
}

// Every combination of four core and two supplementary outcomes: the exit
// code is 1 exactly when a core probe hit, and supplementary outcomes change
// nothing.
func TestVerdictOverAllCombinations(t *testing.T) {
	const nCore, nSupp = 4, 2
	for mask := 0; mask < 1<<(nCore+nSupp); mask++ {
		var probes []probe.Probe
		coreHits := 0
		for i := 0; i < nCore; i++ {
			found := mask&(1<<i) != 0
			if found {
				coreHits++
			}
			probes = append(probes, core(fmt.Sprintf("core-%d", i), found))
		}
		for i := 0; i < nSupp; i++ {
			probes = append(probes, supp(fmt.Sprintf("supp-%d", i), mask&(1<<(nCore+i)) != 0))
		}

		report := run(t, Options{}, probes...)
		wantExit := ExitClean
		if coreHits > 0 {
			wantExit = ExitFound
		}
		assert.Equal(t, wantExit, ExitCode(report, nil), "mask %b", mask)
		assert.Equal(t, ConfidenceFor(coreHits), report.Confidence, "mask %b", mask)
		assert.Len(t, report.CoreDetections(), coreHits, "mask %b", mask)
	}
}

func TestSupplementaryNeverDecides(t *testing.T) {
	report := run(t, Options{}, core("c", false), supp("s1", true), supp("s2", true))
	assert.Equal(t, NotDetected, report.Verdict)
	assert.Equal(t, ConfidenceNone, report.Confidence)
	assert.Len(t, report.SupplementaryFindings(), 2)
	assert.Len(t, report.Resources(), 2, "supplementary resources still feed remediation")
}

func TestAllCoreProbesRunAfterFirstHit(t *testing.T) {
	var calls atomic.Int32
	probes := []probe.Probe{
		&fakeProbe{id: "a", category: probe.CategoryCore, found: true, calls: &calls},
		&fakeProbe{id: "b", category: probe.CategoryCore, found: true, calls: &calls},
		&fakeProbe{id: "c", category: probe.CategoryCore, found: true, calls: &calls},
	}
	report := run(t, Options{}, probes...)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, ConfidenceHigh, report.Confidence)
}

func TestProbeErrorsAreTalliedNotFatal(t *testing.T) {
	report := run(t, Options{},
		&fakeProbe{id: "broken", category: probe.CategoryCore, err: errors.New("permission denied")},
		&fakeProbe{id: "panics", category: probe.CategoryCore, panics: true},
		core("ok", true),
	)
	assert.Equal(t, 2, report.ExecutionErrors)
	assert.Equal(t, ConfidenceLow, report.Confidence)
	assert.Equal(t, ExitFound, ExitCode(report, nil))
	assert.Len(t, report.Failures(), 2)
}

func TestPlatformFilteredProbesAreSkipped(t *testing.T) {
	report := run(t, Options{},
		&fakeProbe{id: "win-only", category: probe.CategoryCore, found: true, platforms: platform.Set{platform.Windows}},
		core("linux", false),
	)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "linux", report.Results[0].ProbeID)
	assert.Equal(t, NotDetected, report.Verdict)
}

func TestCoreResultsPrecedeSupplementary(t *testing.T) {
	report := run(t, Options{}, supp("s", false), core("c1", false), supp("s2", false), core("c2", false))
	var got []string
	for _, r := range report.Results {
		got = append(got, r.ProbeID)
	}
	assert.Equal(t, []string{"c1", "c2", "s", "s2"}, got)
}

func TestParallelKeepsDeclaredOrder(t *testing.T) {
	probes := []probe.Probe{
		&fakeProbe{id: "slow", category: probe.CategoryCore, found: true, delay: 50 * time.Millisecond},
		&fakeProbe{id: "medium", category: probe.CategoryCore, delay: 20 * time.Millisecond},
		&fakeProbe{id: "fast", category: probe.CategoryCore, found: true},
		&fakeProbe{id: "panics", category: probe.CategorySupplementary, panics: true},
	}
	report := run(t, Options{Parallel: 4}, probes...)

	var got []string
	for _, r := range report.Results {
		got = append(got, r.ProbeID)
	}
	assert.Equal(t, []string{"slow", "medium", "fast", "panics"}, got)
	assert.Equal(t, ConfidenceMedium, report.Confidence)
	assert.Equal(t, 1, report.ExecutionErrors)
}

func TestParallelDrainTimeoutRecordsError(t *testing.T) {
	report := run(t, Options{Parallel: 1, DrainTimeout: 20 * time.Millisecond},
		&fakeProbe{id: "stuck", category: probe.CategoryCore, found: true, delay: 300 * time.Millisecond},
		core("queued", false),
	)
	assert.Equal(t, 2, report.ExecutionErrors)
	assert.Equal(t, NotDetected, report.Verdict)
}

func TestParallelDrainTimeoutCancelsRunningProbes(t *testing.T) {
	cancelled := make(chan struct{})
	report := run(t, Options{Parallel: 1, DrainTimeout: 20 * time.Millisecond},
		&fakeProbe{id: "blocked", category: probe.CategoryCore, cancelled: cancelled},
	)
	assert.Equal(t, 1, report.ExecutionErrors)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("probe still running after the drain deadline")
	}
}

func TestInitErrors(t *testing.T) {
	o := New(func(platform.Info) (*probe.Registry, error) { return probe.NewRegistry(), nil }, Options{
		Platform: func(context.Context) (platform.Info, error) { return platform.Info{}, errors.New("no host info") },
	})
	report, err := o.Run(context.Background())
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "detect platform", initErr.Op)
	assert.Equal(t, ExitError, ExitCode(report, err))

	o = New(func(platform.Info) (*probe.Registry, error) { return nil, errors.New("bad profile") }, Options{
		Platform: platform.Static(linuxHost),
	})
	_, err = o.Run(context.Background())
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, ExitError, ExitCode(nil, err))
}

func TestResourcesDeduplicated(t *testing.T) {
	a := core("a", true)
	b := &fakeProbe{id: "a2", category: probe.CategorySupplementary, found: true}
	report := run(t, Options{}, a, b)
	// a and a2 locate different paths
	assert.Len(t, report.Resources(), 2)

	dup := NewReport(linuxHost, []Result{
		{ProbeID: "x", Category: probe.CategoryCore, Outcome: probe.Outcome{Found: true, Resources: []probe.Resource{{Kind: probe.ResourceFile, Location: "/same"}}}},
		{ProbeID: "y", Category: probe.CategorySupplementary, Outcome: probe.Outcome{Found: true, Resources: []probe.Resource{{Kind: probe.ResourceFile, Location: "/same"}}}},
	}, time.Now(), 0)
	assert.Len(t, dup.Resources(), 1)
}
