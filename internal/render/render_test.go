package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/breeze-rmm/toolguard/internal/backup"
	"github.com/breeze-rmm/toolguard/internal/detect"
	"github.com/breeze-rmm/toolguard/internal/probe"
	"github.com/breeze-rmm/toolguard/internal/remediate"
)

func TestDetectionListsCoreHits(t *testing.T) {
	r := &detect.Report{
		Verdict:    detect.Detected,
		Confidence: detect.ConfidenceMedium,
		Results: []detect.Result{
			{ProbeID: "cli-executable", Category: probe.CategoryCore, Outcome: probe.Outcome{Found: true, Evidence: "CLI executable found at /usr/local/bin/openclaw"}},
			{ProbeID: "state-directory", Category: probe.CategoryCore, Outcome: probe.Outcome{Found: true, Evidence: "state directory found at /home/u/.openclaw"}},
			{ProbeID: "global-package", Category: probe.CategorySupplementary, Outcome: probe.Outcome{Found: true, Evidence: "npm package openclaw"}},
		},
	}

	out := Detection(r, false)
	for _, want := range []string{"DETECTED", "Medium", "Core detections", "/usr/local/bin/openclaw", "/home/u/.openclaw"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "npm package openclaw") {
		t.Error("supplementary findings should only render with verbose")
	}
	if !strings.Contains(Detection(r, true), "npm package openclaw") {
		t.Error("verbose output should include supplementary findings")
	}
}

func TestDetectionClean(t *testing.T) {
	out := Detection(&detect.Report{Verdict: detect.NotDetected}, false)
	if !strings.Contains(out, "NOT DETECTED") || !strings.Contains(out, "None") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRemediationStatus(t *testing.T) {
	cases := []struct {
		res  *remediate.Result
		err  error
		want string
	}{
		{&remediate.Result{ItemsRemoved: 3}, nil, "COMPLETE"},
		{&remediate.Result{ItemsRemoved: 4, Errors: 1}, nil, "PARTIAL"},
		{&remediate.Result{Denied: true}, nil, "CANCELLED"},
		{nil, errors.New("no actions"), "FAILED"},
	}
	for _, tc := range cases {
		if out := Remediation(tc.res, tc.err); !strings.Contains(out, tc.want) {
			t.Errorf("Remediation() missing %q:\n%s", tc.want, out)
		}
	}
}

func TestRemediationShowsLostAuditEntries(t *testing.T) {
	out := Remediation(&remediate.Result{ItemsRemoved: 2, AuditDropped: 3}, nil)
	if !strings.Contains(out, "3 entries not written") {
		t.Errorf("expected dropped audit count in summary:\n%s", out)
	}
	if out := Remediation(&remediate.Result{ItemsRemoved: 2}, nil); strings.Contains(out, "audit trail") {
		t.Errorf("no audit warning expected:\n%s", out)
	}
}

func TestRestoreListsNotRestorable(t *testing.T) {
	m := &backup.Manifest{ID: "20260101T000000Z-abcd1234"}
	res := &backup.RestoreResult{
		Restored:      []backup.BackedUpItem{{Original: "/home/u/.openclaw.json", Kind: backup.KindFile}},
		NotRestorable: []string{"/usr/local/bin/openclaw"},
	}
	out := Restore(m, res)
	for _, want := range []string{"RESTORED", "/home/u/.openclaw.json", "reinstall", "/usr/local/bin/openclaw"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
