package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/breeze-rmm/toolguard/internal/platform"
	"github.com/breeze-rmm/toolguard/internal/svcquery"
	"github.com/breeze-rmm/toolguard/internal/target"
)

type panicProbe struct{ base }

func (p panicProbe) Execute(context.Context) Outcome { panic("boom") }

type errFoundProbe struct{ base }

func (p errFoundProbe) Execute(context.Context) Outcome {
	return Outcome{Found: true, Err: &Error{ProbeID: p.id, Op: "x", Err: errors.New("bad")}}
}

func TestRunRecoversPanic(t *testing.T) {
	p := panicProbe{newBase(Declaration{ID: "panics"})}
	out := Run(context.Background(), p)
	if out.Found {
		t.Fatal("panicking probe must not be found")
	}
	if out.Err == nil || out.Err.ProbeID != "panics" {
		t.Fatalf("expected probe error, got %+v", out.Err)
	}
	if !strings.Contains(out.Err.Error(), "boom") {
		t.Errorf("error should carry panic value: %v", out.Err)
	}
}

func TestRunClearsFoundOnError(t *testing.T) {
	out := Run(context.Background(), errFoundProbe{newBase(Declaration{ID: "e"})})
	if out.Found {
		t.Error("Found must be false when Err is set")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry(NewPath(Declaration{ID: "a"}, ResourceFile))
	if err := r.Register(NewPath(Declaration{ID: "a"}, ResourceFile)); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if err := r.Register(NewPath(Declaration{}, ResourceFile)); err == nil {
		t.Fatal("expected empty id error")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryResolveKeepsOrderAndFiltersPlatform(t *testing.T) {
	r := NewRegistry(
		NewPath(Declaration{ID: "s1", Category: CategorySupplementary}, ResourceFile),
		NewPath(Declaration{ID: "c1", Category: CategoryCore}, ResourceFile),
		NewPath(Declaration{ID: "win", Category: CategoryCore, Platforms: platform.Set{platform.Windows}}, ResourceFile),
		NewPath(Declaration{ID: "c2", Category: CategoryCore, Platforms: platform.Unix}, ResourceFile),
	)
	core, supp := r.Resolve(platform.Linux)
	if got := ids(core); got != "c1,c2" {
		t.Errorf("core = %s, want c1,c2", got)
	}
	if got := ids(supp); got != "s1" {
		t.Errorf("supplementary = %s, want s1", got)
	}
	core, _ = r.Resolve(platform.Windows)
	if got := ids(core); got != "c1,win" {
		t.Errorf("windows core = %s, want c1,win", got)
	}
}

func ids(ps []Probe) string {
	s := make([]string, len(ps))
	for i, p := range ps {
		s[i] = p.ID()
	}
	return strings.Join(s, ",")
}

func TestPathProbeKinds(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "openclaw")
	if err := os.WriteFile(file, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing")

	tests := []struct {
		name  string
		kind  ResourceKind
		paths []string
		found bool
	}{
		{"executable file", ResourceExecutable, []string{missing, file}, true},
		{"executable rejects dir", ResourceExecutable, []string{dir}, false},
		{"directory", ResourceDirectory, []string{dir}, true},
		{"directory rejects file", ResourceDirectory, []string{file}, false},
		{"config accepts either", ResourceConfig, []string{dir}, true},
		{"nothing there", ResourceFile, []string{missing}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewPath(Declaration{ID: "p", Description: "thing"}, tt.kind, tt.paths...).Execute(context.Background())
			if out.Err != nil {
				t.Fatalf("unexpected error: %v", out.Err)
			}
			if out.Found != tt.found {
				t.Fatalf("Found = %v, want %v", out.Found, tt.found)
			}
			if tt.found && (len(out.Resources) != 1 || out.Resources[0].Kind != tt.kind) {
				t.Errorf("resources = %+v", out.Resources)
			}
		})
	}
}

func TestPathProbeEvidence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "x")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	out := NewPath(Declaration{ID: "p", Description: "CLI executable"}, ResourceExecutable, file).Execute(context.Background())
	if out.Evidence != "CLI executable found at "+file {
		t.Errorf("Evidence = %q", out.Evidence)
	}
}

func TestProcessProbe(t *testing.T) {
	list := func(context.Context) (map[int32]string, error) {
		return map[int32]string{42: "OpenClaw.exe", 7: "bash", 9: "openclaw"}, nil
	}
	out := NewProcess(Declaration{ID: "proc", Description: "process"}, list, "openclaw").Execute(context.Background())
	if !out.Found {
		t.Fatal("expected process match")
	}
	if len(out.Resources) != 2 || out.Resources[0].Detail != "9" || out.Resources[1].Detail != "42" {
		t.Errorf("resources = %+v, want pids 9 then 42", out.Resources)
	}

	failing := func(context.Context) (map[int32]string, error) { return nil, errors.New("denied") }
	out = NewProcess(Declaration{ID: "proc"}, failing, "openclaw").Execute(context.Background())
	if out.Err == nil {
		t.Error("lister failure should be a probe error")
	}
}

type fakeServices map[string]svcquery.ServiceInfo

func (f fakeServices) Status(_ context.Context, name string) (svcquery.ServiceInfo, error) {
	if name == "broken" {
		return svcquery.ServiceInfo{}, errors.New("dbus timeout")
	}
	info, ok := f[name]
	if !ok {
		return svcquery.ServiceInfo{}, svcquery.ErrNotFound
	}
	return info, nil
}

func TestServiceProbe(t *testing.T) {
	svcs := fakeServices{"openclaw-gateway": {Name: "openclaw-gateway", Status: svcquery.StatusStopped}}

	out := NewService(Declaration{ID: "svc", Description: "service"}, svcs, "missing", "openclaw-gateway").Execute(context.Background())
	if !out.Found || out.Resources[0].Location != "openclaw-gateway" {
		t.Fatalf("expected stopped service to count as found: %+v", out)
	}

	out = NewService(Declaration{ID: "svc"}, svcs, "missing").Execute(context.Background())
	if out.Found || out.Err != nil {
		t.Errorf("absent service should be a clean miss: %+v", out)
	}

	out = NewService(Declaration{ID: "svc"}, svcs, "broken").Execute(context.Background())
	if out.Err == nil {
		t.Error("query failure should be a probe error")
	}
}

func TestPortProbeSocketTable(t *testing.T) {
	list := func(context.Context) ([]psnet.ConnectionStat, error) {
		return []psnet.ConnectionStat{
			{Status: "ESTABLISHED", Laddr: psnet.Addr{IP: "127.0.0.1", Port: 18789}},
			{Status: "LISTEN", Laddr: psnet.Addr{IP: "0.0.0.0", Port: 18789}, Pid: 77},
		}, nil
	}
	out := NewPort(Declaration{ID: "port", Description: "gateway"}, 18789, time.Second, list).Execute(context.Background())
	if !out.Found || out.Resources[0].Detail != "77" {
		t.Fatalf("expected listener with pid 77: %+v", out)
	}

	out = NewPort(Declaration{ID: "port"}, 18790, time.Second, list).Execute(context.Background())
	if out.Found || out.Err != nil {
		t.Errorf("other port should be a clean miss: %+v", out)
	}
}

func TestPortProbeDialFallback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	noTable := func(context.Context) ([]psnet.ConnectionStat, error) { return nil, errors.New("permission denied") }
	out := NewPort(Declaration{ID: "port"}, port, time.Second, noTable).Execute(context.Background())
	if !out.Found {
		t.Fatalf("expected dial fallback to find listener: %+v", out)
	}

	ln.Close()
	out = NewPort(Declaration{ID: "port"}, port, time.Second, noTable).Execute(context.Background())
	if out.Found || out.Err != nil {
		t.Errorf("refused dial should be a clean miss: %+v", out)
	}
}

func TestCommandProbe(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses unix shell utilities")
	}
	ctx := context.Background()

	out := NewCommand(Declaration{ID: "c"}, time.Second, "hello", "echo", "hello world").Execute(ctx)
	if !out.Found {
		t.Error("expected match on echo output")
	}
	if len(out.Resources) != 1 || !filepath.IsAbs(out.Resources[0].Location) {
		t.Errorf("command hit should report the absolute path found on PATH: %+v", out.Resources)
	}
	out = NewCommand(Declaration{ID: "c"}, time.Second, "absent", "echo", "hello").Execute(ctx)
	if out.Found {
		t.Error("output mismatch should not match")
	}
	out = NewCommand(Declaration{ID: "c"}, time.Second, "", "false").Execute(ctx)
	if out.Found || out.Err != nil {
		t.Errorf("non-zero exit should be a clean miss: %+v", out)
	}
	out = NewCommand(Declaration{ID: "c"}, time.Second, "", "toolguard-no-such-binary").Execute(ctx)
	if out.Found || out.Err != nil {
		t.Errorf("missing binary should be a clean miss: %+v", out)
	}
	out = NewCommand(Declaration{ID: "c"}, 50*time.Millisecond, "", "sleep", "5").Execute(ctx)
	if out.Found || out.Err != nil {
		t.Errorf("timeout should be a clean miss: %+v", out)
	}
}

func TestMatchImage(t *testing.T) {
	images := []string{"openclaw"}
	tests := map[string]bool{
		"openclaw":                             true,
		"openclaw:latest":                      true,
		"ghcr.io/openclaw/openclaw:2026.1":     true,
		"docker.io/library/OpenClaw@sha256:ab": true,
		"openclaw-helper:1":                    false,
		"nginx:latest":                         false,
	}
	for ref, want := range tests {
		if got := MatchImage(ref, images); got != want {
			t.Errorf("MatchImage(%q) = %v, want %v", ref, got, want)
		}
	}
}

func TestShellRefProbe(t *testing.T) {
	dir := t.TempDir()
	rc := filepath.Join(dir, ".zshrc")
	content := "export PATH=$PATH:/usr/bin\nalias oc=openclaw\nsource ~/.OpenClaw/completion.zsh\n"
	if err := os.WriteFile(rc, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	clean := filepath.Join(dir, ".bashrc")
	if err := os.WriteFile(clean, []byte("export EDITOR=vi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := MatchingLines(rc, "openclaw")
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != 2 || lines[1] != 3 {
		t.Errorf("lines = %v, want [2 3]", lines)
	}

	out := NewShellRef(Declaration{ID: "sh", Description: "shell"}, "openclaw", clean, rc, filepath.Join(dir, "missing")).Execute(context.Background())
	if !out.Found || len(out.Resources) != 1 || out.Resources[0].Location != rc {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestSplitRegistryKey(t *testing.T) {
	hive, sub, err := SplitRegistryKey(`HKEY_CURRENT_USER\Software\OpenClaw`)
	if err != nil || hive != "HKCU" || sub != `Software\OpenClaw` {
		t.Errorf("got %q %q %v", hive, sub, err)
	}
	if _, _, err := SplitRegistryKey(`HKXX\Software`); err == nil {
		t.Error("expected unknown hive error")
	}
	if _, _, err := SplitRegistryKey(`HKLM`); err == nil {
		t.Error("expected missing subkey error")
	}
}

func TestBuiltinLayout(t *testing.T) {
	home := t.TempDir()
	resolved := target.Default().Resolve(platform.Linux, home)
	r := Builtin(resolved, BuiltinOptions{Services: fakeServices{}})

	core, supp := r.Resolve(platform.Linux)
	if got := ids(core); got != "cli-executable,state-directory,configuration,background-service,gateway-port" {
		t.Errorf("core = %s", got)
	}
	if !strings.Contains(ids(supp), IDPathCommand) {
		t.Errorf("supplementary probes %s should include %s", ids(supp), IDPathCommand)
	}
	for _, p := range supp {
		if p.Category() != CategorySupplementary {
			t.Errorf("%s should be supplementary", p.ID())
		}
		if p.ID() == IDRegistry {
			t.Error("registry probe must not resolve on linux")
		}
	}
}
