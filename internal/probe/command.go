package probe

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// commandResult separates the ways a bounded command can end. Only startErr
// is a probe failure: a missing binary means the tool chain is absent, a
// timeout or non-zero exit means "not found".
type commandResult struct {
	output   []byte
	exitErr  error
	startErr error
	missing  bool
	timedOut bool
}

func (r commandResult) ok() bool {
	return r.exitErr == nil && r.startErr == nil && !r.missing && !r.timedOut
}

func runCommand(ctx context.Context, timeout time.Duration, argv ...string) commandResult {
	if len(argv) == 0 {
		return commandResult{startErr: errors.New("empty command")}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	res := commandResult{output: out.Bytes()}
	switch {
	case err == nil:
	case ctx.Err() == context.DeadlineExceeded:
		log.Warn("command timed out", "command", argv[0], "timeout", timeout)
		res.timedOut = true
	case errors.Is(err, exec.ErrNotFound):
		res.missing = true
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Debug("command exited non-zero", "command", argv[0], "code", exitErr.ExitCode())
			res.exitErr = err
		} else {
			res.startErr = err
		}
	}
	return res
}

// CommandProbe matches when a command exits zero and, if match is set, its
// output contains match.
type CommandProbe struct {
	base
	argv    []string
	match   string
	kind    ResourceKind
	timeout time.Duration
}

// NewCommand returns a probe running argv under timeout.
func NewCommand(d Declaration, timeout time.Duration, match string, argv ...string) *CommandProbe {
	return &CommandProbe{base: newBase(d), argv: argv, match: match, timeout: timeout, kind: ResourceExecutable}
}

func (p *CommandProbe) Execute(ctx context.Context) Outcome {
	res := runCommand(ctx, p.timeout, p.argv...)
	if res.startErr != nil {
		return p.fail("exec "+firstOf(p.argv), res.startErr)
	}
	if !res.ok() {
		return Outcome{}
	}
	if p.match != "" && !strings.Contains(string(res.output), p.match) {
		return Outcome{}
	}
	return p.found(p.description+": "+strings.Join(p.argv, " "),
		Resource{Kind: p.kind, Location: lookPath(firstOf(p.argv))})
}

// lookPath reports where the shell would find name, falling back to name.
func lookPath(name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		return name
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func firstOf(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}
