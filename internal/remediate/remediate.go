// Package remediate removes a detected tool from the host behind a
// confirmation prompt and a mandatory backup.
package remediate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/toolguard/internal/audit"
	"github.com/breeze-rmm/toolguard/internal/backup"
	"github.com/breeze-rmm/toolguard/internal/config"
	"github.com/breeze-rmm/toolguard/internal/detect"
	"github.com/breeze-rmm/toolguard/internal/logging"
	"github.com/breeze-rmm/toolguard/internal/probe"
)

var log = logging.L("remediate")

// StepError is a failed step. It is counted and the run moves on.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step.Phase, e.Step.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// PanicError is an uncontrolled failure outside per-step isolation.
type PanicError struct {
	Phase Phase
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("remediation panicked during %s: %v", e.Phase, e.Value)
}

// Backuper snapshots targets before anything is removed. *backup.Manager
// implements it.
type Backuper interface {
	CreateBackup(ctx context.Context, targets []backup.Target, root string) (*backup.Manifest, error)
}

// Auditor records mutations. *audit.Logger implements it.
type Auditor interface {
	Log(eventType, runID string, details map[string]any)
}

// droppedCounter is implemented by auditors that track failed writes.
type droppedCounter interface {
	DroppedCount() int64
}

// Verifier re-runs detection after remediation.
type Verifier func(ctx context.Context) (*detect.Report, error)

// Options configures an Orchestrator.
type Options struct {
	// Force skips the confirmation prompt.
	Force bool
	// SkipBackup runs destructive steps without a backup.
	SkipBackup bool
	BackupRoot string
	// ConfirmToken defaults to config.DefaultConfirmToken.
	ConfirmToken string
	Input        io.Reader
	Prompt       io.Writer

	Backup  Backuper
	Actions Actions
	Audit   Auditor
	Verify  Verifier
}

// StepReport is the outcome of one executed step.
type StepReport struct {
	Step       Step   `json:"step"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Result summarizes a remediation run.
type Result struct {
	RunID        string           `json:"runId"`
	ItemsRemoved int              `json:"itemsRemoved"`
	Errors       int              `json:"errors"`
	Manifest     *backup.Manifest `json:"-"`
	BackupDir    string           `json:"backupDir,omitempty"`
	Steps        []StepReport     `json:"steps"`
	Denied       bool             `json:"denied,omitempty"`
	Aborted      bool             `json:"aborted,omitempty"`
	// Residual lists what detection still found afterwards. Nil when
	// verification did not run.
	Residual []probe.Resource `json:"residual,omitempty"`
	Verified bool             `json:"verified"`
	// AuditDropped counts audit entries that could not be written.
	AuditDropped int64 `json:"auditDropped,omitempty"`
	// Phase is the last state the run reached.
	Phase      Phase `json:"phase"`
	DurationMs int64 `json:"durationMs"`
}

// Orchestrator sequences one remediation run.
type Orchestrator struct {
	opts Options
}

// New returns an orchestrator. Actions must be set.
func New(opts Options) *Orchestrator {
	if opts.ConfirmToken == "" {
		opts.ConfirmToken = config.DefaultConfirmToken
	}
	if opts.Audit == nil {
		opts.Audit = (*audit.Logger)(nil)
	}
	return &Orchestrator{opts: opts}
}

// Run removes resources. Step failures, panics included, are counted in the
// result. The error is non-nil only when the backup gate fails or the run
// panics outside a step; a denied confirmation sets Result.Denied and returns
// a nil error.
func (o *Orchestrator) Run(ctx context.Context, resources []probe.Resource) (res *Result, err error) {
	started := time.Now()
	res = &Result{RunID: uuid.NewString(), Phase: PhaseAwaitConfirmation}
	runLog := log.With(logging.KeyRunID, res.RunID)
	ctx = logging.NewContext(ctx, runLog)

	defer func() {
		if r := recover(); r != nil {
			runLog.Error("remediation panicked", logging.KeyPhase, res.Phase.String(), "panic", r, "stack", string(debug.Stack()))
			err = &PanicError{Phase: res.Phase, Value: r}
			o.opts.Audit.Log(audit.EventRemediationFinished, res.RunID, map[string]any{
				"phase": res.Phase.String(),
				"panic": fmt.Sprint(r),
			})
		}
		if d, ok := o.opts.Audit.(droppedCounter); ok {
			res.AuditDropped = max(d.DroppedCount(), 0)
		}
		if res.AuditDropped > 0 {
			runLog.Warn("audit entries were lost", "dropped", res.AuditDropped)
		}
		res.DurationMs = time.Since(started).Milliseconds()
	}()

	steps := Plan(resources)
	if len(steps) == 0 {
		runLog.Info("nothing to remediate")
		res.Phase = PhaseFinalize
		return res, nil
	}
	if o.opts.Actions == nil {
		return res, errors.New("remediate: no actions configured")
	}

	// AwaitConfirmation
	if !o.opts.Force {
		if cerr := Confirm(o.opts.Input, o.opts.Prompt, o.opts.ConfirmToken, len(steps)); cerr != nil {
			if !errors.Is(cerr, ErrConfirmationDenied) {
				runLog.Error("could not read confirmation", logging.KeyError, cerr)
			}
			runLog.Warn("remediation cancelled, confirmation token not given")
			o.opts.Audit.Log(audit.EventConfirmationDenied, res.RunID, map[string]any{"steps": len(steps)})
			res.Denied = true
			return res, nil
		}
		o.opts.Audit.Log(audit.EventConfirmationGranted, res.RunID, nil)
	} else {
		runLog.Warn("confirmation skipped (--force)")
	}
	o.opts.Audit.Log(audit.EventRemediationStarted, res.RunID, map[string]any{
		"steps":      len(steps),
		"force":      o.opts.Force,
		"skipBackup": o.opts.SkipBackup,
	})

	// Backup
	res.Phase = PhaseBackup
	if berr := o.backup(ctx, resources, res); berr != nil {
		res.Aborted = true
		return res, berr
	}

	for _, phase := range destructivePhases {
		res.Phase = phase
		o.runPhase(ctx, phase, steps, res)
	}

	res.Phase = PhaseFinalize
	o.verify(ctx, res)

	o.opts.Audit.Log(audit.EventRemediationFinished, res.RunID, map[string]any{
		"itemsRemoved": res.ItemsRemoved,
		"errors":       res.Errors,
		"exitCode":     ExitCode(res, nil),
	})
	if res.Errors == 0 {
		logging.Success(ctx, runLog, "remediation complete", "itemsRemoved", res.ItemsRemoved)
	} else {
		runLog.Warn("remediation finished with errors", "itemsRemoved", res.ItemsRemoved, "errors", res.Errors)
	}
	return res, nil
}

func (o *Orchestrator) backup(ctx context.Context, resources []probe.Resource, res *Result) error {
	runLog := logging.FromContext(ctx)
	if o.opts.SkipBackup {
		runLog.Warn("backup skipped (--skip-backup), removed items cannot be restored")
		o.opts.Audit.Log(audit.EventBackupSkipped, res.RunID, nil)
		return nil
	}
	if o.opts.Backup == nil {
		return &backup.Error{Err: errors.New("no backup manager configured")}
	}

	man, err := o.opts.Backup.CreateBackup(ctx, BackupTargets(resources), o.opts.BackupRoot)
	res.Manifest = man
	if man != nil {
		res.BackupDir = man.Dir()
	}
	if err != nil {
		runLog.Error("backup failed, nothing was removed", logging.KeyError, err)
		o.opts.Audit.Log(audit.EventBackupFailed, res.RunID, map[string]any{"error": err.Error()})
		return err
	}
	o.opts.Audit.Log(audit.EventBackupCreated, res.RunID, map[string]any{
		"id":       man.ID,
		"dir":      man.Dir(),
		"items":    len(man.Items),
		"excluded": len(man.Excluded),
	})
	logging.Success(ctx, runLog, "backup created", "dir", man.Dir(), "items", len(man.Items))
	for _, exe := range man.ExcludedExecutables() {
		runLog.Warn("executable will be removed without a backup, reinstall to restore", "path", exe)
	}
	return nil
}

func (o *Orchestrator) runPhase(ctx context.Context, phase Phase, steps []Step, res *Result) {
	runLog := logging.FromContext(ctx).With(logging.KeyPhase, phase.String())
	for _, step := range steps {
		if step.Phase != phase {
			continue
		}
		start := time.Now()
		serr := o.applyRecovered(ctx, step)
		report := StepReport{Step: step, DurationMs: time.Since(start).Milliseconds()}

		details := map[string]any{
			"phase":  phase.String(),
			"step":   step.Name,
			"action": string(step.Action),
			"target": step.Target.Location,
		}
		if serr != nil {
			serr = &StepError{Step: step, Err: serr}
			report.Error = serr.Error()
			res.Errors++
			details["error"] = serr.Error()
			runLog.Error("step failed", logging.KeyStep, step.Name, logging.KeyError, serr)
			o.opts.Audit.Log(audit.EventStepFailed, res.RunID, details)
		} else {
			if step.Removes {
				res.ItemsRemoved++
			}
			logging.Success(ctx, runLog, step.Name, logging.KeyDurationMs, report.DurationMs)
			o.opts.Audit.Log(audit.EventStepSucceeded, res.RunID, details)
		}
		res.Steps = append(res.Steps, report)
	}
}

// applyRecovered runs one step, turning a panic into that step's error so the
// remaining steps still run.
func (o *Orchestrator) applyRecovered(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("step panicked", logging.KeyStep, step.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.apply(ctx, step)
}

func (o *Orchestrator) apply(ctx context.Context, step Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a := o.opts.Actions
	t := step.Target
	switch step.Action {
	case ActionStopService:
		return a.StopService(ctx, t.Location)
	case ActionKillProcess:
		pid, err := pidOf(t)
		if err != nil {
			return err
		}
		return a.KillProcess(ctx, pid)
	case ActionRemovePath:
		return a.RemovePath(ctx, t.Location)
	case ActionRemoveService:
		return a.RemoveService(ctx, t.Location)
	case ActionRemoveContainer:
		return a.RemoveContainer(ctx, t.Detail, t.Location)
	case ActionRemoveImage:
		return a.RemoveImage(ctx, t.Detail, t.Location)
	case ActionUninstall:
		return a.UninstallPackage(ctx, t.Detail, t.Location)
	case ActionCleanShellRC:
		return a.CleanShellReferences(ctx, t.Location, t.Detail)
	case ActionDeleteRegistry:
		return a.DeleteRegistryKey(ctx, t.Location)
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// verify re-runs detection. A failed verification is logged and does not
// change the exit code.
func (o *Orchestrator) verify(ctx context.Context, res *Result) {
	if o.opts.Verify == nil {
		return
	}
	runLog := logging.FromContext(ctx)
	report, err := o.opts.Verify(ctx)
	if err != nil {
		runLog.Warn("post-remediation detection failed", logging.KeyError, err)
		return
	}
	res.Verified = true
	res.Residual = report.Resources()
	if report.Verdict == detect.NotDetected {
		logging.Success(ctx, runLog, "host is clean after remediation")
		return
	}
	runLog.Warn("tool still detected after remediation",
		"coreDetections", len(report.CoreDetections()), "residual", len(res.Residual))
}

// ExitCode is the only mapping from a remediation run to a process exit
// code: 0 when every step succeeded, 1 on partial success or a denied
// confirmation, 2 when the backup gate or the orchestrator itself failed.
func ExitCode(res *Result, err error) int {
	switch {
	case err != nil, res == nil, res.Aborted:
		return detect.ExitError
	case res.Denied, res.Errors > 0:
		return detect.ExitFound
	default:
		return detect.ExitClean
	}
}
