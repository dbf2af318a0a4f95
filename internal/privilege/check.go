// Package privilege reports whether the process can make system-wide
// changes.
package privilege

import (
	"errors"
	"fmt"

	"github.com/breeze-rmm/toolguard/internal/remediate"
)

// ErrNotElevated is returned by Require when the process lacks root or an
// elevated token.
var ErrNotElevated = errors.New("not running with administrative privileges")

// elevatedActions maps remediation actions that touch system-wide state.
// Uses constants from remediate to prevent silent mismatch.
var elevatedActions = map[remediate.Action]bool{
	remediate.ActionStopService:    true,
	remediate.ActionRemoveService:  true,
	remediate.ActionKillProcess:    true,
	remediate.ActionDeleteRegistry: true,
	remediate.ActionUninstall:      true,
}

// RequiresElevation returns true if the action needs root/admin privileges.
func RequiresElevation(action remediate.Action) bool {
	return elevatedActions[action]
}

// Checker reports elevation. Tests substitute their own.
type Checker func() (bool, error)

// Require returns ErrNotElevated, wrapped with a hint, when any of steps
// needs elevation and check reports a non-elevated process.
func Require(check Checker, steps []remediate.Step) error {
	var needs []string
	for _, s := range steps {
		if RequiresElevation(s.Action) {
			needs = append(needs, s.Name)
		}
	}
	if len(needs) == 0 {
		return nil
	}
	if check == nil {
		check = IsElevated
	}
	ok, err := check()
	if err != nil {
		return fmt.Errorf("check privileges: %w", err)
	}
	if !ok {
		return fmt.Errorf("%d step(s) such as %q: %w (%s)", len(needs), needs[0], ErrNotElevated, hint)
	}
	return nil
}
