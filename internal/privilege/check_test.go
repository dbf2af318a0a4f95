package privilege

import (
	"errors"
	"testing"

	"github.com/breeze-rmm/toolguard/internal/remediate"
)

var (
	elevated    = func() (bool, error) { return true, nil }
	notElevated = func() (bool, error) { return false, nil }
)

func serviceSteps() []remediate.Step {
	return []remediate.Step{
		{Name: "remove executable /usr/local/bin/openclaw", Action: remediate.ActionRemovePath},
		{Name: "stop service openclaw-gateway", Action: remediate.ActionStopService},
	}
}

func TestRequiresElevation(t *testing.T) {
	if !RequiresElevation(remediate.ActionRemoveService) {
		t.Fatal("removing a service should require elevation")
	}
	if RequiresElevation(remediate.ActionCleanShellRC) {
		t.Fatal("editing a user's shell rc should not require elevation")
	}
}

func TestRequireElevated(t *testing.T) {
	if err := Require(elevated, serviceSteps()); err != nil {
		t.Fatalf("Require() = %v, want nil", err)
	}
}

func TestRequireNotElevated(t *testing.T) {
	err := Require(notElevated, serviceSteps())
	if !errors.Is(err, ErrNotElevated) {
		t.Fatalf("Require() = %v, want ErrNotElevated", err)
	}
}

func TestRequireUserLevelStepsOnly(t *testing.T) {
	steps := []remediate.Step{{Name: "clean ~/.zshrc", Action: remediate.ActionCleanShellRC}}
	called := false
	check := func() (bool, error) { called = true; return false, nil }
	if err := Require(check, steps); err != nil {
		t.Fatalf("Require() = %v, want nil", err)
	}
	if called {
		t.Fatal("privileges should not be checked when no step needs them")
	}
}

func TestRequireCheckError(t *testing.T) {
	boom := errors.New("token unavailable")
	err := Require(func() (bool, error) { return false, boom }, serviceSteps())
	if !errors.Is(err, boom) {
		t.Fatalf("Require() = %v, want wrapped check error", err)
	}
	if errors.Is(err, ErrNotElevated) {
		t.Fatal("check failure must not read as not elevated")
	}
}

func TestIsElevatedDoesNotFail(t *testing.T) {
	if _, err := IsElevated(); err != nil {
		t.Fatalf("IsElevated() error = %v", err)
	}
}
