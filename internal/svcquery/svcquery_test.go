package svcquery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServiceStatusConstants(t *testing.T) {
	if StatusRunning != ServiceStatus("running") {
		t.Errorf("expected running, got %s", StatusRunning)
	}
	if StatusStopped != ServiceStatus("stopped") {
		t.Errorf("expected stopped, got %s", StatusStopped)
	}
	if StatusDisabled != ServiceStatus("disabled") {
		t.Errorf("expected disabled, got %s", StatusDisabled)
	}
	if StatusUnknown != ServiceStatus("unknown") {
		t.Errorf("expected unknown, got %s", StatusUnknown)
	}
}

func TestServiceInfoIsActive(t *testing.T) {
	active := ServiceInfo{Name: "test", Status: StatusRunning}
	if !active.IsActive() {
		t.Error("running service should be active")
	}
	stopped := ServiceInfo{Name: "test", Status: StatusStopped}
	if stopped.IsActive() {
		t.Error("stopped service should not be active")
	}
}

func TestControllerTimeoutDefaults(t *testing.T) {
	var nilCtl *Controller
	if nilCtl.timeout() != defaultTimeout {
		t.Error("nil controller should use default timeout")
	}
	c := &Controller{Timeout: 2 * time.Second}
	if c.timeout() != 2*time.Second {
		t.Errorf("timeout = %s", c.timeout())
	}
}

func TestRunReportsMissingBinary(t *testing.T) {
	c := New("")
	_, err := c.run(context.Background(), "definitely-not-a-real-binary-12345")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestStatusOfMissingServiceIsNotActive(t *testing.T) {
	c := New(t.TempDir())
	info, err := c.Status(context.Background(), "toolguard-nonexistent-service-12345")
	if err == nil {
		t.Fatalf("expected an error for a missing service, got %+v", info)
	}
	if info.IsActive() {
		t.Error("missing service must not be reported active")
	}
	if errors.Is(err, ErrNotFound) && info.Status != StatusUnknown {
		t.Errorf("missing service status = %s, want unknown", info.Status)
	}
}
