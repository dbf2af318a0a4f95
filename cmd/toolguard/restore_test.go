package main

import (
	"errors"
	"testing"

	"github.com/breeze-rmm/toolguard/internal/backup"
)

func TestRestoreExitCode(t *testing.T) {
	cases := []struct {
		name string
		res  *backup.RestoreResult
		err  error
		want int
	}{
		{"all restored", &backup.RestoreResult{Restored: []backup.BackedUpItem{{}}}, nil, 0},
		{"nothing to restore", &backup.RestoreResult{}, nil, 0},
		{"partial", &backup.RestoreResult{Failed: []backup.RestoreFailure{{Err: errors.New("x")}}}, nil, 1},
		{"load failure", nil, errors.New("no manifest"), 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := restoreExitCode(tc.res, tc.err); got != tc.want {
				t.Fatalf("restoreExitCode() = %d, want %d", got, tc.want)
			}
		})
	}
}
