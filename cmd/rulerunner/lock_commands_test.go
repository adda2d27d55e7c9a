package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rulerunner/internal/filelock"
	"rulerunner/internal/worker"
)

func TestLockAcquireRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "shared.yaml")

	out, _, err := runCLI(t, []string{"lock", "acquire", "--owner", "alpha", target}, "")
	if err != nil {
		t.Fatalf("acquire alpha: %v", err)
	}
	requireContains(t, out, "Locked")

	_, _, err = runCLI(t, []string{"lock", "acquire", "--owner", "beta", "--attempts", "1", target}, "")
	if !errors.Is(err, filelock.ErrLocked) {
		t.Fatalf("expected ErrLocked for second owner, got %v", err)
	}

	out, _, err = runCLI(t, []string{"lock", "holders", target}, "")
	if err != nil {
		t.Fatalf("holders: %v", err)
	}
	if strings.TrimSpace(out) != "alpha" {
		t.Fatalf("holders = %q, want alpha", out)
	}

	if _, _, err := runCLI(t, []string{"lock", "release", "--owner", "alpha", target}, ""); err != nil {
		t.Fatalf("release alpha: %v", err)
	}
	if _, _, err := runCLI(t, []string{"lock", "acquire", "--owner", "beta", "--attempts", "1", target}, ""); err != nil {
		t.Fatalf("acquire beta after release: %v", err)
	}
}

func TestLockOwnerDefaults(t *testing.T) {
	t.Setenv(worker.EnvWorkerID, "")
	if got := lockOwner(""); got != filelock.DefaultOwner {
		t.Fatalf("lockOwner() = %q, want %q", got, filelock.DefaultOwner)
	}
	t.Setenv(worker.EnvWorkerID, "worker_2_abcd")
	if got := lockOwner(""); got != "worker_2_abcd" {
		t.Fatalf("lockOwner() = %q, want worker id", got)
	}
	if got := lockOwner("explicit"); got != "explicit" {
		t.Fatalf("lockOwner(explicit) = %q", got)
	}
}

func TestLockReleaseUsesWorkerEnv(t *testing.T) {
	target := filepath.Join(t.TempDir(), "notes.txt")
	t.Setenv(worker.EnvWorkerID, "worker_0_feed")

	if _, _, err := runCLI(t, []string{"lock", "acquire", target}, ""); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(filelock.MarkerPath(target, "worker_0_feed")); err != nil {
		t.Fatalf("expected marker for worker: %v", err)
	}
	if _, _, err := runCLI(t, []string{"lock", "release", target}, ""); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(filelock.MarkerPath(target, "worker_0_feed")); !os.IsNotExist(err) {
		t.Fatalf("expected marker removed, stat err = %v", err)
	}
}
