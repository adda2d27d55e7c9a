package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rulerunner/internal/queue"
	"rulerunner/internal/testsupport"
	"rulerunner/internal/worker"
)

func TestRunInProcessReportsFailures(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"run", "--in-process", "a.rule", "bad.rule", "c.rule"}, env.configPath)
	if err == nil {
		t.Fatal("expected run to fail when a payload fails")
	}
	requireContains(t, err.Error(), "1 of 3 items")
	requireContains(t, out, "Completed")
	requireContains(t, out, "Failed payloads:")
	requireContains(t, out, "bad.rule")
	if strings.Contains(out, "Abandoned") {
		t.Fatalf("unexpected abandoned section:\n%s", out)
	}
	if _, err := os.Stat(env.cfg.Queue.Store); !os.IsNotExist(err) {
		t.Fatalf("expected store removed after run, stat err = %v", err)
	}
}

func TestRunJSONKeepAndStatus(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithSQLiteStore())

	out, _, err := runCLI(t, []string{"run", "--in-process", "--keep", "--json", "--workers", "3", "one", "two"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var result runResultJSON
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode run output: %v\n%s", err, out)
	}
	if !result.OK || result.Progress.Completed != 2 || result.Progress.Total != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Workers) != 3 {
		t.Fatalf("expected 3 workers, got %d", len(result.Workers))
	}
	if len(result.Failed) != 0 || len(result.Abandoned) != 0 {
		t.Fatalf("expected empty failure lists: %+v", result)
	}

	out, _, err = runCLI(t, []string{"status", "--json", "--items"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status statusJSON
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status output: %v\n%s", err, out)
	}
	if status.Progress.Completed != 2 || len(status.Items) != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
	for _, item := range status.Items {
		if item.WorkerID == "" {
			t.Fatalf("item %d has no worker id", item.ID)
		}
	}

	for i := 0; i < 2; i++ {
		out, _, err = runCLI(t, []string{"cleanup"}, env.configPath)
		if err != nil {
			t.Fatalf("cleanup #%d: %v", i+1, err)
		}
		requireContains(t, out, "Removed queue store")
	}

	if _, _, err := runCLI(t, []string{"status"}, env.configPath); err == nil {
		t.Fatal("expected status to fail for a removed store")
	}
}

func TestRunReadsItemsFileAndGlob(t *testing.T) {
	env := setupCLITestEnv(t)
	rules := filepath.Join(env.baseDir, "rules")
	testsupport.WriteFile(t, filepath.Join(rules, "x.rule"), "x")
	testsupport.WriteFile(t, filepath.Join(rules, "y.rule"), "y")
	itemsPath := filepath.Join(env.baseDir, "items.yaml")
	testsupport.WriteFile(t, itemsPath, "- extra-1\n- extra-2\n")

	out, _, err := runCLI(t, []string{
		"run", "--in-process", "--json",
		"--glob", filepath.Join(rules, "*.rule"),
		"--items", itemsPath,
		filepath.Join(rules, "x.rule"),
	}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var result runResultJSON
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode run output: %v", err)
	}
	if result.Progress.Total != 4 || result.Progress.Completed != 4 {
		t.Fatalf("expected 4 deduplicated payloads completed, got %+v", result.Progress)
	}
}

func TestRunCommandFlagOverridesConfig(t *testing.T) {
	env := setupCLITestEnv(t)
	reject := testsupport.WriteScript(t, filepath.Join(env.baseDir, "bin"), "reject.sh", "exit 1")

	_, _, err := runCLI(t, []string{"run", "--in-process", "--command", reject + " {payload}", "a"}, env.configPath)
	if err == nil {
		t.Fatal("expected failure with rejecting command")
	}
	requireContains(t, err.Error(), "1 of 1 items")
}

func TestRunRequiresProcessorCommand(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithCommand())

	_, _, err := runCLI(t, []string{"run", "--in-process", "a"}, env.configPath)
	if err == nil {
		t.Fatal("expected missing command error")
	}
	requireContains(t, err.Error(), "processor.command")
}

func TestRunEmptyPayloadsSucceeds(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"run", "--in-process", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var result runResultJSON
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode run output: %v", err)
	}
	if result.Progress.Total != 0 || !result.OK {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestWorkerCommandDrainsSeededQueue(t *testing.T) {
	env := setupCLITestEnv(t)
	q := testsupport.MustOpenQueue(t, env.cfg.Queue.Store)
	testsupport.MustSeed(t, q, "p1", "bad-p2", "p3")

	_, _, err := runCLI(t, []string{"worker", "--id", "worker_0_test", "--store", env.cfg.Queue.Store, "--", env.script, "{payload}"}, env.configPath)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	p := testsupport.MustProgress(t, q)
	if p.Completed != 2 || p.Failed != 1 || p.Pending != 0 || p.Claimed != 0 {
		t.Fatalf("unexpected progress: %+v", p)
	}
	items, err := q.Items(t.Context())
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	for _, item := range items {
		if item.WorkerID != "worker_0_test" {
			t.Fatalf("item %d claimed by %q", item.ID, item.WorkerID)
		}
	}
}

func TestWorkerCommandStorageFailureExitCode(t *testing.T) {
	env := setupCLITestEnv(t)
	blocker := filepath.Join(env.baseDir, "blocker")
	testsupport.WriteFile(t, blocker, "not a directory")

	_, _, err := runCLI(t, []string{"worker", "--id", "w", "--store", filepath.Join(blocker, "queue")}, env.configPath)
	if err == nil {
		t.Fatal("expected storage failure")
	}
	if got := exitCode(err); got != worker.ExitStorageFailure {
		t.Fatalf("exit code = %d, want %d (err %v)", got, worker.ExitStorageFailure, err)
	}
	var storageErr *queue.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %T", err)
	}
}

func TestWorkerCommandRequiresID(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv(worker.EnvWorkerID, "")

	_, _, err := runCLI(t, []string{"worker"}, env.configPath)
	if err == nil {
		t.Fatal("expected missing id error")
	}
	if got := exitCode(err); got != 1 {
		t.Fatalf("exit code = %d, want 1", got)
	}
}

func TestWorkerArgsCarryCommandAfterSeparator(t *testing.T) {
	configFlag, levelFlag := "/etc/rr.toml", "debug"
	ctx := newCommandContext(&configFlag, &levelFlag)

	got := workerArgs(ctx, []string{"lint", "{payload}"})
	want := []string{"--config", "/etc/rr.toml", "--log-level", "debug", "--", "lint", "{payload}"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("workerArgs = %v, want %v", got, want)
	}
}
