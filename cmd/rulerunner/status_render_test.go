package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/jedib0t/go-pretty/v6/text"

	"rulerunner/internal/queue"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Queue store", statusError, "not writable", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Queue store:", "[ERROR] not writable")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	text.EnableColors()
	got := renderStatusLine("Queue store", statusOK, "ready", true)
	if !strings.HasPrefix(got, "\x1b[") {
		t.Fatalf("expected escape prefix, got %q", got)
	}
	if !strings.Contains(got, "[OK] ready") {
		t.Fatalf("expected status text, got %q", got)
	}
}

func TestRenderProgress(t *testing.T) {
	out := renderProgress(queue.Progress{Pending: 1, Claimed: 2, Completed: 3, Failed: 4, Total: 10}, false)
	for _, want := range []string{"Pending", "Claimed", "Completed", "Failed", "Total", "10"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("unexpected escape codes without colour:\n%s", out)
	}
}

func TestRenderItemsDashesMissingWorker(t *testing.T) {
	out := renderItems([]queue.Item{
		{ID: 0, Payload: "a.rule", Status: queue.StatusPending},
		{ID: 1, Payload: "b.rule", Status: queue.StatusCompleted, WorkerID: "worker_1_abcd"},
	}, false)
	for _, want := range []string{"a.rule", "b.rule", "worker_1_abcd", " - "} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestExitCodeDefaultsToOne(t *testing.T) {
	if got := exitCode(fmt.Errorf("plain")); got != 1 {
		t.Fatalf("exitCode(plain) = %d", got)
	}
	if got := exitCode(fmt.Errorf("wrapped: %w", &exitError{code: 3, err: io.EOF})); got != 3 {
		t.Fatalf("exitCode(wrapped) = %d", got)
	}
}
