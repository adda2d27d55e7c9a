package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rulerunner/internal/config"
	"rulerunner/internal/testsupport"
)

const judgeScript = `case "$1" in
*bad*) exit 1 ;;
esac
exit 0`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
	script     string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("RULERUNNER_STORE", "")
	t.Setenv("RULERUNNER_LOG_LEVEL", "")

	script := testsupport.WriteScript(t, filepath.Join(base, "bin"), "judge.sh", judgeScript)
	opts = append([]testsupport.ConfigOption{testsupport.WithCommand(script, "{payload}")}, opts...)
	cfg := testsupport.NewConfig(t, opts...)

	configPath := filepath.Join(base, "rulerunner.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		baseDir:    base,
		script:     script,
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--log-level", "error"}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	quoted := make([]string, 0, len(cfg.Processor.Command))
	for _, arg := range cfg.Processor.Command {
		quoted = append(quoted, fmt.Sprintf("%q", arg))
	}
	content := fmt.Sprintf(
		"[paths]\nlog_dir = %q\n\n[queue]\nstore = %q\nworkers = %d\nprogress_interval = %d\n\n[worker]\nclaim_backoff_ms = %d\n\n[processor]\ncommand = [%s]\n",
		cfg.Paths.LogDir,
		cfg.Queue.Store,
		cfg.Queue.Workers,
		cfg.Queue.ProgressInterval,
		cfg.Worker.ClaimBackoffMillis,
		strings.Join(quoted, ", "),
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
