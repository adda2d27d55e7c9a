package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rulerunner/internal/filelock"
	"rulerunner/internal/worker"
)

// newLockCommand exposes advisory per-file locks so processor commands
// running in different workers can serialize edits to a shared file.
func newLockCommand() *cobra.Command {
	lockCmd := &cobra.Command{
		Use:         "lock",
		Short:       "Advisory file locks shared between workers",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}

	lockCmd.AddCommand(newLockAcquireCommand())
	lockCmd.AddCommand(newLockReleaseCommand())
	lockCmd.AddCommand(newLockHoldersCommand())
	return lockCmd
}

func newLockAcquireCommand() *cobra.Command {
	var owner string
	opts := filelock.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "acquire PATH",
		Short: "Wait until no other owner holds PATH, then hold it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := lockTarget(args[0])
			if err != nil {
				return err
			}
			who := lockOwner(owner)
			if err := filelock.Acquire(cmd.Context(), path, who, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Locked %s for %s\n", path, who)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Lock owner (defaults to "+worker.EnvWorkerID+", else \""+filelock.DefaultOwner+"\")")
	cmd.Flags().IntVar(&opts.Attempts, "attempts", opts.Attempts, "Attempts before giving up")
	cmd.Flags().DurationVar(&opts.MinDelay, "min-delay", opts.MinDelay, "Shortest wait between attempts")
	cmd.Flags().DurationVar(&opts.MaxDelay, "max-delay", opts.MaxDelay, "Longest wait between attempts")
	return cmd
}

func newLockReleaseCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "release PATH",
		Short: "Drop this owner's hold on PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := lockTarget(args[0])
			if err != nil {
				return err
			}
			who := lockOwner(owner)
			if err := filelock.Release(path, who); err != nil {
				return fmt.Errorf("release %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %s for %s\n", path, who)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Lock owner (defaults to "+worker.EnvWorkerID+", else \""+filelock.DefaultOwner+"\")")
	return cmd
}

func newLockHoldersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "holders PATH",
		Short: "List the owners holding PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := lockTarget(args[0])
			if err != nil {
				return err
			}
			holders, err := filelock.Holders(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(holders) == 0 {
				fmt.Fprintf(out, "%s is not locked\n", path)
				return nil
			}
			for _, holder := range holders {
				fmt.Fprintln(out, holder)
			}
			return nil
		},
	}
}

func lockTarget(arg string) (string, error) {
	path, err := filepath.Abs(strings.TrimSpace(arg))
	if err != nil {
		return "", fmt.Errorf("resolve lock path: %w", err)
	}
	return path, nil
}

func lockOwner(flag string) string {
	if owner := strings.TrimSpace(flag); owner != "" {
		return owner
	}
	if owner := strings.TrimSpace(os.Getenv(worker.EnvWorkerID)); owner != "" {
		return owner
	}
	return filelock.DefaultOwner
}
