package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rulerunner/internal/logging"
	"rulerunner/internal/queue"
)

type statusJSON struct {
	Store    string         `json:"store"`
	Progress queue.Progress `json:"progress"`
	Items    []queue.Item   `json:"items,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var store string
	var jsonOut bool
	var showItems bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how many items of a queue are in each state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.configCopy()
			if err != nil {
				return err
			}
			location, err := storeLocation(cfg, store)
			if err != nil {
				return err
			}
			if err := requireExistingStore(location); err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			q, err := queue.Open(cmd.Context(), location, logging.NewComponentLogger(logger, "cli"))
			if err != nil {
				return err
			}
			defer q.Close()

			progress, err := q.Progress(cmd.Context())
			if err != nil {
				return err
			}
			var items []queue.Item
			if showItems {
				if items, err = q.Items(cmd.Context()); err != nil {
					return err
				}
			}

			if jsonOut {
				return writeJSON(cmd, statusJSON{Store: q.Location(), Progress: progress, Items: items})
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintf(out, "Store: %s\n", q.Location())
			fmt.Fprintln(out, renderProgress(progress, colorize))
			if showItems && len(items) > 0 {
				fmt.Fprintln(out, renderItems(items, colorize))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&store, "store", "", "Queue location (defaults to queue.store)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the tally as JSON")
	cmd.Flags().BoolVar(&showItems, "items", false, "Also list every item")
	return cmd
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var store string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove a queue store with all its items and locks",
		Long: "Remove a queue store with all its items and locks.\n\n" +
			"Safe to repeat: a store that is already gone is not an error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.configCopy()
			if err != nil {
				return err
			}
			location, err := storeLocation(cfg, store)
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			backend, err := queue.OpenBackend(location)
			if err != nil {
				return err
			}
			q := queue.New(backend, logging.NewComponentLogger(logger, "cli"))
			defer q.Close()
			if err := q.Cleanup(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed queue store %s\n", q.Location())
			return nil
		},
	}

	cmd.Flags().StringVar(&store, "store", "", "Queue location (defaults to queue.store)")
	return cmd
}
