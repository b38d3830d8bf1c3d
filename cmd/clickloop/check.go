package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/v0xg/clickloop/internal/config"
	"github.com/v0xg/clickloop/internal/task"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <tasks-file>",
		Short: "Validate a task file without opening a browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, tasks, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := file.Settings.Validate(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d tasks for %s\n", args[0], len(tasks), orNone(file.URL))
			logTasks(cmd, tasks)
			return nil
		},
	}
}

// logTasks prints the task list
func logTasks(cmd *cobra.Command, tasks []*task.Task) {
	out := cmd.OutOrStdout()
	for i, t := range tasks {
		line := fmt.Sprintf("  [%d] %s → %s", i+1, t.Action(), t.Target())
		switch t.Action() {
		case task.ActionType:
			line += fmt.Sprintf(" (text: %q)", t.Text())
		case task.ActionScroll:
			line += fmt.Sprintf(" (by %s)", t.Delta())
		}
		if cond, ok := t.Verification(); ok {
			line += fmt.Sprintf(" [verify: %s]", cond)
		}
		fmt.Fprintf(out, "%s  %s\n", line, t.Name())
	}
}

func orNone(s string) string {
	if s == "" {
		return "(no url)"
	}
	return s
}
