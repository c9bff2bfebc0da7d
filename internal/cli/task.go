package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mindloop/mindloop/internal/lifecycle"
	"github.com/mindloop/mindloop/internal/store"
)

var (
	taskStageNotes    string
	taskStageThinking string
	taskInstruction   string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and advance tracked tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task and its stage progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		task, progress, err := rt.engine.Tracker().Details(context.Background(), args[0])
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("task %s not found", args[0])
		}

		printTaskDetails(task, progress)
		return nil
	},
}

func printTaskDetails(task *store.Task, progress *store.TaskProgress) {
	printHeader("📋 " + task.Title)
	fmt.Printf("ID:     %s\n", task.ID)
	fmt.Printf("Status: %s\n", task.Status)
	if progress != nil {
		fmt.Printf("Completion: %d%%\n", progress.OverallCompletion)
		for _, stage := range lifecycle.StageOrder {
			rec := progress.Stages[stage]
			mark := color.RedString("✗")
			if rec.Completed {
				mark = color.GreenString("✓")
			}
			fmt.Printf("  %s %s", mark, stage)
			if rec.Notes != "" {
				fmt.Printf(" - %s", rec.Notes)
			}
			fmt.Println()
		}
	}
	if task.Notes != "" {
		fmt.Printf("Notes:\n%s\n", task.Notes)
	}
}

var taskStageCmd = &cobra.Command{
	Use:   "stage <task-id> <stage>",
	Short: "Mark a lifecycle stage complete",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		progress, err := rt.engine.Tracker().CompleteStage(context.Background(), args[0], args[1], taskStageNotes, taskStageThinking)
		if err != nil {
			return err
		}
		fmt.Printf("Stage %s complete. Overall: %d%%\n", args[1], progress.OverallCompletion)
		if progress.OverallCompletion == 100 {
			color.Green("Task finalized.")
		}
		return nil
	},
}

var taskFocusCmd = &cobra.Command{
	Use:   "focus <task-id>",
	Short: "Refocus the engine on an incomplete task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		session := rt.cfg.Engine.DefaultSession
		if err := rt.engine.FocusOnTask(context.Background(), session, args[0], taskInstruction); err != nil {
			return err
		}
		fmt.Printf("Focused on task %s\n", args[0])
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List engine-created tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		tasks, err := rt.store.ListTasks(rt.cfg.Engine.DefaultSession, "", 50)
		if err != nil {
			return err
		}
		printHeader("📋 Tasks")
		for _, t := range tasks {
			fmt.Printf("%s  [%s]  %s\n", t.ID, t.Status, t.Title)
		}
		if len(tasks) == 0 {
			fmt.Println("(none)")
		}
		return nil
	},
}

func init() {
	taskStageCmd.Flags().StringVar(&taskStageNotes, "notes", "", "stage completion notes")
	taskStageCmd.Flags().StringVar(&taskStageThinking, "thinking", "", "reasoning behind the stage work")
	taskFocusCmd.Flags().StringVar(&taskInstruction, "instruction", "", "direction for advancing the task")
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskStageCmd)
	taskCmd.AddCommand(taskFocusCmd)
	taskCmd.AddCommand(taskListCmd)
}
