package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mindloop/mindloop/internal/engine"
)

var (
	cycleTrigger string
	cycleSession string
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one reflection cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("🔁 Manual Cycle")

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		session := cycleSession
		if session == "" {
			session = rt.cfg.Engine.DefaultSession
		}

		report, err := rt.engine.ManualCycle(context.Background(), session, cycleTrigger)
		if err != nil {
			return fmt.Errorf("cycle failed: %w", err)
		}
		printReport(report)
		return nil
	},
}

func printReport(r *engine.CycleReport) {
	fmt.Printf("Trigger:   %s\n", r.Trigger)
	fmt.Printf("Duration:  %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Printf("Research:  %d ok", len(r.ResearchTopics))
	if len(r.ResearchFailed) > 0 {
		fmt.Printf(", %d failed (%s)", len(r.ResearchFailed), strings.Join(r.ResearchFailed, ", "))
	}
	fmt.Println()
	if r.TasksBlocked {
		fmt.Printf("Tasks:     %s\n", color.YellowString("blocked (refocused %s)", r.RefocusedTask))
	} else {
		fmt.Printf("Tasks:     %d created\n", len(r.TasksCreated))
	}
	fmt.Printf("Knowledge: %d entries\n", len(r.KnowledgeTopics))
	if r.Evolved {
		fmt.Println("Questions: pool evolved")
	}
}

func init() {
	cycleCmd.Flags().StringVar(&cycleTrigger, "trigger", "", "trigger text (default: drawn from the question pool)")
	cycleCmd.Flags().StringVar(&cycleSession, "session", "", "session id (default from config)")
}
