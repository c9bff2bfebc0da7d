package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var questionAll bool

var questionCmd = &cobra.Command{
	Use:   "question",
	Short: "Manage the self-question pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var questionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List self-questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		p := rt.engine.Pool(rt.cfg.Engine.DefaultSession)
		questions, err := p.List(context.Background(), questionAll)
		if err != nil {
			return err
		}
		printHeader("❓ Self-Questions")
		for _, q := range questions {
			state := ""
			if q.Retired() {
				state = color.RedString(" (retired)")
			}
			fmt.Printf("%s  eff=%.1f uses=%d%s\n  %s\n", q.ID, q.Effectiveness, q.UseCount, state, q.Text)
		}
		return nil
	},
}

var questionRetireCmd = &cobra.Command{
	Use:   "retire <question-id>",
	Short: "Retire a question from the pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		p := rt.engine.Pool(rt.cfg.Engine.DefaultSession)
		if err := p.Retire(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Retired question %s\n", args[0])
		return nil
	},
}

var questionEvolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Synthesize new question variants",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		p := rt.engine.Pool(rt.cfg.Engine.DefaultSession)
		if err := p.Evolve(context.Background()); err != nil {
			return err
		}
		count, err := p.CountActive(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Pool evolved: %d active questions\n", count)
		return nil
	},
}

func init() {
	questionListCmd.Flags().BoolVar(&questionAll, "all", false, "include retired questions")
	questionCmd.AddCommand(questionListCmd)
	questionCmd.AddCommand(questionRetireCmd)
	questionCmd.AddCommand(questionEvolveCmd)
}
