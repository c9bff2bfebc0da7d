package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/mindloop/mindloop/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"            _           _ _\n" +
		"  _ __ ___ (_)_ __   __| | | ___   ___  _ __\n" +
		" | '_ ` _ \\| | '_ \\ / _` | |/ _ \\ / _ \\| '_ \\\n" +
		" | | | | | | | | | | (_| | | (_) | (_) | |_) |\n" +
		" |_| |_| |_|_|_| |_|\\__,_|_|\\___/ \\___/| .__/\n" +
		"                                       |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "mindloop",
	Short: "mindloop - autonomous reflection engine",
	Long:  color.CyanString(logo) + "\nAn autonomous cognitive loop: self-questions, lens reflection, research, and task completion.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printHeader(title string) {
	fmt.Println()
	color.New(color.FgCyan, color.Bold).Println(title)
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(questionCmd)
	rootCmd.AddCommand(knowledgeCmd)
}
