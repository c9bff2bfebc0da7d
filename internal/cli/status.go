package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mindloop/mindloop/internal/config"
	"github.com/mindloop/mindloop/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ mindloop Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusSession string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("📊 mindloop Status")
		fmt.Printf("Version: %s\n", version)

		configPath := mustConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println("Config:  ✓ Found (" + configPath + ")")
		} else {
			fmt.Println("Config:  ✗ Not found (defaults in effect)")
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Provider.APIKey != "" {
			fmt.Println("API Key: ✓ Found")
		} else {
			fmt.Println("API Key: ✗ Not found")
		}

		if _, err := os.Stat(cfg.Paths.DBPath); err != nil {
			fmt.Println("Store:   ✗ No database yet (run 'mindloop cycle' or 'mindloop run')")
			return nil
		}
		st, err := store.New(cfg.Paths.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		session := statusSession
		if session == "" {
			session = cfg.Engine.DefaultSession
		}
		entries, err := st.CountKnowledgeEntries(session)
		if err != nil {
			return err
		}
		questions, err := st.CountActiveQuestions(session)
		if err != nil {
			return err
		}
		incomplete, err := st.CountIncompleteProgress(session)
		if err != nil {
			return err
		}
		fmt.Printf("Session:  %s\n", session)
		fmt.Printf("Knowledge entries: %d\n", entries)
		fmt.Printf("Active questions:  %d\n", questions)
		fmt.Printf("Incomplete tasks:  %d / %d\n", incomplete, cfg.Engine.IncompleteTaskCap)
		if last, ok, err := st.GetSetting(session, "last_cycle_at"); err == nil && ok {
			fmt.Printf("Last cycle:        %s\n", last)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSession, "session", "", "session id (default from config)")
}
