package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mindloop/mindloop/internal/store"
)

var (
	knowledgeLimit   int
	knowledgeTopic   string
	knowledgeContent string
	knowledgeTags    string
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Browse and add knowledge entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent knowledge entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		entries, err := rt.store.ListKnowledgeEntries(rt.cfg.Engine.DefaultSession, knowledgeLimit)
		if err != nil {
			return err
		}
		printHeader("📚 Knowledge")
		for _, e := range entries {
			fmt.Printf("%s  [%s]  %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Source, e.Topic)
		}
		if len(entries) == 0 {
			fmt.Println("(none)")
		}
		return nil
	},
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a knowledge entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if knowledgeTopic == "" || knowledgeContent == "" {
			return fmt.Errorf("--topic and --content are required")
		}
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		var tags []string
		for _, t := range strings.Split(knowledgeTags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		entry := &store.KnowledgeEntry{
			ID:        uuid.NewString(),
			SessionID: rt.cfg.Engine.DefaultSession,
			Timestamp: time.Now(),
			Source:    store.SourceSynthesis,
			Topic:     knowledgeTopic,
			Content:   knowledgeContent,
			Tags:      tags,
		}
		if err := rt.store.InsertKnowledgeEntry(entry); err != nil {
			return err
		}
		fmt.Printf("Added knowledge entry %s\n", entry.ID)
		return nil
	},
}

func init() {
	knowledgeListCmd.Flags().IntVar(&knowledgeLimit, "limit", 20, "max entries to show")
	knowledgeAddCmd.Flags().StringVar(&knowledgeTopic, "topic", "", "entry topic")
	knowledgeAddCmd.Flags().StringVar(&knowledgeContent, "content", "", "entry content")
	knowledgeAddCmd.Flags().StringVar(&knowledgeTags, "tags", "", "comma-separated tags")
	knowledgeCmd.AddCommand(knowledgeListCmd)
	knowledgeCmd.AddCommand(knowledgeAddCmd)
}
