package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/transcript"
)

var (
	importConversation string
	importAssistant    string
	importAnalyze      bool
)

var importCmd = &cobra.Command{
	Use:   "import <transcript.jsonl>",
	Short: "Import a JSONL conversation transcript into the message log",
	Long: "Append a JSONL transcript to a conversation's message log. Messages keep stable ids, " +
		"so importing the same file twice adds nothing. With --analyze, facts are extracted afterwards.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	entries, err := transcript.ParseFile(path)
	if err != nil {
		return err
	}

	convID := importConversation
	if convID == "" {
		convID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	msgs := transcript.ToMessages(entries, convID)
	if len(msgs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No messages found.")
		return nil
	}

	a, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	for _, m := range msgs {
		if _, err := a.eng.AddMessage(cmd.Context(), convID, importAssistant, m); err != nil {
			return fmt.Errorf("import message %s: %w", m.ID, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d messages into %s (%d user)\n",
		len(msgs), convID, transcript.CountUserMessages(entries))

	if !importAnalyze {
		return nil
	}
	results, err := a.eng.AnalyzeConversation(cmd.Context(), convID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), engine.Summary(results))
	return nil
}

func init() {
	importCmd.Flags().StringVarP(&importConversation, "conversation", "c", "", "Conversation id (defaults to the file name)")
	importCmd.Flags().StringVarP(&importAssistant, "assistant", "a", "", "Assistant id to bind the conversation to")
	importCmd.Flags().BoolVar(&importAnalyze, "analyze", false, "Run analysis after importing")
}
