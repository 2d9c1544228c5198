package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/store"
)

func printRecommendations(w io.Writer, recs []engine.Recommendation) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, r := range recs {
		fmt.Fprintf(w, "%d. [%.3f] %s", i+1, r.Score, r.Record.Content)
		if r.Record.Category != "" {
			fmt.Fprintf(w, " [%s]", r.Record.Category)
		}
		fmt.Fprintf(w, "\n   %s/%s, similarity %.3f", r.Tier, r.Record.ScopeKey, r.Similarity)
		if r.Reason != "" {
			fmt.Fprintf(w, ", %s", r.Reason)
		}
		fmt.Fprintln(w)
	}
}

// --- search command ---

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories across every tier",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		recs := a.eng.RecommendForQuery(cmd.Context(), strings.Join(args, " "), searchLimit)
		printRecommendations(cmd.OutOrStdout(), recs)
		return nil
	},
}

// --- recommend command ---

var recommendLimit int

var recommendCmd = &cobra.Command{
	Use:   "recommend <conversation-id>",
	Short: "Recommend memories for a conversation from its recent messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.eng.Recommend(cmd.Context(), args[0], recommendLimit)
		if err != nil {
			return err
		}
		printRecommendations(cmd.OutOrStdout(), recs)
		return nil
	},
}

// --- prompt command ---

var (
	promptBase         string
	promptConversation string
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print a system prompt with memory applied",
	Long:  "Render memory into a base system prompt. Without --conversation only long-term lists are included.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Fprintln(cmd.OutOrStdout(), a.eng.ApplyToPrompt(cmd.Context(), promptBase, promptConversation))
		return nil
	},
}

// --- add command ---

var (
	addTier     string
	addScope    string
	addCategory string
)

var addCmd = &cobra.Command{
	Use:   "add [fact]",
	Short: "Add a fact manually",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := store.ParseTier(addTier)
		if err != nil {
			return err
		}

		a, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		scope := addScope
		if scope == "" && tier == store.TierLongTerm {
			scope = a.eng.Store.DefaultList()
		}
		rec, err := a.eng.AddRecord(cmd.Context(), strings.Join(args, " "), tier, scope, addCategory)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s/%s", rec.ID, rec.Tier, rec.ScopeKey)
		if rec.Category != "" {
			fmt.Fprintf(cmd.OutOrStdout(), ", %s", rec.Category)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ")")
		return nil
	},
}

// --- analyze command ---

var analyzeAssistant string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <conversation-id>",
	Short: "Extract facts from a conversation's unanalyzed messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.eng.Track(args[0], analyzeAssistant); err != nil {
			return err
		}
		results, err := a.eng.AnalyzeConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, r := range results {
			fmt.Fprintf(w, "%s: %s (%d messages)\n", r.Target, r.Outcome, r.DeltaSize)
			for _, rec := range r.Created {
				fmt.Fprintf(w, "  + %s\n", rec.Content)
			}
			if r.Err != nil {
				fmt.Fprintf(w, "  ! %v\n", r.Err)
			}
		}
		return nil
	},
}

// --- reset command ---

var resetCmd = &cobra.Command{
	Use:   "reset <tier> <scope>",
	Short: "Clear analysis watermarks so a scope's history is re-analyzed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := store.ParseTier(args[0])
		if err != nil {
			return err
		}

		a, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.eng.ResetAnalysisWatermarks(cmd.Context(), tier, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset watermarks on %d records\n", n)
		return nil
	},
}

// --- refresh command ---

var refreshForce bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute decay and freshness for every record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, ran := a.eng.RefreshDecay(cmd.Context(), refreshForce)
		if !ran {
			fmt.Fprintln(cmd.OutOrStdout(), "refresh skipped: ran recently (use --force)")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %d records\n", n)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	recommendCmd.Flags().IntVarP(&recommendLimit, "limit", "n", 0, "Maximum number of results (0 uses the configured default)")

	promptCmd.Flags().StringVar(&promptBase, "base", "", "Base system prompt")
	promptCmd.Flags().StringVarP(&promptConversation, "conversation", "c", "", "Conversation id")

	addCmd.Flags().StringVarP(&addTier, "tier", "t", "long_term", "Tier: long_term, short_term or assistant")
	addCmd.Flags().StringVarP(&addScope, "scope", "s", "", "List, conversation or assistant id (long-term defaults to the default list)")
	addCmd.Flags().StringVarP(&addCategory, "category", "c", "", "Category for long-term facts")

	analyzeCmd.Flags().StringVarP(&analyzeAssistant, "assistant", "a", "", "Assistant id, enables assistant-tier extraction")

	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "Ignore the refresh gate")
}
