package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "recall",
	Short:        "Contextual memory for chat assistants",
	Long:         "Recall extracts facts from conversations, keeps them in tiered memory and injects the relevant ones into prompts.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config.toml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(listsCmd)
	rootCmd.AddCommand(refreshCmd)
}
