package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listsCmd = &cobra.Command{
	Use:   "lists",
	Short: "Manage long-term memory lists",
	Args:  cobra.NoArgs,
	RunE:  runListsShow,
}

func runListsShow(cmd *cobra.Command, args []string) error {
	a, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	counts := make(map[string]int)
	for _, r := range a.eng.Store.ActiveLongTerm() {
		counts[r.ScopeKey]++
	}

	w := cmd.OutOrStdout()
	for _, l := range a.eng.Store.Lists() {
		state := "active"
		if !l.IsActive {
			state = "inactive"
		}
		fmt.Fprintf(w, "%s  %-20s %-8s", l.ID, l.Name, state)
		if l.IsActive {
			fmt.Fprintf(w, " %d facts", counts[l.ID])
		}
		fmt.Fprintln(w)
	}
	return nil
}

var listsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Show every list",
	Args:  cobra.NoArgs,
	RunE:  runListsShow,
}

var listsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an active list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		l, err := a.eng.Store.CreateList(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", l.ID, l.Name)
		return nil
	},
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <list-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.eng.Store.SetListActive(cmd.Context(), args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", use, args[0])
			return nil
		},
	}
}

var listsRemoveCmd = &cobra.Command{
	Use:     "rm <list-id>",
	Aliases: []string{"delete"},
	Short:   "Delete a list and every fact in it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.eng.Store.DeleteList(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%d facts removed)\n", args[0], n)
		return nil
	},
}

func init() {
	listsCmd.AddCommand(listsLsCmd)
	listsCmd.AddCommand(listsCreateCmd)
	listsCmd.AddCommand(setActiveCmd("activate", "Include a list in retrieval and prompts", true))
	listsCmd.AddCommand(setActiveCmd("deactivate", "Exclude a list from retrieval and prompts", false))
	listsCmd.AddCommand(listsRemoveCmd)
}
