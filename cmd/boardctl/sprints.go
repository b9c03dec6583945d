package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"prism-board/domain"
)

var sprintsCmd = &cobra.Command{
	Use:   "sprints",
	Short: "List and transition sprints",
}

var sprintsListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List the sprints of a project with their badges",
	Args:  cobra.ExactArgs(1),
	RunE:  runSprintsList,
}

var sprintsOverdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "List active sprints past their end date",
	Args:  cobra.NoArgs,
	RunE:  runSprintsOverdue,
}

var sprintsTransitionCmd = &cobra.Command{
	Use:   "transition <project-id> <sprint-id> <ACTIVE|COMPLETED>",
	Short: "Start or complete a sprint",
	Args:  cobra.ExactArgs(3),
	RunE:  runSprintsTransition,
}

func init() {
	sprintsCmd.AddCommand(sprintsListCmd, sprintsOverdueCmd, sprintsTransitionCmd)
	rootCmd.AddCommand(sprintsCmd)
}

func printSprints(cmd *cobra.Command, sprints []domain.Sprint) error {
	now := time.Now()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSTART\tEND\tBADGE")
	for _, s := range sprints {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Status, s.StartDate.Format(time.DateOnly), s.EndDate.Format(time.DateOnly), s.Badge(now))
	}
	return tw.Flush()
}

func runSprintsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, closeStore, err := storeOpener(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	sprints, err := domain.NewSprintService(store).List(ctx, caller(), args[0])
	if err != nil {
		return err
	}
	return printSprints(cmd, sprints)
}

func runSprintsOverdue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, closeStore, err := storeOpener(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	sprints, err := domain.NewSprintService(store).Overdue(ctx)
	if err != nil {
		return err
	}
	if len(sprints) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no overdue sprints")
		return nil
	}
	return printSprints(cmd, sprints)
}

func runSprintsTransition(cmd *cobra.Command, args []string) error {
	to, err := domain.ParseSprintStatus(args[2])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, closeStore, err := storeOpener(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	sp, err := domain.NewSprintService(store).Transition(ctx, caller(), args[0], args[1], to)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sprint %s is now %s\n", sp.ID, sp.Status)
	return nil
}
