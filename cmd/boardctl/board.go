package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"prism-board/domain"
)

// storeOpener is swapped in tests.
var storeOpener = openStore

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Inspect and reorder sprint boards",
}

var boardShowCmd = &cobra.Command{
	Use:   "show <project-id> <sprint-id>",
	Short: "Print the columns of a sprint board",
	Args:  cobra.ExactArgs(2),
	RunE:  runBoardShow,
}

var boardMoveCmd = &cobra.Command{
	Use:   "move <project-id> <sprint-id>",
	Short: "Move an issue, e.g. --from TODO:2 --to IN_REVIEW:0",
	Args:  cobra.ExactArgs(2),
	RunE:  runBoardMove,
}

func init() {
	boardMoveCmd.Flags().String("from", "", "source slot STATUS:INDEX")
	boardMoveCmd.Flags().String("to", "", "destination slot STATUS:INDEX")
	_ = boardMoveCmd.MarkFlagRequired("from")
	_ = boardMoveCmd.MarkFlagRequired("to")
	boardCmd.AddCommand(boardShowCmd, boardMoveCmd)
	rootCmd.AddCommand(boardCmd)
}

func withBoards(ctx context.Context, fn func(*domain.BoardService) error) error {
	store, closeStore, err := storeOpener(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(domain.NewBoardService(store))
}

func runBoardShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withBoards(ctx, func(boards *domain.BoardService) error {
		b, err := boards.Board(ctx, caller(), args[0], args[1])
		if err != nil {
			return err
		}
		return printBoard(cmd.OutOrStdout(), b)
	})
}

// runBoardMove applies the move to the current board, persists the batch and
// settles the local view with the outcome of the write.
func runBoardMove(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	var mv domain.Move
	var err error
	if mv.SourceStatus, mv.SourceIndex, err = parseSlot(from); err != nil {
		return err
	}
	if mv.DestStatus, mv.DestIndex, err = parseSlot(to); err != nil {
		return err
	}

	ctx := cmd.Context()
	projectID, sprintID := args[0], args[1]
	return withBoards(ctx, func(boards *domain.BoardService) error {
		local, err := boards.Board(ctx, caller(), projectID, sprintID)
		if err != nil {
			return err
		}
		om, err := domain.BeginMove(local, mv)
		if err != nil {
			return err
		}
		if len(om.Updates()) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to move")
			return printBoard(cmd.OutOrStdout(), om.Board())
		}
		_, writeErr := boards.ApplyBatch(ctx, caller(), projectID, sprintID, om.Updates())
		settled, err := om.Settle(ctx, writeErr, func(ctx context.Context) (domain.Board, error) {
			return boards.Board(ctx, caller(), projectID, sprintID)
		})
		if writeErr != nil && err == writeErr {
			fmt.Fprintf(cmd.ErrOrStderr(), "move rejected, showing current board: %v\n", writeErr)
			_ = printBoard(cmd.OutOrStdout(), settled)
			return writeErr
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "moved, %d issues updated\n", len(om.Updates()))
		return printBoard(cmd.OutOrStdout(), settled)
	})
}

func parseSlot(raw string) (domain.Status, int, error) {
	s, idx, ok := strings.Cut(raw, ":")
	if !ok {
		return "", 0, fmt.Errorf("invalid slot %q, want STATUS:INDEX", raw)
	}
	status, err := domain.ParseStatus(s)
	if err != nil {
		return "", 0, err
	}
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 {
		return "", 0, fmt.Errorf("invalid index in slot %q", raw)
	}
	return status, i, nil
}

func printBoard(w io.Writer, b domain.Board) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SPRINT %s\n", b.SprintID)
	for _, s := range domain.Statuses {
		col := b.Column(s)
		fmt.Fprintf(tw, "%s (%d)\n", s, len(col))
		for i, is := range col {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", i, is.ID, is.Priority, is.Title)
		}
	}
	return tw.Flush()
}
