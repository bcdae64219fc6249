package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain/entities"
	"github.com/satriahrh/callrelay/domain/repositories"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect session journals",
	}
	cmd.AddCommand(newJournalListCmd())
	return cmd
}

func newJournalListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List sessions in the configured store",
		Long:    "Lists open sessions, the ones a serve would resume. Use --all to include terminated sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			store, err := openStorage(ctx, cfg.Storage, zap.NewNop())
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			return listJournals(ctx, cmd.OutOrStdout(), store, all)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include terminated sessions")
	return cmd
}

func listJournals(ctx context.Context, out io.Writer, store repositories.JournalRepository, all bool) error {
	statuses := []entities.SessionStatus{
		entities.SessionStatusInitializing,
		entities.SessionStatusActive,
		entities.SessionStatusTerminating,
	}
	if all {
		statuses = nil
	}

	sessions, err := store.ListSessions(ctx, statuses...)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CALL SID\tSTATUS\tENTRIES\tDEADLINE\tCAUSE")
	for _, s := range sessions {
		entries, err := store.LoadEntries(ctx, s.CallSid)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.CallSid, s.Status, len(entries), s.Deadline.Format(time.RFC3339), s.Cause)
	}
	return w.Flush()
}
