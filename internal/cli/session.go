package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cassandra/internal/storage"
)

// NewSessionCmd creates the session command.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
		Long:  `List, view, and delete conversation sessions stored in the local database.`,
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionDeleteCmd())

	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sessionDB(cmd)
			if err != nil {
				return err
			}
			sessions, err := db.ListSessions(cmd.Context(), limit, 0)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, s := range sessions {
				n, err := db.CountMessages(cmd.Context(), s.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, truncate(s.Title, 40), n, s.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of sessions to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newSessionShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sessionDB(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sess, err := db.GetSession(ctx, args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("session not found: %s", args[0])
			}
			if err != nil {
				return err
			}
			msgs, err := db.GetMessages(ctx, sess.ID)
			if err != nil {
				return err
			}
			summary, err := db.GetLatestSummary(ctx, sess.ID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, struct {
					Session  *storage.Session   `json:"session"`
					Messages []*storage.Message `json:"messages"`
					Summary  *storage.Summary   `json:"summary,omitempty"`
				}{sess, msgs, summary})
			}

			fmt.Fprintf(out, "Session: %s\n", sess.ID)
			if sess.Title != "" {
				fmt.Fprintf(out, "Title:   %s\n", sess.Title)
			}
			fmt.Fprintf(out, "Created: %s\n", sess.CreatedAt.Local().Format(time.DateTime))
			if summary != nil {
				fmt.Fprintf(out, "Summary (v%d, %d turns): %s\n", summary.Version, summary.CoveredTurns, summary.Summary)
			}
			fmt.Fprintln(out)
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s\n\n", m.Role, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session with its messages and summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sessionDB(cmd)
			if err != nil {
				return err
			}
			err = db.DeleteSession(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("session not found: %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}
}

func sessionDB(cmd *cobra.Command) (*storage.DB, error) {
	cliCtx, err := requireCLIContext(cmd)
	if err != nil {
		return nil, err
	}
	return cliCtx.GetStorage()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
