package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"intake/internal/models"

	"github.com/spf13/cobra"
)

func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the offline task queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tasks waiting for replay, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := rootOpts.client().Queue(cmd.Context())
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), tasks)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tCORRELATION ID\tRETRIES\tCREATED\tLAST ERROR")
			for _, t := range tasks {
				lastErr := ""
				if t.LastError != nil {
					lastErr = *t.LastError
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					t.ID, t.Type, t.CorrelationID, t.RetryCount, t.MaxRetries,
					t.CreatedAt.Local().Format(time.DateTime), lastErr)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "failed",
		Short: "List tasks that were dropped after failing",
		RunE: func(cmd *cobra.Command, args []string) error {
			letters, err := rootOpts.client().DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), letters)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tCORRELATION ID\tFAILED\tREASON")
			for _, d := range letters {
				reason := ""
				if d.LastError != nil {
					reason = *d.LastError
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.Type, d.CorrelationID, d.FailedAt.Local().Format(time.DateTime), reason)
			}
			return tw.Flush()
		},
	})

	return cmd
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a replay pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rootOpts.client().Sync(cmd.Context())
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), resp)
			}
			if resp.Summary.Attempted == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			if resp.Summary.Deferred > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d waiting for the next attempt\n", resp.Summary.Deferred)
			}
			return nil
		},
	}
}

func NewNetworkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "network online|offline",
		Short:     "Feed a manual connectivity signal",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"online", "offline"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var online bool
			switch args[0] {
			case "online":
				online = true
			case "offline":
			default:
				return fmt.Errorf("unknown state %q: want online or offline", args[0])
			}
			changed, err := rootOpts.client().SetOnline(cmd.Context(), online)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintf(cmd.OutOrStdout(), "already %s\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "now %s\n", args[0])
			return nil
		},
	}
}

func NewEntriesCommand(rootOpts *RootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Show the merged applications list",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := rootOpts.client().Entries(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CORRELATION ID\tKIND\tSTATUS\tSTEP\tORIGIN\tPENDING\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d.%d\t%s\t%s\t%s\n",
					e.CorrelationID, e.Kind, e.Status, e.Step, e.SubStep, e.Origin,
					pendingLabel(e), e.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (defaults to the signed-in agent)")
	return cmd
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		owner string
		out   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the applications list as XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = fmt.Sprintf("entries_%s.xlsx", time.Now().Format("20060102_150405"))
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := rootOpts.client().ExportEntries(cmd.Context(), owner, f); err != nil {
				f.Close()
				_ = os.Remove(out)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (defaults to the signed-in agent)")
	cmd.Flags().StringVar(&out, "out", "", "output file")
	return cmd
}

func pendingLabel(e models.ListEntry) string {
	if !e.Pending {
		return "-"
	}
	if e.PendingOp != "" {
		return string(e.PendingOp)
	}
	return strconv.FormatBool(e.Pending)
}
