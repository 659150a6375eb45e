package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newLoginCommand(opts *RootOptions) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := opts.client().Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(tokens)
			}
			fmt.Fprintf(opts.out, "export BRIDGE_TOKEN=%s\n", tokens.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "operator username")
	cmd.Flags().StringVarP(&password, "password", "p", os.Getenv("BRIDGE_PASSWORD"), "operator password")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newDispatchCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send one batch of queued documents to the ERP",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Dispatch(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(res)
			}
			style := table.StyleDefault
			style.Format.Footer = text.FormatDefault
			tw := table.NewWriter()
			tw.SetOutputMirror(opts.out)
			tw.SetStyle(style)
			tw.AppendHeader(table.Row{"Queue", "Document", "Type", "Status", "DocEntry", "DocNum", "Error"})
			for _, r := range res.Results {
				tw.AppendRow(table.Row{r.QueueID, r.DocumentID, r.DocType, r.Status, optInt(r.ExternalDocID), optInt(r.ExternalDocNum), r.Error})
			}
			tw.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d ok / %d failed", res.OK, res.Fail)})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "batch size (server default when 0)")
	return cmd
}

func newRequeueCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <queue-id>",
		Short: "Put a failed queue item back to PENDING",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := opts.client().Requeue(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "queue item %d requeued\n", id)
			return nil
		},
	}
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a reconciliation cycle",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purchase-orders",
		Short: "Pull changed purchase orders from the ERP",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().SyncPurchaseOrders(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(opts.out)
			tw.AppendHeader(table.Row{"Entity", "Fetched", "Upserted", "From", "Watermark"})
			tw.AppendRow(table.Row{res.Entity, res.Fetched, res.Upserted, res.From.Format(time.RFC3339), res.Watermark.Format(time.RFC3339)})
			tw.Render()
			if res.DegradedTimezone {
				fmt.Fprintln(opts.out, "warning: source timezone could not be loaded, UTC assumed")
			}
			return nil
		},
	})
	return cmd
}

func newCursorCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset sync cursors",
	}
	printCursor := func(key string, watermark time.Time, stored bool) {
		source := "stored"
		if !stored {
			source = "default"
		}
		fmt.Fprintf(opts.out, "%s\t%s\t(%s)\n", key, watermark.UTC().Format(time.RFC3339Nano), source)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Show a cursor watermark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := opts.client().Cursor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(cur)
			}
			printCursor(cur.Key, cur.Watermark, cur.Stored)
			return nil
		},
	})

	var ts string
	reset := &cobra.Command{
		Use:   "reset <key>",
		Short: "Move a cursor, or drop it when --ts is empty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var at *time.Time
			if ts != "" {
				parsed, err := time.Parse(time.RFC3339Nano, ts)
				if err != nil {
					return fmt.Errorf("--ts must be RFC3339: %w", err)
				}
				at = &parsed
			}
			cur, err := opts.client().ResetCursor(cmd.Context(), args[0], at)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(cur)
			}
			printCursor(cur.Key, cur.Watermark, cur.Stored)
			return nil
		},
	}
	reset.Flags().StringVar(&ts, "ts", "", "new watermark (RFC3339)")
	cmd.AddCommand(reset)
	return cmd
}

func newPreviewCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <document-id>",
		Short: "Print the ERP payload a document would produce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			preview, err := opts.client().Preview(cmd.Context(), id)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(preview)
			}
			fmt.Fprintf(opts.out, "POST %s (%s)\n", preview.Path, preview.ErpObject)
			return opts.printJSON(preview.Payload)
		},
	}
}

func newAuditsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audits <document-id>",
		Short: "List ERP post snapshots of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			audits, err := opts.client().Audits(cmd.Context(), id)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(audits)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(opts.out)
			tw.AppendHeader(table.Row{"ID", "When", "Object", "DocEntry", "Operator", "Error"})
			for _, a := range audits {
				tw.AppendRow(table.Row{a.ID, a.CreatedAt.Format(time.RFC3339), a.ErpObject, optInt(a.ExternalDocID), a.Operator, a.Error})
			}
			tw.Render()
			return nil
		},
	}
}

func newSubmitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file.json>",
		Short: "Submit a ledger document (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var doc json.RawMessage
			if err := json.NewDecoder(in).Decode(&doc); err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			created, err := opts.client().CreateDocument(cmd.Context(), doc)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(created)
			}
			fmt.Fprintf(opts.out, "document %d queued as item %d (%s)\n", created.DocumentID, created.QueueID, created.DocType)
			return nil
		},
	}
}

func newHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check bridge dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(h)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(opts.out)
			tw.AppendHeader(table.Row{"Check", "Result"})
			for name, result := range h.Checks {
				tw.AppendRow(table.Row{name, result})
			}
			tw.SortBy([]table.SortBy{{Name: "Check", Mode: table.Asc}})
			tw.AppendFooter(table.Row{"status", h.Status})
			tw.Render()
			if h.Status != "up" {
				return fmt.Errorf("bridge is %s", h.Status)
			}
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
