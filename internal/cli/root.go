package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"stockbridge/client"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Addr   string
	Token  string
	APIKey string
	Format string // "json" | "text"

	out io.Writer
}

var ValidFormats = []string{"text", "json"}

func (o *RootOptions) client() *client.BridgeClient {
	return client.NewBridgeClient(o.Addr, client.WithToken(o.Token), client.WithAPIKey(o.APIKey))
}

func (o *RootOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCommand creates bridgectl. Output goes to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &RootOptions{out: out}

	cmd := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Operate the stock bridge",
		Long:          "Trigger dispatch and sync runs, inspect cursors and audits, and requeue failed documents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", envOr("BRIDGE_ADDR", "http://localhost:8080"), "bridge base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("BRIDGE_TOKEN"), "operator access token")
	cmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", os.Getenv("BRIDGE_API_KEY"), "integration client key for submit")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newDispatchCommand(opts))
	cmd.AddCommand(newRequeueCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newCursorCommand(opts))
	cmd.AddCommand(newPreviewCommand(opts))
	cmd.AddCommand(newAuditsCommand(opts))
	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newHealthCommand(opts))

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
