package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/trungdo2789/mpl-candy/internal/config"
	"github.com/trungdo2789/mpl-candy/internal/recipients"
	"github.com/trungdo2789/mpl-candy/internal/solana"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Since       string
	PageSize    int
	Concurrency int
}

// HistoryReport is the output of the history command.
type HistoryReport struct {
	Address   string            `json:"address"`
	Since     *time.Time        `json:"since,omitempty"`
	Transfers []solana.Transfer `json:"transfers"`
	Incoming  float64           `json:"incoming_sol"`
	Outgoing  float64           `json:"outgoing_sol"`
}

// WriteText implements textRenderer.
func (r HistoryReport) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSIGNATURE\tFROM\tTO\tSOL")
	for _, t := range r.Transfers {
		at := "-"
		if !t.BlockTime.IsZero() {
			at = t.BlockTime.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.9f\n", at, shorten(t.Signature), shorten(t.From), shorten(t.To), t.SOL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d transfer(s): %.9f SOL in, %.9f SOL out\n", len(r.Transfers), r.Incoming, r.Outgoing)
	return nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "List native SOL transfers to and from an address",
		Long: `Page backwards through an address's transaction history and list the
native SOL transfers it contains, newest first. Failed transactions are
skipped.

--since takes an RFC3339 time or a duration back from now.

Examples:
  candy history 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
  candy history <address> --since 24h --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Since, "since", "", "oldest transaction to include (RFC3339 or duration, e.g. 72h)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 100, "signatures per RPC page (max 1000)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 10, "parallel transaction fetches")

	return cmd
}

func runHistory(opts *HistoryOptions, address string, cmd *cobra.Command) error {
	if err := recipients.ValidateAddress(address); err != nil {
		return WrapExitError(ExitCommandError, "invalid address", err)
	}
	since, err := parseSince(opts.Since, time.Now())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --since", err)
	}

	newSource := opts.HistorySource
	if newSource == nil {
		newSource = opts.rpcHistorySource
	}
	src, err := newSource(opts.Config())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up RPC client", err)
	}

	transfers, err := solana.ReadTransfers(cmd.Context(), src, address, solana.HistoryOptions{
		Since:       since,
		PageSize:    opts.PageSize,
		Concurrency: opts.Concurrency,
	}, opts.log)
	if err != nil {
		opts.formatter(cmd).Error(CodeChain, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to read history", err)
	}

	report := HistoryReport{Address: address, Transfers: transfers}
	if report.Transfers == nil {
		report.Transfers = []solana.Transfer{}
	}
	if !since.IsZero() {
		report.Since = &since
	}
	for _, t := range transfers {
		if t.To == address {
			report.Incoming += t.SOL
		}
		if t.From == address {
			report.Outgoing += t.SOL
		}
	}
	return opts.formatter(cmd).Success(report)
}

func (o *HistoryOptions) rpcHistorySource(cfg *config.Config) (solana.HistorySource, error) {
	sc := cfg.SolanaClient()
	endpoint, err := sc.Endpoint()
	if err != nil {
		return nil, err
	}
	return solana.RPCHistory{RPC: solana.NewRPCClient(endpoint, sc.RPCRetries, o.log)}, nil
}

// parseSince accepts an RFC3339 timestamp or a duration before now.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor a duration", s)
	}
	if d < 0 {
		return time.Time{}, fmt.Errorf("duration %q is negative", s)
	}
	return now.Add(-d).UTC(), nil
}

func shorten(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:5] + ".." + s[len(s)-5:]
}
