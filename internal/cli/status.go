package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/recipients"
)

// StatusRow is one recipient's ledger progress.
type StatusRow struct {
	Recipient   string `json:"recipient"`
	Entitled    *int   `json:"entitled,omitempty"`
	Attempted   int    `json:"attempted"`
	Minted      int    `json:"minted"`
	Delivered   int    `json:"delivered"`
	Pending     int    `json:"pending"`
	Undelivered int    `json:"undelivered"`
	Owed        *int   `json:"owed,omitempty"`
}

// StatusReport is the output of the status command.
type StatusReport struct {
	Recipients  []StatusRow `json:"recipients"`
	Incomplete  int         `json:"incomplete"`
	LeaseHolder string      `json:"lease_holder,omitempty"`
	LeaseSince  *time.Time  `json:"lease_since,omitempty"`
}

// WriteText implements textRenderer.
func (r StatusReport) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECIPIENT\tENTITLED\tATTEMPTED\tMINTED\tDELIVERED\tPENDING\tOWED")
	for _, row := range r.Recipients {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			row.Recipient, optInt(row.Entitled), row.Attempted, row.Minted, row.Delivered, row.Pending, optInt(row.Owed))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d incomplete row(s)\n", r.Incomplete)
	if r.LeaseHolder != "" {
		fmt.Fprintf(w, "lease held by %s since %s\n", r.LeaseHolder, r.LeaseSince.Format(time.RFC3339))
	}
	return nil
}

func optInt(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprint(*n)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var recipientsPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger progress per recipient",
		Long: `Show what the ledger records for each recipient.

With --recipients, entitlements are joined in and the units still owed are
shown; recipients with no ledger rows yet are listed too.

Examples:
  candy status
  candy status --recipients ./recipients.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, recipientsPath, cmd)
		},
	}

	cmd.Flags().StringVar(&recipientsPath, "recipients", "", "recipient list to compare against")
	return cmd
}

func runStatus(opts *RootOptions, recipientsPath string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	var targets []model.AllocationTarget
	if recipientsPath != "" {
		var err error
		targets, err = recipients.LoadFile(recipientsPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load recipients", err)
		}
	}

	l, err := opts.openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	summaries, err := l.Summaries(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ledger", err)
	}
	incomplete, err := l.CountIncomplete(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ledger", err)
	}
	holder, since, err := l.RunLockHolder(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run lease", err)
	}

	report := StatusReport{
		Recipients: buildStatusRows(summaries, targets),
		Incomplete: incomplete,
	}
	if holder != "" {
		report.LeaseHolder = holder
		report.LeaseSince = &since
	}
	return opts.formatter(cmd).Success(report)
}

// buildStatusRows joins ledger summaries with entitlements. Ledger order
// comes first; listed recipients without rows follow in list order. When
// targets is nil no entitlement columns are filled.
func buildStatusRows(summaries []model.RecipientSummary, targets []model.AllocationTarget) []StatusRow {
	entitled := make(map[string]int, len(targets))
	for _, t := range targets {
		entitled[t.Recipient] = t.Quantity
	}

	rows := make([]StatusRow, 0, len(summaries)+len(targets))
	seen := make(map[string]bool, len(summaries))
	for _, s := range summaries {
		seen[s.Recipient] = true
		rows = append(rows, StatusRow{
			Recipient:   s.Recipient,
			Attempted:   s.Attempted,
			Minted:      s.Minted,
			Delivered:   s.Delivered,
			Pending:     s.Pending(),
			Undelivered: s.Undelivered(),
		})
	}
	for _, t := range targets {
		if !seen[t.Recipient] {
			rows = append(rows, StatusRow{Recipient: t.Recipient})
		}
	}

	if targets == nil {
		return rows
	}
	for i := range rows {
		e := entitled[rows[i].Recipient]
		owed := max(e-rows[i].Minted, 0)
		rows[i].Entitled = &e
		rows[i].Owed = &owed
	}
	return rows
}
