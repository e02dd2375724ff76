package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// ReconcileSummary is the outcome of a single reconciliation pass.
type ReconcileSummary struct {
	Minted     int      `json:"minted"`
	Recovered  int      `json:"recovered"`
	Delivered  int      `json:"delivered"`
	Incomplete int      `json:"incomplete"`
	Rejected   []string `json:"rejected,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// WriteText implements textRenderer.
func (s ReconcileSummary) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Reconciled: %d minted, %d recovered, %d delivered; %d incomplete row(s) remain\n",
		s.Minted, s.Recovered, s.Delivered, s.Incomplete)
	for _, msg := range s.Rejected {
		fmt.Fprintf(w, "  rejected: %s\n", msg)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "  stopped: %s\n", s.Error)
	}
	return nil
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Finish incomplete ledger rows without opening new ones",
		Long: `Run one reconciliation pass over the ledger.

Pending rows are looked up on chain and re-minted with their stored identity
if absent; minted rows are delivered. No recipient list is read and no new
slots are opened.

Exit codes:
  0 - No incomplete rows remain
  1 - Rows remain (rejections or a transient failure)
  2 - Command error

Example:
  candy reconcile --config prod.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, cmd)
		},
	}
	return cmd
}

func runReconcile(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := opts.openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	collab, err := opts.collaborators(ctx)
	if err != nil {
		return err
	}

	sup := workflow.NewSupervisor(l, collab.Mint, collab.Delivery, collab.Identities, opts.Config().WorkflowConfig(),
		workflow.WithLogger(opts.log),
	)
	res, passErr := sup.Reconcile(ctx)

	incomplete, err := l.CountIncomplete(context.WithoutCancel(ctx))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count incomplete rows", err)
	}

	summary := ReconcileSummary{
		Minted:     res.Minted,
		Recovered:  res.Recovered,
		Delivered:  res.Delivered,
		Incomplete: incomplete,
		Rejected:   (&workflow.Report{Rejected: res.Rejected}).RejectedMessages(),
	}
	if passErr != nil {
		summary.Error = passErr.Error()
		return reportFailure(out, summary, "reconciliation stopped", passErr)
	}

	if err := out.Success(summary); err != nil {
		return err
	}
	if incomplete > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d incomplete row(s) remain", incomplete))
	}
	return nil
}
