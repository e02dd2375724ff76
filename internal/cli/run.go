package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/trungdo2789/mpl-candy/internal/ledger"
	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/recipients"
	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// RunOptions holds flags for the run command. Flags left unset fall back
// to the workflow section of the config.
type RunOptions struct {
	*RootOptions
	Recipients  string
	Channel     string
	Concurrency int
	MaxAttempts int
}

// RunSummary is the outcome of a run.
type RunSummary struct {
	RunID       string   `json:"run_id"`
	Passes      int      `json:"passes"`
	Minted      int      `json:"minted"`
	Recovered   int      `json:"recovered"`
	Delivered   int      `json:"delivered"`
	Incomplete  int      `json:"incomplete"`
	Outstanding int      `json:"outstanding"`
	Done        bool     `json:"done"`
	Rejected    []string `json:"rejected,omitempty"`
	Duration    string   `json:"duration"`
}

func newRunSummary(r *workflow.Report) RunSummary {
	return RunSummary{
		RunID:       r.RunID,
		Passes:      r.Passes,
		Minted:      r.Minted,
		Recovered:   r.Recovered,
		Delivered:   r.Delivered,
		Incomplete:  r.Incomplete,
		Outstanding: r.Outstanding,
		Done:        r.Done,
		Rejected:    r.RejectedMessages(),
		Duration:    r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	}
}

// WriteText implements textRenderer.
func (s RunSummary) WriteText(w io.Writer) error {
	state := "complete"
	if !s.Done {
		state = "INCOMPLETE"
	}
	fmt.Fprintf(w, "Run %s: %s after %d pass(es) in %s\n", s.RunID, state, s.Passes, s.Duration)
	fmt.Fprintf(w, "  minted:      %d\n", s.Minted)
	fmt.Fprintf(w, "  recovered:   %d\n", s.Recovered)
	fmt.Fprintf(w, "  delivered:   %d\n", s.Delivered)
	fmt.Fprintf(w, "  incomplete:  %d\n", s.Incomplete)
	fmt.Fprintf(w, "  outstanding: %d\n", s.Outstanding)
	if len(s.Rejected) > 0 {
		fmt.Fprintf(w, "Rejected (needs manual attention):\n")
		for _, msg := range s.Rejected {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}
	return nil
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mint and deliver to every recipient",
		Long: `Mint and deliver NFTs until every recipient holds their amount.

Each pass first finishes ledger rows left incomplete by earlier runs, then
opens new slots for what is still owed. Passes repeat with backoff until
the batch is complete or --max-attempts passes have run. Only one run may
use a ledger at a time.

Exit codes:
  0 - Batch complete
  1 - Batch incomplete (rejections, exhausted attempts, interrupted)
  2 - Command error (config, ledger, keypair, lease held)

Examples:
  candy run --recipients ./recipients.yaml
  candy run --config prod.yaml --max-attempts 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDistribution(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Recipients, "recipients", "", "recipient list (YAML or JSON); default workflow.recipients")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "distribution channel tag; default workflow.channel")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "recipients processed in parallel; default workflow.concurrency")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "maximum passes, 0 for unbounded; default workflow.max_attempts")

	return cmd
}

func (o *RunOptions) applyFlags(cmd *cobra.Command) {
	wf := &o.Config().Workflow
	if cmd.Flags().Changed("recipients") {
		wf.Recipients = o.Recipients
	}
	if cmd.Flags().Changed("channel") {
		wf.Channel = o.Channel
	}
	if cmd.Flags().Changed("concurrency") {
		wf.Concurrency = o.Concurrency
	}
	if cmd.Flags().Changed("max-attempts") {
		wf.MaxAttempts = o.MaxAttempts
	}
}

func runDistribution(opts *RunOptions, cmd *cobra.Command) error {
	opts.applyFlags(cmd)
	cfg := opts.Config()
	out := opts.formatter(cmd)

	targets, err := recipients.LoadFile(cfg.Workflow.Recipients)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load recipients", err)
	}
	opts.log.Info().
		Int("recipients", len(targets)).
		Int("units", recipients.Total(targets)).
		Str("list_digest", model.ListDigest(targets)).
		Msg("recipient list loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := opts.openLedger(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := l.Close(); closeErr != nil {
			opts.log.Error().Err(closeErr).Msg("error closing ledger")
		}
	}()

	collab, err := opts.collaborators(ctx)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := workflow.NewMetrics(reg)
	if cfg.Metrics.Listen != "" {
		shutdown, err := serveMetrics(cfg.Metrics.Listen, reg, opts.log)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
		defer shutdown()
	}

	sup := workflow.NewSupervisor(l, collab.Mint, collab.Delivery, collab.Identities, cfg.WorkflowConfig(),
		workflow.WithLogger(opts.log),
		workflow.WithMetrics(metrics),
	)
	report, runErr := sup.Run(ctx, targets)

	summary := newRunSummary(report)
	if runErr != nil {
		return reportFailure(out, summary, "batch incomplete", runErr)
	}
	return out.SuccessWithRun(summary.RunID, summary)
}

// reportFailure writes details for an unsuccessful run or pass and picks
// the exit code. Lease and ledger invariant failures are command errors;
// everything else leaves the batch incomplete.
func reportFailure(out *OutputFormatter, details textRenderer, incomplete string, err error) error {
	exit, code, msg := ExitFailure, CodeIncomplete, incomplete
	var locked *ledger.LockedError
	switch {
	case errors.As(err, &locked):
		exit, code = ExitCommandError, CodeLedger
		msg = fmt.Sprintf("ledger is in use by run %s since %s", locked.Owner, locked.Since.Format(time.RFC3339))
	case workflow.IsFatal(err):
		exit, code, msg = ExitCommandError, CodeLedger, "ledger invariant violated"
	}

	if out.Format == "json" {
		out.Error(code, err.Error(), details)
	} else if exit == ExitFailure {
		details.WriteText(out.Writer)
	}
	return WrapExitError(exit, msg, err)
}

// serveMetrics exposes reg on addr at /metrics until the returned func runs.
func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()
	log.Info().Str("addr", lis.Addr().String()).Msg("serving /metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
