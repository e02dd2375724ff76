package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/trungdo2789/mpl-candy/internal/config"
	"github.com/trungdo2789/mpl-candy/internal/ledger"
	"github.com/trungdo2789/mpl-candy/internal/logging"
	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/solana"
	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// RootOptions holds global flags for all commands, and the configuration
// and logger they resolve to.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Collaborators overrides the Solana-backed mint and delivery
	// collaborators (for testing). If nil, defaults to SolanaCollaborators.
	Collaborators CollaboratorFactory

	// HistorySource overrides the RPC-backed history reader (for testing).
	HistorySource func(cfg *config.Config) (solana.HistorySource, error)

	cfg      *config.Config
	log      zerolog.Logger
	closeLog func() error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the candy CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "candy",
		Short:   "candy - idempotent mint-and-deliver for candy machine drops",
		Long:    "Mints NFTs for a recipient list and delivers them, recording every step in a ledger so an interrupted batch resumes without double mints.",
		Version: model.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.closeLog != nil {
				return opts.closeLog()
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultPath, "path to YAML config file")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))

	return cmd
}

// setup loads configuration and builds the logger. A missing config file is
// an error only when --config was given explicitly.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	explicit := cmd.Flags().Changed("config")
	cfg, err := config.Load(o.ConfigPath, explicit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logOpts := logging.Options{Dir: cfg.Log.Dir, Level: cfg.Log.Level, Format: cfg.Log.Format}
	if o.Verbose {
		logOpts.Level = "debug"
	}
	log, closeLog, err := logging.New(logOpts, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}

	o.cfg = cfg
	o.log = log
	o.closeLog = closeLog
	return nil
}

// Config returns the loaded configuration. Valid after PersistentPreRunE.
func (o *RootOptions) Config() *config.Config {
	if o.cfg == nil {
		o.cfg = &config.Config{}
	}
	return o.cfg
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openLedger validates the ledger settings and opens it.
func (o *RootOptions) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	cfg := o.Config()
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	l, err := ledger.Open(ctx, cfg.LedgerOptions())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	o.log.Debug().Str("driver", l.Driver()).Msg("ledger open")
	return l, nil
}

// Collaborators are the chain-facing dependencies of run and reconcile.
type Collaborators struct {
	Mint       workflow.MintRequester
	Delivery   workflow.DeliveryExecutor
	Identities workflow.IdentitySource
}

// CollaboratorFactory builds Collaborators from configuration.
type CollaboratorFactory func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Collaborators, error)

// SolanaCollaborators loads the authority keypair and connects to the
// configured cluster.
func SolanaCollaborators(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Collaborators, error) {
	if err := cfg.ValidateSolana(); err != nil {
		return Collaborators{}, err
	}
	authority, err := solana.LoadKeypair(ctx, cfg.Solana.AuthorityKeypair)
	if err != nil {
		return Collaborators{}, fmt.Errorf("load authority keypair: %w", err)
	}
	client, err := solana.NewClient(cfg.SolanaClient(), authority, log)
	if err != nil {
		return Collaborators{}, err
	}
	log.Info().Str("authority", client.Authority()).Msg("solana client ready")
	return Collaborators{Mint: client, Delivery: client, Identities: solana.Identities{}}, nil
}

func (o *RootOptions) collaborators(ctx context.Context) (Collaborators, error) {
	factory := o.Collaborators
	if factory == nil {
		factory = SolanaCollaborators
	}
	c, err := factory(ctx, o.Config(), o.log)
	if err != nil {
		return Collaborators{}, WrapExitError(ExitCommandError, "failed to set up chain client", err)
	}
	return c, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
