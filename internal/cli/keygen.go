package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/trungdo2789/mpl-candy/internal/solana"
)

// KeygenResult is the output of the keygen command.
type KeygenResult struct {
	Address string `json:"address"`
	Path    string `json:"path"`
}

// WriteText implements textRenderer.
func (r KeygenResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Wrote keypair to %s\n", r.Path)
	fmt.Fprintf(w, "Address: %s\n", r.Address)
	return nil
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a mint authority keypair",
		Long: `Generate an ed25519 keypair in the solana-keygen JSON format and print its
address. An existing file is never overwritten.

Example:
  candy keygen --out ./authority.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := solana.GenerateKeypairFile(out)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to generate keypair", err)
			}
			rootOpts.log.Info().Str("address", addr).Str("path", out).Msg("keypair generated")
			return rootOpts.formatter(cmd).Success(KeygenResult{Address: addr, Path: out})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "keypair file to create (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
