package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/trungdo2789/mpl-candy/internal/config"
	"github.com/trungdo2789/mpl-candy/internal/testutil"
)

const (
	addrA = "11111111111111111111111111111111"
	addrB = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	addrC = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"

	testPassphrase = "cli-test-passphrase"
)

// testEnv is a config file, a ledger path and a fake chain shared by every
// command a test runs.
type testEnv struct {
	dir        string
	configPath string
	ledgerPath string
	recipients string
	chain      *testutil.FakeChain
	ids        *testutil.SequentialIdentities
}

func newTestEnv(t *testing.T, faults ...testutil.Fault) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "candy.yaml"),
		ledgerPath: filepath.Join(dir, "ledger.db"),
		recipients: filepath.Join(dir, "recipients.yaml"),
		chain:      testutil.NewFakeChain(faults...),
		ids:        testutil.NewSequentialIdentities(""),
	}
	env.writeRecipients(t, "- address: "+addrA+"\n  amount: 2\n- address: "+addrB+"\n  amount: 1\n")
	env.writeConfig(t, "")
	return env
}

func (e *testEnv) writeRecipients(t *testing.T, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.recipients, []byte(body), 0o644))
}

// writeConfig writes a config with fast retries; extra is appended verbatim.
func (e *testEnv) writeConfig(t *testing.T, extra string) {
	t.Helper()
	body := `
ledger:
  dsn: ` + e.ledgerPath + `
  passphrase: ` + testPassphrase + `
workflow:
  recipients: ` + e.recipients + `
  max_attempts: 3
  base_delay: 1ms
  max_delay: 1ms
log:
  level: error
` + extra
	require.NoError(t, os.WriteFile(e.configPath, []byte(body), 0o644))
}

func (e *testEnv) factory() CollaboratorFactory {
	return func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Collaborators, error) {
		return Collaborators{Mint: e.chain, Delivery: e.chain, Identities: e.ids}, nil
	}
}

// execute runs the root command with the env's config and collaborators.
func (e *testEnv) execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeWith(t, &RootOptions{Collaborators: e.factory()}, append([]string{"--config", e.configPath}, args...)...)
}

func executeWith(t *testing.T, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// decodeResponse parses a JSON CLIResponse whose data or error details
// decode into v.
func decodeResponse(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var raw struct {
		CLIResponse
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)

	resp := raw.CLIResponse
	payload := raw.Data
	if raw.Error != nil {
		resp.Error = &CLIError{Code: raw.Error.Code, Message: raw.Error.Message}
		payload = raw.Error.Details
	}
	if v != nil && len(payload) > 0 {
		require.NoError(t, json.Unmarshal(payload, v))
	}
	return resp
}
