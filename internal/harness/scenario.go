package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/testutil"
	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// DefaultMaxAttempts bounds the simulated run when a scenario sets none.
const DefaultMaxAttempts = 10

// Scenario defines a simulated distribution run.
// It lists the entitlements, the faults the fake chain injects, any rows a
// crashed earlier run left behind, and the assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Recipients uses the recipient list format: address and amount.
	// Addresses are free-form here since the chain is simulated.
	Recipients []model.AllocationTarget `yaml:"recipients"`

	// Faults are matched in order against every collaborator call.
	Faults []testutil.Fault `yaml:"faults,omitempty"`

	// Leftover seeds the ledger (and optionally the chain) before the run.
	Leftover []LeftoverRow `yaml:"leftover,omitempty"`

	// MaxAttempts bounds the number of passes. Zero means DefaultMaxAttempts.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Concurrency is the number of recipients processed in parallel.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Assertions validate the final chain and ledger state.
	Assertions []Assertion `yaml:"assertions"`
}

// LeftoverRow is a pending row written by a run that stopped early.
type LeftoverRow struct {
	Recipient string `yaml:"recipient"`
	Ordinal   int    `yaml:"ordinal"`

	// OnChain marks the mint as having landed before the crash.
	OnChain bool `yaml:"on_chain,omitempty"`
}

// Assertion validates the outcome of a run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "minted": assets on chain minted for Recipient
	// - "delivered": assets held by Recipient
	// - "mint_calls", "lookup_calls", "deliver_calls": collaborator calls
	//   for Recipient, or for everyone when Recipient is empty
	// - "incomplete": ledger rows missing a proof
	// - "done": whether the run finished everything
	Type string `yaml:"type"`

	Recipient string `yaml:"recipient,omitempty"`

	// Count is the expected number for every type except "done".
	Count int `yaml:"count,omitempty"`

	// Expect is the expected value for "done".
	Expect *bool `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertMinted       = "minted"
	AssertDelivered    = "delivered"
	AssertMintCalls    = "mint_calls"
	AssertLookupCalls  = "lookup_calls"
	AssertDeliverCalls = "deliver_calls"
	AssertIncomplete   = "incomplete"
	AssertDone         = "done"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Recipients) == 0 {
		return fmt.Errorf("recipients list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative")
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative")
	}

	for i, r := range s.Recipients {
		if r.Recipient == "" {
			return fmt.Errorf("recipients[%d]: address is required", i)
		}
		if r.Quantity < 0 {
			return fmt.Errorf("recipients[%d]: amount must be non-negative", i)
		}
	}

	for i, f := range s.Faults {
		switch f.Op {
		case workflow.OpMint, workflow.OpLookup, workflow.OpDeliver:
		default:
			return fmt.Errorf("faults[%d]: unknown op %q", i, f.Op)
		}
		switch f.Kind {
		case testutil.FaultTransient, testutil.FaultRejected, testutil.FaultLostConfirmation:
		default:
			return fmt.Errorf("faults[%d]: unknown kind %q", i, f.Kind)
		}
		if f.Times < 0 {
			return fmt.Errorf("faults[%d]: times must be non-negative", i)
		}
	}

	for i, row := range s.Leftover {
		if row.Recipient == "" {
			return fmt.Errorf("leftover[%d]: recipient is required", i)
		}
		if row.Ordinal < 1 {
			return fmt.Errorf("leftover[%d]: ordinal must be >= 1", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertMinted, AssertDelivered:
		if a.Recipient == "" {
			return fmt.Errorf("assertions[%d]: recipient is required for %s", index, a.Type)
		}
	case AssertMintCalls, AssertLookupCalls, AssertDeliverCalls, AssertIncomplete:
	case AssertDone:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for done", index)
		}
		return nil
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
	}
	return nil
}
