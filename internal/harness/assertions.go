package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// AssertionError is returned when an assertion fails.
// It includes the call trace to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Collaborator calls for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, line := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}
	return buf.String()
}

// evaluate checks one assertion against the chain, the ledger and the report.
func (h *Harness) evaluate(ctx context.Context, a Assertion, report *workflow.Report) error {
	if a.Type == AssertDone {
		if report.Done == *a.Expect {
			return nil
		}
		return h.failure(a, fmt.Sprintf("done=%t", *a.Expect), fmt.Sprintf("done=%t after %d passes", report.Done, report.Passes))
	}

	var got int
	switch a.Type {
	case AssertMinted:
		got = h.chain.MintedFor(a.Recipient)
	case AssertDelivered:
		got = h.chain.DeliveredTo(a.Recipient)
	case AssertMintCalls:
		got = h.chain.CallCount(workflow.OpMint, a.Recipient)
	case AssertLookupCalls:
		got = h.chain.CallCount(workflow.OpLookup, a.Recipient)
	case AssertDeliverCalls:
		got = h.chain.CallCount(workflow.OpDeliver, a.Recipient)
	case AssertIncomplete:
		n, err := h.ledger.CountIncomplete(ctx)
		if err != nil {
			return fmt.Errorf("count incomplete rows: %w", err)
		}
		got = n
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}

	if got == a.Count {
		return nil
	}
	return h.failure(a, describe(a, a.Count), describe(a, got))
}

func (h *Harness) failure(a Assertion, expected, actual string) error {
	calls := h.chain.Calls()
	trace := make([]string, len(calls))
	for i, c := range calls {
		trace[i] = c.String()
	}
	return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: trace}
}

func describe(a Assertion, n int) string {
	if a.Recipient == "" {
		return fmt.Sprintf("%d %s", n, a.Type)
	}
	return fmt.Sprintf("%d %s for %s", n, a.Type, a.Recipient)
}
