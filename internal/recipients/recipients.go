// Package recipients loads and validates the static recipient list.
//
// The list is a JSON or YAML array of {address, amount} objects. JSON is a
// subset of YAML, so one strict yaml.v3 decoder reads both.
package recipients

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"github.com/trungdo2789/mpl-candy/internal/model"
)

// AddressSize is the decoded length of a Solana address.
const AddressSize = 32

// ValidationError describes one bad entry in the list.
type ValidationError struct {
	Index   int
	Address string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("recipient %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("recipient %d (%s): %s", e.Index, e.Address, e.Reason)
}

// LoadFile reads and validates a recipient list from path.
func LoadFile(path string) ([]model.AllocationTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipient list: %w", err)
	}
	targets, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return targets, nil
}

// Parse decodes, validates and merges a recipient list.
//
// Unknown fields are rejected. Entries with the same address are merged by
// summing their amounts; the merged entry keeps the position of the first
// occurrence.
func Parse(data []byte) ([]model.AllocationTarget, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw []model.AllocationTarget
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse recipient list: %w", err)
	}

	for i, t := range raw {
		if err := ValidateAddress(t.Recipient); err != nil {
			return nil, &ValidationError{Index: i, Address: t.Recipient, Reason: err.Error()}
		}
		if t.Quantity < 0 {
			return nil, &ValidationError{Index: i, Address: t.Recipient, Reason: fmt.Sprintf("amount %d is negative", t.Quantity)}
		}
	}
	return Merge(raw), nil
}

// Merge combines entries with the same address, summing quantities in
// first-seen order.
func Merge(targets []model.AllocationTarget) []model.AllocationTarget {
	index := make(map[string]int, len(targets))
	out := make([]model.AllocationTarget, 0, len(targets))
	for _, t := range targets {
		if i, ok := index[t.Recipient]; ok {
			out[i].Quantity += t.Quantity
			continue
		}
		index[t.Recipient] = len(out)
		out = append(out, t)
	}
	return out
}

// ValidateAddress checks that addr is base58 for exactly 32 bytes.
func ValidateAddress(addr string) error {
	if addr == "" {
		return errors.New("address is empty")
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("address is not base58: %w", err)
	}
	if len(raw) != AddressSize {
		return fmt.Errorf("address decodes to %d bytes, want %d", len(raw), AddressSize)
	}
	return nil
}

// Total returns the sum of all quantities.
func Total(targets []model.AllocationTarget) int {
	n := 0
	for _, t := range targets {
		n += t.Quantity
	}
	return n
}
