package testutil

import (
	"crypto/sha256"
	"fmt"
	"sync"
)

// SequentialIdentities hands out asset ids asset-0001, asset-0002, ... with
// a secret derived from the id. The same sequence is produced on every run,
// which keeps simulator traces stable.
//
// Implements workflow.IdentitySource.
type SequentialIdentities struct {
	mu     sync.Mutex
	prefix string
	n      int
	err    error
}

// NewSequentialIdentities creates a source. An empty prefix means "asset".
func NewSequentialIdentities(prefix string) *SequentialIdentities {
	if prefix == "" {
		prefix = "asset"
	}
	return &SequentialIdentities{prefix: prefix}
}

// NewIdentity returns the next id and its secret.
func (s *SequentialIdentities) NewIdentity() (string, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", nil, s.err
	}
	s.n++
	id := fmt.Sprintf("%s-%04d", s.prefix, s.n)
	return id, SecretFor(id), nil
}

// Issued returns how many identities have been handed out.
func (s *SequentialIdentities) Issued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// FailWith makes every later NewIdentity call return err. Nil clears it.
func (s *SequentialIdentities) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SecretFor is the secret SequentialIdentities pairs with id.
func SecretFor(id string) []byte {
	sum := sha256.Sum256([]byte("candy/test-secret/" + id))
	return sum[:]
}
