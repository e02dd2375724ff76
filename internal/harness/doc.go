// Package harness simulates distribution runs for dry runs and tests.
//
// A scenario names the entitlements, the faults a fake chain injects and
// any rows a crashed earlier run left in the ledger. Run drives the real
// Supervisor, Reconciler and Orchestrator against a temporary sqlite ledger and
// testutil.FakeChain, then evaluates the scenario's assertions.
//
// Identities are sequential (asset-0001, ...), transaction proofs are
// numbered in call order, and backoff sleeps are skipped, so a sequential
// scenario produces the same call trace on every run. Golden files under
// testdata/golden pin those traces.
//
// Concurrent scenarios (concurrency > 1) interleave calls and are checked
// with assertions only.
package harness
