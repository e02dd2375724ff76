package model

// Version constants.
const (
	// LedgerSchemaVersion is the current allocation ledger schema version.
	LedgerSchemaVersion = 2

	// Version is the candy tool version.
	Version = "0.3.0"
)
