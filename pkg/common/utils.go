package common

import (
	"github.com/google/uuid"
)

// GenerateReference returns an opaque external reference for a ledger row.
// The on-chain query id is the row id itself, not this value.
func GenerateReference() string {
	return "corgi-" + uuid.NewString()
}
