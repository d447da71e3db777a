// Package uuid implements crawl.IDGenerator with time-ordered UUIDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues UUIDv7 job identifiers. V7 IDs sort by creation
// time, which keeps list views and index scans in insertion order.
type Generator struct{}

// New returns a UUIDv7 generator.
func New() Generator { return Generator{} }

// NewID returns a fresh identifier.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}
