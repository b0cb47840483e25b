// Package uuid provides run and job ID generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

var _ capture.IDGenerator = Generator{}

// Generator creates time-ordered UUIDv7 strings, so run directories sort by
// creation time.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether id parses as a UUID. Job lookups use it to reject
// malformed path parameters early.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
