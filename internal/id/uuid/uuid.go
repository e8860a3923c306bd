// Package uuid provides task ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings for crawl tasks.
type Generator struct {
	timeOrdered bool
}

// New creates a Generator that emits random (v4) UUIDs.
func New() *Generator {
	return &Generator{}
}

// NewTimeOrdered creates a Generator that emits UUID v7 strings, which sort
// by creation time.
func NewTimeOrdered() *Generator {
	return &Generator{timeOrdered: true}
}

// ForFormat picks a generator by config name ("v4" or "v7").
func ForFormat(format string) (*Generator, error) {
	switch format {
	case "", "v4":
		return New(), nil
	case "v7":
		return NewTimeOrdered(), nil
	default:
		return nil, fmt.Errorf("unknown task id format %q", format)
	}
}

// NewID returns a fresh UUID string.
func (g Generator) NewID() (string, error) {
	if g.timeOrdered {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate uuid7: %w", err)
		}
		return id.String(), nil
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}
