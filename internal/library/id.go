package library

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDProvider issues opaque, globally unique, time-sortable identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type timeRandomProvider struct {
	clock func() time.Time
}

// NewTimeRandomProvider constructs an IDProvider that issues
// "<unix-millis>-<random>" identifiers. Lexicographic order of the ids
// follows creation order within a millisecond-sortable prefix.
func NewTimeRandomProvider(clock func() time.Time) IDProvider {
	if clock == nil {
		clock = time.Now
	}
	return &timeRandomProvider{clock: clock}
}

func (p *timeRandomProvider) NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%013d-%x", p.clock().UnixMilli(), value[0:6]), nil
}
