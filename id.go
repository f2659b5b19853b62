package flowgraph

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces node identifiers. Each Graph owns its own generator.
type IDGenerator interface {
	NextID() string
}

// Counter yields prefix-1, prefix-2, ... from a counter owned by the instance.
type Counter struct {
	prefix string
	n      atomic.Uint64
}

// NewCounter returns a Counter for the given prefix.
func NewCounter(prefix string) *Counter {
	return &Counter{prefix: prefix}
}

func (c *Counter) NextID() string {
	return fmt.Sprintf("%s-%d", c.prefix, c.n.Add(1))
}

// UUIDGenerator yields random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NextID() string {
	return uuid.NewString()
}
