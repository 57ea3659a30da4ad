package api

import (
	"context"
	"errors"
	"sync"
)

// ErrConnectInProgress is returned when another goroutine is already
// authenticating.
var ErrConnectInProgress = errors.New("a connection attempt is already in progress")

// Connector serialises authentication. A second caller does not wait; it
// gets ErrConnectInProgress immediately.
type Connector struct {
	mu sync.Mutex
}

// DefaultConnector is the process-wide connector.
var DefaultConnector = &Connector{}

// Connect authenticates g unless another attempt holds the connector.
func (c *Connector) Connect(ctx context.Context, g Gateway) error {
	if !c.mu.TryLock() {
		return ErrConnectInProgress
	}
	defer c.mu.Unlock()
	return g.Authenticate(ctx)
}
