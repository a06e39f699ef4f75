// Package registry resolves proxy service names into network endpoints.
package registry

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the registry could not be queried.
var ErrUnavailable = errors.New("registry unavailable")

// Instance is one registered endpoint of a service.
type Instance struct {
	Address string
	Port    int
	ID      string
	Node    string
}

// Registry lists instances of a named service.
// An empty result with nil error means the service has no instances.
type Registry interface {
	ListInstances(ctx context.Context, service string) ([]Instance, error)
}
