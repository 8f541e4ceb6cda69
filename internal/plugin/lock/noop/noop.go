package noop

import (
	"context"

	registrylock "github.com/clark-center/change-object-author/internal/registry/lock"
)

func init() {
	registrylock.Register(registrylock.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registrylock.TransferLock, error) {
			return Lock{}, nil
		},
	})
}

// Lock never contends. Transfers rely on the idempotent author update instead.
type Lock struct{}

func (Lock) Acquire(context.Context, string, ...string) (registrylock.Release, error) {
	return func(context.Context) error { return nil }, nil
}
