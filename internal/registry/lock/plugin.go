package lock

import (
	"context"
	"errors"
	"fmt"
)

// ErrHeld is returned by Acquire when another transfer holds one of the keys.
var ErrHeld = errors.New("transfer lock held")

// Release gives back the keys taken by Acquire.
type Release func(ctx context.Context) error

// TransferLock serializes transfers touching the same learning objects.
type TransferLock interface {
	// Acquire takes all keys or none. It returns ErrHeld on contention.
	Acquire(ctx context.Context, owner string, keys ...string) (Release, error)
}

// Loader creates a TransferLock from config.
type Loader func(ctx context.Context) (TransferLock, error)

// Plugin represents a transfer lock plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a transfer lock plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered transfer lock plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named transfer lock plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown transfer lock %q; valid: %v", name, Names())
}
