package regen

import (
	"context"
	"fmt"
)

// Regenerator asks the learning-object API to rebuild an object's rendered document.
type Regenerator interface {
	RequestRegeneration(ctx context.Context, objectID, authToken string) error
}

// Loader creates a Regenerator from config.
type Loader func(ctx context.Context) (Regenerator, error)

// Plugin represents a regeneration plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a regeneration plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered regeneration plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named regeneration plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown regenerator %q; valid: %v", name, Names())
}
