package files

import (
	"context"
	"fmt"
)

// CopyResult summarizes one mirror run.
type CopyResult struct {
	Pages   int
	Listed  int
	Copied  int
	Skipped int
	Failed  int
}

// FileMirror copies a learning object's stored files between user prefixes.
type FileMirror interface {
	// CopyUserFiles copies every key under fromPrefix/cuid to the same relative
	// path under toPrefix, skipping the packaged <cuid>.zip archive. Per-key
	// failures are logged and counted, not returned.
	CopyUserFiles(ctx context.Context, fromPrefix, toPrefix, cuid string) (*CopyResult, error)
}

// Loader creates a FileMirror from config.
type Loader func(ctx context.Context) (FileMirror, error)

// Plugin represents a file mirror plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a file mirror plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered file mirror plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named file mirror plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown file mirror %q; valid: %v", name, Names())
}
