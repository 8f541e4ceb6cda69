package search

import (
	"context"
	"fmt"

	"github.com/clark-center/change-object-author/internal/model"
)

// SearchIndex writes learning-object projections to the search service.
type SearchIndex interface {
	// DeleteByObjectID removes every document whose id matches objectID.
	DeleteByObjectID(ctx context.Context, objectID string) error
	// Upsert replaces the document keyed by doc.ID.
	Upsert(ctx context.Context, doc model.SearchDocument) error
	// EnsureIndex creates the index when it does not exist yet.
	EnsureIndex(ctx context.Context) error
}

// Loader creates a SearchIndex from config.
type Loader func(ctx context.Context) (SearchIndex, error)

// Plugin represents a search index plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a search index plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered search index plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named search index plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown search index %q; valid: %v", name, Names())
}
