package store

import (
	"context"
	"fmt"

	"github.com/clark-center/change-object-author/internal/model"
)

// AuthorUpdate acknowledges an authorship upsert.
type AuthorUpdate struct {
	ObjectID      string
	MatchedCount  int64
	ModifiedCount int64
	// Upserted is true when no record matched and a placeholder was created.
	Upserted bool
}

// RecordStore is the typed gateway to the learning-object record store.
type RecordStore interface {
	// GetLearningObjectsByID returns the records matching ids. Missing ids are
	// absent from the result. With no ids, every object is returned.
	GetLearningObjectsByID(ctx context.Context, ids ...string) ([]model.LearningObject, error)
	// GetAuthorLearningObjects returns objects owned by authorID, narrowed to ids when given.
	GetAuthorLearningObjects(ctx context.Context, authorID string, ids ...string) ([]model.LearningObject, error)
	// GetUserAccount returns a *NotFoundError when the account does not exist.
	GetUserAccount(ctx context.Context, userID string) (*model.UserAccount, error)
	// GetFileAccessID returns a *NotFoundError when no mapping exists for username.
	GetFileAccessID(ctx context.Context, username string) (*model.FileAccessID, error)
	// SetLearningObjectAuthor upserts the author field of objectID.
	SetLearningObjectAuthor(ctx context.Context, objectID, newAuthorID string) (*AuthorUpdate, error)
	Close(ctx context.Context) error
}

// Loader creates a RecordStore from config.
type Loader func(ctx context.Context) (RecordStore, error)

// Plugin represents a record store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a record store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered record store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named record store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown record store %q; valid: %v", name, Names())
}
