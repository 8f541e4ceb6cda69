package service

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/model"
	registrysearch "github.com/clark-center/change-object-author/internal/registry/search"
	registrystore "github.com/clark-center/change-object-author/internal/registry/store"
)

// ReindexResult counts search index writes for one transfer.
type ReindexResult struct {
	Deleted int
	Indexed int
	Failed  int
	// MissingContributors lists contributor IDs that could not be resolved.
	MissingContributors []string
}

// Reindexer refreshes the search documents affected by a transfer.
type Reindexer struct {
	store  registrystore.RecordStore
	search registrysearch.SearchIndex
}

// NewReindexer creates a Reindexer.
func NewReindexer(store registrystore.RecordStore, search registrysearch.SearchIndex) *Reindexer {
	return &Reindexer{store: store, search: search}
}

// ReindexTransfer deletes the documents of every vacated object, then writes
// a fresh document attributed to newAuthor for every retained object.
// Individual failures are logged and counted, never returned.
func (r *Reindexer) ReindexTransfer(ctx context.Context, vacated, retained []model.LearningObject, newAuthor model.UserAccount) *ReindexResult {
	res := &ReindexResult{}

	for _, lo := range vacated {
		if err := r.search.DeleteByObjectID(ctx, lo.ID); err != nil {
			res.Failed++
			log.Error("Search index delete failed", "objectId", lo.ID, "err", err)
			continue
		}
		res.Deleted++
	}

	accounts := map[string]*model.UserAccount{}
	for _, lo := range retained {
		contributors := r.resolveContributors(ctx, lo, accounts, res)
		doc := model.NewSearchDocument(lo, newAuthor, contributors)
		if err := r.search.Upsert(ctx, doc); err != nil {
			res.Failed++
			log.Error("Search index write failed", "objectId", lo.ID, "err", err)
			continue
		}
		res.Indexed++
	}

	log.Debug("Reindexed transfer",
		"author", newAuthor.Username, "deleted", res.Deleted, "indexed", res.Indexed, "failed", res.Failed)
	return res
}

// resolveContributors looks up each contributor once per reindex run.
// Unknown contributors are logged and left out of the document.
func (r *Reindexer) resolveContributors(ctx context.Context, lo model.LearningObject, cache map[string]*model.UserAccount, res *ReindexResult) []model.UserAccount {
	out := make([]model.UserAccount, 0, len(lo.Contributors))
	for _, id := range lo.Contributors {
		acct, seen := cache[id]
		if !seen {
			var err error
			acct, err = r.store.GetUserAccount(ctx, id)
			if err != nil {
				var nf *registrystore.NotFoundError
				if errors.As(err, &nf) {
					res.MissingContributors = append(res.MissingContributors, id)
					log.Warn("Contributor not found; omitting from search document", "objectId", lo.ID, "contributorId", id)
				} else {
					log.Error("Contributor lookup failed; omitting from search document", "objectId", lo.ID, "contributorId", id, "err", err)
				}
				acct = nil
			}
			cache[id] = acct
		}
		if acct != nil {
			out = append(out, *acct)
		}
	}
	return out
}
