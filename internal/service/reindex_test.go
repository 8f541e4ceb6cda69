package service

import (
	"context"
	"testing"

	"github.com/clark-center/change-object-author/internal/model"
	"github.com/stretchr/testify/require"
)

func TestReindexTransferDeletesThenIndexes(t *testing.T) {
	store := newMemStore()
	store.users["u-c"] = model.UserAccount{ID: "u-c", Username: "carol"}
	search := &fakeSearch{failIDs: map[string]bool{"bad": true}}
	r := NewReindexer(store, search)

	author := model.UserAccount{ID: "u-b", Username: "bob", Name: "Bob"}
	res := r.ReindexTransfer(context.Background(),
		[]model.LearningObject{{ID: "x"}},
		[]model.LearningObject{
			{ID: "x", Contributors: []string{"u-c", "u-missing", "u-c"}},
			{ID: "bad"},
			{ID: "b1"},
		},
		author,
	)

	require.Equal(t, 1, res.Deleted)
	require.Equal(t, 2, res.Indexed)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, []string{"u-missing"}, res.MissingContributors)

	doc, ok := search.doc("x")
	require.True(t, ok)
	require.Equal(t, "bob", doc.Author.Username)
	require.Len(t, doc.Contributors, 2)
	require.NotNil(t, doc.Outcomes)
	require.NotNil(t, doc.Levels)
}
