package metrics

import (
	"context"
	"time"

	"github.com/clark-center/change-object-author/internal/model"
	"github.com/clark-center/change-object-author/internal/registry/store"
	"github.com/clark-center/change-object-author/internal/security"
)

// Wrap returns a RecordStore that records StoreLatency for every operation.
func Wrap(inner store.RecordStore) store.RecordStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.RecordStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) GetLearningObjectsByID(ctx context.Context, ids ...string) ([]model.LearningObject, error) {
	defer observe("get_learning_objects", time.Now())
	return m.inner.GetLearningObjectsByID(ctx, ids...)
}

func (m *metricsStore) GetAuthorLearningObjects(ctx context.Context, authorID string, ids ...string) ([]model.LearningObject, error) {
	defer observe("get_author_learning_objects", time.Now())
	return m.inner.GetAuthorLearningObjects(ctx, authorID, ids...)
}

func (m *metricsStore) GetUserAccount(ctx context.Context, userID string) (*model.UserAccount, error) {
	defer observe("get_user_account", time.Now())
	return m.inner.GetUserAccount(ctx, userID)
}

func (m *metricsStore) GetFileAccessID(ctx context.Context, username string) (*model.FileAccessID, error) {
	defer observe("get_file_access_id", time.Now())
	return m.inner.GetFileAccessID(ctx, username)
}

func (m *metricsStore) SetLearningObjectAuthor(ctx context.Context, objectID, newAuthorID string) (*store.AuthorUpdate, error) {
	defer observe("set_learning_object_author", time.Now())
	return m.inner.SetLearningObjectAuthor(ctx, objectID, newAuthorID)
}

func (m *metricsStore) Close(ctx context.Context) error {
	return m.inner.Close(ctx)
}
