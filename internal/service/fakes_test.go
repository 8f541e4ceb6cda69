package service

import (
	"context"
	"errors"
	"sync"

	"github.com/clark-center/change-object-author/internal/model"
	registryfiles "github.com/clark-center/change-object-author/internal/registry/files"
	registrylock "github.com/clark-center/change-object-author/internal/registry/lock"
	registrystore "github.com/clark-center/change-object-author/internal/registry/store"
)

type memStore struct {
	mu         sync.Mutex
	objects    map[string]model.LearningObject
	users      map[string]model.UserAccount
	fileAccess map[string]string
	failSet    map[string]error
	sets       []string
}

func newMemStore() *memStore {
	return &memStore{
		objects:    map[string]model.LearningObject{},
		users:      map[string]model.UserAccount{},
		fileAccess: map[string]string{},
		failSet:    map[string]error{},
	}
}

func (m *memStore) GetLearningObjectsByID(_ context.Context, ids ...string) ([]model.LearningObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LearningObject
	for _, id := range ids {
		if lo, ok := m.objects[id]; ok {
			out = append(out, lo)
		}
	}
	return out, nil
}

func (m *memStore) GetAuthorLearningObjects(_ context.Context, authorID string, ids ...string) ([]model.LearningObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []model.LearningObject
	for _, lo := range m.objects {
		if lo.AuthorID != authorID {
			continue
		}
		if len(ids) > 0 && !want[lo.ID] {
			continue
		}
		out = append(out, lo)
	}
	return out, nil
}

func (m *memStore) GetUserAccount(_ context.Context, userID string) (*model.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
	}
	return &u, nil
}

func (m *memStore) GetFileAccessID(_ context.Context, username string) (*model.FileAccessID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fa, ok := m.fileAccess[username]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "file access id", ID: username}
	}
	return &model.FileAccessID{Username: username, FileAccessID: fa}, nil
}

func (m *memStore) SetLearningObjectAuthor(_ context.Context, objectID, newAuthorID string) (*registrystore.AuthorUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failSet[objectID]; err != nil {
		return nil, err
	}
	m.sets = append(m.sets, objectID)
	lo, ok := m.objects[objectID]
	if !ok {
		m.objects[objectID] = model.LearningObject{ID: objectID, AuthorID: newAuthorID}
		return &registrystore.AuthorUpdate{ObjectID: objectID, Upserted: true}, nil
	}
	modified := int64(0)
	if lo.AuthorID != newAuthorID {
		modified = 1
	}
	lo.AuthorID = newAuthorID
	m.objects[objectID] = lo
	return &registrystore.AuthorUpdate{ObjectID: objectID, MatchedCount: 1, ModifiedCount: modified}, nil
}

func (m *memStore) Close(context.Context) error { return nil }

func (m *memStore) object(id string) model.LearningObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[id]
}

type copyCall struct{ From, To, CUID string }

type fakeMirror struct {
	mu    sync.Mutex
	calls []copyCall
}

func (f *fakeMirror) CopyUserFiles(_ context.Context, from, to, cuid string) (*registryfiles.CopyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, copyCall{from, to, cuid})
	return &registryfiles.CopyResult{Pages: 1}, nil
}

func (f *fakeMirror) copies() []copyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]copyCall(nil), f.calls...)
}

type fakeSearch struct {
	mu       sync.Mutex
	deleted  []string
	docs     map[string]model.SearchDocument
	failIDs  map[string]bool
	upserted []string
}

func (f *fakeSearch) DeleteByObjectID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.docs, id)
	return nil
}

func (f *fakeSearch) Upsert(_ context.Context, doc model.SearchDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[doc.ID] {
		return errors.New("index unavailable")
	}
	if f.docs == nil {
		f.docs = map[string]model.SearchDocument{}
	}
	f.docs[doc.ID] = doc
	f.upserted = append(f.upserted, doc.ID)
	return nil
}

func (f *fakeSearch) EnsureIndex(context.Context) error { return nil }

func (f *fakeSearch) doc(id string) (model.SearchDocument, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	return d, ok
}

type regenCall struct{ ObjectID, Token string }

type fakeRegen struct {
	mu    sync.Mutex
	calls []regenCall
	err   error
}

func (f *fakeRegen) RequestRegeneration(_ context.Context, objectID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, regenCall{objectID, token})
	return f.err
}

func (f *fakeRegen) requested() []regenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]regenCall(nil), f.calls...)
}

// heldLock reports contention for the configured keys.
type heldLock struct {
	held     map[string]bool
	released int
	mu       sync.Mutex
}

func (l *heldLock) Acquire(_ context.Context, _ string, keys ...string) (registrylock.Release, error) {
	for _, k := range keys {
		if l.held[k] {
			return nil, registrylock.ErrHeld
		}
	}
	return func(context.Context) error {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
		return nil
	}, nil
}
