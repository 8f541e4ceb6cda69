package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/clark-center/change-object-author/internal/model"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

type fakeCluster struct {
	mu          sync.Mutex
	requests    []recordedRequest
	indexExists bool
	failStatus  int
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	req := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &req.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	exists := f.indexExists
	fail := f.failStatus
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if fail != 0 {
		w.WriteHeader(fail)
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception","reason":"no such index [learning-objects]"},"status":404}`))
		return
	}
	if r.Method == http.MethodHead {
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
		return
	}
	_, _ = w.Write([]byte(`{"acknowledged":true,"result":"created","deleted":1}`))
}

func (f *fakeCluster) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestIndex(t *testing.T, cluster *fakeCluster) *Index {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)
	idx, err := Open(srv.URL, "learning-objects", nil)
	require.NoError(t, err)
	return idx
}

func TestDeleteByObjectID(t *testing.T) {
	cluster := &fakeCluster{}
	idx := newTestIndex(t, cluster)

	require.NoError(t, idx.DeleteByObjectID(context.Background(), "obj-1"))

	reqs := cluster.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPost, reqs[0].Method)
	require.Equal(t, "/learning-objects/_delete_by_query", reqs[0].Path)
	require.Contains(t, reqs[0].Query, "conflicts=proceed")

	must := reqs[0].Body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	require.Equal(t, map[string]any{"match": map[string]any{"id": "obj-1"}}, must[0])
}

func TestUpsertWritesDocumentByID(t *testing.T) {
	cluster := &fakeCluster{}
	idx := newTestIndex(t, cluster)

	doc := model.NewSearchDocument(
		model.LearningObject{ID: "obj-1", CUID: "c1", Name: "Intro", Version: 2, Status: "released"},
		model.UserAccount{ID: "u-bob", Username: "bob", Name: "Bob", Email: "bob@example.com", Organization: "Towson"},
		nil,
	)
	require.NoError(t, idx.Upsert(context.Background(), doc))

	reqs := cluster.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPut, reqs[0].Method)
	require.Equal(t, "/learning-objects/_doc/obj-1", reqs[0].Path)
	require.Equal(t, "obj-1", reqs[0].Body["id"])
	require.Equal(t, "bob", reqs[0].Body["author"].(map[string]any)["username"])
	require.Equal(t, []any{}, reqs[0].Body["outcomes"])
	require.Equal(t, []any{}, reqs[0].Body["contributors"])
}

func TestUpsertRequiresID(t *testing.T) {
	idx := newTestIndex(t, &fakeCluster{})
	require.Error(t, idx.Upsert(context.Background(), model.SearchDocument{}))
}

func TestErrorResponseIsReported(t *testing.T) {
	cluster := &fakeCluster{failStatus: http.StatusNotFound}
	idx := newTestIndex(t, cluster)

	err := idx.DeleteByObjectID(context.Background(), "obj-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "index_not_found_exception")
}

func TestEnsureIndexCreatesMissingIndex(t *testing.T) {
	cluster := &fakeCluster{}
	idx := newTestIndex(t, cluster)

	require.NoError(t, idx.EnsureIndex(context.Background()))

	reqs := cluster.recorded()
	require.Len(t, reqs, 2)
	require.Equal(t, http.MethodHead, reqs[0].Method)
	require.Equal(t, http.MethodPut, reqs[1].Method)
	require.Equal(t, "/learning-objects", reqs[1].Path)
	props := reqs[1].Body["mappings"].(map[string]any)["properties"].(map[string]any)
	require.Equal(t, "keyword", props["id"].(map[string]any)["type"])
}

func TestEnsureIndexSkipsExistingIndex(t *testing.T) {
	cluster := &fakeCluster{indexExists: true}
	idx := newTestIndex(t, cluster)

	require.NoError(t, idx.EnsureIndex(context.Background()))
	require.Len(t, cluster.recorded(), 1)
}
