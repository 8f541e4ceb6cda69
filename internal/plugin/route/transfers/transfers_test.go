package transfers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clark-center/change-object-author/internal/model"
	registrystore "github.com/clark-center/change-object-author/internal/registry/store"
	"github.com/clark-center/change-object-author/internal/security"
	"github.com/clark-center/change-object-author/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeTransferer struct {
	gotReq   model.TransferRequest
	gotToken string
	err      error
}

func (f *fakeTransferer) Transfer(_ context.Context, req model.TransferRequest, token string) (*service.TransferResult, error) {
	f.gotReq = req
	f.gotToken = token
	if f.err != nil {
		return nil, f.err
	}
	return &service.TransferResult{TransferID: "tid-1", ObjectIDs: req.SelectedObjectIDs()}, nil
}

func newRouter(svc Transferer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	MountRoutes(r, svc, security.AuthTokenMiddleware())
	return r
}

func post(r http.Handler, path, body string, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChangeAuthorSuccess(t *testing.T) {
	svc := &fakeTransferer{}
	r := newRouter(svc)

	for _, path := range []string{"/learning-objects/change-author", "/"} {
		w := post(r, path, `{"fromUserID":"u-a","toUserID":"u-b","objectIDs":"x"}`, "Bearer abc")
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "tid-1", w.Header().Get(HeaderTransferID))
		require.Empty(t, w.Body.String())
		require.Equal(t, "Bearer abc", svc.gotToken)
		require.Equal(t, []string{"x"}, svc.gotReq.SelectedObjectIDs())
	}
}

func TestChangeAuthorAcceptsSingularObjectID(t *testing.T) {
	svc := &fakeTransferer{}
	w := post(newRouter(svc), "/", `{"fromUserID":"u-a","toUserID":"u-b","objectID":"x"}`, "t")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"x"}, svc.gotReq.SelectedObjectIDs())
}

func TestChangeAuthorRequiresAuthorization(t *testing.T) {
	w := post(newRouter(&fakeTransferer{}), "/", `{"fromUserID":"u-a","toUserID":"u-b"}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChangeAuthorMalformedBody(t *testing.T) {
	r := newRouter(&fakeTransferer{})

	w := post(r, "/", `{"fromUserID":`, "t")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = post(r, "/", `{"fromUserID":"u-a","toUserID":"u-b","objectIDs":42}`, "t")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = post(r, "/", ``, "t")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "request body is required")
}

func TestChangeAuthorErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &registrystore.ValidationError{Field: "toUserID", Message: "must differ from fromUserID"}, http.StatusBadRequest, "bad_request"},
		{"precondition", &registrystore.PreconditionError{Message: "destination account not found", Err: &registrystore.NotFoundError{Resource: "user", ID: "u-b"}}, http.StatusUnprocessableEntity, "precondition_failed"},
		{"not found", &registrystore.NotFoundError{Resource: "learning object", ID: "x"}, http.StatusNotFound, "not_found"},
		{"conflict", &registrystore.ConflictError{Message: "busy", Code: "transfer_in_progress"}, http.StatusConflict, "transfer_in_progress"},
		{"persistence", &registrystore.PersistenceError{ObjectID: "x", Err: errors.New("boom")}, http.StatusInternalServerError, "persistence_failed"},
		{"other", errors.New("mongo down"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(newRouter(&fakeTransferer{err: tt.err}), "/", `{"fromUserID":"u-a","toUserID":"u-b"}`, "t")
			require.Equal(t, tt.status, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, tt.code, body["code"])
			require.NotEmpty(t, body["error"])
		})
	}
}
