package entity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/execgw/internal/log"
	"github.com/mattjoyce/execgw/internal/storage"
	"github.com/mattjoyce/execgw/internal/storage/mocks"
)

func newMux(store storage.Store, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = log.Discard()
	}
	mux := chi.NewRouter()
	New(store, logger).Register(mux)
	return mux
}

func serve(mux http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	mux := newMux(storage.NewMemoryStore(), nil)

	rec := serve(mux, http.MethodGet, "/v0/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("Content-Length"))
}

func TestEntityLifecycle(t *testing.T) {
	mux := newMux(storage.NewMemoryStore(), nil)

	rec := serve(mux, http.MethodGet, "/v0/entity?id=k1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(mux, http.MethodPut, "/v0/entity?id=k1", "hello")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, ETag([]byte("hello")), rec.Header().Get("ETag"))

	rec = serve(mux, http.MethodGet, "/v0/entity?id=k1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, ETag([]byte("hello")), rec.Header().Get("ETag"))

	rec = serve(mux, http.MethodDelete, "/v0/entity?id=k1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(mux, http.MethodGet, "/v0/entity?id=k1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntity_MissingID(t *testing.T) {
	mux := newMux(storage.NewMemoryStore(), nil)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		for _, target := range []string{"/v0/entity", "/v0/entity?id="} {
			rec := serve(mux, method, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %s", method, target)
			assert.Empty(t, rec.Body.String())
		}
	}
}

func TestEntity_IfNoneMatch(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "k", []byte("v")))
	mux := newMux(store, nil)

	req := httptest.NewRequest(http.MethodGet, "/v0/entity?id=k", nil)
	req.Header.Set("If-None-Match", ETag([]byte("v")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestEntity_StoreErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	store := mocks.NewMockStore(ctrl)
	mux := newMux(store, logger)

	dbErr := errors.New("disk I/O error")
	store.EXPECT().Get(gomock.Any(), "k").Return(nil, dbErr)
	store.EXPECT().Put(gomock.Any(), "k", []byte("v")).Return(dbErr)
	store.EXPECT().Delete(gomock.Any(), "k").Return(dbErr)

	assert.Equal(t, http.StatusServiceUnavailable, serve(mux, http.MethodGet, "/v0/entity?id=k", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(mux, http.MethodPut, "/v0/entity?id=k", "v").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(mux, http.MethodDelete, "/v0/entity?id=k", "").Code)

	assert.Equal(t, 3, strings.Count(buf.String(), "entity store failed"))
	assert.Contains(t, buf.String(), "disk I/O error")
}

func TestEntity_PutStoresBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Put(gomock.Any(), "with space", []byte("payload")).Return(nil)

	rec := serve(newMux(store, nil), http.MethodPut, "/v0/entity?id=with%20space", "payload")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mux := newMux(storage.NewMemoryStore(), logger)

	serve(mux, http.MethodGet, "/v0/status", "")

	out := buf.String()
	assert.Contains(t, out, `"msg":"http request"`)
	assert.Contains(t, out, `"path":"/v0/status"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"duration_ms"`)
}

func TestPanicIsRecoveredAndLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mux := newMux(storage.NewMemoryStore(), logger)
	mux.Get("/v0/boom", func(http.ResponseWriter, *http.Request) {
		panic("store exploded")
	})

	rec := serve(mux, http.MethodGet, "/v0/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	out := buf.String()
	assert.Contains(t, out, `"msg":"handler panicked"`)
	assert.Contains(t, out, `"panic":"store exploded"`)
	assert.Contains(t, out, `"stack"`)
	assert.Contains(t, out, `"path":"/v0/boom"`)
	assert.Contains(t, out, `"status":500`)
}

func TestETag_Stable(t *testing.T) {
	a := ETag([]byte("same"))
	assert.Equal(t, a, ETag([]byte("same")))
	assert.NotEqual(t, a, ETag([]byte("different")))
	assert.Len(t, a, 66)
}
