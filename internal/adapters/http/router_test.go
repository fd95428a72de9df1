package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrajcer/castroom/internal/app"
	"github.com/mkrajcer/castroom/internal/app/orch"
	"github.com/mkrajcer/castroom/internal/config"
	"github.com/mkrajcer/castroom/internal/engine"
	"github.com/mkrajcer/castroom/internal/engine/enginetest"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	f := &enginetest.Factory{}
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Engine:   engine.New(engine.Config{WorkerCount: 1}, f.New),
	}
	cfg := &config.Config{
		Mode:   "release",
		Secret: "test",
		HlsDir: t.TempDir(),
	}
	return SetupRouter(context.Background(), cfg, o)
}

func TestRoomsEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rooms":[]}`, w.Body.String())
}

func TestStartStreamUnknownRoom(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/nope/stream", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopStreamIsIdempotent(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/rooms/nope/stream", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
