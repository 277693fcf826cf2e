package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/MeshCall/internal/config"
	"github.com/dkeye/MeshCall/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, limiter *relay.JoinLimiter) http.Handler {
	t.Helper()
	hub := relay.NewHub(relay.Options{}, nil, nil, limiter)
	return SetupRouter(context.Background(), &config.Config{Mode: "release"}, hub)
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthz(t *testing.T) {
	w := get(newTestRouter(t, nil), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRoomsListEmpty(t *testing.T) {
	w := get(newTestRouter(t, nil), "/api/rooms")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Rooms []relay.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Rooms)
}

func TestRoomMembersEmpty(t *testing.T) {
	w := get(newTestRouter(t, nil), "/api/rooms/lobby/members")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"room":"lobby","members":[]}`, w.Body.String())
}

func TestWSRejectsMissingParams(t *testing.T) {
	r := newTestRouter(t, nil)
	assert.Equal(t, http.StatusBadRequest, get(r, "/ws").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/ws?room=lobby").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/ws?userId=A").Code)
}

func TestWSRateLimited(t *testing.T) {
	r := newTestRouter(t, relay.NewJoinLimiter(1, time.Minute))

	// The first attempt is allowed and fails the upgrade on a plain request.
	assert.NotEqual(t, http.StatusTooManyRequests, get(r, "/ws?room=lobby&userId=A").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/ws?room=lobby&userId=A").Code)
	assert.NotEqual(t, http.StatusTooManyRequests, get(r, "/ws?room=lobby&userId=B").Code)
}
