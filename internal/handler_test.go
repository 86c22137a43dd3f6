package internal_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-duo-lobby/internal"
	"github.com/koopa0/system-design/14-duo-lobby/internal/testutils"
)

func newTestHandler(t *testing.T) (*internal.Registry, http.Handler) {
	t.Helper()
	registry, _ := newTestRegistry(t)
	handler := internal.NewHandler(registry, nil, nil, testLogger())
	return registry, handler.Routes()
}

// TestHandler_GetRoom 測試房間查詢 API
func TestHandler_GetRoom(t *testing.T) {
	registry, router := newTestHandler(t)
	code := createPair(t, registry)
	registry.Disconnect("c2")

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		validate       func(t *testing.T, resp map[string]any)
	}{
		{
			name:           "existing room",
			path:           "/api/v1/rooms/" + code,
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, code, resp["code"])
				assert.Equal(t, "lobby", resp["status"])

				players, ok := resp["players"].([]any)
				require.True(t, ok)
				require.Len(t, players, 2)

				guest := players[1].(map[string]any)
				assert.Equal(t, "p2", guest["id"])
				assert.Equal(t, "Bob", guest["name"])
				assert.Equal(t, false, guest["connected"])
				assert.Equal(t, false, guest["isHost"])
			},
		},
		{
			name:           "lowercase code",
			path:           "/api/v1/rooms/" + strings.ToLower(code),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown room",
			path:           "/api/v1/rooms/ZZZZZ",
			expectedStatus: http.StatusNotFound,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, "ROOM_NOT_FOUND", resp["error"])
				assert.NotEmpty(t, resp["message"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutils.MakeHTTPRequest(t, router, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			if tt.validate != nil {
				var resp map[string]any
				testutils.ParseJSONResponse(t, w, &resp)
				tt.validate(t, resp)
			}
		})
	}
}

// TestHandler_Health 測試健康檢查 API
func TestHandler_Health(t *testing.T) {
	_, router := newTestHandler(t)

	w := testutils.MakeHTTPRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	testutils.ParseJSONResponse(t, w, &resp)
	assert.Equal(t, "healthy", resp["status"])
	assert.NotNil(t, resp["time"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

// TestHandler_Stats 測試統計 API
func TestHandler_Stats(t *testing.T) {
	registry, router := newTestHandler(t)
	createPair(t, registry)
	_, err := registry.Create("c3", "Carol", "p3")
	require.NoError(t, err)

	w := testutils.MakeHTTPRequest(t, router, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	testutils.ParseJSONResponse(t, w, &resp)
	assert.Equal(t, float64(2), resp["total_rooms"])
	assert.Equal(t, float64(3), resp["total_players"])
	assert.Equal(t, float64(3), resp["connected_players"])
	assert.Equal(t, float64(0), resp["connections"])

	byStatus, ok := resp["by_status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), byStatus["lobby"])
}

// TestHandler_MethodNotAllowed 房間操作不走 HTTP
func TestHandler_MethodNotAllowed(t *testing.T) {
	registry, router := newTestHandler(t)
	code := createRoom(t, registry)

	w := testutils.MakeHTTPRequest(t, router, http.MethodPost, "/api/v1/rooms/"+code, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	// 沒有 Hub 時不提供 /ws
	w = testutils.MakeHTTPRequest(t, router, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
