package internal_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-duo-lobby/internal"
	"github.com/koopa0/system-design/14-duo-lobby/internal/testutils"
	apperrors "github.com/koopa0/system-design/14-duo-lobby/pkg/errors"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// TestGateway_Handle 測試請求分派與確認
func TestGateway_Handle(t *testing.T) {
	registry, rec := newTestRegistry(t)
	gw := internal.NewGateway(registry, testutils.TestLogger())
	ctx := context.Background()

	// 建房
	ack := gw.Handle(ctx, "c1", internal.EventCreate, raw(t, map[string]any{"name": "Alice", "playerId": "p1"}))
	require.True(t, ack.OK, "create failed: %+v", ack)
	require.NotEmpty(t, ack.Code)
	code := ack.Code

	tests := []struct {
		name      string
		conn      internal.ConnID
		event     string
		data      json.RawMessage
		wantOK    bool
		wantError string
	}{
		{
			name:      "create without name",
			conn:      "c9",
			event:     internal.EventCreate,
			data:      raw(t, map[string]any{"playerId": "p9"}),
			wantError: apperrors.ErrCodeNameRequired,
		},
		{
			name:      "join unknown room",
			conn:      "c2",
			event:     internal.EventJoin,
			data:      raw(t, map[string]any{"code": "ZZZZZ", "name": "Bob", "playerId": "p2"}),
			wantError: apperrors.ErrCodeRoomNotFound,
		},
		{
			name:   "join",
			conn:   "c2",
			event:  internal.EventJoin,
			data:   raw(t, map[string]any{"code": code, "name": "Bob", "playerId": "p2"}),
			wantOK: true,
		},
		{
			name:      "third player",
			conn:      "c3",
			event:     internal.EventJoin,
			data:      raw(t, map[string]any{"code": code, "name": "Carol", "playerId": "p3"}),
			wantError: apperrors.ErrCodeRoomFull,
		},
		{
			name:      "start before ready",
			conn:      "c1",
			event:     internal.EventStart,
			data:      raw(t, map[string]any{"playerId": "p1"}),
			wantError: apperrors.ErrCodeNotAllReady,
		},
		{
			name:   "host ready",
			conn:   "c1",
			event:  internal.EventReady,
			data:   raw(t, map[string]any{"ready": true}),
			wantOK: true,
		},
		{
			name:   "guest ready",
			conn:   "c2",
			event:  internal.EventReady,
			data:   raw(t, map[string]any{"playerId": "p2", "ready": true}),
			wantOK: true,
		},
		{
			name:      "guest cannot start",
			conn:      "c2",
			event:     internal.EventStart,
			data:      nil,
			wantError: apperrors.ErrCodeNotHost,
		},
		{
			name:   "host starts",
			conn:   "c1",
			event:  internal.EventStart,
			data:   nil,
			wantOK: true,
		},
		{
			name:      "malformed payload",
			conn:      "c1",
			event:     internal.EventReady,
			data:      json.RawMessage(`{"ready":"yes"}`),
			wantError: apperrors.ErrCodeInvalidInput,
		},
		{
			name:      "unknown event",
			conn:      "c1",
			event:     "room:dance",
			data:      nil,
			wantError: apperrors.ErrCodeUnknownEvent,
		},
		{
			name:      "reconnect unknown identity",
			conn:      "c8",
			event:     internal.EventReconnect,
			data:      raw(t, map[string]any{"code": code, "playerId": "p8"}),
			wantError: apperrors.ErrCodePlayerNotInRoom,
		},
		{
			name:   "leave always succeeds",
			conn:   "c7",
			event:  internal.EventLeave,
			data:   json.RawMessage(`not json`),
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := gw.Handle(ctx, tt.conn, tt.event, tt.data)
			assert.Equal(t, tt.wantOK, ack.OK)
			assert.Equal(t, tt.wantError, ack.Error)
			if !tt.wantOK {
				assert.NotEmpty(t, ack.Message)
			}
		})
	}

	assert.Equal(t, internal.StatusActive, rec.LastState(t, code).Status)
}

// TestGateway_Disconnected 傳輸層斷線轉成 Registry.Disconnect
func TestGateway_Disconnected(t *testing.T) {
	registry, rec := newTestRegistry(t)
	gw := internal.NewGateway(registry, testutils.TestLogger())
	ctx := context.Background()

	code := createPair(t, registry)
	gw.Disconnected(ctx, "c1")

	host, _ := rec.LastState(t, code).Host()
	assert.Equal(t, "p2", host.ID)

	// 重連
	ack := gw.Handle(ctx, "c5", internal.EventReconnect, raw(t, map[string]any{"code": code, "playerId": "p1"}))
	require.True(t, ack.OK)
	p1, _ := rec.LastState(t, code).Find("p1")
	assert.True(t, p1.Connected)
}

// panicBroadcaster 模擬廣播器故障
type panicBroadcaster struct {
	internal.NopBroadcaster
}

func (panicBroadcaster) PublishState(internal.Snapshot) { panic("boom") }

// TestGateway_BroadcastFailure 廣播失敗不影響請求結果
func TestGateway_BroadcastFailure(t *testing.T) {
	registry := internal.NewRegistry(testutils.TestLogger(), internal.WithBroadcaster(panicBroadcaster{}))
	gw := internal.NewGateway(registry, testutils.TestLogger())

	ack := gw.Handle(context.Background(), "c1", internal.EventCreate, raw(t, map[string]any{"name": "Alice", "playerId": "p1"}))
	require.True(t, ack.OK)

	_, err := registry.Snapshot(ack.Code)
	require.NoError(t, err)
}
