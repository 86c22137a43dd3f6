package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/koopa0/system-design/14-duo-lobby/pkg/errors"
	"github.com/koopa0/system-design/14-duo-lobby/pkg/logger"
)

// 請求事件名稱
const (
	EventCreate    = "room:create"
	EventJoin      = "room:join"
	EventReconnect = "room:reconnect"
	EventLeave     = "room:leave"
	EventReady     = "room:ready"
	EventStart     = "room:start"
)

// 推送事件名稱
const (
	EventAck    = "ack"
	EventState  = "room:state"
	EventNotice = "notice"
	EventPing   = "ping"
	EventPong   = "pong"
)

// Ack 只回給請求者的確認
//
// 不帶快照：房間狀態一律走廣播，請求延遲不受廣播扇出影響。
type Ack struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`  // create 成功時的房間碼
	Error   string `json:"error,omitempty"` // 錯誤碼
	Message string `json:"message,omitempty"`
}

// 請求結構
type createRequest struct {
	Name     string `json:"name"`
	PlayerID string `json:"playerId"`
}

type joinRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	PlayerID string `json:"playerId"`
}

type reconnectRequest struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
}

type leaveRequest struct {
	PlayerID string `json:"playerId"`
}

type readyRequest struct {
	PlayerID string `json:"playerId"`
	Ready    bool   `json:"ready"`
}

type startRequest struct {
	PlayerID string `json:"playerId"`
}

// Gateway 把具名請求轉成 Registry 操作
//
// 與傳輸層無關：WebSocket Hub 讀到一則請求就呼叫 Handle，
// 把返回的 Ack 只寫回給該連接。
type Gateway struct {
	registry *Registry
	logger   *slog.Logger
}

// NewGateway 創建閘道
func NewGateway(registry *Registry, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		logger:   logger,
	}
}

// Handle 處理一則請求，每則請求恰好產生一個 Ack
func (g *Gateway) Handle(ctx context.Context, conn ConnID, event string, data json.RawMessage) (ack Ack) {
	start := time.Now()
	ctx = logger.WithConnID(ctx, string(conn))

	defer func() {
		if rec := recover(); rec != nil {
			logger.LogError(ctx, g.logger, "處理請求時發生 panic", fmt.Errorf("%v", rec))
			ack = failure(apperrors.ErrInternal)
		}
		g.logger.DebugContext(ctx, "請求完成",
			"event", event,
			"ok", ack.OK,
			"error", ack.Error,
			"duration", time.Since(start))
	}()

	switch event {
	case EventCreate:
		var req createRequest
		if err := decode(data, &req); err != nil {
			return failure(err)
		}
		code, err := g.registry.Create(conn, req.Name, req.PlayerID)
		if err != nil {
			return failure(err)
		}
		return Ack{OK: true, Code: code}

	case EventJoin:
		var req joinRequest
		if err := decode(data, &req); err != nil {
			return failure(err)
		}
		return result(g.registry.Join(conn, req.Code, req.Name, req.PlayerID))

	case EventReconnect:
		var req reconnectRequest
		if err := decode(data, &req); err != nil {
			return failure(err)
		}
		return result(g.registry.Reconnect(conn, req.Code, req.PlayerID))

	case EventLeave:
		// 離開永遠成功，解析失敗也一樣
		var req leaveRequest
		_ = decode(data, &req)
		g.registry.Leave(conn, req.PlayerID)
		return Ack{OK: true}

	case EventReady:
		var req readyRequest
		if err := decode(data, &req); err != nil {
			return failure(err)
		}
		return result(g.registry.SetReady(conn, req.PlayerID, req.Ready))

	case EventStart:
		var req startRequest
		if err := decode(data, &req); err != nil {
			return failure(err)
		}
		return result(g.registry.Start(conn, req.PlayerID))

	default:
		return failure(apperrors.ErrUnknownEvent.WithDetails(event))
	}
}

// Disconnected 傳輸層連接中斷
func (g *Gateway) Disconnected(ctx context.Context, conn ConnID) {
	g.registry.Disconnect(conn)
	g.logger.DebugContext(logger.WithConnID(ctx, string(conn)), "連接已中斷")
}

// decode 解析請求內容，空內容視為空物件
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, apperrors.ErrInvalidInput.Message)
	}
	return nil
}

func result(err error) Ack {
	if err != nil {
		return failure(err)
	}
	return Ack{OK: true}
}

func failure(err error) Ack {
	return Ack{
		OK:      false,
		Error:   apperrors.CodeOf(err),
		Message: apperrors.MessageOf(err),
	}
}
