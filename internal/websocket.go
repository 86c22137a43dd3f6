package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/koopa0/system-design/14-duo-lobby/pkg/errors"
	"github.com/koopa0/system-design/14-duo-lobby/pkg/logger"
)

// 系統設計問題：
//   兩個玩家如何在同一條連接上送請求、收確認、收房間推送？
//
// 核心挑戰：
//   1. 請求/確認配對：每則請求帶 id，確認只回給請求者
//   2. 房間頻道：狀態推送給房間內所有連接
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 慢消費者：不能拖住房間臨界區之後的投遞
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理連接與房間頻道，實作 Broadcaster
//   ✅ Ping/Pong 心跳 - 檢測死連接（預設 54s/60s）
//   ✅ 緩衝 channel - 異步發送，緩衝區滿時丟棄

// Envelope 連接上的訊息格式
//
//	請求：{"event":"room:join","id":3,"data":{...}}
//	確認：{"event":"ack","id":3,"data":{"ok":true}}
//	推送：{"event":"room:state","data":{"room":{...}}}
type Envelope struct {
	Event string          `json:"event"`
	ID    int64           `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatePayload room:state 推送內容
type StatePayload struct {
	Room Snapshot `json:"room"`
}

// NoticePayload notice 推送內容
type NoticePayload struct {
	Message string `json:"message"`
}

// WSConfig WebSocket 參數
type WSConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	MaxMessageSize  int64
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
}

// DefaultWSConfig 預設參數
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		MaxMessageSize:  4096,
		PingPeriod:      54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
	}
}

// WebSocketHub WebSocket 連接中心
//
// 系統設計考量：
//
//  1. 兩個映射：
//     - connections：ConnID → Connection（請求確認、斷線）
//     - channels：房間碼 → 訂閱中的 ConnID（房間推送）
//     訂閱由 Registry 在房間臨界區之後依序通知，Hub 不自行推導
//
//  2. 並發安全：RWMutex
//     - 推送與確認只讀（讀鎖），註冊/註銷/訂閱寫（寫鎖）
//     - 關閉 Send channel 只在寫鎖下進行，持讀鎖發送不會碰到已關閉的 channel
type WebSocketHub struct {
	cfg      WSConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[ConnID]*Connection
	channels    map[string]map[ConnID]struct{}
	stopped     bool
}

// Connection WebSocket 連接
type Connection struct {
	ID       ConnID
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *WebSocketHub
	LastPing time.Time

	mu        sync.Mutex
	closed    bool      // 由 Hub.mu 保護
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(cfg WSConfig, logger *slog.Logger) *WebSocketHub {
	def := DefaultWSConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}

	return &WebSocketHub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		connections: make(map[ConnID]*Connection),
		channels:    make(map[string]map[ConnID]struct{}),
	}
}

// ServeWS 返回 /ws 的處理函數
//
// 連接建立時只分配 ConnID，加入哪個房間由後續的請求決定。
func (hub *WebSocketHub) ServeWS(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hub.mu.RLock()
		stopped := hub.stopped
		hub.mu.RUnlock()
		if stopped {
			http.Error(w, "服務關閉中", http.StatusServiceUnavailable)
			return
		}

		// 升級為 WebSocket 連接
		ws, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Error("升級 WebSocket 失敗", "error", err)
			return
		}

		c := &Connection{
			ID:       ConnID(uuid.NewString()),
			Conn:     ws,
			Send:     make(chan []byte, hub.cfg.SendBuffer),
			Hub:      hub,
			LastPing: time.Now(),
		}
		if !hub.register(c) {
			_ = ws.Close()
			return
		}

		go c.writePump()
		go c.readPump(gw)

		hub.logger.Info("WebSocket 連接建立",
			"conn_id", c.ID,
			"remote_addr", r.RemoteAddr)
	}
}

// register 註冊連接
func (hub *WebSocketHub) register(c *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}
	hub.connections[c.ID] = c
	return true
}

// unregister 取消註冊連接並退出所有頻道
func (hub *WebSocketHub) unregister(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if cur, ok := hub.connections[c.ID]; ok && cur == c {
		delete(hub.connections, c.ID)
	}
	for code, subs := range hub.channels {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(hub.channels, code)
		}
	}
	hub.closeLocked(c)
}

// closeLocked 關閉 Send channel（需持有寫鎖）
func (hub *WebSocketHub) closeLocked(c *Connection) {
	c.closed = true
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// Subscribe 把連接加入房間頻道
func (hub *WebSocketHub) Subscribe(code string, conn ConnID) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, ok := hub.connections[conn]; !ok {
		return
	}
	subs, ok := hub.channels[code]
	if !ok {
		subs = make(map[ConnID]struct{})
		hub.channels[code] = subs
	}
	subs[conn] = struct{}{}
}

// Unsubscribe 把連接移出房間頻道
func (hub *WebSocketHub) Unsubscribe(code string, conn ConnID) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if subs, ok := hub.channels[code]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(hub.channels, code)
		}
	}
}

// PublishState 推送房間快照
func (hub *WebSocketHub) PublishState(snap Snapshot) {
	msg, err := encodeEnvelope(EventState, 0, StatePayload{Room: snap})
	if err != nil {
		hub.logger.Error("序列化快照失敗", "error", err, "room_code", snap.Code)
		return
	}
	hub.broadcast(snap.Code, msg)
}

// PublishNotice 推送提示訊息
func (hub *WebSocketHub) PublishNotice(code, message string) {
	msg, err := encodeEnvelope(EventNotice, 0, NoticePayload{Message: message})
	if err != nil {
		hub.logger.Error("序列化通知失敗", "error", err, "room_code", code)
		return
	}
	hub.broadcast(code, msg)
}

// CloseChannel 房間已刪除，清掉頻道
func (hub *WebSocketHub) CloseChannel(code string) {
	hub.mu.Lock()
	delete(hub.channels, code)
	hub.mu.Unlock()
}

// broadcast 廣播消息到房間頻道
func (hub *WebSocketHub) broadcast(code string, message []byte) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for id := range hub.channels[code] {
		if c, ok := hub.connections[id]; ok {
			hub.trySend(c, message)
		}
	}
}

// sendTo 發送給單一連接
func (hub *WebSocketHub) sendTo(c *Connection, message []byte) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	hub.trySend(c, message)
}

// trySend 非阻塞寫入（需持有讀鎖或寫鎖）
func (hub *WebSocketHub) trySend(c *Connection, message []byte) {
	if c.closed {
		return
	}
	select {
	case c.Send <- message:
	default:
		// 慢消費者：丟棄，下一次推送的快照會帶上最新版本
		hub.logger.Warn("連接緩衝區滿", "conn_id", c.ID)
	}
}

// ConnectionCount 連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Subscribers 房間頻道的訂閱數
func (hub *WebSocketHub) Subscribers(code string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.channels[code])
}

// Stop 停止 WebSocket Hub
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	conns := make([]*Connection, 0, len(hub.connections))
	for _, c := range hub.connections {
		// 先關閉 Send channel，writePump 會送出 Close 幀
		hub.closeLocked(c)
		conns = append(conns, c)
	}
	hub.connections = make(map[ConnID]*Connection)
	hub.channels = make(map[string]map[ConnID]struct{})
	hub.mu.Unlock()

	for _, c := range conns {
		_ = c.Conn.Close()
	}

	hub.logger.Info("WebSocket Hub 已停止", "closed", len(conns))
}

// readPump 讀取客戶端請求
//
// 請求在這個 goroutine 內同步處理：同一連接的請求依序執行，
// 確認的順序與請求一致。
//
// 心跳：讀取期限為 PongWait，收到 Pong 就延長；
// writePump 每 PingPeriod 送一次 Ping（PingPeriod < PongWait）。
func (c *Connection) readPump(gw *Gateway) {
	ctx := logger.WithConnID(context.Background(), string(c.ID))
	defer func() {
		c.Hub.unregister(c)
		gw.Disconnected(ctx, c.ID)
		_ = c.Conn.Close()
	}()

	cfg := c.Hub.cfg
	if cfg.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if err := c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.Conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤", "error", err, "conn_id", c.ID)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(ctx, gw, message)
		}
	}
}

// handleMessage 處理一則請求並回覆確認
func (c *Connection) handleMessage(ctx context.Context, gw *Gateway, message []byte) {
	var req Envelope
	if err := json.Unmarshal(message, &req); err != nil || req.Event == "" {
		c.Hub.logger.Debug("解析客戶端消息失敗", "error", err, "conn_id", c.ID)
		c.reply(EventAck, 0, failure(apperrors.ErrInvalidInput))
		return
	}

	if req.Event == EventPing {
		c.reply(EventPong, req.ID, nil)
		return
	}

	ack := gw.Handle(ctx, c.ID, req.Event, req.Data)
	c.reply(EventAck, req.ID, ack)
}

// reply 只回給這個連接
func (c *Connection) reply(event string, id int64, data any) {
	msg, err := encodeEnvelope(event, id, data)
	if err != nil {
		c.Hub.logger.Error("序列化回覆失敗", "error", err, "conn_id", c.ID)
		return
	}
	c.Hub.sendTo(c, msg)
}

// writePump 寫入消息到客戶端
//
// 54 秒 Ping 避開常見代理的 60 秒閒置超時；
// Send 被關閉時送出 Close 幀後結束。
func (c *Connection) writePump() {
	cfg := c.Hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試發送關閉消息，忽略錯誤（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// encodeEnvelope 序列化推送或確認
func encodeEnvelope(event string, id int64, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, ID: id, Data: raw})
}
