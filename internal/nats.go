package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// 房間事件主題
//
//	<prefix>.<code>.state    房間快照
//	<prefix>.<code>.notice   提示訊息
//	<prefix>.<code>.closed   房間已刪除
const (
	subjectState  = "state"
	subjectNotice = "notice"
	subjectClosed = "closed"
)

// publisher NATS 發布端（*nats.Conn 滿足此介面）
type publisher interface {
	Publish(subject string, data []byte) error
}

// RoomEvent 發布到 NATS 的房間事件
type RoomEvent struct {
	Code      string    `json:"code"`
	Room      *Snapshot `json:"room,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NATSBroadcaster 把房間事件扇出到 NATS
//
// 系統設計考量：
//
//  1. 為什麼用 Core NATS 而非 JetStream？
//     快照本身就是完整狀態，漏掉一則沒關係，下一則會帶上更新的版本；
//     不需要持久化與重送
//
//  2. 訂閱與連接無關：
//     Subscribe/Unsubscribe 是傳輸層的連接概念，這裡不處理
//
//  3. 發布失敗只記錄日誌，不影響房間狀態
type NATSBroadcaster struct {
	pub    publisher
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewNATSConn 連接 NATS Server
//
// 選項說明：
//   - MaxReconnects(-1)：無限重連
//   - ReconnectWait(1s)：重連間隔
//   - PingInterval(20s)：心跳檢測
func NewNATSConn(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("duo-lobby"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return conn, nil
}

// NewNATSBroadcaster 創建 NATS 廣播器
func NewNATSBroadcaster(pub publisher, prefix string, logger *slog.Logger) *NATSBroadcaster {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "duo.rooms"
	}
	return &NATSBroadcaster{
		pub:    pub,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// Subject 房間事件主題
func (b *NATSBroadcaster) Subject(code, kind string) string {
	return b.prefix + "." + code + "." + kind
}

func (b *NATSBroadcaster) Subscribe(string, ConnID)   {}
func (b *NATSBroadcaster) Unsubscribe(string, ConnID) {}

// PublishState 發布房間快照
func (b *NATSBroadcaster) PublishState(snap Snapshot) {
	b.publish(snap.Code, subjectState, RoomEvent{Code: snap.Code, Room: &snap})
}

// PublishNotice 發布提示訊息
func (b *NATSBroadcaster) PublishNotice(code, message string) {
	b.publish(code, subjectNotice, RoomEvent{Code: code, Message: message})
}

// CloseChannel 發布房間刪除事件
func (b *NATSBroadcaster) CloseChannel(code string) {
	b.publish(code, subjectClosed, RoomEvent{Code: code})
}

func (b *NATSBroadcaster) publish(code, kind string, ev RoomEvent) {
	ev.Timestamp = b.now()

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("序列化房間事件失敗", "error", err, "room_code", code)
		return
	}

	subject := b.Subject(code, kind)
	if err := b.pub.Publish(subject, data); err != nil {
		b.logger.Warn("發布房間事件失敗",
			"error", err,
			"subject", subject,
			"room_code", code)
	}
}
